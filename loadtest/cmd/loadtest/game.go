package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/poemstars/gameserver/loadtest/client"
	"github.com/poemstars/gameserver/loadtest/stats"
)

// runGame implements the full game flow load test. Each simulated player
// connects, requests a match, answers every question with a configurable
// accuracy and think time, and waits for the end-of-game record. Players
// with close Elo scores are launched together so the matchmaker pairs them;
// the remainder fall back to bot opponents.
func runGame(args []string) {
	fs := flag.NewFlagSet("game", flag.ExitOnError)
	url := fs.String("url", "ws://localhost:8811/ws", "WebSocket server URL")
	players := fs.Int("players", 200, "Number of simulated players")
	rampUp := fs.Duration("ramp", 10*time.Second, "Ramp-up duration for player launches")
	accuracy := fs.Float64("accuracy", 0.7, "Probability a simulated player answers correctly")
	thinkMin := fs.Duration("think-min", 500*time.Millisecond, "Minimum think time per question")
	thinkMax := fs.Duration("think-max", 3*time.Second, "Maximum think time per question")
	gameTimeout := fs.Duration("game-timeout", 3*time.Minute, "Timeout waiting for a game to finish")
	metricsURL := fs.String("metrics-url", "", "Server metrics URL to scrape during the test (empty disables)")
	fs.Parse(args)

	fmt.Printf("Game test: %d players to %s (ramp=%s, accuracy=%.2f)\n",
		*players, *url, *rampUp, *accuracy)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	collector := stats.NewCollector()

	var scraper *stats.Scraper
	if *metricsURL != "" {
		scraper = stats.NewScraper(*metricsURL, 5*time.Second)
		scraper.Start(ctx)
	}

	interval := *rampUp / time.Duration(*players)
	if interval <= 0 {
		interval = time.Millisecond
	}

	var wg sync.WaitGroup
	for i := 0; i < *players; i++ {
		select {
		case <-ctx.Done():
			i = *players
			continue
		case <-time.After(interval):
		}

		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			playOneGame(ctx, collector, *url, idx, *accuracy, *thinkMin, *thinkMax, *gameTimeout)
		}(i)
	}

	wg.Wait()
	collector.Report()
	if scraper != nil {
		scraper.Stop()
		scraper.Report()
	}
}

// playOneGame runs a single simulated player through one complete game.
func playOneGame(ctx context.Context, collector *stats.Collector, url string, idx int,
	accuracy float64, thinkMin, thinkMax, gameTimeout time.Duration) {

	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(idx)))

	connCtx, connCancel := context.WithTimeout(ctx, 10*time.Second)
	c, err := client.New(connCtx, url)
	connCancel()
	if err != nil {
		collector.AddError()
		return
	}
	defer c.Close()
	collector.AddConnect(c.GetMetrics().ConnectLatency)

	playerID := fmt.Sprintf("loadtest-%d", idx)
	playerName := fmt.Sprintf("LoadBot%d", idx)

	gameStarted := make(chan string, 1) // carries game_id
	gameEnded := make(chan struct{}, 1)

	// The server tells us which question it is awaiting via the update
	// records; answering any other index is ignored.
	var nextIdx atomic.Uint32

	c.On(client.IDGameUpdate, func(raw json.RawMessage) {
		var rec struct {
			Player1ID           string `json:"player1_id"`
			Player1NextOptIndex uint32 `json:"player1_next_opt_index"`
			Player2ID           string `json:"player2_id"`
			Player2NextOptIndex uint32 `json:"player2_next_opt_index"`
		}
		if err := json.Unmarshal(raw, &rec); err != nil {
			return
		}
		switch playerID {
		case rec.Player1ID:
			nextIdx.Store(rec.Player1NextOptIndex)
		case rec.Player2ID:
			nextIdx.Store(rec.Player2NextOptIndex)
		}
	})
	c.On(client.IDGameStart, func(raw json.RawMessage) {
		var rec struct {
			GameID string `json:"game_id"`
		}
		if err := json.Unmarshal(raw, &rec); err == nil && rec.GameID != "" {
			select {
			case gameStarted <- rec.GameID:
			default:
			}
		}
	})
	c.On(client.IDGameEnd, func(raw json.RawMessage) {
		select {
		case gameEnded <- struct{}{}:
		default:
		}
	})

	// Clustered Elo so neighbors in launch order can pair.
	elo := uint32(1000 + (idx/2)*20)
	requestedAt := time.Now()
	if err := c.Send(client.IDStartMatch, client.StartMatch{
		ID:          playerID,
		Name:        playerName,
		Level:       uint32(1 + rng.Intn(30)),
		EloScore:    elo,
		CorrectRate: 50 + rng.Float64()*40,
	}); err != nil {
		collector.AddError()
		return
	}

	var gameID string
	select {
	case <-ctx.Done():
		return
	case <-time.After(30 * time.Second):
		collector.AddError()
		return
	case gameID = <-gameStarted:
		collector.AddMatchLatency(time.Since(requestedAt))
	}

	gameStart := time.Now()
	deadline := time.NewTimer(gameTimeout)
	defer deadline.Stop()

	// Answer questions with think-time pacing until the end record arrives.
	// The server times out any question we leave unanswered, so a slow pace
	// still terminates.
	const questions = 10
	think := func() time.Duration {
		return thinkMin + time.Duration(rng.Int63n(int64(thinkMax-thinkMin)+1))
	}

	lastSent := -1
	answerTimer := time.NewTimer(think())
	defer answerTimer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-deadline.C:
			collector.AddError()
			return
		case <-gameEnded:
			collector.AddGameDuration(time.Since(gameStart))
			return
		case <-answerTimer.C:
			idx := int(nextIdx.Load())
			if idx < questions && idx > lastSent {
				result := uint32(1)
				if rng.Float64() < accuracy {
					result = 0
				}
				_ = c.Send(client.IDMatchGameOpt, client.MatchGameOpt{
					ID:        playerID,
					GameID:    gameID,
					OptIndex:  uint32(idx),
					OptResult: result,
				})
				lastSent = idx
			}
			answerTimer.Reset(think())
		}
	}
}
