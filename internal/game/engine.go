package game

import (
	"encoding/json"
	"fmt"
	"log"
	"math/rand"

	"github.com/poemstars/gameserver/internal/bot"
	"github.com/poemstars/gameserver/internal/matching"
	"github.com/poemstars/gameserver/internal/metrics"
	"github.com/poemstars/gameserver/internal/persist"
	"github.com/poemstars/gameserver/internal/protocol"
	"github.com/poemstars/gameserver/internal/table"
)

// EventSink receives persistence events from the engine. Implemented by
// persist.Writer; tests use an in-memory collector.
type EventSink interface {
	Enqueue(ev persist.Event) bool
}

// Engine owns every in-flight game. It is driven exclusively by the tick
// loop: OnOpt ingests decoded client answers, Update advances all games one
// tick, CreateGame turns a matchmaker emission into a running game.
type Engine struct {
	rules     Rules
	area      string
	games     map[string]*Game
	questions *table.QuestionBank
	expect    *table.ExpectationTable
	bots      *bot.Factory
	rng       *rand.Rand
	sink      EventSink

	gamesStarted uint64

	// OnGameEnd is called with both player ids when a game is destroyed,
	// so the matchmaker can release them from the active set. Also called
	// for games that failed to start.
	OnGameEnd func(playerIDs ...string)
}

// NewEngine creates an Engine. The RNG drives question sampling and bot
// answers; seed it for reproducible rounds in tests.
func NewEngine(rules Rules, area string, questions *table.QuestionBank, expect *table.ExpectationTable,
	bots *bot.Factory, rng *rand.Rand, sink EventSink) *Engine {
	return &Engine{
		rules:     rules,
		area:      area,
		games:     make(map[string]*Game),
		questions: questions,
		expect:    expect,
		bots:      bots,
		rng:       rng,
		sink:      sink,
	}
}

// OnOpt routes one decoded answer to its game. Unknown game ids are dropped;
// the game may simply have ended a tick earlier.
func (e *Engine) OnOpt(op protocol.CGMatchGameOpt, now int64) {
	g, ok := e.games[op.GameID]
	if !ok {
		log.Printf("game: opt for unknown game %s from player %s", op.GameID, op.ID)
		return
	}
	g.onOpt(op, now, e.rules)
}

// CreateGame builds a game from a matchmaker emission, samples the round
// script by the first player's level, and returns the GameStart signal. On
// sampling or codec failure no game is created and the callers must release
// the involved players.
func (e *Engine) CreateGame(res *matching.Result, now int64) (Signal, error) {
	script, err := e.questions.Sample(res.A.Player.Level, RoundLength, e.rng)
	if err != nil {
		return nil, fmt.Errorf("game: sample script: %w", err)
	}
	scriptJSON, err := json.Marshal(script)
	if err != nil {
		return nil, fmt.Errorf("game: marshal script: %w", err)
	}

	p1 := newSlot(res.A.Player, res.A.EndpointID, now, e.rules)

	var p2 *Slot
	if res.Solo() {
		b := e.bots.Spawn(res.A.Player.Level, res.A.Player.Elo, e.rules.QuestionMillis)
		p2 = newSlot(matching.PlayerIdentity{
			ID:          b.Identity.ID,
			Name:        b.Identity.Name,
			Level:       b.Level,
			Elo:         b.Elo,
			CorrectRate: b.Accuracy,
		}, "", now, e.rules)
		p2.Bot = b
		metrics.MatchesTotal.WithLabelValues("bot").Inc()
	} else {
		p2 = newSlot(res.B.Player, res.B.EndpointID, now, e.rules)
		metrics.MatchesTotal.WithLabelValues("pair").Inc()
	}

	g := newGame(p1, p2, now)

	payload, err := protocol.Encode(protocol.IDGCStartGame, protocol.GCStartGame{
		GameID:      g.ID,
		Player1ID:   p1.Player.ID,
		Player1Name: p1.Player.Name,
		Player2ID:   p2.Player.ID,
		Player2Name: p2.Player.Name,
		PoemDataStr: string(scriptJSON),
	})
	if err != nil {
		if p2.Bot != nil {
			e.bots.Release(p2.Bot)
		}
		return nil, fmt.Errorf("game: encode start: %w", err)
	}

	e.games[g.ID] = g
	e.gamesStarted++
	e.sink.Enqueue(persist.GameCount{Count: e.gamesStarted})
	metrics.ActiveGames.Set(float64(len(e.games)))

	log.Printf("game: started %s (%s vs %s)", g.ID, p1.Player.ID, p2.Player.ID)
	return SyncPair{EndpointA: p1.EndpointID, EndpointB: p2.EndpointID, Payload: payload}, nil
}

// Update advances every game one tick and returns the signals to dispatch.
// Per game the order is: bot synthesis, timeout detection, end check, a
// GCUpdateGame if anything changed, then for finished games the Elo/level
// outcome, the GCEndGame signal, persistence, and destruction.
func (e *Engine) Update(now int64) []Signal {
	var signals []Signal
	var ended []string

	for id, g := range e.games {
		g.updateBots(now, e.rules, e.rng)
		g.updateTimeouts(now, e.rules)
		g.updateEnd()

		if g.consumeDirty() {
			payload, err := protocol.Encode(protocol.IDGCUpdateGame, g.updateRecord())
			if err != nil {
				log.Printf("game: encode update for %s: %v", id, err)
			} else {
				signals = append(signals, SyncPair{
					EndpointA: g.P1.EndpointID,
					EndpointB: g.P2.EndpointID,
					Payload:   payload,
				})
			}
		}

		if !g.InProgress {
			ended = append(ended, id)
			signals = append(signals, e.finishGame(g, now)...)
		}
	}

	for _, id := range ended {
		delete(e.games, id)
	}
	if len(ended) > 0 {
		metrics.ActiveGames.Set(float64(len(e.games)))
	}
	return signals
}

// finishGame emits the end signal and persistence events for a game whose
// both slots are finished, and returns its identities to their pools.
func (e *Engine) finishGame(g *Game, now int64) []Signal {
	out := g.outcome(e.expect)

	var signals []Signal
	payload, err := protocol.Encode(protocol.IDGCEndGame, g.endRecord(out))
	if err != nil {
		log.Printf("game: encode end for %s: %v", g.ID, err)
	} else {
		signals = append(signals, SyncPair{
			EndpointA: g.P1.EndpointID,
			EndpointB: g.P2.EndpointID,
			Payload:   payload,
		})
	}

	// Leaderboard progress for both slots, in slot order. Bots count too:
	// their pooled identities accumulate a visible history.
	e.sink.Enqueue(persist.PlayerProgress{
		PlayerKey: g.P1.Player.ID + "_" + g.P1.Player.Name,
		Level:     out.NewLevel1,
	})
	e.sink.Enqueue(persist.PlayerProgress{
		PlayerKey: g.P2.Player.ID + "_" + g.P2.Player.Name,
		Level:     out.NewLevel2,
	})
	e.sink.Enqueue(persist.GameResult{
		GameID:    g.ID,
		Area:      e.area,
		StartedAt: g.StartMillis,
		EndedAt:   now,
		Players: [2]persist.PlayerResult{
			{
				PlayerID: g.P1.Player.ID, Name: g.P1.Player.Name, IsBot: g.P1.Bot != nil,
				Score: g.P1.Score, OptBitmap: g.P1.OptBitmap,
				OldElo: g.P1.Player.Elo, NewElo: out.NewElo1, NewLevel: out.NewLevel1,
			},
			{
				PlayerID: g.P2.Player.ID, Name: g.P2.Player.Name, IsBot: g.P2.Bot != nil,
				Score: g.P2.Score, OptBitmap: g.P2.OptBitmap,
				OldElo: g.P2.Player.Elo, NewElo: out.NewElo2, NewLevel: out.NewLevel2,
			},
		},
	})

	for _, s := range []*Slot{g.P1, g.P2} {
		if s.Bot != nil {
			e.bots.Release(s.Bot)
		}
	}
	if e.OnGameEnd != nil {
		e.OnGameEnd(g.P1.Player.ID, g.P2.Player.ID)
	}

	metrics.GamesCompleted.Inc()
	log.Printf("game: ended %s (%d:%d)", g.ID, g.P1.Score, g.P2.Score)
	return signals
}

// ActiveGames returns the number of in-flight games.
func (e *Engine) ActiveGames() int {
	return len(e.games)
}
