// Command gameserver runs the poem-matching game server: the WebSocket
// transport, the single-threaded game loop (matchmaker + round engine), the
// persistence worker, and the Prometheus metrics endpoint.
package main

import (
	"context"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/coder/quartz"
	"github.com/redis/go-redis/v9"

	"github.com/poemstars/gameserver/internal/bot"
	"github.com/poemstars/gameserver/internal/config"
	"github.com/poemstars/gameserver/internal/game"
	"github.com/poemstars/gameserver/internal/matching"
	"github.com/poemstars/gameserver/internal/messaging"
	"github.com/poemstars/gameserver/internal/metrics"
	"github.com/poemstars/gameserver/internal/persist"
	"github.com/poemstars/gameserver/internal/table"
	"github.com/poemstars/gameserver/internal/ws"
)

func main() {
	configPath := "configs/server_config.json"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		configPath = v
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("failed to load config %s: %v", configPath, err)
	}

	// --- Data tables ---
	expect, err := table.LoadExpectationTable(cfg.ExpectationTablePath)
	if err != nil {
		log.Fatalf("failed to load expectation table: %v", err)
	}
	questions, err := table.LoadQuestionBank(cfg.QuestionBankPath)
	if err != nil {
		log.Fatalf("failed to load question bank: %v", err)
	}
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	bots, err := table.LoadBotPool(cfg.BotPoolPath, rng)
	if err != nil {
		log.Fatalf("failed to load bot pool: %v", err)
	}

	// --- Redis ---
	redisAddr := "localhost:6379"
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		redisAddr = v
	}
	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		pingCancel()
		log.Fatalf("failed to connect to Redis at %s: %v", redisAddr, err)
	}
	pingCancel()

	// --- Persistence worker ---
	writerOpts := []persist.Option{}

	var natsClient *messaging.Client
	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		natsConfig := messaging.DefaultConfig()
		natsConfig.URL = natsURL
		natsClient, err = messaging.Connect(natsConfig)
		if err != nil {
			log.Fatalf("failed to connect to NATS: %v", err)
		}
		writerOpts = append(writerOpts, persist.WithPublisher(natsClient))
	}

	var archive *persist.Archive
	if dsn := os.Getenv("POSTGRES_DSN"); dsn != "" {
		archive, err = persist.OpenArchive(dsn)
		if err != nil {
			log.Fatalf("failed to open game archive: %v", err)
		}
		writerOpts = append(writerOpts, persist.WithArchive(archive))
	}

	writer := persist.NewWriter(rdb, cfg.MatchDataKeyName, writerOpts...)

	// --- Transport ---
	wsConfig := ws.DefaultServerConfig()
	wsConfig.ListenAddr = cfg.ListenAddr()
	if v := os.Getenv("WORKER_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			wsConfig.WorkerPoolSize = n
		}
	}
	if v := os.Getenv("MAX_CONNECTIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			wsConfig.MaxConnections = n
		}
	}
	server := ws.NewServer(wsConfig)

	// --- Game loop ---
	rules := game.Rules{
		QuestionMillis: cfg.PoemMillTime,
		QuestionScore:  cfg.PoemScore,
	}
	mm := matching.New(expect)
	engine := game.NewEngine(rules, cfg.Area, questions, expect, bot.NewFactory(bots, rng), rng, writer)
	engine.OnGameEnd = func(playerIDs ...string) {
		for _, id := range playerIDs {
			mm.Release(id)
		}
	}

	signals := make(chan game.Signal, 1024)
	loop := game.NewLoop(quartz.NewReal(), mm, engine, server.Inbound(), signals)

	// Connection counts flow through the persistence worker like everything
	// else; the callbacks run on transport goroutines and must not block.
	server.SetOnConnect(func(endpointID string, total int) {
		writer.Enqueue(persist.ServerStatus{Connections: total})
	})
	server.SetOnDisconnect(func(endpointID string, total int) {
		writer.Enqueue(persist.ServerStatus{Connections: total})
	})

	log.Printf("PoemStars game server starting")
	log.Printf("  area:           %s", cfg.Area)
	log.Printf("  listen_addr:    %s", wsConfig.ListenAddr)
	log.Printf("  poem_mill_time: %dms", cfg.PoemMillTime)
	log.Printf("  poem_score:     %d", cfg.PoemScore)
	log.Printf("  questions:      %d", questions.Total())
	log.Printf("  bot_pool:       %d", bots.Size())
	log.Printf("  redis_addr:     %s", redisAddr)

	ctx, cancel := context.WithCancel(context.Background())

	go writer.Run(ctx)
	go loop.Run(ctx)

	// Signal dispatcher: fan outbound signals to their endpoints. Missing
	// endpoints are silent drops; write errors mean the connection is dying
	// and the transport's read path will reap it.
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case sig := <-signals:
				switch s := sig.(type) {
				case game.SendOne:
					if s.EndpointID != "" {
						_ = server.Send(s.EndpointID, []byte(s.Payload))
					}
				case game.SyncPair:
					if s.EndpointA != "" {
						_ = server.Send(s.EndpointA, []byte(s.Payload))
					}
					if s.EndpointB != "" {
						_ = server.Send(s.EndpointB, []byte(s.Payload))
					}
				}
			}
		}
	}()

	// --- Metrics ---
	metricsAddr := ":9100"
	if v := os.Getenv("METRICS_ADDR"); v != "" {
		metricsAddr = v
	}
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		log.Printf("metrics listening on %s", metricsAddr)
		if err := http.ListenAndServe(metricsAddr, mux); err != nil {
			log.Printf("metrics server error: %v", err)
		}
	}()

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("received signal %v, initiating graceful shutdown...", sig)
		cancel()
		if err := server.Shutdown(); err != nil {
			log.Printf("shutdown error: %v", err)
		}
		if natsClient != nil {
			natsClient.Close()
		}
		if archive != nil {
			if err := archive.Close(); err != nil {
				log.Printf("archive close error: %v", err)
			}
		}
		if err := rdb.Close(); err != nil {
			log.Printf("redis close error: %v", err)
		}
		os.Exit(0)
	}()

	if err := server.Start(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
