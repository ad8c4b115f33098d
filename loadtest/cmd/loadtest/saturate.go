package main

import (
	"context"
	"flag"
	"fmt"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/poemstars/gameserver/loadtest/client"
	"github.com/poemstars/gameserver/loadtest/stats"
)

// runSaturate implements the connection saturation test. It opens a specified
// number of WebSocket connections, ramping up over a configurable duration,
// then holds them open for a hold period. It is designed to find the maximum
// connection capacity before the server starts rejecting or dropping
// connections.
func runSaturate(args []string) {
	fs := flag.NewFlagSet("saturate", flag.ExitOnError)
	url := fs.String("url", "ws://localhost:8811/ws", "WebSocket server URL")
	connections := fs.Int("connections", 1000, "Number of connections to open")
	rampUp := fs.Duration("ramp", 10*time.Second, "Ramp-up duration")
	hold := fs.Duration("hold", 30*time.Second, "Hold duration after all connections are open")
	concurrency := fs.Int("concurrency", 50, "Maximum simultaneous connection attempts during ramp-up")
	metricsURL := fs.String("metrics-url", "", "Server metrics URL to scrape during the test (empty disables)")
	fs.Parse(args)

	fmt.Printf("Saturate test: %d connections to %s (ramp=%s, hold=%s, concurrency=%d)\n",
		*connections, *url, *rampUp, *hold, *concurrency)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	collector := stats.NewCollector()

	var scraper *stats.Scraper
	if *metricsURL != "" {
		scraper = stats.NewScraper(*metricsURL, 5*time.Second)
		scraper.Start(ctx)
	}

	var mu sync.Mutex
	clients := make([]*client.Client, 0, *connections)

	var dropped atomic.Int64
	interrupted := false

	// -----------------------------------------------------------------------
	// Ramp-up phase
	// -----------------------------------------------------------------------
	fmt.Println("\n--- Ramp-up phase ---")

	interval := *rampUp / time.Duration(*connections)
	if interval <= 0 {
		interval = time.Millisecond
	}

	sem := make(chan struct{}, *concurrency)
	var wg sync.WaitGroup

	progressStop := make(chan struct{})
	var progressWg sync.WaitGroup
	progressWg.Add(1)
	go func() {
		defer progressWg.Done()
		ticker := time.NewTicker(1 * time.Second)
		defer ticker.Stop()
		lastCount := 0
		lastTime := time.Now()
		for {
			select {
			case <-ticker.C:
				now := time.Now()
				currentConns := collector.ConnectionCount()
				currentErrs := collector.ErrorCount()
				dt := now.Sub(lastTime).Seconds()
				rate := float64(currentConns-lastCount) / dt
				fmt.Printf("  [connect] connections: %d/%d  errors: %d  rate: %.1f conn/s\n",
					currentConns, *connections, currentErrs, rate)
				lastCount = currentConns
				lastTime = now
			case <-progressStop:
				return
			}
		}
	}()

	rampTicker := time.NewTicker(interval)
	launched := 0
	for launched < *connections {
		select {
		case <-ctx.Done():
			fmt.Println("\nInterrupted during ramp-up.")
			interrupted = true
			launched = *connections
		case <-rampTicker.C:
			launched++
			wg.Add(1)
			sem <- struct{}{}

			go func() {
				defer wg.Done()
				defer func() { <-sem }()

				connCtx, connCancel := context.WithTimeout(ctx, 10*time.Second)
				defer connCancel()

				c, err := client.New(connCtx, *url)
				if err != nil {
					collector.AddError()
					return
				}
				collector.AddConnect(c.GetMetrics().ConnectLatency)

				mu.Lock()
				clients = append(clients, c)
				mu.Unlock()
			}()
		}
	}
	rampTicker.Stop()
	wg.Wait()

	// -----------------------------------------------------------------------
	// Hold phase
	// -----------------------------------------------------------------------
	if !interrupted {
		fmt.Printf("\n--- Hold phase (%s) ---\n", *hold)

		holdTimer := time.NewTimer(*hold)
		holdTicker := time.NewTicker(5 * time.Second)
	holdLoop:
		for {
			select {
			case <-ctx.Done():
				fmt.Println("\nInterrupted during hold.")
				break holdLoop
			case <-holdTimer.C:
				break holdLoop
			case <-holdTicker.C:
				mu.Lock()
				open := 0
				for _, c := range clients {
					if c.GetMetrics().Errors == 0 {
						open++
					}
				}
				mu.Unlock()
				fmt.Printf("  [hold] open: %d  dropped: %d\n", open, dropped.Load())
			}
		}
		holdTimer.Stop()
		holdTicker.Stop()
	}

	close(progressStop)
	progressWg.Wait()

	// Cleanup.
	fmt.Println("\nClosing connections...")
	mu.Lock()
	for _, c := range clients {
		_ = c.Close()
	}
	mu.Unlock()

	collector.Report()
	if scraper != nil {
		scraper.Stop()
		scraper.Report()
	}
}
