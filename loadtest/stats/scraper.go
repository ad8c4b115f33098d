// Package stats — scraper.go polls the game server's Prometheus endpoint
// during a load test and keeps snapshots so the report can show the server's
// view next to the client's.
package stats

import (
	"bufio"
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// serverSnapshot holds the tracked server metrics at one scrape.
type serverSnapshot struct {
	timestamp   time.Time
	connections float64
	framesTotal float64
	activeGames float64
	queueSize   float64
	gamesDone   float64
	// histogram _sum and _count, for average computation
	tickSum   float64
	tickCount float64
	waitSum   float64
	waitCount float64
}

// Scraper periodically fetches the server's /metrics endpoint and records
// snapshots for the post-test report.
type Scraper struct {
	metricsURL string
	interval   time.Duration

	mu        sync.Mutex
	snapshots []serverSnapshot

	cancel context.CancelFunc
	done   chan struct{}
	client *http.Client
}

// NewScraper creates a Scraper that fetches metricsURL at the given interval.
func NewScraper(metricsURL string, interval time.Duration) *Scraper {
	return &Scraper{
		metricsURL: metricsURL,
		interval:   interval,
		client: &http.Client{
			Timeout: 5 * time.Second,
		},
		done: make(chan struct{}),
	}
}

// Start begins scraping in the background: one snapshot immediately, then one
// per interval until the context is cancelled or Stop is called.
func (s *Scraper) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	s.scrapeOnce()

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				// Final snapshot so the report sees the end state.
				s.scrapeOnce()
				return
			case <-ticker.C:
				s.scrapeOnce()
			}
		}
	}()
}

// Stop stops the background scraper and waits for it to finish.
func (s *Scraper) Stop() {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
}

func (s *Scraper) scrapeOnce() {
	snap, err := s.fetch()
	if err != nil {
		// Skip failed scrapes; the server may not be up yet.
		return
	}

	s.mu.Lock()
	s.snapshots = append(s.snapshots, snap)
	s.mu.Unlock()
}

func (s *Scraper) fetch() (serverSnapshot, error) {
	resp, err := s.client.Get(s.metricsURL)
	if err != nil {
		return serverSnapshot{}, err
	}
	defer resp.Body.Close()

	snap := serverSnapshot{timestamp: time.Now()}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if len(line) == 0 || line[0] == '#' {
			continue
		}

		name, value, ok := parseMetricLine(line)
		if !ok {
			continue
		}

		switch name {
		case "poemstars_connections_total":
			snap.connections = value
		case "poemstars_frames_total":
			// Labeled counter: one line per outcome, summed here.
			snap.framesTotal += value
		case "poemstars_active_games":
			snap.activeGames = value
		case "poemstars_match_queue_size":
			snap.queueSize = value
		case "poemstars_games_completed_total":
			snap.gamesDone = value
		case "poemstars_tick_duration_seconds_sum":
			snap.tickSum = value
		case "poemstars_tick_duration_seconds_count":
			snap.tickCount = value
		case "poemstars_match_wait_seconds_sum":
			snap.waitSum = value
		case "poemstars_match_wait_seconds_count":
			snap.waitCount = value
		}
	}

	return snap, scanner.Err()
}

// parseMetricLine parses one Prometheus text-exposition line into the metric
// name (labels stripped) and its value.
func parseMetricLine(line string) (name string, value float64, ok bool) {
	raw := line
	if idx := strings.IndexByte(raw, '{'); idx != -1 {
		name = raw[:idx]
		closing := strings.IndexByte(raw[idx:], '}')
		if closing == -1 {
			return "", 0, false
		}
		raw = name + raw[idx+closing+1:]
	}

	fields := strings.Fields(raw)
	if len(fields) < 2 {
		return "", 0, false
	}

	if name == "" {
		name = fields[0]
	}

	v, err := strconv.ParseFloat(fields[len(fields)-1], 64)
	if err != nil {
		return "", 0, false
	}

	return name, v, true
}

// Report prints initial/final/delta/peak for each tracked gauge and the
// averages derived from the histogram sums.
func (s *Scraper) Report() {
	s.mu.Lock()
	snaps := make([]serverSnapshot, len(s.snapshots))
	copy(snaps, s.snapshots)
	s.mu.Unlock()

	if len(snaps) == 0 {
		fmt.Println("\n--- Server Metrics (no data collected) ---")
		return
	}

	first := snaps[0]
	last := snaps[len(snaps)-1]

	fmt.Println("\n--- Server Metrics (Prometheus) ---")
	fmt.Printf("  Scrape count:  %d snapshots over %s\n",
		len(snaps), last.timestamp.Sub(first.timestamp).Round(time.Second))

	type gauge struct {
		label   string
		initial float64
		final   float64
		peak    float64
	}

	gauges := []gauge{
		{label: "Connections", initial: first.connections, final: last.connections,
			peak: peakValue(snaps, func(s serverSnapshot) float64 { return s.connections })},
		{label: "Active Games", initial: first.activeGames, final: last.activeGames,
			peak: peakValue(snaps, func(s serverSnapshot) float64 { return s.activeGames })},
		{label: "Match Queue", initial: first.queueSize, final: last.queueSize,
			peak: peakValue(snaps, func(s serverSnapshot) float64 { return s.queueSize })},
		{label: "Games Done", initial: first.gamesDone, final: last.gamesDone,
			peak: peakValue(snaps, func(s serverSnapshot) float64 { return s.gamesDone })},
		{label: "Frames Total", initial: first.framesTotal, final: last.framesTotal,
			peak: peakValue(snaps, func(s serverSnapshot) float64 { return s.framesTotal })},
	}

	fmt.Println()
	fmt.Printf("  %-16s %10s %10s %10s %10s\n", "Metric", "Initial", "Final", "Delta", "Peak")
	fmt.Printf("  %-16s %10s %10s %10s %10s\n", "------", "-------", "-----", "-----", "----")
	for _, g := range gauges {
		delta := g.final - g.initial
		fmt.Printf("  %-16s %10.0f %10.0f %10.0f %10.0f\n",
			g.label, g.initial, g.final, delta, g.peak)
	}

	fmt.Println()
	printHistogramAvg("Tick Duration", first.tickSum, first.tickCount,
		last.tickSum, last.tickCount)
	printHistogramAvg("Match Wait", first.waitSum, first.waitCount,
		last.waitSum, last.waitCount)
}

// printHistogramAvg prints the average derived from _sum/_count deltas
// between the first and last snapshot.
func printHistogramAvg(label string, sumFirst, countFirst, sumLast, countLast float64) {
	deltaSum := sumLast - sumFirst
	deltaCount := countLast - countFirst
	if deltaCount > 0 {
		avg := deltaSum / deltaCount
		fmt.Printf("  %-16s avg: %.4fs  (%.0f observations)\n", label, avg, deltaCount)
	} else {
		fmt.Printf("  %-16s avg: N/A  (no observations)\n", label)
	}
}

func peakValue(snaps []serverSnapshot, extract func(serverSnapshot) float64) float64 {
	peak := math.Inf(-1)
	for _, s := range snaps {
		if v := extract(s); v > peak {
			peak = v
		}
	}
	return peak
}
