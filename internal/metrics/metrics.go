// Package metrics provides Prometheus instrumentation for the game server.
// It exposes gauges for connection, game, and queue counts, counters for
// frame and match throughput, and histograms for tick duration and match
// wait time.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsTotal tracks the current number of active WebSocket connections.
	ConnectionsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "poemstars_connections_total",
		Help: "Current number of active WebSocket connections",
	})

	// FramesTotal counts inbound frames processed, labeled by outcome:
	// "handled", "decode_error", or "dropped".
	FramesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "poemstars_frames_total",
		Help: "Total number of inbound frames processed",
	}, []string{"outcome"}) // outcome = "handled", "decode_error", "dropped"

	// MatchesTotal counts matches created, labeled by kind: "pair" or "bot".
	MatchesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "poemstars_matches_total",
		Help: "Total number of matches created",
	}, []string{"kind"}) // kind = "pair", "bot"

	// GamesCompleted counts games that ran to completion.
	GamesCompleted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "poemstars_games_completed_total",
		Help: "Total number of games run to completion",
	})

	// TickDuration records how long one game-loop tick takes in seconds.
	TickDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "poemstars_tick_duration_seconds",
		Help:    "Game loop tick duration in seconds",
		Buckets: []float64{.0001, .0005, .001, .005, .01, .025, .05, .1},
	})

	// MatchWait records the time from match request to match creation.
	MatchWait = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "poemstars_match_wait_seconds",
		Help:    "Time from match request to match creation",
		Buckets: []float64{.5, 1, 2, 3, 4, 5, 7.5, 10},
	})

	// ActiveGames tracks the current number of in-flight games.
	ActiveGames = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "poemstars_active_games",
		Help: "Current number of in-flight games",
	})

	// MatchQueueSize tracks the current number of players waiting to be matched.
	MatchQueueSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "poemstars_match_queue_size",
		Help: "Current number of players in the matching queue",
	})

	// SignalsDropped counts outbound signals dropped because the signal
	// channel was full.
	SignalsDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "poemstars_signals_dropped_total",
		Help: "Total number of outbound signals dropped on a full channel",
	})
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		FramesTotal,
		MatchesTotal,
		GamesCompleted,
		TickDuration,
		MatchWait,
		ActiveGames,
		MatchQueueSize,
		SignalsDropped,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
