package game

import (
	"context"
	"log"
	"time"

	"github.com/coder/quartz"

	"github.com/poemstars/gameserver/internal/matching"
	"github.com/poemstars/gameserver/internal/metrics"
	"github.com/poemstars/gameserver/internal/protocol"
	"github.com/poemstars/gameserver/internal/ws"
)

// TickMillis is the game loop period. Everything time-based (deadlines, bot
// answers, matchmaker waits) resolves at this granularity.
const TickMillis = 33

// Loop is the single goroutine that owns all game and matchmaking state. It
// drains inbound frames, ticks the engine and the matchmaker, and pushes the
// resulting signals to the transport over a bounded channel. A full signal
// channel drops the signal rather than stalling the tick.
type Loop struct {
	clock   quartz.Clock
	mm      *matching.Matchmaker
	engine  *Engine
	inbound <-chan ws.Frame
	signals chan<- Signal
}

// NewLoop wires a Loop. The clock is injectable so tests can drive ticks
// deterministically.
func NewLoop(clock quartz.Clock, mm *matching.Matchmaker, engine *Engine,
	inbound <-chan ws.Frame, signals chan<- Signal) *Loop {
	return &Loop{
		clock:   clock,
		mm:      mm,
		engine:  engine,
		inbound: inbound,
		signals: signals,
	}
}

// Run drives the loop until the context is canceled. Frames are handled as
// they arrive; ticks fire every TickMillis.
func (l *Loop) Run(ctx context.Context) {
	ticker := l.clock.NewTicker(TickMillis * time.Millisecond)
	defer ticker.Stop()

	log.Printf("game: loop running (tick=%dms)", TickMillis)
	for {
		select {
		case <-ctx.Done():
			log.Printf("game: loop stopped")
			return
		case frame := <-l.inbound:
			l.handleFrame(frame)
		case <-ticker.C:
			l.runTick()
		}
	}
}

// handleFrame decodes one inbound frame and applies it. Malformed frames are
// logged and dropped; they never terminate the loop.
func (l *Loop) handleFrame(frame ws.Frame) {
	now := l.clock.Now().UnixMilli()

	protoID, rec, err := protocol.DecodeClient(frame.Payload)
	if err != nil {
		metrics.FramesTotal.WithLabelValues("decode_error").Inc()
		log.Printf("game: bad frame from endpoint %s: %v", frame.EndpointID, err)
		return
	}
	metrics.FramesTotal.WithLabelValues("handled").Inc()

	switch protoID {
	case protocol.IDCGStartMatch:
		req := rec.(protocol.CGStartMatch)
		status := l.mm.Enqueue(&matching.Request{
			EndpointID: frame.EndpointID,
			Player: matching.PlayerIdentity{
				ID:          req.ID,
				Name:        req.Name,
				Level:       req.Level,
				Elo:         req.EloScore,
				CorrectRate: req.CorrectRate,
			},
			EnqueuedAt: now,
		})
		payload, err := protocol.Encode(protocol.IDGCStartMatch, protocol.GCStartMatch{Code: status})
		if err != nil {
			log.Printf("game: encode match reply for %s: %v", req.ID, err)
			return
		}
		l.emit(SendOne{EndpointID: frame.EndpointID, Payload: payload})

	case protocol.IDCGMatchGameOpt:
		l.engine.OnOpt(rec.(protocol.CGMatchGameOpt), now)
	}
}

// runTick advances every game one step, then gives the matchmaker one chance
// to emit a match and turns it into a game.
func (l *Loop) runTick() {
	start := l.clock.Now()
	now := start.UnixMilli()

	for _, sig := range l.engine.Update(now) {
		l.emit(sig)
	}

	if res := l.mm.Tick(now); res != nil {
		metrics.MatchWait.Observe(float64(now-res.A.EnqueuedAt) / 1000)
		sig, err := l.engine.CreateGame(res, now)
		if err != nil {
			log.Printf("game: create game failed: %v", err)
			l.mm.Release(res.A.Player.ID)
			if !res.Solo() {
				l.mm.Release(res.B.Player.ID)
			}
		} else {
			l.emit(sig)
		}
	}

	metrics.MatchQueueSize.Set(float64(l.mm.PendingCount()))
	metrics.TickDuration.Observe(l.clock.Since(start).Seconds())
}

// emit pushes a signal to the transport without blocking. Drops are logged:
// a full channel means the dispatcher is wedged, and stalling the loop would
// freeze every running game.
func (l *Loop) emit(sig Signal) {
	select {
	case l.signals <- sig:
	default:
		metrics.SignalsDropped.Inc()
		log.Printf("game: signal channel full, dropped signal")
	}
}
