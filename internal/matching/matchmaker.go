// Package matching implements the in-memory matchmaking pool. Players wait
// in FIFO order and are paired by Elo proximity under a tolerance that
// escalates with wait time; a player nobody can be paired with falls back to
// a bot opponent after the final deadline. The pool is owned exclusively by
// the game loop goroutine, so it carries no locks.
package matching

import (
	"log"

	"github.com/poemstars/gameserver/internal/table"
)

// PlayerIdentity is the immutable per-round description of one player as the
// client reported it at match start.
type PlayerIdentity struct {
	ID          string
	Name        string
	Level       uint32
	Elo         uint32
	CorrectRate float64 // historical accuracy, 0..100
}

// Request is one pending matchmaking entry. EndpointID is empty for players
// whose connection vanished between frames; outbound delivery treats missing
// endpoints as silent drops.
type Request struct {
	EndpointID string
	Player     PlayerIdentity
	EnqueuedAt int64 // ms
}

// Result is one matchmaker emission. B is nil for a bot-fallback solo.
type Result struct {
	A *Request
	B *Request
}

// Solo reports whether the result needs a bot opponent.
func (r *Result) Solo() bool {
	return r.B == nil
}

// Enqueue status codes, returned to the client in GCStartMatch.
const (
	StatusAccepted      int32 = 0
	StatusAlreadyActive int32 = -1
)

// Wait-time thresholds (ms) gating which Elo-gap groups may be paired. A
// pair is admitted as soon as its group is tolerated at the requester's
// current wait; the final threshold also arms the bot fallback.
const (
	waitPerfect = 1000 // group 0 only
	waitClose   = 2500 // group <= 1
	waitNear    = 3500 // group <= 2
	waitWide    = 4500 // group <= 3, and beyond it group <= 4 or a bot
	maxGapGroup = 4
)

// Matchmaker holds the pending pool and the set of active players (matching
// or in a game). Only the game loop calls into it.
type Matchmaker struct {
	pending []*Request
	active  map[string]int64 // player_id -> enqueued_at ms
	expect  *table.ExpectationTable
}

// New creates an empty Matchmaker using the given expectation table for
// gap-group lookups.
func New(expect *table.ExpectationTable) *Matchmaker {
	return &Matchmaker{
		active: make(map[string]int64),
		expect: expect,
	}
}

// Enqueue admits a request unless the player is already matching or in a
// game. Returns StatusAccepted or StatusAlreadyActive.
func (m *Matchmaker) Enqueue(req *Request) int32 {
	if _, ok := m.active[req.Player.ID]; ok {
		log.Printf("matching: duplicate request from player %s", req.Player.ID)
		return StatusAlreadyActive
	}
	m.active[req.Player.ID] = req.EnqueuedAt
	m.pending = append(m.pending, req)
	return StatusAccepted
}

// Release frees a player id from the active set once their game is destroyed
// (or failed to be created). Players still in the pending pool stay active.
func (m *Matchmaker) Release(playerID string) {
	delete(m.active, playerID)
}

// Tick scans the pool and returns at most one emission: a pair whose Elo-gap
// group is tolerated at the requester's wait time, or a solo for a lone
// player past the final deadline. Emitting at most one result per tick
// bounds the round engine's per-tick game-creation cost.
func (m *Matchmaker) Tick(now int64) *Result {
	for i, req := range m.pending {
		// Closest opponent by Elo; on an equal gap the later arrival wins.
		best := -1
		var bestGap uint32
		for j, cand := range m.pending {
			if j == i {
				continue
			}
			gap := req.Player.Elo - cand.Player.Elo
			if cand.Player.Elo > req.Player.Elo {
				gap = cand.Player.Elo - req.Player.Elo
			}
			if best < 0 || gap <= bestGap {
				best = j
				bestGap = gap
			}
		}

		wait := now - req.EnqueuedAt

		if best < 0 {
			if wait > waitWide {
				m.remove(i)
				return &Result{A: req}
			}
			continue
		}

		cand := m.pending[best]
		_, _, group := m.expect.Lookup(req.Player.Elo, cand.Player.Elo)
		if !admit(wait, group) {
			continue
		}

		// Remove the later index first so the earlier one stays valid.
		if best > i {
			m.remove(best)
			m.remove(i)
		} else {
			m.remove(i)
			m.remove(best)
		}
		return &Result{A: req, B: cand}
	}
	return nil
}

// admit implements the time-escalating tolerance table.
func admit(wait int64, group uint32) bool {
	switch {
	case wait <= waitPerfect:
		return group == 0
	case wait <= waitClose:
		return group <= 1
	case wait <= waitNear:
		return group <= 2
	case wait <= waitWide:
		return group <= 3
	default:
		return group <= maxGapGroup
	}
}

// PendingCount returns the number of waiting requests.
func (m *Matchmaker) PendingCount() int {
	return len(m.pending)
}

// ActiveCount returns the number of players currently matching or in a game.
func (m *Matchmaker) ActiveCount() int {
	return len(m.active)
}

func (m *Matchmaker) remove(i int) {
	m.pending = append(m.pending[:i], m.pending[i+1:]...)
}
