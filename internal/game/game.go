package game

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/poemstars/gameserver/internal/protocol"
	"github.com/poemstars/gameserver/internal/table"
)

// EloK is the Elo K-factor applied at game end.
const EloK = 32

// Game is one in-flight round between two slots. It is created when the
// matchmaker emits a pair or solo and destroyed in the same tick its end
// signal is emitted.
type Game struct {
	ID          string
	StartMillis int64
	P1, P2      *Slot
	InProgress  bool

	dirty bool
}

func newGame(p1, p2 *Slot, startMillis int64) *Game {
	return &Game{
		ID:          fmt.Sprintf("%s_%s_%d", p1.Player.ID, p2.Player.ID, startMillis),
		StartMillis: startMillis,
		P1:          p1,
		P2:          p2,
		InProgress:  true,
	}
}

// onOpt routes a client answer to the slot owning that player id. Ops for
// unknown player ids are dropped.
func (g *Game) onOpt(op protocol.CGMatchGameOpt, now int64, rules Rules) {
	switch op.ID {
	case g.P1.Player.ID:
		g.P1.applyClientOp(op, now, rules)
	case g.P2.Player.ID:
		g.P2.applyClientOp(op, now, rules)
	}
}

func (g *Game) updateBots(now int64, rules Rules, rng *rand.Rand) {
	g.P1.updateBot(now, rules, rng)
	g.P2.updateBot(now, rules, rng)
}

func (g *Game) updateTimeouts(now int64, rules Rules) {
	g.P1.updateTimeout(now, rules)
	g.P2.updateTimeout(now, rules)
}

// updateEnd flips InProgress once both slots are finished.
func (g *Game) updateEnd() {
	if g.InProgress && g.P1.Finished() && g.P2.Finished() {
		g.InProgress = false
		g.dirty = true
	}
}

// consumeDirty reports whether the game or either slot changed since the
// last call, clearing all three flags.
func (g *Game) consumeDirty() bool {
	d1 := g.P1.consumeDirty()
	d2 := g.P2.consumeDirty()
	d := g.dirty
	g.dirty = false
	return d || d1 || d2
}

// updateRecord builds the GCUpdateGame record for the current progress.
func (g *Game) updateRecord() protocol.GCUpdateGame {
	return protocol.GCUpdateGame{
		GameID: g.ID,

		Player1ID:           g.P1.Player.ID,
		Player1Name:         g.P1.Player.Name,
		Player1NextOptIndex: uint32(g.P1.NextIndex),
		Player1OptBitmap:    g.P1.OptBitmap,

		Player2ID:           g.P2.Player.ID,
		Player2Name:         g.P2.Player.Name,
		Player2NextOptIndex: uint32(g.P2.NextIndex),
		Player2OptBitmap:    g.P2.OptBitmap,
	}
}

// Outcome holds the post-game rating and level for both players.
type Outcome struct {
	NewElo1, NewElo2     uint32
	NewLevel1, NewLevel2 uint32
}

// outcome computes the end-of-game Elo and level updates. The winner by
// score gains a level; a tie leaves levels unchanged. Elo moves by
// floor(K * (o - E)) and is clamped at zero.
func (g *Game) outcome(expect *table.ExpectationTable) Outcome {
	var oa, ob float64
	switch {
	case g.P1.Score > g.P2.Score:
		oa, ob = 1, 0
	case g.P2.Score > g.P1.Score:
		oa, ob = 0, 1
	default:
		oa, ob = 0.5, 0.5
	}

	ea, eb, _ := expect.Lookup(g.P1.Player.Elo, g.P2.Player.Elo)

	out := Outcome{
		NewElo1:   applyEloDelta(g.P1.Player.Elo, oa, ea),
		NewElo2:   applyEloDelta(g.P2.Player.Elo, ob, eb),
		NewLevel1: g.P1.Player.Level,
		NewLevel2: g.P2.Player.Level,
	}
	if oa == 1 {
		out.NewLevel1++
	} else if ob == 1 {
		out.NewLevel2++
	}
	return out
}

func applyEloDelta(elo uint32, o, e float64) uint32 {
	delta := int64(math.Floor(EloK * (o - e)))
	v := int64(elo) + delta
	if v < 0 {
		v = 0
	}
	return uint32(v)
}

// endRecord builds the GCEndGame record from a computed outcome.
func (g *Game) endRecord(out Outcome) protocol.GCEndGame {
	return protocol.GCEndGame{
		GameID: g.ID,

		Player1ID:          g.P1.Player.ID,
		Player1Name:        g.P1.Player.Name,
		Player1OptBitmap:   g.P1.OptBitmap,
		Player1GameScore:   g.P1.Score,
		Player1NewEloScore: out.NewElo1,
		Player1NewLevel:    out.NewLevel1,

		Player2ID:          g.P2.Player.ID,
		Player2Name:        g.P2.Player.Name,
		Player2OptBitmap:   g.P2.OptBitmap,
		Player2GameScore:   g.P2.Score,
		Player2NewEloScore: out.NewElo2,
		Player2NewLevel:    out.NewLevel2,
	}
}
