// Package bot synthesizes opponents for players the matchmaker could not
// pair in time. A bot carries a jittered Elo, a clamped accuracy, and a
// per-question early-answer offset that makes its timing look human: it
// answers a random interval before the question deadline rather than at a
// fixed cadence.
package bot

import (
	"math/rand"

	"github.com/poemstars/gameserver/internal/table"
)

// Elo jitter applied around the opponent's rating.
const eloJitter = 10

// Accuracy bounds for synthesized bots, in percent.
const (
	minAccuracy = 40
	maxAccuracy = 80
)

// Bot is a synthetic opponent bound to one game slot. Its identity is
// borrowed from the pool and returned when the game is destroyed.
type Bot struct {
	Identity table.BotIdentity
	Level    uint32
	Elo      uint32
	Accuracy float64 // probability of a correct answer, 0..100

	// EarlyAnswerOffsetMillis is how long before the current question's
	// deadline the bot commits its answer. Resampled after every question.
	EarlyAnswerOffsetMillis int64
}

// Factory builds bots against a given opponent. It owns a seedable RNG so
// bot construction and answers are reproducible in tests.
type Factory struct {
	pool *table.BotPool
	rng  *rand.Rand
}

// NewFactory creates a Factory issuing identities from pool.
func NewFactory(pool *table.BotPool, rng *rand.Rand) *Factory {
	return &Factory{pool: pool, rng: rng}
}

// Spawn builds a bot matched to the opponent: Elo within ±10 of the
// opponent's (clamped at zero), accuracy uniform in [40, 80], level copied,
// and an initial early-answer offset for the first question.
func (f *Factory) Spawn(oppLevel, oppElo uint32, questionMillis int64) *Bot {
	offset := int64(f.rng.Intn(2*eloJitter+1)) - eloJitter
	elo := int64(oppElo) + offset
	if elo < 0 {
		elo = 0
	}

	b := &Bot{
		Identity: f.pool.Take(),
		Level:    oppLevel,
		Elo:      uint32(elo),
		Accuracy: minAccuracy + f.rng.Float64()*(maxAccuracy-minAccuracy),
	}
	b.ResampleOffset(f.rng, questionMillis)
	return b
}

// Release returns the bot's identity to the pool.
func (f *Factory) Release(b *Bot) {
	f.pool.Return(b.Identity)
}

// AnswerResult rolls one answer: 0 (correct) with probability Accuracy/100,
// otherwise 1 (incorrect).
func (b *Bot) AnswerResult(rng *rand.Rand) uint32 {
	if rng.Float64()*100 < b.Accuracy {
		return 0
	}
	return 1
}

// ResampleOffset draws the next question's early-answer offset uniformly
// from [1, Q/2] milliseconds.
func (b *Bot) ResampleOffset(rng *rand.Rand, questionMillis int64) {
	half := questionMillis / 2
	if half < 1 {
		half = 1
	}
	b.EarlyAnswerOffsetMillis = 1 + rng.Int63n(half)
}
