package game

import (
	"log"
	"math/rand"

	"github.com/poemstars/gameserver/internal/bot"
	"github.com/poemstars/gameserver/internal/matching"
	"github.com/poemstars/gameserver/internal/protocol"
)

// RoundLength is the number of questions per round (N).
const RoundLength = 10

// PostResultWaitMillis is the pause R between a question's resolution and
// the next question's answer window: clients show the result for R ms, so
// the next deadline is answer-time + Q + R.
const PostResultWaitMillis = 2500

// Rules are the per-deployment round constants from the server config.
type Rules struct {
	QuestionMillis int64  // Q: answer window per question, ms
	QuestionScore  uint32 // S: max score for an instant correct answer
}

// Slot is one player's side of a game. Its state machine is awaiting(i) for
// i in [0, N) with deadline NextDeadline, then finished at NextIndex == N.
// All four transition sources (client op, bot synthesis, timeout, end check)
// funnel through advance, which keeps the invariants local: NextIndex is
// monotone, and OptBitmap only ever has bits below NextIndex set.
type Slot struct {
	Player     matching.PlayerIdentity
	EndpointID string // empty for bots and vanished connections
	Bot        *bot.Bot

	NextIndex    int
	NextDeadline int64 // ms; meaningless once finished
	OptBitmap    uint32
	Score        uint32

	dirty bool
}

func newSlot(player matching.PlayerIdentity, endpointID string, startMillis int64, rules Rules) *Slot {
	return &Slot{
		Player:       player,
		EndpointID:   endpointID,
		NextDeadline: startMillis + rules.QuestionMillis + PostResultWaitMillis,
	}
}

// Finished reports whether the slot has resolved all N questions.
func (s *Slot) Finished() bool {
	return s.NextIndex >= RoundLength
}

// advance resolves the current question and arms the next deadline. A
// result of 0 is correct; anything else sets the question's bitmap bit.
func (s *Slot) advance(result uint32, gained uint32, now int64, rules Rules) {
	if result != protocol.OptCorrect {
		s.OptBitmap |= 1 << uint(s.NextIndex)
	}
	s.Score += gained
	s.NextIndex++
	if !s.Finished() {
		s.NextDeadline = now + rules.QuestionMillis + PostResultWaitMillis
	}
	s.dirty = true
}

// applyClientOp ingests one answer from the client. Out-of-order indices and
// answers arriving after the deadline are ignored; the timeout path owns
// late questions.
func (s *Slot) applyClientOp(op protocol.CGMatchGameOpt, now int64, rules Rules) {
	if s.Finished() {
		return
	}
	if int(op.OptIndex) != s.NextIndex {
		log.Printf("game: player %s sent opt_index %d, awaiting %d; ignored",
			s.Player.ID, op.OptIndex, s.NextIndex)
		return
	}
	if now > s.NextDeadline {
		log.Printf("game: player %s answered question %d after deadline; ignored",
			s.Player.ID, op.OptIndex)
		return
	}

	var gained uint32
	if op.OptResult == protocol.OptCorrect {
		remaining := s.NextDeadline - now
		if remaining >= 0 && remaining <= rules.QuestionMillis {
			gained = uint32(int64(rules.QuestionScore) * remaining / rules.QuestionMillis)
		} else {
			// Answer landed inside the post-result pause; recorded, no points.
			log.Printf("game: player %s question %d remaining %dms outside scoring window",
				s.Player.ID, op.OptIndex, remaining)
		}
	}
	s.advance(op.OptResult, gained, now, rules)
}

// updateBot commits the bot's answer once the tick clock reaches its
// early-answer point before the deadline, then resamples the offset for the
// next question. Human slots are untouched.
func (s *Slot) updateBot(now int64, rules Rules, rng *rand.Rand) {
	if s.Bot == nil || s.Finished() {
		return
	}
	if now < s.NextDeadline-s.Bot.EarlyAnswerOffsetMillis {
		return
	}

	result := s.Bot.AnswerResult(rng)
	var gained uint32
	if result == protocol.OptCorrect {
		gained = uint32(int64(rules.QuestionScore) * s.Bot.EarlyAnswerOffsetMillis / rules.QuestionMillis)
	}
	s.advance(result, gained, now, rules)
	s.Bot.ResampleOffset(rng, rules.QuestionMillis)
}

// updateTimeout fails the current question when its deadline has passed.
// Timeouts score nothing and set the bitmap bit.
func (s *Slot) updateTimeout(now int64, rules Rules) {
	if s.Finished() {
		return
	}
	if now > s.NextDeadline {
		s.advance(protocol.OptIncorrect, 0, now, rules)
	}
}

// consumeDirty returns and clears the dirty flag.
func (s *Slot) consumeDirty() bool {
	d := s.dirty
	s.dirty = false
	return d
}
