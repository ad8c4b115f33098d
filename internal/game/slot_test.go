package game

import (
	"math/rand"
	"testing"

	"github.com/poemstars/gameserver/internal/bot"
	"github.com/poemstars/gameserver/internal/matching"
	"github.com/poemstars/gameserver/internal/protocol"
)

var testRules = Rules{QuestionMillis: 8000, QuestionScore: 100}

func testSlot(start int64) *Slot {
	return newSlot(matching.PlayerIdentity{ID: "p1", Name: "王维", Level: 5, Elo: 1500}, "ep-1", start, testRules)
}

func opt(index, result uint32) protocol.CGMatchGameOpt {
	return protocol.CGMatchGameOpt{ID: "p1", GameID: "g", OptIndex: index, OptResult: result}
}

func TestNewSlotDeadline(t *testing.T) {
	s := testSlot(1000)
	want := int64(1000 + 8000 + PostResultWaitMillis)
	if s.NextDeadline != want {
		t.Fatalf("initial deadline %d, want %d", s.NextDeadline, want)
	}
	if s.NextIndex != 0 || s.Finished() {
		t.Fatalf("fresh slot not awaiting question 0: %+v", s)
	}
}

func TestCorrectAnswerScoresProportionally(t *testing.T) {
	s := testSlot(0)

	// Deadline is 10500; answering at 3000 leaves 7500ms of the 8000ms
	// window, worth floor(100 * 7500 / 8000) = 93 points.
	s.applyClientOp(opt(0, protocol.OptCorrect), 3000, testRules)

	if s.Score != 93 {
		t.Errorf("score %d, want 93", s.Score)
	}
	if s.OptBitmap != 0 {
		t.Errorf("bitmap %b, want 0 for a correct answer", s.OptBitmap)
	}
	if s.NextIndex != 1 {
		t.Errorf("next index %d, want 1", s.NextIndex)
	}
	if s.NextDeadline != 3000+8000+PostResultWaitMillis {
		t.Errorf("rearmed deadline %d, want %d", s.NextDeadline, 3000+8000+PostResultWaitMillis)
	}
	if !s.consumeDirty() {
		t.Error("slot not marked dirty after an answer")
	}
}

func TestAnswerAtDeadlineScoresZero(t *testing.T) {
	s := testSlot(0)
	s.applyClientOp(opt(0, protocol.OptCorrect), 10500, testRules)

	if s.Score != 0 {
		t.Errorf("score %d, want 0 at the deadline", s.Score)
	}
	if s.NextIndex != 1 {
		t.Errorf("answer at the deadline must still resolve the question")
	}
}

func TestAnswerDuringPostResultWaitScoresZero(t *testing.T) {
	s := testSlot(0)

	// At 1000 the remaining time (9500) exceeds the 8000ms window: the
	// client is still inside the previous result display. Recorded, no
	// points.
	s.applyClientOp(opt(0, protocol.OptCorrect), 1000, testRules)

	if s.Score != 0 {
		t.Errorf("score %d, want 0 during post-result wait", s.Score)
	}
	if s.OptBitmap != 0 {
		t.Errorf("bitmap %b, correct answer must not set a bit", s.OptBitmap)
	}
	if s.NextIndex != 1 {
		t.Errorf("next index %d, want 1", s.NextIndex)
	}
}

func TestIncorrectAnswerSetsBit(t *testing.T) {
	s := testSlot(0)
	s.applyClientOp(opt(0, protocol.OptIncorrect), 3000, testRules)

	if s.OptBitmap != 1 {
		t.Errorf("bitmap %b, want bit 0 set", s.OptBitmap)
	}
	if s.Score != 0 {
		t.Errorf("score %d, incorrect answers never score", s.Score)
	}
}

func TestOutOfOrderAnswerIgnored(t *testing.T) {
	s := testSlot(0)
	s.applyClientOp(opt(3, protocol.OptCorrect), 3000, testRules)

	if s.NextIndex != 0 || s.Score != 0 || s.OptBitmap != 0 {
		t.Errorf("out-of-order op changed the slot: %+v", s)
	}
	if s.consumeDirty() {
		t.Error("ignored op marked the slot dirty")
	}
}

func TestLateAnswerIgnored(t *testing.T) {
	s := testSlot(0)
	s.applyClientOp(opt(0, protocol.OptCorrect), 10501, testRules)

	if s.NextIndex != 0 {
		t.Errorf("late answer resolved the question; timeouts own it")
	}
}

func TestTimeoutFailsQuestion(t *testing.T) {
	s := testSlot(0)

	s.updateTimeout(10500, testRules) // exactly at the deadline: not yet
	if s.NextIndex != 0 {
		t.Fatalf("timeout fired at the deadline instead of after it")
	}

	s.updateTimeout(10501, testRules)
	if s.NextIndex != 1 {
		t.Fatalf("timeout did not resolve the question")
	}
	if s.OptBitmap != 1 {
		t.Errorf("bitmap %b, timeout must set the bit", s.OptBitmap)
	}
	if s.NextDeadline != 10501+8000+PostResultWaitMillis {
		t.Errorf("rearmed deadline %d", s.NextDeadline)
	}
}

func TestSlotFinishesAfterAllQuestions(t *testing.T) {
	s := testSlot(0)
	now := int64(3000)
	for i := 0; i < RoundLength; i++ {
		s.applyClientOp(opt(uint32(i), protocol.OptCorrect), now, testRules)
		now += 10500
	}

	if !s.Finished() {
		t.Fatalf("slot not finished after %d answers", RoundLength)
	}

	// Further ops are no-ops.
	before := s.Score
	s.applyClientOp(opt(10, protocol.OptCorrect), now, testRules)
	if s.Score != before || s.NextIndex != RoundLength {
		t.Errorf("op after finish changed the slot: %+v", s)
	}
}

func TestBotAnswersBeforeDeadline(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	s := testSlot(0)
	s.Bot = &bot.Bot{Accuracy: 100, EarlyAnswerOffsetMillis: 2000}

	s.updateBot(8499, testRules, rng) // deadline 10500, fires at 8500
	if s.NextIndex != 0 {
		t.Fatalf("bot answered before its early-answer point")
	}

	s.updateBot(8500, testRules, rng)
	if s.NextIndex != 1 {
		t.Fatalf("bot did not answer at its early-answer point")
	}
	// A perfectly accurate bot scores floor(100 * 2000 / 8000) = 25.
	if s.Score != 25 {
		t.Errorf("bot score %d, want 25", s.Score)
	}
	if s.Bot.EarlyAnswerOffsetMillis < 1 || s.Bot.EarlyAnswerOffsetMillis > 4000 {
		t.Errorf("offset %d not resampled into [1, 4000]", s.Bot.EarlyAnswerOffsetMillis)
	}
}

func TestBotNeverDrivesHumanSlot(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	s := testSlot(0)

	s.updateBot(99999, testRules, rng)
	if s.NextIndex != 0 {
		t.Fatalf("updateBot advanced a human slot")
	}
}
