package game

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"strings"
	"testing"

	"github.com/poemstars/gameserver/internal/bot"
	"github.com/poemstars/gameserver/internal/matching"
	"github.com/poemstars/gameserver/internal/persist"
	"github.com/poemstars/gameserver/internal/protocol"
	"github.com/poemstars/gameserver/internal/table"
)

// eventSink collects persistence events in memory.
type eventSink struct {
	events []persist.Event
}

func (s *eventSink) Enqueue(ev persist.Event) bool {
	s.events = append(s.events, ev)
	return true
}

func (s *eventSink) gameResults() []persist.GameResult {
	var out []persist.GameResult
	for _, ev := range s.events {
		if r, ok := ev.(persist.GameResult); ok {
			out = append(out, r)
		}
	}
	return out
}

func testBankCSV() string {
	var sb strings.Builder
	sb.WriteString("level_id,poem_id,q_sign,a_sign1,a_sign2,a_sign3,a_sign4\n")
	for lid := 0; lid <= 20; lid++ {
		fmt.Fprintf(&sb, "%d,%d,%d,1,2,3,4\n", lid, 100+lid, 10+lid)
	}
	return sb.String()
}

const testExpectationCSV = `dmin,dmax,ea,eb,group
0,50,0.50,0.50,0
51,100,0.64,0.36,1
101,200,0.76,0.24,2
`

func newTestEngine(t *testing.T, seed int64) (*Engine, *eventSink, *table.BotPool) {
	t.Helper()

	bank, err := table.ParseQuestionBank(strings.NewReader(testBankCSV()))
	if err != nil {
		t.Fatalf("parse question bank: %v", err)
	}
	expect, err := table.ParseExpectationTable(strings.NewReader(testExpectationCSV))
	if err != nil {
		t.Fatalf("parse expectation table: %v", err)
	}
	rng := rand.New(rand.NewSource(seed))
	pool, err := table.ParseBotPool(strings.NewReader("id,name\nr1,春江潮水\nr2,月落乌啼\n"), rng)
	if err != nil {
		t.Fatalf("parse bot pool: %v", err)
	}

	sink := &eventSink{}
	e := NewEngine(testRules, "test", bank, expect, bot.NewFactory(pool, rng), rng, sink)
	return e, sink, pool
}

func pairResult(eloA, eloB uint32) *matching.Result {
	return &matching.Result{
		A: &matching.Request{
			EndpointID: "ep-a",
			Player:     matching.PlayerIdentity{ID: "p1", Name: "李白", Level: 5, Elo: eloA},
		},
		B: &matching.Request{
			EndpointID: "ep-b",
			Player:     matching.PlayerIdentity{ID: "p2", Name: "杜甫", Level: 5, Elo: eloB},
		},
	}
}

func soloResult(elo uint32) *matching.Result {
	return &matching.Result{
		A: &matching.Request{
			EndpointID: "ep-a",
			Player:     matching.PlayerIdentity{ID: "p1", Name: "李白", Level: 5, Elo: elo},
		},
	}
}

func decodeSync(t *testing.T, sig Signal) (uint64, interface{}) {
	t.Helper()
	pair, ok := sig.(SyncPair)
	if !ok {
		t.Fatalf("expected SyncPair, got %T", sig)
	}
	protoID, rec, err := protocol.DecodeServer([]byte(pair.Payload))
	if err != nil {
		t.Fatalf("decode signal payload: %v", err)
	}
	return protoID, rec
}

func TestCreateGamePairEmitsStartSignal(t *testing.T) {
	e, sink, _ := newTestEngine(t, 1)

	sig, err := e.CreateGame(pairResult(1500, 1500), 0)
	if err != nil {
		t.Fatalf("CreateGame failed: %v", err)
	}

	protoID, rec := decodeSync(t, sig)
	if protoID != protocol.IDGCStartGame {
		t.Fatalf("expected GameStart proto %d, got %d", protocol.IDGCStartGame, protoID)
	}
	start := rec.(protocol.GCStartGame)
	if start.GameID != "p1_p2_0" {
		t.Errorf("game id %q, want p1_p2_0", start.GameID)
	}
	if start.Player1ID != "p1" || start.Player2ID != "p2" {
		t.Errorf("players %s/%s, want p1/p2", start.Player1ID, start.Player2ID)
	}

	var script []table.QuestionRecord
	if err := json.Unmarshal([]byte(start.PoemDataStr), &script); err != nil {
		t.Fatalf("poem_data_str is not a question list: %v", err)
	}
	if len(script) != RoundLength {
		t.Errorf("script has %d questions, want %d", len(script), RoundLength)
	}

	if e.ActiveGames() != 1 {
		t.Errorf("active games %d, want 1", e.ActiveGames())
	}
	if len(sink.events) != 1 {
		t.Fatalf("expected one GameCount event, got %d events", len(sink.events))
	}
	if gc, ok := sink.events[0].(persist.GameCount); !ok || gc.Count != 1 {
		t.Errorf("expected GameCount{1}, got %+v", sink.events[0])
	}
}

func TestCreateGameSoloSpawnsBot(t *testing.T) {
	e, _, pool := newTestEngine(t, 2)

	sig, err := e.CreateGame(soloResult(1500), 0)
	if err != nil {
		t.Fatalf("CreateGame failed: %v", err)
	}

	pair := sig.(SyncPair)
	if pair.EndpointA != "ep-a" {
		t.Errorf("endpoint A %q, want ep-a", pair.EndpointA)
	}
	if pair.EndpointB != "" {
		t.Errorf("bot endpoint %q, want empty", pair.EndpointB)
	}

	_, rec := decodeSync(t, sig)
	start := rec.(protocol.GCStartGame)
	if start.Player2ID == "" || start.Player2Name == "" {
		t.Errorf("bot identity missing from start record: %+v", start)
	}
	if pool.Size() != 1 {
		t.Errorf("pool size %d after spawn, want 1", pool.Size())
	}
}

func TestCreateGameFailsOnSparseBank(t *testing.T) {
	bank, err := table.ParseQuestionBank(strings.NewReader(
		"level_id,poem_id,q_sign,a_sign1,a_sign2,a_sign3,a_sign4\n0,100,1,1,2,3,4\n"))
	if err != nil {
		t.Fatalf("parse question bank: %v", err)
	}
	expect, err := table.ParseExpectationTable(strings.NewReader(testExpectationCSV))
	if err != nil {
		t.Fatalf("parse expectation table: %v", err)
	}
	rng := rand.New(rand.NewSource(3))
	pool, _ := table.ParseBotPool(strings.NewReader("id,name\n"), rng)
	e := NewEngine(testRules, "test", bank, expect, bot.NewFactory(pool, rng), rng, &eventSink{})

	if _, err := e.CreateGame(pairResult(1500, 1500), 0); err == nil {
		t.Fatal("expected sampling error for a one-question bank")
	}
	if e.ActiveGames() != 0 {
		t.Errorf("failed creation left %d games behind", e.ActiveGames())
	}
}

func TestOnOptUnknownGameIgnored(t *testing.T) {
	e, _, _ := newTestEngine(t, 4)
	// Must not panic or create state.
	e.OnOpt(protocol.CGMatchGameOpt{ID: "p1", GameID: "nope", OptIndex: 0}, 100)
	if e.ActiveGames() != 0 {
		t.Errorf("stray op created a game")
	}
}

func TestFullGameTieByTimeout(t *testing.T) {
	e, sink, _ := newTestEngine(t, 5)
	var released []string
	e.OnGameEnd = func(ids ...string) { released = append(released, ids...) }

	if _, err := e.CreateGame(pairResult(1500, 1500), 0); err != nil {
		t.Fatalf("CreateGame failed: %v", err)
	}

	// Let every question time out for both players. Each Update resolves at
	// most one question per slot, so step past one deadline at a time.
	now := int64(0)
	for i := 0; i < 30 && e.ActiveGames() > 0; i++ {
		now += testRules.QuestionMillis + PostResultWaitMillis + 1
		for _, sig := range e.Update(now) {
			_ = sig
		}
	}
	if e.ActiveGames() != 0 {
		t.Fatal("game did not finish")
	}

	results := sink.gameResults()
	if len(results) != 1 {
		t.Fatalf("expected 1 GameResult, got %d", len(results))
	}
	res := results[0]
	for i, p := range res.Players {
		if p.Score != 0 {
			t.Errorf("player %d score %d, want 0 on all timeouts", i, p.Score)
		}
		if p.OptBitmap != 1<<RoundLength-1 {
			t.Errorf("player %d bitmap %b, want all %d bits set", i, p.OptBitmap, RoundLength)
		}
		// A tie between equal ratings moves nothing.
		if p.NewElo != 1500 {
			t.Errorf("player %d new elo %d, want 1500 after a tie", i, p.NewElo)
		}
		if p.NewLevel != 5 {
			t.Errorf("player %d new level %d, ties must not level up", i, p.NewLevel)
		}
	}

	if len(released) != 2 {
		t.Fatalf("OnGameEnd released %v, want both players", released)
	}
}

func TestFullGameWinnerGainsEloAndLevel(t *testing.T) {
	e, sink, _ := newTestEngine(t, 6)
	e.OnGameEnd = func(ids ...string) {}

	if _, err := e.CreateGame(pairResult(1500, 1500), 0); err != nil {
		t.Fatalf("CreateGame failed: %v", err)
	}

	// p1 answers every question correctly inside the scoring window; p2
	// stays silent and times out.
	answerAt := int64(3000)
	for i := 0; i < RoundLength; i++ {
		e.OnOpt(protocol.CGMatchGameOpt{
			ID: "p1", GameID: "p1_p2_0", OptIndex: uint32(i), OptResult: protocol.OptCorrect,
		}, answerAt)
		e.Update(answerAt)
		answerAt += testRules.QuestionMillis + PostResultWaitMillis
	}
	for i := 0; i < 30 && e.ActiveGames() > 0; i++ {
		answerAt += testRules.QuestionMillis + PostResultWaitMillis + 1
		e.Update(answerAt)
	}
	if e.ActiveGames() != 0 {
		t.Fatal("game did not finish")
	}

	results := sink.gameResults()
	if len(results) != 1 {
		t.Fatalf("expected 1 GameResult, got %d", len(results))
	}
	p1, p2 := results[0].Players[0], results[0].Players[1]

	if p1.Score == 0 {
		t.Fatal("winner scored nothing")
	}
	if p2.Score != 0 {
		t.Fatalf("silent player scored %d", p2.Score)
	}
	// Equal ratings, expectation 0.5 each: winner +16, loser -16.
	if p1.NewElo != 1516 {
		t.Errorf("winner elo %d, want 1516", p1.NewElo)
	}
	if p2.NewElo != 1484 {
		t.Errorf("loser elo %d, want 1484", p2.NewElo)
	}
	if p1.NewLevel != 6 {
		t.Errorf("winner level %d, want 6", p1.NewLevel)
	}
	if p2.NewLevel != 5 {
		t.Errorf("loser level %d, want 5", p2.NewLevel)
	}
	if p1.OptBitmap != 0 {
		t.Errorf("winner bitmap %b, want 0", p1.OptBitmap)
	}
}

func TestUpdateEmitsProgressSignals(t *testing.T) {
	e, _, _ := newTestEngine(t, 7)
	if _, err := e.CreateGame(pairResult(1500, 1500), 0); err != nil {
		t.Fatalf("CreateGame failed: %v", err)
	}

	// p1 answers question 0; the next Update must carry a GameUpdate.
	e.OnOpt(protocol.CGMatchGameOpt{
		ID: "p1", GameID: "p1_p2_0", OptIndex: 0, OptResult: protocol.OptCorrect,
	}, 3000)

	signals := e.Update(3033)
	if len(signals) != 1 {
		t.Fatalf("expected 1 signal, got %d", len(signals))
	}
	protoID, rec := decodeSync(t, signals[0])
	if protoID != protocol.IDGCUpdateGame {
		t.Fatalf("expected GameUpdate proto %d, got %d", protocol.IDGCUpdateGame, protoID)
	}
	upd := rec.(protocol.GCUpdateGame)
	if upd.Player1NextOptIndex != 1 || upd.Player2NextOptIndex != 0 {
		t.Errorf("indices %d/%d, want 1/0", upd.Player1NextOptIndex, upd.Player2NextOptIndex)
	}

	// Nothing changed since: no more signals.
	if signals := e.Update(3066); len(signals) != 0 {
		t.Errorf("idle tick emitted %d signals", len(signals))
	}
}

func TestSoloGameRunsToCompletionAndReturnsIdentity(t *testing.T) {
	e, sink, pool := newTestEngine(t, 8)
	var released []string
	e.OnGameEnd = func(ids ...string) { released = append(released, ids...) }

	if _, err := e.CreateGame(soloResult(1500), 0); err != nil {
		t.Fatalf("CreateGame failed: %v", err)
	}
	if pool.Size() != 1 {
		t.Fatalf("pool size %d during game, want 1", pool.Size())
	}

	now := int64(0)
	for i := 0; i < 400 && e.ActiveGames() > 0; i++ {
		now += 1000
		e.Update(now)
	}
	if e.ActiveGames() != 0 {
		t.Fatal("solo game did not finish")
	}

	results := sink.gameResults()
	if len(results) != 1 {
		t.Fatalf("expected 1 GameResult, got %d", len(results))
	}
	botSide := results[0].Players[1]
	if !botSide.IsBot {
		t.Fatal("player 2 not flagged as bot")
	}
	if pool.Size() != 2 {
		t.Errorf("pool size %d after game, want 2 (identity returned)", pool.Size())
	}
	if len(released) != 2 {
		t.Errorf("OnGameEnd released %v, want both ids", released)
	}
}
