package persist

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

const testLeaderboardKey = "test_PoemStarsMatchData"

// newTestRedis connects to a local Redis instance and cleans the test keys.
// Tests that call this helper require a running Redis on localhost:6379.
func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}
	client.Del(ctx, testLeaderboardKey, GameCountKey, ClientCountKey)
	t.Cleanup(func() {
		client.Del(ctx, testLeaderboardKey, GameCountKey, ClientCountKey)
		client.Close()
	})
	return client
}

// fakePublisher records published messages.
type fakePublisher struct {
	mu       sync.Mutex
	subjects []string
	payloads [][]byte
}

func (p *fakePublisher) Publish(subject string, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subjects = append(p.subjects, subject)
	p.payloads = append(p.payloads, data)
	return nil
}

// fakeArchiver records inserted game results.
type fakeArchiver struct {
	mu      sync.Mutex
	results []GameResult
}

func (a *fakeArchiver) InsertGameResult(_ context.Context, res GameResult) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.results = append(a.results, res)
	return nil
}

func testGameResult() GameResult {
	return GameResult{
		GameID:    "test_p1_p2_100",
		Area:      "test",
		StartedAt: 100,
		EndedAt:   110100,
		Players: [2]PlayerResult{
			{PlayerID: "p1", Name: "李白", Score: 412, OldElo: 1500, NewElo: 1516, NewLevel: 6},
			{PlayerID: "p2", Name: "杜甫", IsBot: true, Score: 380, OldElo: 1500, NewElo: 1484, NewLevel: 5},
		},
	}
}

func TestWriterAppliesRedisEvents(t *testing.T) {
	rdb := newTestRedis(t)
	w := NewWriter(rdb, testLeaderboardKey)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	w.Enqueue(PlayerProgress{PlayerKey: "p1_李白", Level: 6})
	w.Enqueue(PlayerProgress{PlayerKey: "p2_杜甫", Level: 5})
	w.Enqueue(GameCount{Count: 7})
	w.Enqueue(ServerStatus{Connections: 42})

	// Cancel and wait; Run drains before exiting.
	time.Sleep(100 * time.Millisecond)
	cancel()
	<-done

	bg := context.Background()
	score, err := rdb.ZScore(bg, testLeaderboardKey, "p1_李白").Result()
	if err != nil {
		t.Fatalf("zscore p1: %v", err)
	}
	if score != 6 {
		t.Errorf("p1 leaderboard score %v, want 6", score)
	}
	if v, _ := rdb.Get(bg, GameCountKey).Result(); v != "7" {
		t.Errorf("game count %q, want 7", v)
	}
	if v, _ := rdb.Get(bg, ClientCountKey).Result(); v != "42" {
		t.Errorf("client count %q, want 42", v)
	}
}

func TestWriterProgressOverwritesLevel(t *testing.T) {
	rdb := newTestRedis(t)
	w := NewWriter(rdb, testLeaderboardKey)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	w.Enqueue(PlayerProgress{PlayerKey: "p1_李白", Level: 5})
	w.Enqueue(PlayerProgress{PlayerKey: "p1_李白", Level: 6})

	time.Sleep(100 * time.Millisecond)
	cancel()
	<-done

	score, err := rdb.ZScore(context.Background(), testLeaderboardKey, "p1_李白").Result()
	if err != nil {
		t.Fatalf("zscore: %v", err)
	}
	if score != 6 {
		t.Errorf("score %v after two upserts, want the later level 6", score)
	}
}

func TestWriterPublishesAndArchivesGameResults(t *testing.T) {
	rdb := newTestRedis(t)
	pub := &fakePublisher{}
	arch := &fakeArchiver{}
	w := NewWriter(rdb, testLeaderboardKey, WithPublisher(pub), WithArchive(arch))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	w.Enqueue(testGameResult())

	time.Sleep(100 * time.Millisecond)
	cancel()
	<-done

	arch.mu.Lock()
	if len(arch.results) != 1 || arch.results[0].GameID != "test_p1_p2_100" {
		t.Errorf("archive got %+v, want one result for test_p1_p2_100", arch.results)
	}
	arch.mu.Unlock()

	pub.mu.Lock()
	defer pub.mu.Unlock()
	if len(pub.subjects) != 1 || pub.subjects[0] != ResultSubject {
		t.Fatalf("published to %v, want [%s]", pub.subjects, ResultSubject)
	}
	var decoded GameResult
	if err := json.Unmarshal(pub.payloads[0], &decoded); err != nil {
		t.Fatalf("published payload not JSON: %v", err)
	}
	if decoded.Players[1].NewElo != 1484 || !decoded.Players[1].IsBot {
		t.Errorf("published result mangled: %+v", decoded)
	}
}

func TestEnqueueDropsWhenFull(t *testing.T) {
	// No Run goroutine: the buffer fills and Enqueue must refuse without
	// blocking.
	w := NewWriter(nil, testLeaderboardKey)

	accepted := 0
	for i := 0; i < defaultQueueLen+10; i++ {
		if w.Enqueue(GameCount{Count: uint64(i)}) {
			accepted++
		}
	}
	if accepted != defaultQueueLen {
		t.Errorf("accepted %d events, want exactly %d", accepted, defaultQueueLen)
	}
}
