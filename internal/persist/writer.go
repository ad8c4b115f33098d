package persist

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis keys for the simple counters. The leaderboard key comes from the
// server config (match_data_key_name).
const (
	GameCountKey    = "PoemStarsGameNum"
	ClientCountKey  = "PoemStarsClientNum"
	writeTimeout    = 3 * time.Second
	defaultQueueLen = 1024
)

// ResultSubject is the NATS subject finished games are announced on.
const ResultSubject = "poemstars.game.result"

// Publisher is the subset of a NATS connection the writer needs. It is an
// interface so the writer tests run without a broker.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Archiver stores finished games durably. Implemented by Archive
// (PostgreSQL); nil disables archiving.
type Archiver interface {
	InsertGameResult(ctx context.Context, res GameResult) error
}

// Writer consumes persistence events on its own goroutine and applies them
// serially. Enqueue never blocks: when the buffer is full the event is
// dropped with a log line, because a slow store must not back-pressure the
// game loop.
type Writer struct {
	events         chan Event
	rdb            *redis.Client
	leaderboardKey string
	archive        Archiver  // optional
	pub            Publisher // optional
}

// Option configures optional sinks on a Writer.
type Option func(*Writer)

// WithArchive attaches a durable game-result store.
func WithArchive(a Archiver) Option {
	return func(w *Writer) { w.archive = a }
}

// WithPublisher attaches a NATS publisher for game-result announcements.
func WithPublisher(p Publisher) Option {
	return func(w *Writer) { w.pub = p }
}

// NewWriter creates a Writer backed by the given Redis client. Run must be
// called to start consuming.
func NewWriter(rdb *redis.Client, leaderboardKey string, opts ...Option) *Writer {
	w := &Writer{
		events:         make(chan Event, defaultQueueLen),
		rdb:            rdb,
		leaderboardKey: leaderboardKey,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Enqueue hands an event to the worker without blocking. It reports whether
// the event was accepted.
func (w *Writer) Enqueue(ev Event) bool {
	select {
	case w.events <- ev:
		return true
	default:
		log.Printf("persist: queue full, dropping %s event", ev.kind())
		return false
	}
}

// Run consumes events until ctx is cancelled, then drains whatever is
// already buffered so game results from the final ticks still land.
func (w *Writer) Run(ctx context.Context) {
	log.Printf("persist: worker started (leaderboard key %q)", w.leaderboardKey)
	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case ev := <-w.events:
					w.apply(ev)
				default:
					log.Printf("persist: worker stopped")
					return
				}
			}
		case ev := <-w.events:
			w.apply(ev)
		}
	}
}

// apply performs one write. Failures are logged and swallowed.
func (w *Writer) apply(ev Event) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	switch e := ev.(type) {
	case PlayerProgress:
		err := w.rdb.ZAdd(ctx, w.leaderboardKey, redis.Z{
			Score:  float64(e.Level),
			Member: e.PlayerKey,
		}).Err()
		if err != nil {
			log.Printf("persist: zadd %s %s: %v", w.leaderboardKey, e.PlayerKey, err)
		}

	case GameCount:
		if err := w.rdb.Set(ctx, GameCountKey, e.Count, 0).Err(); err != nil {
			log.Printf("persist: set %s: %v", GameCountKey, err)
		}

	case ServerStatus:
		if err := w.rdb.Set(ctx, ClientCountKey, e.Connections, 0).Err(); err != nil {
			log.Printf("persist: set %s: %v", ClientCountKey, err)
		}

	case GameResult:
		if w.archive != nil {
			if err := w.archive.InsertGameResult(ctx, e); err != nil {
				log.Printf("persist: archive game %s: %v", e.GameID, err)
			}
		}
		if w.pub != nil {
			data, err := json.Marshal(e)
			if err != nil {
				log.Printf("persist: marshal game result %s: %v", e.GameID, err)
				return
			}
			if err := w.pub.Publish(ResultSubject, data); err != nil {
				log.Printf("persist: publish game result %s: %v", e.GameID, err)
			}
		}

	default:
		log.Printf("persist: unknown event type %T", ev)
	}
}
