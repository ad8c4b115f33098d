package table

import (
	"encoding/csv"
	"fmt"
	"io"
	"math/rand"
	"os"

	"github.com/google/uuid"
)

// BotIdentity is one pre-named bot from robot_info.csv. Identities are a
// finite reusable resource: Take removes one from the pool and Return puts it
// back when the game that used it is destroyed.
type BotIdentity struct {
	ID   string
	Name string
}

// botShards spreads identities across a fixed number of deques so that
// consecutive games do not reuse the same names back to back.
const botShards = 4

// BotPool issues bot identities round-robin across its shards. It is owned
// by the game loop and therefore needs no locking. When every shard is
// empty, Take falls back to a generated UUID identity; generated identities
// flow back through Return like pooled ones and grow the pool.
type BotPool struct {
	shards    [botShards][]BotIdentity
	takeIdx   int
	returnIdx int
	rng       *rand.Rand
}

// LoadBotPool reads robot_info.csv from disk. Missing or malformed files are
// fatal at startup.
func LoadBotPool(path string, rng *rand.Rand) (*BotPool, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("table: open bot pool %s: %w", path, err)
	}
	defer f.Close()

	p, err := ParseBotPool(f, rng)
	if err != nil {
		return nil, fmt.Errorf("table: %s: %w", path, err)
	}
	return p, nil
}

// ParseBotPool reads bot identities from CSV with a header line (id,name).
func ParseBotPool(r io.Reader, rng *rand.Rand) (*BotPool, error) {
	rdr := csv.NewReader(r)
	records, err := rdr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("bot pool: %w", err)
	}
	if len(records) < 1 {
		return nil, fmt.Errorf("bot pool: missing header")
	}

	p := &BotPool{rng: rng}
	for i, rec := range records[1:] {
		if len(rec) < 2 {
			return nil, fmt.Errorf("bot pool: row %d: want 2 columns, got %d", i+2, len(rec))
		}
		shard := i % botShards
		p.shards[shard] = append(p.shards[shard], BotIdentity{ID: rec[0], Name: rec[1]})
	}
	return p, nil
}

// Take removes and returns the next identity, cycling shards. An exhausted
// pool yields a generated UUID identity with a synthetic display name.
func (p *BotPool) Take() BotIdentity {
	for i := 0; i < botShards; i++ {
		shard := (p.takeIdx + i) % botShards
		if len(p.shards[shard]) > 0 {
			id := p.shards[shard][0]
			p.shards[shard] = p.shards[shard][1:]
			p.takeIdx = shard + 1
			return id
		}
	}
	p.takeIdx++
	return BotIdentity{
		ID:   uuid.NewString(),
		Name: fmt.Sprintf("Player%d", 100000+p.rng.Intn(899990)),
	}
}

// Return puts an identity back, cycling shards in the same round-robin
// discipline as Take.
func (p *BotPool) Return(id BotIdentity) {
	shard := p.returnIdx % botShards
	p.shards[shard] = append([]BotIdentity{id}, p.shards[shard]...)
	p.returnIdx++
}

// Size returns the number of identities currently pooled.
func (p *BotPool) Size() int {
	n := 0
	for _, s := range p.shards {
		n += len(s)
	}
	return n
}
