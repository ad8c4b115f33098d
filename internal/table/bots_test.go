package table

import (
	"math/rand"
	"strings"
	"testing"
)

const botCSV = `id,name
r1,疏影横斜
r2,暗香浮动
r3,云想衣裳
r4,花想容颜
r5,天生我材
`

func TestParseBotPool(t *testing.T) {
	pool, err := ParseBotPool(strings.NewReader(botCSV), rand.New(rand.NewSource(1)))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if pool.Size() != 5 {
		t.Fatalf("expected 5 identities, got %d", pool.Size())
	}
}

func TestTakeCyclesShards(t *testing.T) {
	pool, err := ParseBotPool(strings.NewReader(botCSV), rand.New(rand.NewSource(1)))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	// Identities land in shards round-robin (r1/r5 -> 0, r2 -> 1, ...), and
	// Take cycles shards, so consecutive takes never drain one shard first.
	first := pool.Take()
	second := pool.Take()
	if first.ID == second.ID {
		t.Fatalf("consecutive takes returned the same identity %s", first.ID)
	}
	if first.ID != "r1" || second.ID != "r2" {
		t.Errorf("expected r1 then r2, got %s then %s", first.ID, second.ID)
	}
	if pool.Size() != 3 {
		t.Errorf("expected 3 remaining, got %d", pool.Size())
	}
}

func TestTakeExhaustedPoolGeneratesIdentity(t *testing.T) {
	pool, err := ParseBotPool(strings.NewReader("id,name\n"), rand.New(rand.NewSource(1)))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	id := pool.Take()
	if id.ID == "" {
		t.Fatal("generated identity has empty id")
	}
	if !strings.HasPrefix(id.Name, "Player") {
		t.Errorf("generated name %q lacks Player prefix", id.Name)
	}
}

func TestReturnGrowsPool(t *testing.T) {
	pool, err := ParseBotPool(strings.NewReader(botCSV), rand.New(rand.NewSource(1)))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	taken := pool.Take()
	if pool.Size() != 4 {
		t.Fatalf("expected 4 after take, got %d", pool.Size())
	}
	pool.Return(taken)
	if pool.Size() != 5 {
		t.Fatalf("expected 5 after return, got %d", pool.Size())
	}
}

func TestTakeReturnChurn(t *testing.T) {
	pool, err := ParseBotPool(strings.NewReader(botCSV), rand.New(rand.NewSource(1)))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	for i := 0; i < 100; i++ {
		id := pool.Take()
		pool.Return(id)
	}
	if pool.Size() != 5 {
		t.Fatalf("pool leaked identities: size %d after churn", pool.Size())
	}
}
