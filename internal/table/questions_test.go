package table

import (
	"fmt"
	"math/rand"
	"strings"
	"testing"
)

// buildBankCSV produces a bank with one record per level_id in [0, 20] plus
// extra q_sign variants on level 0.
func buildBankCSV() string {
	var sb strings.Builder
	sb.WriteString("level_id,poem_id,q_sign,a_sign1,a_sign2,a_sign3,a_sign4\n")
	for lid := 0; lid <= 20; lid++ {
		fmt.Fprintf(&sb, "%d,%d,%d,1,2,3,4\n", lid, 100+lid, 10+lid)
	}
	// Extra variants of the same prompt on level 0.
	sb.WriteString("0,200,10,5,6,7,8\n")
	sb.WriteString("0,201,99,5,6,7,8\n")
	return sb.String()
}

func TestParseQuestionBank(t *testing.T) {
	bank, err := ParseQuestionBank(strings.NewReader(buildBankCSV()))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if bank.Total() != 23 {
		t.Fatalf("expected 23 records, got %d", bank.Total())
	}
}

func TestBandKeyThresholds(t *testing.T) {
	tests := []struct {
		level uint32
		key   uint32
	}{
		{0, 0}, {10, 0}, {11, 11}, {20, 11}, {21, 21},
		{40, 31}, {55, 51}, {70, 61}, {71, 71}, {500, 71},
	}
	for _, tc := range tests {
		if got := bandKey(tc.level); got != tc.key {
			t.Errorf("bandKey(%d) = %d, want %d", tc.level, got, tc.key)
		}
	}
}

func TestSampleReturnsNDistinctLevels(t *testing.T) {
	bank, err := ParseQuestionBank(strings.NewReader(buildBankCSV()))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	rng := rand.New(rand.NewSource(1))
	script, err := bank.Sample(5, 10, rng)
	if err != nil {
		t.Fatalf("Sample failed: %v", err)
	}
	if len(script) != 10 {
		t.Fatalf("expected 10 questions, got %d", len(script))
	}

	seen := make(map[uint32]bool)
	for _, q := range script {
		if q.LevelID > 20 {
			t.Errorf("level_id %d outside band for level 5", q.LevelID)
		}
		if seen[q.LevelID] {
			t.Errorf("level_id %d drawn twice in one script", q.LevelID)
		}
		seen[q.LevelID] = true
	}
}

func TestSampleIsSeedDeterministic(t *testing.T) {
	bank, err := ParseQuestionBank(strings.NewReader(buildBankCSV()))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	a, err := bank.Sample(5, 10, rand.New(rand.NewSource(42)))
	if err != nil {
		t.Fatalf("Sample failed: %v", err)
	}
	b, err := bank.Sample(5, 10, rand.New(rand.NewSource(42)))
	if err != nil {
		t.Fatalf("Sample failed: %v", err)
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("same seed produced different scripts at index %d: %+v vs %+v", i, a[i], b[i])
		}
	}
}

func TestSampleFailsWhenBandTooSparse(t *testing.T) {
	// Only 3 populated level_ids in band 0.
	csv := "level_id,poem_id,q_sign,a_sign1,a_sign2,a_sign3,a_sign4\n" +
		"0,100,1,1,2,3,4\n1,101,2,1,2,3,4\n2,102,3,1,2,3,4\n"
	bank, err := ParseQuestionBank(strings.NewReader(csv))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	if _, err := bank.Sample(5, 10, rand.New(rand.NewSource(1))); err == nil {
		t.Fatal("expected error when the band cannot supply 10 questions")
	}
}

func TestSampleSkipsUnpopulatedLevelIDs(t *testing.T) {
	// Band 11 covers level_ids 100..300 but only 10 of them have records.
	var sb strings.Builder
	sb.WriteString("level_id,poem_id,q_sign,a_sign1,a_sign2,a_sign3,a_sign4\n")
	for lid := 100; lid < 300; lid += 20 {
		fmt.Fprintf(&sb, "%d,%d,%d,1,2,3,4\n", lid, lid, lid)
	}
	bank, err := ParseQuestionBank(strings.NewReader(sb.String()))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	script, err := bank.Sample(15, 10, rand.New(rand.NewSource(3)))
	if err != nil {
		t.Fatalf("Sample failed: %v", err)
	}
	if len(script) != 10 {
		t.Fatalf("expected 10 questions, got %d", len(script))
	}
}
