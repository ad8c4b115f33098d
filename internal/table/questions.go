package table

import (
	"encoding/csv"
	"fmt"
	"io"
	"math/rand"
	"os"
	"sort"
	"strconv"
)

// QuestionRecord is one question of the bank: the prompt sign and its four
// answer signs, attached to a stage (level_id) and a poem.
type QuestionRecord struct {
	LevelID uint32 `json:"level_id"`
	PoemID  uint32 `json:"poem_id"`
	QSign   uint32 `json:"q_sign"`
	ASign1  uint32 `json:"a_sign1"`
	ASign2  uint32 `json:"a_sign2"`
	ASign3  uint32 `json:"a_sign3"`
	ASign4  uint32 `json:"a_sign4"`
}

// QuestionBank indexes the question records by level_id and, within a level,
// by q_sign. Sampling first picks a q_sign bucket, then a record from that
// bucket, so repeated prompts within a stage stay equally likely regardless
// of how many variants each prompt has.
type QuestionBank struct {
	byLevel map[uint32]map[uint32][]QuestionRecord // level_id -> q_sign -> records
	signs   map[uint32][]uint32                    // level_id -> sorted q_signs (stable sampling order)
	total   uint32                                 // total record count, upper bound of the top band

	bands map[uint32][]uint32 // band key -> candidate level_ids
}

// Player level -> band key thresholds. Each band key selects a fixed range of
// level_ids the round script may draw from.
var bandRanges = []struct {
	key      uint32
	from, to uint32 // to == 0 means "up to the total record count"
}{
	{0, 0, 20},
	{11, 100, 300},
	{21, 200, 400},
	{31, 300, 500},
	{41, 400, 600},
	{51, 500, 700},
	{61, 600, 800},
	{71, 300, 0},
}

// LoadQuestionBank reads poem.csv from disk. Missing or malformed files are
// fatal at startup.
func LoadQuestionBank(path string) (*QuestionBank, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("table: open question bank %s: %w", path, err)
	}
	defer f.Close()

	b, err := ParseQuestionBank(f)
	if err != nil {
		return nil, fmt.Errorf("table: %s: %w", path, err)
	}
	return b, nil
}

// ParseQuestionBank reads question records from CSV with a header line
// (level_id,poem_id,q_sign,a_sign1,a_sign2,a_sign3,a_sign4) and builds the
// level and band indexes.
func ParseQuestionBank(r io.Reader) (*QuestionBank, error) {
	rdr := csv.NewReader(r)
	records, err := rdr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("question bank: %w", err)
	}
	if len(records) < 2 {
		return nil, fmt.Errorf("question bank: no data rows")
	}

	b := &QuestionBank{
		byLevel: make(map[uint32]map[uint32][]QuestionRecord),
		signs:   make(map[uint32][]uint32),
		bands:   make(map[uint32][]uint32),
	}

	for i, rec := range records[1:] {
		if len(rec) < 7 {
			return nil, fmt.Errorf("question bank: row %d: want 7 columns, got %d", i+2, len(rec))
		}
		var vals [7]uint32
		for j := 0; j < 7; j++ {
			v, err := strconv.ParseUint(rec[j], 10, 32)
			if err != nil {
				return nil, fmt.Errorf("question bank: row %d col %d: %w", i+2, j+1, err)
			}
			vals[j] = uint32(v)
		}
		q := QuestionRecord{
			LevelID: vals[0], PoemID: vals[1], QSign: vals[2],
			ASign1: vals[3], ASign2: vals[4], ASign3: vals[5], ASign4: vals[6],
		}
		bySign := b.byLevel[q.LevelID]
		if bySign == nil {
			bySign = make(map[uint32][]QuestionRecord)
			b.byLevel[q.LevelID] = bySign
		}
		if _, seen := bySign[q.QSign]; !seen {
			b.signs[q.LevelID] = append(b.signs[q.LevelID], q.QSign)
		}
		bySign[q.QSign] = append(bySign[q.QSign], q)
		b.total++
	}

	for _, lv := range b.signs {
		sort.Slice(lv, func(i, j int) bool { return lv[i] < lv[j] })
	}

	for _, br := range bandRanges {
		to := br.to
		if to == 0 {
			to = b.total
		}
		if to < br.from {
			// Bank smaller than the band's floor; the band stays empty.
			continue
		}
		ids := make([]uint32, 0, to-br.from+1)
		for id := br.from; id <= to; id++ {
			ids = append(ids, id)
		}
		b.bands[br.key] = ids
	}

	return b, nil
}

// bandKey maps a player level to the band key of level_ids the round script
// may draw from.
func bandKey(level uint32) uint32 {
	switch {
	case level <= 10:
		return 0
	case level <= 20:
		return 11
	case level <= 30:
		return 21
	case level <= 40:
		return 31
	case level <= 50:
		return 41
	case level <= 60:
		return 51
	case level <= 70:
		return 61
	default:
		return 71
	}
}

// Sample draws a round script of n questions for a player of the given
// level: the band's level-id set is shuffled (Fisher-Yates) and the first n
// ids that actually have records each contribute one question, drawn via a
// uniform q_sign bucket then a uniform record. Returns an error when the
// band cannot supply n questions.
func (b *QuestionBank) Sample(level uint32, n int, rng *rand.Rand) ([]QuestionRecord, error) {
	key := bandKey(level)
	band := b.bands[key]
	if len(band) == 0 {
		return nil, fmt.Errorf("question bank: empty band %d for level %d", key, level)
	}

	ids := make([]uint32, len(band))
	copy(ids, band)
	rng.Shuffle(len(ids), func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })

	script := make([]QuestionRecord, 0, n)
	for _, id := range ids {
		if len(script) == n {
			break
		}
		bySign, ok := b.byLevel[id]
		if !ok {
			// Band ranges are wider than the shipped bank; gaps are normal.
			continue
		}
		signs := b.signs[id]
		sign := signs[rng.Intn(len(signs))]
		bucket := bySign[sign]
		script = append(script, bucket[rng.Intn(len(bucket))])
	}

	if len(script) != n {
		return nil, fmt.Errorf("question bank: band %d for level %d has only %d of %d questions",
			key, level, len(script), n)
	}
	return script, nil
}

// Total returns the number of loaded question records.
func (b *QuestionBank) Total() uint32 {
	return b.total
}
