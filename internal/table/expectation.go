// Package table loads the read-only CSV tables the game server needs at
// startup: the Elo expectation table (pet.csv), the question bank (poem.csv),
// and the bot identity pool (robot_info.csv). Tables are loaded once and
// handed to the game loop as immutable singletons; there is no reload.
package table

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
)

// ExpectationRow is one Elo-gap band: for an absolute Elo difference in
// [DMin, DMax], EA and EB are the expected score fractions of players a and
// b, and Group is the coarse bucket used by the matchmaker's time-escalating
// admission.
type ExpectationRow struct {
	DMin  uint32
	DMax  uint32
	EA    float64
	EB    float64
	Group uint32
}

// ExpectationTable maps an absolute Elo gap to its ExpectationRow. Rows
// partition the covered range into disjoint bands; gaps beyond the last band
// resolve to the sentinel (1.0, 0.0, group 9).
type ExpectationTable struct {
	rows []ExpectationRow
}

// SentinelGroup is the group returned for Elo gaps no row covers.
const SentinelGroup uint32 = 9

// LoadExpectationTable reads pet.csv from disk. A missing or malformed file
// is fatal at startup, so errors carry the path.
func LoadExpectationTable(path string) (*ExpectationTable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("table: open expectation table %s: %w", path, err)
	}
	defer f.Close()

	t, err := ParseExpectationTable(f)
	if err != nil {
		return nil, fmt.Errorf("table: %s: %w", path, err)
	}
	return t, nil
}

// ParseExpectationTable reads expectation rows from CSV with a header line
// (dmin,dmax,ea,eb,group).
func ParseExpectationTable(r io.Reader) (*ExpectationTable, error) {
	rdr := csv.NewReader(r)
	records, err := rdr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("expectation table: %w", err)
	}
	if len(records) < 2 {
		return nil, fmt.Errorf("expectation table: no data rows")
	}

	rows := make([]ExpectationRow, 0, len(records)-1)
	for i, rec := range records[1:] {
		if len(rec) < 5 {
			return nil, fmt.Errorf("expectation table: row %d: want 5 columns, got %d", i+2, len(rec))
		}
		dmin, err1 := strconv.ParseUint(rec[0], 10, 32)
		dmax, err2 := strconv.ParseUint(rec[1], 10, 32)
		ea, err3 := strconv.ParseFloat(rec[2], 64)
		eb, err4 := strconv.ParseFloat(rec[3], 64)
		group, err5 := strconv.ParseUint(rec[4], 10, 32)
		for _, err := range []error{err1, err2, err3, err4, err5} {
			if err != nil {
				return nil, fmt.Errorf("expectation table: row %d: %w", i+2, err)
			}
		}
		rows = append(rows, ExpectationRow{
			DMin:  uint32(dmin),
			DMax:  uint32(dmax),
			EA:    ea,
			EB:    eb,
			Group: uint32(group),
		})
	}
	return &ExpectationTable{rows: rows}, nil
}

// Lookup returns the expectation fractions and gap group for the absolute
// difference of the two Elo scores. EA always refers to the first argument's
// side. A gap outside every band yields the sentinel (1.0, 0.0, group 9).
func (t *ExpectationTable) Lookup(eloA, eloB uint32) (ea, eb float64, group uint32) {
	gap := eloA - eloB
	if eloB > eloA {
		gap = eloB - eloA
	}
	for _, row := range t.rows {
		if gap >= row.DMin && gap <= row.DMax {
			return row.EA, row.EB, row.Group
		}
	}
	return 1.0, 0.0, SentinelGroup
}

// Len returns the number of loaded bands.
func (t *ExpectationTable) Len() int {
	return len(t.rows)
}
