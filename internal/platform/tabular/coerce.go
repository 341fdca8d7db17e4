package tabular

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// Kind is the expected type of a cell, resolved once per column from the
// parameter dictionary.
type Kind int

const (
	Numeric Kind = iota
	Date
	Text
)

// Status tags the outcome of coercing a raw cell.
type Status int

const (
	// OK means the cell carried a usable value of the requested kind.
	OK Status = iota
	// Missing means the cell was empty or an NA marker.
	Missing
	// Invalid means the cell carried a value that could not be read as
	// the requested kind.
	Invalid
)

// Cell is the tagged result of coercing one raw cell.
type Cell struct {
	Status Status
	Number float64
	Date   time.Time
	Text   string
	Raw    string
}

// Layouts accepted for date cells. Instrument exports use compact
// YYYYMMDD stamps; hand-edited sheets tend to use ISO or D/M/Y.
var dateLayouts = []string{
	"2006-01-02",
	"20060102",
	"02/01/2006",
	time.RFC3339,
}

var naMarkers = map[string]struct{}{
	"":    {},
	"na":  {},
	"n/a": {},
	"nan": {},
}

func isMissing(raw string) bool {
	_, ok := naMarkers[strings.ToLower(strings.TrimSpace(raw))]
	return ok
}

// Coerce interprets one raw cell as the given kind. It is the single
// typed-parse path for every value the upload engine writes: numeric,
// date and text columns all funnel through here so the
// valid/missing/invalid decision is made exactly once.
func Coerce(raw string, kind Kind) Cell {
	cell := Cell{Raw: raw}
	trimmed := strings.TrimSpace(raw)

	if isMissing(trimmed) {
		cell.Status = Missing
		return cell
	}

	switch kind {
	case Numeric:
		n, err := strconv.ParseFloat(trimmed, 64)
		if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
			cell.Status = Invalid
			return cell
		}
		cell.Number = n
	case Date:
		var parsed bool
		for _, layout := range dateLayouts {
			if d, err := time.Parse(layout, trimmed); err == nil {
				cell.Date = d
				parsed = true
				break
			}
		}
		if !parsed {
			cell.Status = Invalid
			return cell
		}
	case Text:
		cell.Text = trimmed
	}

	cell.Status = OK
	return cell
}
