package tabular

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"
)

// Table is an immutable, header-indexed view of one parsed CSV file.
// All cells are kept as raw strings; typed interpretation happens through
// Coerce at the point of use.
type Table struct {
	columns []string
	index   map[string]int
	rows    [][]string
}

// Read parses CSV content into a Table. The first record is the header.
// Structural problems (empty input, ragged records, unreadable stream) are
// fatal: ingestion must not proceed on a file we cannot even address by
// column.
func Read(r io.Reader) (*Table, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("read header: file is empty")
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	index := make(map[string]int, len(header))
	columns := make([]string, len(header))
	for i, name := range header {
		name = strings.TrimSpace(name)
		columns[i] = name
		index[name] = i
	}

	var rows [][]string
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read record %d: %w", len(rows)+2, err)
		}
		rows = append(rows, record)
	}

	return &Table{columns: columns, index: index, rows: rows}, nil
}

// Columns returns the header names in file order.
func (t *Table) Columns() []string {
	out := make([]string, len(t.columns))
	copy(out, t.columns)
	return out
}

// HasColumn reports whether the header contains name.
func (t *Table) HasColumn(name string) bool {
	_, ok := t.index[name]
	return ok
}

// RowCount returns the number of data rows.
func (t *Table) RowCount() int { return len(t.rows) }

// Cell returns the raw cell at (row, column). Missing columns and
// out-of-range rows read as the empty string, which Coerce classifies as
// Missing.
func (t *Table) Cell(row int, column string) string {
	i, ok := t.index[column]
	if !ok || row < 0 || row >= len(t.rows) || i >= len(t.rows[row]) {
		return ""
	}
	return t.rows[row][i]
}

// Distinct returns the distinct values of a column in first-seen order.
func (t *Table) Distinct(column string) []string {
	seen := make(map[string]struct{})
	var out []string
	for row := range t.rows {
		v := t.Cell(row, column)
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
