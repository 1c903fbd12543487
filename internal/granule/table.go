// Package granule holds the in-memory point tables read from one input file
// (a granule) and the thin CSV I/O around them.
//
// A Table is column-oriented: every column is a float64 slice of the same
// length, and the column order of the source file is preserved so output
// files keep their original layout.
package granule

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// ErrSchema marks fatal input problems: missing required columns, an empty
// input set, ragged rows or unparsable cells.
var ErrSchema = errors.New("schema error")

// Table is a named set of equal-length numeric columns.
type Table struct {
	Name    string
	columns []string
	data    map[string][]float64
	rows    int
}

// NewTable creates an empty table that will hold rows points.
func NewTable(name string, rows int) *Table {
	return &Table{
		Name: name,
		data: make(map[string][]float64),
		rows: rows,
	}
}

// Len returns the number of rows.
func (t *Table) Len() int { return t.rows }

// Columns returns the column names in table order.
func (t *Table) Columns() []string {
	return append([]string(nil), t.columns...)
}

// Has reports whether the named column exists.
func (t *Table) Has(name string) bool {
	_, ok := t.data[name]
	return ok
}

// Column returns the named column. The slice is shared with the table and
// must be treated as read-only; use Set to replace a column.
func (t *Table) Column(name string) ([]float64, bool) {
	col, ok := t.data[name]
	return col, ok
}

// ColumnOr returns the named column, or a column filled with fill when absent.
func (t *Table) ColumnOr(name string, fill float64) []float64 {
	if col, ok := t.data[name]; ok {
		return col
	}
	col := make([]float64, t.rows)
	for i := range col {
		col[i] = fill
	}
	return col
}

// Set adds or replaces a column. New columns are appended after existing ones.
func (t *Table) Set(name string, values []float64) error {
	if len(values) != t.rows {
		return fmt.Errorf("%w: column %q has %d values, table %q has %d rows",
			ErrSchema, name, len(values), t.Name, t.rows)
	}
	if _, ok := t.data[name]; !ok {
		t.columns = append(t.columns, name)
	}
	t.data[name] = values
	return nil
}

// Require returns an ErrSchema error naming every absent column.
func (t *Table) Require(names ...string) error {
	var missing []string
	for _, n := range names {
		if !t.Has(n) {
			missing = append(missing, n)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s is missing required column(s) %s",
			ErrSchema, t.Name, strings.Join(missing, ", "))
	}
	return nil
}

// Select returns a new table holding only the given rows, in the given order.
func (t *Table) Select(rows []int) *Table {
	out := NewTable(t.Name, len(rows))
	for _, name := range t.columns {
		src := t.data[name]
		dst := make([]float64, len(rows))
		for i, r := range rows {
			dst[i] = src[r]
		}
		out.columns = append(out.columns, name)
		out.data[name] = dst
	}
	return out
}

// Clone returns a deep copy.
func (t *Table) Clone() *Table {
	rows := make([]int, t.rows)
	for i := range rows {
		rows[i] = i
	}
	return t.Select(rows)
}

// Origin identifies the source of a row in a concatenated table.
type Origin struct {
	Granule string
	Row     int
}

// Concat stacks tables in order. The result has the union of all columns in
// first-seen order; cells from tables lacking a column are NaN. The returned
// origins map every output row back to its granule and source row.
func Concat(name string, tables ...*Table) (*Table, []Origin, error) {
	if len(tables) == 0 {
		return nil, nil, fmt.Errorf("%w: no granules to concatenate", ErrSchema)
	}

	total := 0
	var order []string
	seen := make(map[string]bool)
	for _, t := range tables {
		total += t.rows
		for _, c := range t.columns {
			if !seen[c] {
				seen[c] = true
				order = append(order, c)
			}
		}
	}

	out := NewTable(name, total)
	for _, c := range order {
		out.columns = append(out.columns, c)
		out.data[c] = make([]float64, 0, total)
	}

	origins := make([]Origin, 0, total)
	for _, t := range tables {
		for _, c := range order {
			if src, ok := t.data[c]; ok {
				out.data[c] = append(out.data[c], src...)
				continue
			}
			for i := 0; i < t.rows; i++ {
				out.data[c] = append(out.data[c], math.NaN())
			}
		}
		for r := 0; r < t.rows; r++ {
			origins = append(origins, Origin{Granule: t.Name, Row: r})
		}
	}
	return out, origins, nil
}
