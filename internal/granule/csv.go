package granule

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/banshee-data/bathy.ensemble/internal/fsutil"
)

// DefaultAliases renames legacy headers on read. Older granules carry the
// qtrees output in a generic "prediction" column.
var DefaultAliases = map[string]string{
	"prediction": "qtrees",
}

// Schema describes what a granule file must contain.
type Schema struct {
	// Required columns; any absence is ErrSchema.
	Required []string
	// Aliases renames a header to its canonical name unless the canonical
	// name is already present.
	Aliases map[string]string
}

// ReadCSV reads one granule file. The table is named after path.
func ReadCSV(fsys fsutil.FileSystem, path string, schema Schema) (*Table, error) {
	f, err := fsys.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open granule: %w", err)
	}
	defer f.Close()

	return Decode(f, path, schema)
}

// Decode parses CSV with a header row into a Table.
func Decode(r io.Reader, name string, schema Schema) (*Table, error) {
	cr := csv.NewReader(r)
	cr.ReuseRecord = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %s has no header row", ErrSchema, name)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSchema, name, err)
	}
	names, err := resolveHeader(header, schema.Aliases, name)
	if err != nil {
		return nil, err
	}

	cols := make([][]float64, len(names))
	for row := 1; ; row++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrSchema, name, err)
		}
		for i, cell := range rec {
			v, err := parseCell(cell)
			if err != nil {
				return nil, fmt.Errorf("%w: %s row %d column %q: %v", ErrSchema, name, row, names[i], err)
			}
			cols[i] = append(cols[i], v)
		}
	}

	rows := 0
	if len(cols) > 0 {
		rows = len(cols[0])
	}
	if rows == 0 {
		return nil, fmt.Errorf("%w: %s has no data rows", ErrSchema, name)
	}

	t := NewTable(name, rows)
	for i, n := range names {
		if err := t.Set(n, cols[i]); err != nil {
			return nil, err
		}
	}
	if err := t.Require(schema.Required...); err != nil {
		return nil, err
	}
	return t, nil
}

func resolveHeader(header []string, aliases map[string]string, name string) ([]string, error) {
	present := make(map[string]bool, len(header))
	names := make([]string, len(header))
	for i, h := range header {
		h = strings.TrimSpace(h)
		if h == "" {
			return nil, fmt.Errorf("%w: %s has an empty header in column %d", ErrSchema, name, i+1)
		}
		if present[h] {
			return nil, fmt.Errorf("%w: %s repeats header %q", ErrSchema, name, h)
		}
		present[h] = true
		names[i] = h
	}
	for i, h := range names {
		if target, ok := aliases[h]; ok && !present[target] {
			names[i] = target
			present[target] = true
		}
	}
	return names, nil
}

func parseCell(cell string) (float64, error) {
	cell = strings.TrimSpace(cell)
	switch strings.ToLower(cell) {
	case "", "nan", "na", "null":
		return math.NaN(), nil
	case "true":
		return 1, nil
	case "false":
		return 0, nil
	}
	return strconv.ParseFloat(cell, 64)
}

// WriteCSV writes t to path, preserving column order.
func WriteCSV(fsys fsutil.FileSystem, path string, t *Table) error {
	f, err := fsys.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := Encode(f, t); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

// Encode writes t as CSV with a header row. Integral values are written
// without a decimal point and NaN as an empty cell.
func Encode(w io.Writer, t *Table) error {
	cw := csv.NewWriter(w)
	cols := t.Columns()
	if err := cw.Write(cols); err != nil {
		return err
	}

	data := make([][]float64, len(cols))
	for i, c := range cols {
		data[i], _ = t.Column(c)
	}
	rec := make([]string, len(cols))
	for r := 0; r < t.Len(); r++ {
		for i := range cols {
			rec[i] = FormatValue(data[i][r])
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// FormatValue renders a cell the way Encode does.
func FormatValue(v float64) string {
	if math.IsNaN(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}
