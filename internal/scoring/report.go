package scoring

import (
	"bufio"
	"fmt"
	"io"
	"slices"
	"strings"
)

// WriteReport writes records as tab-separated rows. A header row is written
// before the first record and whenever the view changes.
func WriteReport(w io.Writer, records []Record) error {
	bw := bufio.NewWriter(w)
	prev := ""
	for i, r := range records {
		if i == 0 || r.View != prev {
			fields := append([]string{"Cls", "Name"}, r.Columns()...)
			if _, err := fmt.Fprintln(bw, strings.Join(fields, "\t")); err != nil {
				return err
			}
			prev = r.View
		}
		fields := make([]string, 0, 2+len(r.Metrics))
		fields = append(fields, r.View, r.Algorithm)
		for _, m := range r.Metrics {
			fields = append(fields, m.String())
		}
		if _, err := fmt.Fprintln(bw, strings.Join(fields, "\t")); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// ReadReport parses a report written by WriteReport. Counts are not part of
// the report, so Rows and Confusion are zero.
func ReadReport(r io.Reader) ([]Record, error) {
	sc := bufio.NewScanner(r)
	var records []Record
	var columns []string
	for line := 1; sc.Scan(); line++ {
		text := strings.TrimRight(sc.Text(), "\r")
		if strings.TrimSpace(text) == "" {
			continue
		}
		fields := strings.Split(text, "\t")
		if fields[0] == "Cls" {
			if len(fields) < 3 || fields[1] != "Name" {
				return nil, fmt.Errorf("report line %d: malformed header", line)
			}
			columns = fields[2:]
			if !slices.Equal(columns, BinaryColumns) && !slices.Equal(columns, MultiClassColumns) {
				return nil, fmt.Errorf("report line %d: unknown columns %s", line, strings.Join(columns, ","))
			}
			continue
		}
		if columns == nil {
			return nil, fmt.Errorf("report line %d: row before header", line)
		}
		if len(fields) != 2+len(columns) {
			return nil, fmt.Errorf("report line %d: %d fields, want %d", line, len(fields), 2+len(columns))
		}
		rec := Record{View: fields[0], Algorithm: fields[1], Metrics: make([]Metric, len(columns))}
		for i, f := range fields[2:] {
			m, err := ParseMetric(f)
			if err != nil {
				return nil, fmt.Errorf("report line %d: %w", line, err)
			}
			rec.Metrics[i] = m
		}
		records = append(records, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return records, nil
}
