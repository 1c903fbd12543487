package scoring

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrFoldMismatch is returned when folds being averaged do not report the
// same (view, algorithm) pairs.
var ErrFoldMismatch = errors.New("fold mismatch")

// Average combines per-fold records into one record per (view, algorithm).
// Every fold must report exactly the same pairs with the same columns.
// Each metric is the arithmetic mean across folds and is undefined if any
// fold left it undefined. Rows and confusion counts are summed. The output
// follows the first fold's order.
func Average(folds [][]Record) ([]Record, error) {
	if len(folds) == 0 {
		return nil, fmt.Errorf("%w: no folds to average", ErrFoldMismatch)
	}

	index := make([]map[Key]Record, len(folds))
	for f, fold := range folds {
		index[f] = make(map[Key]Record, len(fold))
		for _, r := range fold {
			if _, dup := index[f][r.Key()]; dup {
				return nil, fmt.Errorf("%w: fold %d reports %s/%s twice", ErrFoldMismatch, f, r.View, r.Algorithm)
			}
			index[f][r.Key()] = r
		}
	}

	for f := 1; f < len(folds); f++ {
		if missing, extra := diffKeys(index[0], index[f]); len(missing)+len(extra) > 0 {
			return nil, fmt.Errorf("%w: fold %d differs from fold 0 (missing %s; extra %s)",
				ErrFoldMismatch, f, joinKeys(missing), joinKeys(extra))
		}
	}

	out := make([]Record, 0, len(folds[0]))
	for _, first := range folds[0] {
		avg := Record{View: first.View, Algorithm: first.Algorithm, Metrics: make([]Metric, len(first.Metrics))}
		column := make([][]Metric, len(first.Metrics))
		for f := range folds {
			r := index[f][first.Key()]
			if len(r.Metrics) != len(first.Metrics) {
				return nil, fmt.Errorf("%w: %s/%s has %d metrics in fold %d, %d in fold 0",
					ErrFoldMismatch, r.View, r.Algorithm, len(r.Metrics), f, len(first.Metrics))
			}
			avg.Rows += r.Rows
			avg.Confusion = avg.Confusion.Add(r.Confusion)
			for i, m := range r.Metrics {
				column[i] = append(column[i], m)
			}
		}
		for i, ms := range column {
			avg.Metrics[i] = Mean(ms...)
		}
		out = append(out, avg)
	}
	return out, nil
}

func diffKeys(want, got map[Key]Record) (missing, extra []Key) {
	for k := range want {
		if _, ok := got[k]; !ok {
			missing = append(missing, k)
		}
	}
	for k := range got {
		if _, ok := want[k]; !ok {
			extra = append(extra, k)
		}
	}
	return missing, extra
}

func joinKeys(keys []Key) string {
	if len(keys) == 0 {
		return "none"
	}
	s := make([]string, len(keys))
	for i, k := range keys {
		s[i] = k.View + "/" + k.Algorithm
	}
	sort.Strings(s)
	return strings.Join(s, ", ")
}
