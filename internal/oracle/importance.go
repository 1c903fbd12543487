package oracle

import (
	"fmt"
	"io"
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/bathy.ensemble/internal/labels"
)

// Importance is the contribution of one feature column.
type Importance struct {
	Feature string
	Mean    float64
	Std     float64
}

// PermutationImportance measures, for every feature column, how much the
// oracle's accuracy on (x, y) drops when that column is shuffled. Each
// column is shuffled repeats times with a generator seeded from seed, so
// the result is reproducible.
func PermutationImportance(o Oracle, x mat.Matrix, y []labels.Class, repeats int, seed uint64) ([]Importance, error) {
	rows, cols := x.Dims()
	if len(y) != rows {
		return nil, fmt.Errorf("%d labels for %d rows", len(y), rows)
	}
	if repeats < 1 {
		return nil, fmt.Errorf("repeats must be positive, got %d", repeats)
	}
	names := o.Features()
	if len(names) != cols {
		return nil, fmt.Errorf("model has %d features, matrix has %d columns", len(names), cols)
	}

	base, err := accuracy(o, x, y)
	if err != nil {
		return nil, err
	}

	rng := rand.New(rand.NewPCG(seed, 0))
	work := mat.DenseCopyOf(x)
	col := make([]float64, rows)
	out := make([]Importance, cols)
	for j := 0; j < cols; j++ {
		mat.Col(col, j, x)
		drops := make([]float64, repeats)
		for r := range drops {
			shuffled := append([]float64(nil), col...)
			rng.Shuffle(len(shuffled), func(a, b int) {
				shuffled[a], shuffled[b] = shuffled[b], shuffled[a]
			})
			work.SetCol(j, shuffled)
			acc, err := accuracy(o, work, y)
			if err != nil {
				return nil, err
			}
			drops[r] = base - acc
		}
		work.SetCol(j, col)

		mean, std := stat.MeanStdDev(drops, nil)
		if repeats == 1 {
			std = 0
		}
		out[j] = Importance{Feature: names[j], Mean: mean, Std: std}
	}
	return out, nil
}

func accuracy(o Oracle, x mat.Matrix, y []labels.Class) (float64, error) {
	pred, err := o.Predict(x)
	if err != nil {
		return 0, err
	}
	if len(pred) != len(y) {
		return 0, fmt.Errorf("%w: %d classes for %d rows", ErrInvalidPrediction, len(pred), len(y))
	}
	hits := 0
	for i := range y {
		if pred[i] == y[i] {
			hits++
		}
	}
	return float64(hits) / float64(len(y)), nil
}

// WriteImportances prints importances sorted by decreasing mean, one
// "feature<TAB>mean +/- std" line each.
func WriteImportances(w io.Writer, imp []Importance) error {
	sorted := append([]Importance(nil), imp...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Mean > sorted[j].Mean })
	for _, v := range sorted {
		if _, err := fmt.Fprintf(w, "%s\t%.4f +/- %.4f\n", v.Feature, v.Mean, v.Std); err != nil {
			return err
		}
	}
	return nil
}
