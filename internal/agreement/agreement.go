// Package agreement measures how closely detector label columns track each
// other and the reference labels.
package agreement

import (
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/bathy.ensemble/internal/granule"
	"github.com/banshee-data/bathy.ensemble/internal/labels"
	"github.com/banshee-data/bathy.ensemble/internal/scoring"
)

// Lens blanks one class before correlating so agreement on the remaining
// classes is not swamped by it.
type Lens struct {
	Name  string
	Blank []labels.Code
}

// Standard lenses.
var (
	LensAll       = Lens{Name: "all"}
	LensNoSurface = Lens{Name: "nosurface", Blank: []labels.Code{labels.SeaSurface}}
	LensNoBathy   = Lens{Name: "nobathy", Blank: []labels.Code{labels.Bathymetry}}
)

// DefaultLenses is the report order.
var DefaultLenses = []Lens{LensAll, LensNoSurface, LensNoBathy}

func (l Lens) apply(col []float64) []float64 {
	out := labels.Fold(col)
	for i, v := range out {
		for _, b := range l.Blank {
			if v == float64(b) {
				out[i] = float64(labels.NoClass)
			}
		}
	}
	return out
}

// Matrix is a Pearson correlation matrix between label columns.
type Matrix struct {
	Lens    string
	Columns []string
	Corr    *mat.SymDense
}

// Correlate computes the correlation of the named columns of t under lens.
// Absent columns are skipped; fewer than two remaining columns is a schema
// error. A constant column correlates as NaN.
func Correlate(t *granule.Table, columns []string, lens Lens) (Matrix, error) {
	var present []string
	for _, c := range columns {
		if t.Has(c) {
			present = append(present, c)
		}
	}
	if len(present) < 2 {
		return Matrix{}, fmt.Errorf("%w: %s needs at least two label columns to correlate, has %d",
			granule.ErrSchema, t.Name, len(present))
	}
	if t.Len() < 2 {
		return Matrix{}, fmt.Errorf("%w: %s needs at least two rows to correlate", granule.ErrSchema, t.Name)
	}

	x := mat.NewDense(t.Len(), len(present), nil)
	for j, c := range present {
		col, _ := t.Column(c)
		x.SetCol(j, lens.apply(col))
	}
	var corr mat.SymDense
	stat.CorrelationMatrix(&corr, x, nil)
	return Matrix{Lens: lens.Name, Columns: present, Corr: &corr}, nil
}

// CorrelateAll runs Correlate for every lens.
func CorrelateAll(t *granule.Table, columns []string, lenses []Lens) ([]Matrix, error) {
	out := make([]Matrix, 0, len(lenses))
	for _, l := range lenses {
		m, err := Correlate(t, columns, l)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// WriteTSV writes each matrix as a header row of column names followed by
// one row per column. NaN is written as undefined.
func WriteTSV(w io.Writer, ms []Matrix) error {
	for _, m := range ms {
		if _, err := fmt.Fprintf(w, "%s\t%s\n", m.Lens, strings.Join(m.Columns, "\t")); err != nil {
			return err
		}
		for i, name := range m.Columns {
			fields := []string{name}
			for j := range m.Columns {
				fields = append(fields, formatCorr(m.Corr.At(i, j)))
			}
			if _, err := fmt.Fprintln(w, strings.Join(fields, "\t")); err != nil {
				return err
			}
		}
	}
	return nil
}

func formatCorr(v float64) string {
	if math.IsNaN(v) {
		return scoring.UndefinedText
	}
	return strconv.FormatFloat(v, 'f', 3, 64)
}
