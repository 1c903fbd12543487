// Package features assembles the classifier input matrix from a granule
// table.
//
// The classifier is positional: it sees column j of the matrix, never a
// column name. The ordered list of columns used at training time is
// therefore recorded as a Contract and must be reproduced exactly at
// inference time.
package features

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/bathy.ensemble/internal/config"
	"github.com/banshee-data/bathy.ensemble/internal/granule"
	"github.com/banshee-data/bathy.ensemble/internal/labels"
)

// ErrContractMismatch is returned when an inference table does not carry
// exactly the feature columns a model was trained with.
var ErrContractMismatch = errors.New("feature contract mismatch")

// Contract is the ordered feature column list of a trained model.
type Contract []string

// Equal reports whether c and o name the same columns in the same order.
func (c Contract) Equal(o Contract) bool {
	return slices.Equal(c, o)
}

func (c Contract) String() string {
	return strings.Join(c, ",")
}

// Side holds per-row context that travels with a Set but is never passed to
// the classifier.
type Side struct {
	Index      []float64
	AlongTrack []float64
}

// Set is an assembled feature matrix with its labels and side data.
type Set struct {
	Contract Contract
	X        *mat.Dense
	// Labels are the canonical reference classes; all Unclassified when the
	// table has no reference column.
	Labels []labels.Class
	Side   Side
}

// Rows returns the number of assembled rows.
func (s *Set) Rows() int {
	r, _ := s.X.Dims()
	return r
}

// Assembler turns tables into feature Sets.
type Assembler struct {
	// Expected is the full ordered list of candidate feature columns.
	Expected []string
	// Detectors are folded to clean raw codes before entering the matrix.
	Detectors []string

	Index      string
	AlongTrack string
	Reference  string
}

// NewAssembler returns an Assembler configured from cfg.
func NewAssembler(cfg *config.TuningConfig) Assembler {
	return Assembler{
		Expected:   cfg.GetFeatureColumns(),
		Detectors:  cfg.GetDetectors(),
		Index:      cfg.GetIndexColumn(),
		AlongTrack: cfg.GetAlongTrackColumn(),
		Reference:  cfg.GetReferenceColumn(),
	}
}

// Select returns the expected columns present in t, in expected order.
func (a Assembler) Select(t *granule.Table) Contract {
	var c Contract
	for _, name := range a.Expected {
		if t.Has(name) {
			c = append(c, name)
		}
	}
	return c
}

// Fit assembles a training set. Missing optional columns are skipped; the
// columns actually used are returned as the Set's Contract.
func (a Assembler) Fit(t *granule.Table) (*Set, error) {
	c := a.Select(t)
	if len(c) == 0 {
		return nil, fmt.Errorf("%w: %s has none of the feature columns %s",
			granule.ErrSchema, t.Name, strings.Join(a.Expected, ", "))
	}
	return a.build(t, c)
}

// Transform assembles an inference set using a recorded contract. The
// table must carry every contract column and no other expected column;
// anything else is ErrContractMismatch.
func (a Assembler) Transform(t *granule.Table, contract Contract) (*Set, error) {
	if len(contract) == 0 {
		return nil, fmt.Errorf("%w: empty contract", ErrContractMismatch)
	}

	var missing, extra []string
	for _, name := range contract {
		if !t.Has(name) {
			missing = append(missing, name)
		}
	}
	for _, name := range a.Select(t) {
		if !slices.Contains(contract, name) {
			extra = append(extra, name)
		}
	}
	if len(missing) > 0 || len(extra) > 0 {
		var parts []string
		if len(missing) > 0 {
			parts = append(parts, "missing "+strings.Join(missing, ", "))
		}
		if len(extra) > 0 {
			parts = append(parts, "not in training contract "+strings.Join(extra, ", "))
		}
		return nil, fmt.Errorf("%w: %s: %s", ErrContractMismatch, t.Name, strings.Join(parts, "; "))
	}
	return a.build(t, contract)
}

func (a Assembler) build(t *granule.Table, contract Contract) (*Set, error) {
	if err := t.Require(a.Index, a.AlongTrack); err != nil {
		return nil, err
	}
	rows := t.Len()
	if rows == 0 {
		return nil, fmt.Errorf("%w: %s has no rows", granule.ErrSchema, t.Name)
	}

	x := mat.NewDense(rows, len(contract), nil)
	for j, name := range contract {
		col, _ := t.Column(name)
		if slices.Contains(a.Detectors, name) {
			col = labels.Fold(col)
		}
		x.SetCol(j, col)
	}

	idx, _ := t.Column(a.Index)
	atc, _ := t.Column(a.AlongTrack)
	return &Set{
		Contract: append(Contract(nil), contract...),
		X:        x,
		Labels:   labels.ToCanonical(t.ColumnOr(a.Reference, 0)),
		Side: Side{
			Index:      append([]float64(nil), idx...),
			AlongTrack: append([]float64(nil), atc...),
		},
	}, nil
}
