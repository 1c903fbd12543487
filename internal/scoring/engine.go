package scoring

import (
	"fmt"

	"github.com/banshee-data/bathy.ensemble/internal/config"
	"github.com/banshee-data/bathy.ensemble/internal/granule"
	"github.com/banshee-data/bathy.ensemble/internal/labels"
	"github.com/banshee-data/bathy.ensemble/internal/monitoring"
)

// Record is the immutable result of scoring one algorithm under one view.
type Record struct {
	View      string
	Algorithm string
	// Rows is the number of compared rows after any view filtering.
	Rows int
	// Confusion is set for binary views.
	Confusion Confusion
	// Metrics follow the view's Columns order.
	Metrics []Metric
}

// Key identifies a record within a report.
type Key struct {
	View      string
	Algorithm string
}

// Key returns the record's (view, algorithm) pair.
func (r Record) Key() Key { return Key{View: r.View, Algorithm: r.Algorithm} }

// Columns returns the metric column names of the record's view.
func (r Record) Columns() []string {
	if v, err := ViewByName(r.View); err == nil {
		return v.Columns()
	}
	if len(r.Metrics) == len(MultiClassColumns) {
		return MultiClassColumns
	}
	return BinaryColumns
}

// Metric returns the named metric.
func (r Record) Metric(name string) (Metric, bool) {
	for i, c := range r.Columns() {
		if c == name && i < len(r.Metrics) {
			return r.Metrics[i], true
		}
	}
	return Undefined, false
}

// Engine scores prediction columns against a reference column.
type Engine struct {
	// R0 is the calibrated-F1 reference prevalence ratio.
	R0 float64
	// Canonical selects the dense {0,1,2} label space. Otherwise labels are
	// raw codes, folded before comparison. Folding turns codes 1 and 45 into
	// 0 for every view, including the multiclass one. The records equal those
	// of a table whose 1 and 45 codes were replaced by 0 across every column
	// when it was classified, so classified granules keep their raw codes on
	// disk.
	Canonical bool
}

// NewEngine returns a raw-space Engine configured from cfg.
func NewEngine(cfg *config.TuningConfig) Engine {
	return Engine{R0: cfg.GetCalibrationRatio()}
}

func (e Engine) code(t Target) float64 {
	switch {
	case t == TargetBathy && e.Canonical:
		return float64(labels.Bathy)
	case t == TargetBathy:
		return float64(labels.Bathymetry)
	case t == TargetSurface && e.Canonical:
		return float64(labels.Surface)
	case t == TargetSurface:
		return float64(labels.SeaSurface)
	}
	return -1
}

func (e Engine) clean(col []float64) []float64 {
	if e.Canonical {
		return labels.FillMissing.Apply(col)
	}
	return labels.Fold(col)
}

// Score compares every algorithm column of t with the reference column
// under each view. Records are ordered by view, then algorithm. A missing
// algorithm column is a schema error; a missing reference column scores
// against all-unclassified.
func (e Engine) Score(t *granule.Table, reference string, algorithms []string, views []View) ([]Record, error) {
	if len(algorithms) == 0 {
		return nil, fmt.Errorf("%w: no algorithm columns to score", granule.ErrSchema)
	}
	if err := t.Require(algorithms...); err != nil {
		return nil, err
	}
	if !t.Has(reference) {
		monitoring.Debugf("scoring: %s has no %s column, scoring against unclassified", t.Name, reference)
	}

	ref := e.clean(t.ColumnOr(reference, 0))
	preds := make([][]float64, len(algorithms))
	for i, a := range algorithms {
		col, _ := t.Column(a)
		preds[i] = e.clean(col)
	}

	records := make([]Record, 0, len(views)*len(algorithms))
	for _, v := range views {
		for i, a := range algorithms {
			records = append(records, e.ScoreColumns(v, a, ref, preds[i]))
		}
	}
	return records, nil
}

// ScoreColumns scores one already cleaned prediction column.
func (e Engine) ScoreColumns(v View, algorithm string, ref, pred []float64) Record {
	if v.DropSurface {
		surface := e.code(TargetSurface)
		var r, p []float64
		for i := range ref {
			if ref[i] != surface {
				r = append(r, ref[i])
				p = append(p, pred[i])
			}
		}
		ref, pred = r, p
	}

	rec := Record{View: v.Name, Algorithm: algorithm, Rows: len(ref)}
	if v.Multiclass {
		rec.Metrics = ScoreMultiClass(ref, pred).Metrics()
		return rec
	}
	rec.Confusion = Collapse(ref, pred, e.code(v.Positive))
	rec.Metrics = rec.Confusion.Scores(e.R0).Metrics()
	return rec
}
