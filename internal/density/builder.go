// Package density computes the per-granule local outlier density feature.
//
// Candidates are the points that at least one base detector labelled as
// bathymetry. Their (along-track, elevation) coordinates are scaled
// anisotropically and scored with a k-nearest-neighbour local outlier
// factor; every other point in the granule gets the least-outlying
// candidate score. Granules are independent: a score is only ever relative
// to points of the same granule.
package density

import (
	"context"
	"fmt"
	"math"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"

	"github.com/banshee-data/bathy.ensemble/internal/config"
	"github.com/banshee-data/bathy.ensemble/internal/granule"
	"github.com/banshee-data/bathy.ensemble/internal/labels"
	"github.com/banshee-data/bathy.ensemble/internal/monitoring"
)

// Column is the name of the density feature column.
const Column = "density"

// Builder holds the density parameters. The zero value is not usable; use
// NewBuilder or fill every field.
type Builder struct {
	// AspectRatio divides the along-track coordinate before the
	// neighbour search.
	AspectRatio float64
	// K is the neighbourhood size.
	K int
	// NeutralDensity is written to every point of a granule with fewer
	// than two candidates.
	NeutralDensity float64
	// Detectors are the base detector columns checked for the bathymetry code.
	Detectors []string

	AlongTrack string
	Elevation  string
}

// NewBuilder returns a Builder configured from cfg.
func NewBuilder(cfg *config.TuningConfig) Builder {
	return Builder{
		AspectRatio:    cfg.GetAspectRatio(),
		K:              cfg.GetNeighbors(),
		NeutralDensity: cfg.GetNeutralDensity(),
		Detectors:      cfg.GetDetectors(),
		AlongTrack:     cfg.GetAlongTrackColumn(),
		Elevation:      cfg.GetElevationColumn(),
	}
}

// Result describes one granule's density computation.
type Result struct {
	Granule string
	// Scores has one value per table row.
	Scores []float64
	// Candidates is the number of scored bathymetry candidates.
	Candidates int
	// EffectiveK is the neighbourhood size actually used; it shrinks to
	// Candidates-1 for small granules.
	EffectiveK int
	// Degenerate is set when fewer than two candidates exist and every row
	// received NeutralDensity.
	Degenerate bool
	// Sentinel is the value given to non-candidate rows.
	Sentinel float64
	// Detectors lists the detector columns found in the granule.
	Detectors []string
}

// Compute scores one granule without modifying it.
func (b Builder) Compute(t *granule.Table) (Result, error) {
	if err := t.Require(b.AlongTrack, b.Elevation); err != nil {
		return Result{}, err
	}
	if b.K < 1 || b.AspectRatio <= 0 {
		return Result{}, fmt.Errorf("density: invalid parameters k=%d aspect_ratio=%g", b.K, b.AspectRatio)
	}

	res := Result{Granule: t.Name}
	var dets [][]float64
	for _, d := range b.Detectors {
		if col, ok := t.Column(d); ok {
			dets = append(dets, col)
			res.Detectors = append(res.Detectors, d)
		}
	}

	xs, _ := t.Column(b.AlongTrack)
	ys, _ := t.Column(b.Elevation)

	var rows []int
	var pts []site
	skipped := 0
	for r := 0; r < t.Len(); r++ {
		if !isCandidate(dets, r) {
			continue
		}
		if math.IsNaN(xs[r]) || math.IsNaN(ys[r]) {
			skipped++
			continue
		}
		pts = append(pts, site{x: xs[r] / b.AspectRatio, y: ys[r], id: len(pts)})
		rows = append(rows, r)
	}
	if skipped > 0 {
		monitoring.Debugf("density: %s: %d candidate(s) without coordinates treated as non-candidates", t.Name, skipped)
	}
	res.Candidates = len(pts)

	if len(pts) < 2 {
		res.Degenerate = true
		res.Sentinel = b.NeutralDensity
		res.Scores = make([]float64, t.Len())
		for i := range res.Scores {
			res.Scores[i] = b.NeutralDensity
		}
		monitoring.Debugf("density: %s: %d candidate(s), using neutral density %g", t.Name, len(pts), b.NeutralDensity)
		return res, nil
	}

	res.EffectiveK = min(b.K, len(pts)-1)
	scores := negativeOutlierFactor(pts, res.EffectiveK)
	res.Scores, res.Sentinel = assignScores(t.Len(), rows, scores)

	monitoring.Debugf("density: %s: %d candidates of %d rows, k=%d, sentinel=%.4f",
		t.Name, len(pts), t.Len(), res.EffectiveK, res.Sentinel)
	return res, nil
}

// Apply computes the density and writes it to the table's density column.
func (b Builder) Apply(t *granule.Table) (Result, error) {
	res, err := b.Compute(t)
	if err != nil {
		return res, err
	}
	if err := t.Set(Column, res.Scores); err != nil {
		return res, err
	}
	return res, nil
}

func isCandidate(detectors [][]float64, row int) bool {
	for _, col := range detectors {
		if col[row] == float64(labels.Bathymetry) {
			return true
		}
	}
	return false
}

// assignScores spreads candidate scores over n rows. Every non-candidate row
// receives the maximum (least outlying) candidate score, which is returned
// as the sentinel.
func assignScores(n int, candidateRows []int, scores []float64) ([]float64, float64) {
	sentinel := floats.Max(scores)
	out := make([]float64, n)
	for i := range out {
		out[i] = sentinel
	}
	for i, r := range candidateRows {
		out[r] = scores[i]
	}
	return out, sentinel
}

// BuildAll applies b to every table with at most workers granules in flight.
// Each task touches only its own table and result slot; the results are in
// input order.
func BuildAll(ctx context.Context, b Builder, tables []*granule.Table, workers int) ([]Result, error) {
	results := make([]Result, len(tables))

	g, ctx := errgroup.WithContext(ctx)
	if workers > 0 {
		g.SetLimit(workers)
	}
	for i, t := range tables {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			res, err := b.Apply(t)
			if err != nil {
				return fmt.Errorf("density for %s: %w", t.Name, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
