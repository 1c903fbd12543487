// Package crossval runs k-fold cross-validation over granule files: each
// fold trains on the other folds' files, classifies its own files and scores
// them, and the per-fold records are averaged.
package crossval

import (
	"context"
	"fmt"

	"github.com/banshee-data/bathy.ensemble/internal/monitoring"
	"github.com/banshee-data/bathy.ensemble/internal/pipeline"
	"github.com/banshee-data/bathy.ensemble/internal/scoring"
)

// Split assigns file i to fold i%k, keeping input order within each fold.
func Split(files []string, k int) ([][]string, error) {
	if k < 2 {
		return nil, fmt.Errorf("need at least 2 folds, got %d", k)
	}
	if len(files) < k {
		return nil, fmt.Errorf("%d files cannot fill %d folds", len(files), k)
	}
	folds := make([][]string, k)
	for i, f := range files {
		folds[i%k] = append(folds[i%k], f)
	}
	return folds, nil
}

// Train returns every file outside fold held.
func Train(folds [][]string, held int) []string {
	var out []string
	for i, f := range folds {
		if i != held {
			out = append(out, f...)
		}
	}
	return out
}

// Result holds the per-fold and averaged records.
type Result struct {
	Folds   [][]scoring.Record
	Average []scoring.Record
}

// Run performs k-fold cross-validation. Every fold must score the same
// algorithms; otherwise averaging fails with scoring.ErrFoldMismatch.
func Run(ctx context.Context, p *pipeline.Pipeline, files []string, k int, views []scoring.View) (*Result, error) {
	folds, err := Split(files, k)
	if err != nil {
		return nil, err
	}

	res := &Result{Folds: make([][]scoring.Record, k)}
	for i, test := range folds {
		trained, err := p.Fit(ctx, Train(folds, i))
		if err != nil {
			return nil, fmt.Errorf("fold %d: train: %w", i, err)
		}
		out, err := p.Classify(ctx, trained.Model, test)
		if err != nil {
			return nil, fmt.Errorf("fold %d: classify: %w", i, err)
		}
		records, err := p.Score(out, nil, views)
		if err != nil {
			return nil, fmt.Errorf("fold %d: score: %w", i, err)
		}
		monitoring.Logf("fold %d/%d: trained on %d file(s), scored %d", i+1, k, len(files)-len(test), len(test))
		res.Folds[i] = records
	}

	res.Average, err = scoring.Average(res.Folds)
	if err != nil {
		return nil, err
	}
	return res, nil
}
