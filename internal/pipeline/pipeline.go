// Package pipeline wires the stages together: read granules, add the
// density feature per granule, assemble features, train or run the
// classifier and score the result.
//
// Granules are read and densified in parallel, one task per granule, and
// joined before the single concatenation that precedes training, inference
// or scoring.
package pipeline

import (
	"context"
	"fmt"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/bathy.ensemble/internal/config"
	"github.com/banshee-data/bathy.ensemble/internal/density"
	"github.com/banshee-data/bathy.ensemble/internal/features"
	"github.com/banshee-data/bathy.ensemble/internal/fsutil"
	"github.com/banshee-data/bathy.ensemble/internal/granule"
	"github.com/banshee-data/bathy.ensemble/internal/labels"
	"github.com/banshee-data/bathy.ensemble/internal/monitoring"
	"github.com/banshee-data/bathy.ensemble/internal/oracle"
	"github.com/banshee-data/bathy.ensemble/internal/oracle/softmax"
	"github.com/banshee-data/bathy.ensemble/internal/scoring"
)

// Output column names written by Classify.
const (
	EnsembleColumn    = "ensemble"
	ProbabilityColumn = "ensemble_prob"
)

// Pipeline holds the configured stages.
type Pipeline struct {
	FS        fsutil.FileSystem
	Schema    granule.Schema
	Density   density.Builder
	Assembler features.Assembler
	Engine    scoring.Engine
	Train     softmax.Options
	Workers   int

	reference string
	detectors []string
}

// New returns a Pipeline configured from cfg reading through fsys.
func New(cfg *config.TuningConfig, fsys fsutil.FileSystem) *Pipeline {
	return &Pipeline{
		FS: fsys,
		Schema: granule.Schema{
			Required: []string{cfg.GetIndexColumn(), cfg.GetAlongTrackColumn(), cfg.GetElevationColumn()},
			Aliases:  granule.DefaultAliases,
		},
		Density:   density.NewBuilder(cfg),
		Assembler: features.NewAssembler(cfg),
		Engine:    scoring.NewEngine(cfg),
		Train:     softmax.OptionsFromConfig(cfg),
		Workers:   cfg.GetWorkers(),
		reference: cfg.GetReferenceColumn(),
		detectors: cfg.GetDetectors(),
	}
}

// Reference is the reference label column name.
func (p *Pipeline) Reference() string { return p.reference }

// Load reads every path, one task per file. Tables are returned in path
// order. An empty path list is a schema error.
func (p *Pipeline) Load(ctx context.Context, paths []string) ([]*granule.Table, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("%w: no input granules", granule.ErrSchema)
	}
	tables := make([]*granule.Table, len(paths))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(p.Workers, 1))
	for i, path := range paths {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			t, err := granule.ReadCSV(p.FS, path, p.Schema)
			if err != nil {
				return err
			}
			tables[i] = t
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return tables, nil
}

// Prepare loads the granules and adds the density column to each.
func (p *Pipeline) Prepare(ctx context.Context, paths []string) ([]*granule.Table, []density.Result, error) {
	tables, err := p.Load(ctx, paths)
	if err != nil {
		return nil, nil, err
	}
	results, err := density.BuildAll(ctx, p.Density, tables, max(p.Workers, 1))
	if err != nil {
		return nil, nil, err
	}
	degenerate := 0
	for _, r := range results {
		if r.Degenerate {
			degenerate++
		}
	}
	monitoring.Debugf("pipeline: prepared %d granule(s), %d with neutral density", len(tables), degenerate)
	return tables, results, nil
}

// Trained is the outcome of Fit.
type Trained struct {
	Model   *softmax.Model
	Set     *features.Set
	Density []density.Result
}

// Fit trains a model on the merged granules.
func (p *Pipeline) Fit(ctx context.Context, paths []string) (*Trained, error) {
	tables, results, err := p.Prepare(ctx, paths)
	if err != nil {
		return nil, err
	}
	merged, _, err := granule.Concat("train", tables...)
	if err != nil {
		return nil, err
	}
	set, err := p.Assembler.Fit(merged)
	if err != nil {
		return nil, err
	}
	monitoring.Logf("training on %d points from %d granule(s) with features %s",
		set.Rows(), len(tables), set.Contract)

	model, err := softmax.Train(set, p.Train)
	if err != nil {
		return nil, err
	}
	return &Trained{Model: model, Set: set, Density: results}, nil
}

// Classify runs o over the granules and returns them with the ensemble
// prediction (raw codes) and bathymetry probability columns added, in path
// order.
func (p *Pipeline) Classify(ctx context.Context, o oracle.Oracle, paths []string) ([]*granule.Table, error) {
	tables, _, err := p.Prepare(ctx, paths)
	if err != nil {
		return nil, err
	}
	merged, origins, err := granule.Concat("classify", tables...)
	if err != nil {
		return nil, err
	}
	set, err := p.Assembler.Transform(merged, o.Features())
	if err != nil {
		return nil, err
	}
	pred, err := oracle.Run(o, set)
	if err != nil {
		return nil, err
	}
	codes, err := labels.FromCanonical(pred.Classes)
	if err != nil {
		return nil, err
	}
	raw := labels.CodesToFloat(codes)

	// Concat keeps input order, so each granule is one contiguous run.
	offset := 0
	for _, t := range tables {
		n := t.Len()
		if origins[offset].Granule != t.Name {
			return nil, fmt.Errorf("row identity lost at %s", t.Name)
		}
		if err := t.Set(EnsembleColumn, raw[offset:offset+n:offset+n]); err != nil {
			return nil, err
		}
		if err := t.Set(ProbabilityColumn, pred.Probability[offset:offset+n:offset+n]); err != nil {
			return nil, err
		}
		offset += n
	}
	monitoring.Logf("classified %d points from %d granule(s)", offset, len(tables))
	return tables, nil
}

// WriteOutputs writes each table into dir under its base file name.
func (p *Pipeline) WriteOutputs(dir string, tables []*granule.Table) ([]string, error) {
	if err := p.FS.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	paths := make([]string, len(tables))
	for i, t := range tables {
		paths[i] = filepath.Join(dir, filepath.Base(t.Name))
		if err := granule.WriteCSV(p.FS, paths[i], t); err != nil {
			return nil, err
		}
	}
	return paths, nil
}

// Algorithms lists the prediction columns to score in t: the configured
// detectors that are present, then the ensemble column if present.
func (p *Pipeline) Algorithms(t *granule.Table) []string {
	var algos []string
	for _, d := range p.detectors {
		if t.Has(d) {
			algos = append(algos, d)
		}
	}
	if t.Has(EnsembleColumn) {
		algos = append(algos, EnsembleColumn)
	}
	return algos
}

// Score merges the tables and scores the given algorithms, or every
// detected algorithm when none are named.
func (p *Pipeline) Score(tables []*granule.Table, algorithms []string, views []scoring.View) ([]scoring.Record, error) {
	merged, _, err := granule.Concat("score", tables...)
	if err != nil {
		return nil, err
	}
	if len(algorithms) == 0 {
		algorithms = p.Algorithms(merged)
	}
	return p.Engine.Score(merged, p.reference, algorithms, views)
}
