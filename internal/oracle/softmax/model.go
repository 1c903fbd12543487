// Package softmax is the built-in ensemble classifier: a multinomial
// logistic regression over standardised features, fit with L-BFGS.
//
// A Model is immutable once trained or loaded and is safe for concurrent
// use. Missing feature values are imputed with the training mean.
package softmax

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/bathy.ensemble/internal/features"
	"github.com/banshee-data/bathy.ensemble/internal/fsutil"
	"github.com/banshee-data/bathy.ensemble/internal/labels"
	"github.com/banshee-data/bathy.ensemble/internal/oracle"
)

// Kind identifies the artifact format.
const Kind = "bathy-softmax"

// Version is the artifact schema version written by Save.
const Version = 1

// maxArtifactSize bounds artifact files read by Load.
const maxArtifactSize = 64 << 20

// Model is a trained classifier.
type Model struct {
	contract features.Contract
	mean     []float64
	scale    []float64
	// weights has one row per class: bias followed by one weight per feature.
	weights *mat.Dense
}

var _ oracle.Oracle = (*Model)(nil)

// artifact is the on-disk JSON form of a Model.
type artifact struct {
	Kind     string      `json:"kind"`
	Version  int         `json:"version"`
	Features []string    `json:"features"`
	Mean     []float64   `json:"mean"`
	Scale    []float64   `json:"scale"`
	Weights  [][]float64 `json:"weights"`
	Classes  int         `json:"classes"`
}

// Features returns the feature contract.
func (m *Model) Features() features.Contract {
	return append(features.Contract(nil), m.contract...)
}

// Probabilities returns the class probability matrix, rows x classes.
func (m *Model) Probabilities(x mat.Matrix) (*mat.Dense, error) {
	rows, cols := x.Dims()
	if cols != len(m.contract) {
		return nil, fmt.Errorf("%w: model has %d features, matrix has %d columns",
			features.ErrContractMismatch, len(m.contract), cols)
	}
	k, _ := m.weights.Dims()
	out := mat.NewDense(rows, k, nil)
	z := make([]float64, cols)
	logits := make([]float64, k)
	for i := 0; i < rows; i++ {
		m.standardise(z, x, i)
		m.logits(logits, z)
		softmaxInPlace(logits)
		out.SetRow(i, logits)
	}
	return out, nil
}

// Predict returns the most probable class per row. Ties go to the lower
// class id.
func (m *Model) Predict(x mat.Matrix) ([]labels.Class, error) {
	p, err := m.Probabilities(x)
	if err != nil {
		return nil, err
	}
	rows, _ := p.Dims()
	out := make([]labels.Class, rows)
	for i := range out {
		out[i] = labels.Class(floats.MaxIdx(p.RawRowView(i)))
	}
	return out, nil
}

// PredictProbability returns the bathymetry class probability per row.
func (m *Model) PredictProbability(x mat.Matrix) ([]float64, error) {
	p, err := m.Probabilities(x)
	if err != nil {
		return nil, err
	}
	return mat.Col(nil, int(labels.Bathy), p), nil
}

// Importances reports the mean absolute standardised weight of every
// feature across classes, with its standard deviation.
func (m *Model) Importances() []oracle.Importance {
	k, _ := m.weights.Dims()
	out := make([]oracle.Importance, len(m.contract))
	abs := make([]float64, k)
	for j, name := range m.contract {
		for c := 0; c < k; c++ {
			abs[c] = math.Abs(m.weights.At(c, j+1))
		}
		mean := floats.Sum(abs) / float64(k)
		var ss float64
		for _, a := range abs {
			ss += (a - mean) * (a - mean)
		}
		out[j] = oracle.Importance{Feature: name, Mean: mean, Std: math.Sqrt(ss / float64(k))}
	}
	return out
}

func (m *Model) standardise(dst []float64, x mat.Matrix, row int) {
	for j := range dst {
		v := x.At(row, j)
		if math.IsNaN(v) {
			dst[j] = 0
			continue
		}
		dst[j] = (v - m.mean[j]) / m.scale[j]
	}
}

func (m *Model) logits(dst, z []float64) {
	for c := range dst {
		w := m.weights.RawRowView(c)
		dst[c] = w[0] + floats.Dot(w[1:], z)
	}
}

// softmaxInPlace turns logits into probabilities.
func softmaxInPlace(v []float64) {
	hi := floats.Max(v)
	var sum float64
	for i := range v {
		v[i] = math.Exp(v[i] - hi)
		sum += v[i]
	}
	floats.Scale(1/sum, v)
}

// Save writes the model as a JSON artifact.
func (m *Model) Save(fsys fsutil.FileSystem, path string) error {
	k, _ := m.weights.Dims()
	a := artifact{
		Kind:     Kind,
		Version:  Version,
		Features: m.contract,
		Mean:     m.mean,
		Scale:    m.scale,
		Classes:  k,
	}
	for c := 0; c < k; c++ {
		a.Weights = append(a.Weights, mat.Row(nil, c, m.weights))
	}
	data, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return fmt.Errorf("encode model: %w", err)
	}
	if err := fsys.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("write model %s: %w", path, err)
	}
	return nil
}

// Loader opens artifacts from a filesystem.
type Loader struct {
	FS fsutil.FileSystem
}

// Load implements oracle.Loader.
func (l Loader) Load(path string) (oracle.Oracle, error) {
	return Load(l.FS, path)
}

// Load reads a model artifact.
func Load(fsys fsutil.FileSystem, path string) (*Model, error) {
	data, err := fsys.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model %s: %w", path, err)
	}
	if len(data) > maxArtifactSize {
		return nil, fmt.Errorf("model %s too large: %d bytes", path, len(data))
	}
	var a artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("parse model %s: %w", path, err)
	}
	m, err := a.model()
	if err != nil {
		return nil, fmt.Errorf("model %s: %w", path, err)
	}
	return m, nil
}

func (a artifact) model() (*Model, error) {
	if a.Kind != Kind {
		return nil, fmt.Errorf("unsupported artifact kind %q", a.Kind)
	}
	if a.Version != Version {
		return nil, fmt.Errorf("unsupported artifact version %d", a.Version)
	}
	d := len(a.Features)
	if d == 0 {
		return nil, errors.New("artifact has no features")
	}
	if len(a.Mean) != d || len(a.Scale) != d {
		return nil, fmt.Errorf("artifact has %d features but %d means and %d scales", d, len(a.Mean), len(a.Scale))
	}
	if a.Classes != labels.NumClasses || len(a.Weights) != a.Classes {
		return nil, fmt.Errorf("artifact must have %d classes, has %d with %d weight rows",
			labels.NumClasses, a.Classes, len(a.Weights))
	}
	for j, s := range a.Scale {
		if !(s > 0) || math.IsInf(s, 0) {
			return nil, fmt.Errorf("feature %q has invalid scale %g", a.Features[j], s)
		}
	}
	w := mat.NewDense(a.Classes, d+1, nil)
	for c, row := range a.Weights {
		if len(row) != d+1 {
			return nil, fmt.Errorf("weight row %d has %d values, want %d", c, len(row), d+1)
		}
		w.SetRow(c, row)
	}
	return &Model{
		contract: append(features.Contract(nil), a.Features...),
		mean:     append([]float64(nil), a.Mean...),
		scale:    append([]float64(nil), a.Scale...),
		weights:  w,
	}, nil
}
