// Package oracle defines the capability interface of the ensemble
// classifier and the checks applied to its output.
//
// An Oracle is loaded once and treated as read-only afterwards. It is
// positional: it only accepts matrices laid out per its Features contract.
package oracle

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/bathy.ensemble/internal/features"
	"github.com/banshee-data/bathy.ensemble/internal/labels"
)

// ErrInvalidPrediction is returned when an oracle's output breaks the
// contract: a class outside {0,1,2}, a probability outside [0,1] or the
// wrong number of rows.
var ErrInvalidPrediction = errors.New("invalid prediction")

// Oracle is a trained classifier.
type Oracle interface {
	// Features is the ordered feature contract the model was trained on.
	Features() features.Contract
	// Predict returns one canonical class per row of x.
	Predict(x mat.Matrix) ([]labels.Class, error)
	// PredictProbability returns the bathymetry class probability per row.
	PredictProbability(x mat.Matrix) ([]float64, error)
}

// Loader opens a model artifact.
type Loader interface {
	Load(path string) (Oracle, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(path string) (Oracle, error)

// Load calls f(path).
func (f LoaderFunc) Load(path string) (Oracle, error) { return f(path) }

// RemoteScheme prefixes model locations served over gRPC.
const RemoteScheme = "grpc://"

// Resolver picks a Loader by location: grpc:// addresses go to Remote,
// everything else is a local artifact file.
type Resolver struct {
	Local  Loader
	Remote Loader
}

// Load opens the model at location.
func (r Resolver) Load(location string) (Oracle, error) {
	if addr, ok := strings.CutPrefix(location, RemoteScheme); ok {
		if r.Remote == nil {
			return nil, fmt.Errorf("no remote loader for %s", location)
		}
		return r.Remote.Load(addr)
	}
	if r.Local == nil {
		return nil, fmt.Errorf("no local loader for %s", location)
	}
	return r.Local.Load(location)
}

// Predictions is validated oracle output for one feature set.
type Predictions struct {
	Classes     []labels.Class
	Probability []float64
}

// Run checks the set against the oracle's contract, runs both predictions
// and validates the output.
func Run(o Oracle, set *features.Set) (Predictions, error) {
	if want := o.Features(); !want.Equal(set.Contract) {
		return Predictions{}, fmt.Errorf("%w: model expects %s, got %s",
			features.ErrContractMismatch, want, set.Contract)
	}

	classes, err := o.Predict(set.X)
	if err != nil {
		return Predictions{}, fmt.Errorf("predict: %w", err)
	}
	prob, err := o.PredictProbability(set.X)
	if err != nil {
		return Predictions{}, fmt.Errorf("predict probability: %w", err)
	}
	if err := Validate(classes, prob, set.Rows()); err != nil {
		return Predictions{}, err
	}
	return Predictions{Classes: classes, Probability: prob}, nil
}

// Validate enforces the output contract for rows input rows.
func Validate(classes []labels.Class, prob []float64, rows int) error {
	if len(classes) != rows {
		return fmt.Errorf("%w: %d classes for %d rows", ErrInvalidPrediction, len(classes), rows)
	}
	if len(prob) != rows {
		return fmt.Errorf("%w: %d probabilities for %d rows", ErrInvalidPrediction, len(prob), rows)
	}
	for i, c := range classes {
		if !c.Valid() {
			return fmt.Errorf("%w: class %d at row %d", ErrInvalidPrediction, int(c), i)
		}
	}
	for i, p := range prob {
		if math.IsNaN(p) || p < 0 || p > 1 {
			return fmt.Errorf("%w: probability %g at row %d", ErrInvalidPrediction, p, i)
		}
	}
	return nil
}
