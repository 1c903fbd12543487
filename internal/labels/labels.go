// Package labels maps between the sparse survey classification codes used
// in granule files and the dense three-class scheme used by the classifier.
//
// Canonicalisation is an ordered pipeline of pure column transforms. The
// unknown and water-column folds must run before the dense remap, which only
// recognises {0, 40, 41}.
package labels

import (
	"errors"
	"fmt"
	"math"
)

// Code is a raw survey classification code.
type Code int

// Raw codes found in detector and manual label columns.
const (
	NoClass     Code = 0
	Unknown     Code = 1
	Bathymetry  Code = 40
	SeaSurface  Code = 41
	WaterColumn Code = 45
)

// Class is a dense canonical class id.
type Class int

// Canonical classes emitted by the classifier.
const (
	Unclassified Class = 0
	Bathy        Class = 1
	Surface      Class = 2
)

// NumClasses is the size of the canonical class space.
const NumClasses = 3

// ErrInvalidClass is returned when a canonical value falls outside {0,1,2}.
var ErrInvalidClass = errors.New("invalid canonical class")

// Valid reports whether c is one of the canonical classes.
func (c Class) Valid() bool {
	return c >= Unclassified && c <= Surface
}

func (c Class) String() string {
	switch c {
	case Unclassified:
		return "unclassified"
	case Bathy:
		return "bathy"
	case Surface:
		return "surface"
	}
	return fmt.Sprintf("class(%d)", int(c))
}

// Transform is one named step of a column pipeline.
type Transform struct {
	Name string
	fn   func(float64) float64
}

// Apply returns a new column with the transform applied to every value.
func (t Transform) Apply(col []float64) []float64 {
	out := make([]float64, len(col))
	for i, v := range col {
		out[i] = t.fn(v)
	}
	return out
}

// Pipeline is an ordered list of transforms; order is part of its meaning.
type Pipeline []Transform

// Apply runs every transform in order and returns a new column.
func (p Pipeline) Apply(col []float64) []float64 {
	out := append([]float64(nil), col...)
	for _, t := range p {
		out = t.Apply(out)
	}
	return out
}

// Names lists the transform names in execution order.
func (p Pipeline) Names() []string {
	names := make([]string, len(p))
	for i, t := range p {
		names[i] = t.Name
	}
	return names
}

func replace(from, to float64) func(float64) float64 {
	return func(v float64) float64 {
		if v == from {
			return to
		}
		return v
	}
}

var (
	// FillMissing treats a missing value as "no classification".
	FillMissing = Transform{Name: "fill-missing", fn: func(v float64) float64 {
		if math.IsNaN(v) {
			return float64(NoClass)
		}
		return v
	}}

	// FoldUnknown folds raw "unknown" into "no classification".
	FoldUnknown = Transform{Name: "fold-unknown", fn: replace(float64(Unknown), float64(NoClass))}

	// FoldWaterColumn folds raw "water column" into "no classification".
	FoldWaterColumn = Transform{Name: "fold-water-column", fn: replace(float64(WaterColumn), float64(NoClass))}

	// DenseRemap maps 40 to 1, 41 to 2 and every other code to 0.
	DenseRemap = Transform{Name: "dense-remap", fn: func(v float64) float64 {
		switch v {
		case float64(Bathymetry):
			return float64(Bathy)
		case float64(SeaSurface):
			return float64(Surface)
		}
		return float64(Unclassified)
	}}
)

// FoldPipeline cleans a raw column while staying in raw code space.
var FoldPipeline = Pipeline{FillMissing, FoldUnknown, FoldWaterColumn}

// CanonicalPipeline takes a raw column all the way to canonical ids.
var CanonicalPipeline = Pipeline{FillMissing, FoldUnknown, FoldWaterColumn, DenseRemap}

// Fold returns the raw column with missing, unknown and water-column values
// collapsed to 0. Other codes are left untouched.
func Fold(raw []float64) []float64 {
	return FoldPipeline.Apply(raw)
}

// ToCanonical maps a raw label column to canonical classes.
func ToCanonical(raw []float64) []Class {
	dense := CanonicalPipeline.Apply(raw)
	out := make([]Class, len(dense))
	for i, v := range dense {
		out[i] = Class(v)
	}
	return out
}

// FromCanonical maps canonical classes back to raw codes: 1 to 40, 2 to 41
// and 0 to 0. Any other value is a contract violation.
func FromCanonical(classes []Class) ([]Code, error) {
	out := make([]Code, len(classes))
	for i, c := range classes {
		switch c {
		case Unclassified:
			out[i] = NoClass
		case Bathy:
			out[i] = Bathymetry
		case Surface:
			out[i] = SeaSurface
		default:
			return nil, fmt.Errorf("%w: %d at row %d", ErrInvalidClass, int(c), i)
		}
	}
	return out, nil
}

// CodesToFloat converts raw codes into a table column.
func CodesToFloat(codes []Code) []float64 {
	out := make([]float64, len(codes))
	for i, c := range codes {
		out[i] = float64(c)
	}
	return out
}

// ClassesToFloat converts canonical classes into a numeric column.
func ClassesToFloat(classes []Class) []float64 {
	out := make([]float64, len(classes))
	for i, c := range classes {
		out[i] = float64(c)
	}
	return out
}
