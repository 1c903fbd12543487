// Package testutil provides shared test utilities and fixtures.
//
// The granule fixtures are deterministic so that tests across packages can
// compare exact outputs.
package testutil

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/banshee-data/bathy.ensemble/internal/fsutil"
	"github.com/banshee-data/bathy.ensemble/internal/granule"
)

// AssertNoError fails the test if err is not nil.
func AssertNoError(t testing.TB, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t testing.TB, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// Col is one named column of a fixture table.
type Col struct {
	Name   string
	Values []float64
}

// NewGranule builds a table from columns in the given order. All columns
// must have the same length.
func NewGranule(t testing.TB, name string, cols ...Col) *granule.Table {
	t.Helper()
	rows := 0
	if len(cols) > 0 {
		rows = len(cols[0].Values)
	}
	tbl := granule.NewTable(name, rows)
	for _, c := range cols {
		AssertNoError(t, tbl.Set(c.Name, c.Values))
	}
	return tbl
}

// Detectors are the detector columns written by SyntheticGranule.
var Detectors = []string{"coastnet", "cshelph", "medianfilter", "qtrees"}

// SyntheticGranule returns a granule of n points: a flat sea surface at
// 0 m, a gently sloping seabed near -8 m and scattered noise. Every third
// point belongs to each group. Detector columns agree with the truth most of
// the time and make different, repeatable mistakes.
func SyntheticGranule(name string, n int, seed uint64) *granule.Table {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))

	index := make([]float64, n)
	x := make([]float64, n)
	h := make([]float64, n)
	surf := make([]float64, n)
	truth := make([]float64, n)
	coastnet := make([]float64, n)
	cshelph := make([]float64, n)
	median := make([]float64, n)
	qtrees := make([]float64, n)

	for i := range n {
		index[i] = float64(i)
		x[i] = float64(i) * 0.7
		surf[i] = 0.05 * math.Sin(x[i]/5)

		switch i % 3 {
		case 0:
			truth[i] = 41
			h[i] = surf[i] + 0.1*rng.NormFloat64()
		case 1:
			truth[i] = 40
			h[i] = -8 - 0.01*x[i] + 0.2*rng.NormFloat64()
		default:
			truth[i] = 0
			h[i] = -20 + 22*rng.Float64()
		}

		qtrees[i] = truth[i]
		if rng.Float64() < 0.1 {
			qtrees[i] = 0
		}

		coastnet[i] = truth[i]
		if truth[i] == 0 && i%7 == 2 {
			coastnet[i] = 40
		}

		switch truth[i] {
		case 40:
			cshelph[i] = 40
		case 0:
			if i%5 == 2 {
				cshelph[i] = 45
			}
		}

		median[i] = truth[i]
		if truth[i] == 41 && i%4 == 0 {
			median[i] = 1
		}
	}

	tbl := granule.NewTable(name, n)
	for _, c := range []Col{
		{"index_ph", index},
		{"x_atc", x},
		{"geoid_corr_h", h},
		{"surface_h", surf},
		{"coastnet", coastnet},
		{"cshelph", cshelph},
		{"medianfilter", median},
		{"qtrees", qtrees},
		{"manual_label", truth},
	} {
		// Lengths are equal by construction.
		_ = tbl.Set(c.Name, c.Values)
	}
	return tbl
}

// WriteGranule stores tbl as CSV at path.
func WriteGranule(t testing.TB, fsys fsutil.FileSystem, path string, tbl *granule.Table) {
	t.Helper()
	AssertNoError(t, granule.WriteCSV(fsys, path, tbl))
}
