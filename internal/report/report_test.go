package report

import (
	"bytes"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/bathy.ensemble/internal/scoring"
)

func binaryRecord(view, algo string, ms ...scoring.Metric) scoring.Record {
	return scoring.Record{View: view, Algorithm: algo, Metrics: ms}
}

func sampleRecords() []scoring.Record {
	d := scoring.Defined
	return []scoring.Record{
		binaryRecord("bathy", "qtrees", d(0.7), d(0.6), d(0.8), d(0.65), d(0.5), d(0.6375)),
		binaryRecord("bathy", "openoceans", d(0.5), d(0.1), d(0.5), d(0.1), d(-0.2), d(0.125)),
		binaryRecord("bathy", "ensemble", d(0.9), scoring.Undefined, d(0.9), d(0.8), d(0.7), scoring.Undefined),
		binaryRecord("surface", "qtrees", d(0.9), d(0.9), d(0.9), d(0.9), d(0.8), d(0.875)),
		{View: "all", Algorithm: "qtrees", Metrics: []scoring.Metric{d(0.8), d(0.7), d(0.6), d(0.8)}},
	}
}

func TestBuild_BinaryView(t *testing.T) {
	t.Parallel()

	c, err := Build("Bathy scores", "bathy", sampleRecords(), []string{"openoceans"})
	require.NoError(t, err)

	assert.Equal(t, []string{"qtrees", "ensemble"}, c.Algorithms)
	assert.Equal(t, BinaryMetrics, c.Metrics)
	assert.Equal(t, [][]float64{
		{0.6375, 0},
		{0.6, 0},
		{0.8, 0.9},
		{0.65, 0.8},
		{0.5, 0.7},
	}, c.Values)
	assert.Equal(t, 2, c.Undefined)
	assert.Equal(t, 0.0, c.Min())
}

func TestBuild_NegativeMCCLowersAxis(t *testing.T) {
	t.Parallel()

	c, err := Build("", "bathy", sampleRecords(), nil)
	require.NoError(t, err)
	assert.Equal(t, -0.2, c.Min())
}

func TestBuild_MulticlassView(t *testing.T) {
	t.Parallel()

	c, err := Build("", "all", sampleRecords(), nil)
	require.NoError(t, err)
	assert.Equal(t, scoring.MultiClassColumns, c.Metrics)
	assert.Equal(t, [][]float64{{0.8}, {0.7}, {0.6}, {0.8}}, c.Values)
}

func TestBuild_NoRecords(t *testing.T) {
	t.Parallel()

	_, err := Build("", "nonsurface", sampleRecords(), nil)
	assert.Error(t, err)
}

func TestPNG_Render(t *testing.T) {
	t.Parallel()

	c, err := Build("Bathy scores", "bathy", sampleRecords(), nil)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, PNG{Width: 300, Height: 200}.Render(&buf, c))

	img, err := png.Decode(&buf)
	require.NoError(t, err)
	assert.Positive(t, img.Bounds().Dx())
}

func TestHTML_Render(t *testing.T) {
	t.Parallel()

	c, err := Build("Bathy scores", "bathy", sampleRecords(), nil)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, HTML{}.Render(&buf, c))

	out := buf.String()
	assert.Contains(t, out, "Bathy scores")
	assert.Contains(t, out, "calF1")
	assert.Contains(t, out, "openoceans")
}
