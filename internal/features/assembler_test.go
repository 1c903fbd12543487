package features

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/bathy.ensemble/internal/config"
	"github.com/banshee-data/bathy.ensemble/internal/granule"
	"github.com/banshee-data/bathy.ensemble/internal/labels"
	"github.com/banshee-data/bathy.ensemble/internal/testutil"
)

func testAssembler() Assembler {
	return NewAssembler(config.EmptyTuningConfig())
}

func trainingTable(t *testing.T) *granule.Table {
	return testutil.NewGranule(t, "train",
		testutil.Col{Name: "index_ph", Values: []float64{10, 11, 12}},
		testutil.Col{Name: "x_atc", Values: []float64{1, 2, 3}},
		testutil.Col{Name: "density", Values: []float64{-1, -1.5, -1}},
		testutil.Col{Name: "qtrees", Values: []float64{40, 45, math.NaN()}},
		testutil.Col{Name: "geoid_corr_h", Values: []float64{-8, -20, 0}},
		testutil.Col{Name: "coastnet", Values: []float64{40, 1, 41}},
		testutil.Col{Name: "manual_label", Values: []float64{40, 0, 41}},
	)
}

func TestFit_ExpectedOrderAndFolding(t *testing.T) {
	t.Parallel()

	set, err := testAssembler().Fit(trainingTable(t))
	require.NoError(t, err)

	assert.Equal(t, Contract{"coastnet", "qtrees", "geoid_corr_h", "density"}, set.Contract)
	assert.Equal(t, 3, set.Rows())

	want := mat.NewDense(3, 4, []float64{
		40, 40, -8, -1,
		0, 0, -20, -1.5,
		41, 0, 0, -1,
	})
	assert.True(t, mat.Equal(want, set.X), "X = %v", mat.Formatted(set.X))

	assert.Equal(t, []labels.Class{labels.Bathy, labels.Unclassified, labels.Surface}, set.Labels)
	assert.Equal(t, []float64{10, 11, 12}, set.Side.Index)
	assert.Equal(t, []float64{1, 2, 3}, set.Side.AlongTrack)
}

func TestFit_SideColumnsNeverInMatrix(t *testing.T) {
	t.Parallel()

	set, err := testAssembler().Fit(trainingTable(t))
	require.NoError(t, err)
	assert.NotContains(t, set.Contract, "index_ph")
	assert.NotContains(t, set.Contract, "x_atc")
	assert.NotContains(t, set.Contract, "manual_label")
}

func TestFit_MissingReferenceIsUnclassified(t *testing.T) {
	t.Parallel()

	tbl := testutil.NewGranule(t, "g",
		testutil.Col{Name: "index_ph", Values: []float64{0, 1}},
		testutil.Col{Name: "x_atc", Values: []float64{0, 1}},
		testutil.Col{Name: "qtrees", Values: []float64{40, 41}},
	)
	set, err := testAssembler().Fit(tbl)
	require.NoError(t, err)
	assert.Equal(t, []labels.Class{labels.Unclassified, labels.Unclassified}, set.Labels)
}

func TestFit_SchemaErrors(t *testing.T) {
	t.Parallel()

	noFeatures := testutil.NewGranule(t, "g",
		testutil.Col{Name: "index_ph", Values: []float64{0}},
		testutil.Col{Name: "x_atc", Values: []float64{0}},
	)
	_, err := testAssembler().Fit(noFeatures)
	assert.ErrorIs(t, err, granule.ErrSchema)

	noIndex := testutil.NewGranule(t, "g",
		testutil.Col{Name: "x_atc", Values: []float64{0}},
		testutil.Col{Name: "qtrees", Values: []float64{40}},
	)
	_, err = testAssembler().Fit(noIndex)
	assert.ErrorIs(t, err, granule.ErrSchema)
}

func TestTransform_ReusesContractOrder(t *testing.T) {
	t.Parallel()

	a := testAssembler()
	train, err := a.Fit(trainingTable(t))
	require.NoError(t, err)

	// Same columns, different file order.
	infer := testutil.NewGranule(t, "infer",
		testutil.Col{Name: "geoid_corr_h", Values: []float64{-7}},
		testutil.Col{Name: "density", Values: []float64{-2}},
		testutil.Col{Name: "coastnet", Values: []float64{0}},
		testutil.Col{Name: "qtrees", Values: []float64{40}},
		testutil.Col{Name: "index_ph", Values: []float64{5}},
		testutil.Col{Name: "x_atc", Values: []float64{9}},
	)
	set, err := a.Transform(infer, train.Contract)
	require.NoError(t, err)
	assert.True(t, train.Contract.Equal(set.Contract))
	assert.Equal(t, []float64{0, 40, -7, -2}, mat.Row(nil, 0, set.X))
}

func TestTransform_ContractMismatch(t *testing.T) {
	t.Parallel()

	a := testAssembler()
	contract := Contract{"qtrees", "geoid_corr_h", "density"}

	tests := []struct {
		name    string
		extra   testutil.Col
		drop    string
		message string
	}{
		{
			name:    "detector absent at training time",
			extra:   testutil.Col{Name: "cshelph", Values: []float64{40}},
			message: "not in training contract cshelph",
		},
		{
			name:    "contract column missing",
			drop:    "density",
			message: "missing density",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cols := []testutil.Col{
				{Name: "index_ph", Values: []float64{0}},
				{Name: "x_atc", Values: []float64{0}},
				{Name: "qtrees", Values: []float64{40}},
				{Name: "geoid_corr_h", Values: []float64{-8}},
				{Name: "density", Values: []float64{-1}},
			}
			if tt.extra.Name != "" {
				cols = append(cols, tt.extra)
			}
			var kept []testutil.Col
			for _, c := range cols {
				if c.Name != tt.drop {
					kept = append(kept, c)
				}
			}

			_, err := a.Transform(testutil.NewGranule(t, "infer", kept...), contract)
			require.ErrorIs(t, err, ErrContractMismatch)
			assert.Contains(t, err.Error(), tt.message)
		})
	}

	_, err := a.Transform(trainingTable(t), nil)
	assert.ErrorIs(t, err, ErrContractMismatch)
}

func TestContract(t *testing.T) {
	t.Parallel()

	c := Contract{"a", "b"}
	assert.True(t, c.Equal(Contract{"a", "b"}))
	assert.False(t, c.Equal(Contract{"b", "a"}))
	assert.Equal(t, "a,b", c.String())
}
