package softmax

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/bathy.ensemble/internal/config"
	"github.com/banshee-data/bathy.ensemble/internal/features"
	"github.com/banshee-data/bathy.ensemble/internal/fsutil"
	"github.com/banshee-data/bathy.ensemble/internal/labels"
	"github.com/banshee-data/bathy.ensemble/internal/oracle"
	"github.com/banshee-data/bathy.ensemble/internal/testutil"
)

// separableSet has a detector column that determines the class and an
// elevation column that only weakly agrees with it.
func separableSet() *features.Set {
	rows := 90
	data := make([]float64, 0, rows*2)
	y := make([]labels.Class, rows)
	for i := range rows {
		c := labels.Class(i % 3)
		code := []float64{0, 40, 41}[c]
		elev := []float64{-15, -8, 0}[c] + float64(i%5)
		data = append(data, code, elev)
		y[i] = c
	}
	return &features.Set{
		Contract: features.Contract{"qtrees", "geoid_corr_h"},
		X:        mat.NewDense(rows, 2, data),
		Labels:   y,
	}
}

func trainSeparable(t *testing.T) *Model {
	t.Helper()
	m, err := Train(separableSet(), OptionsFromConfig(config.EmptyTuningConfig()))
	require.NoError(t, err)
	return m
}

func TestTrain_FitsSeparableData(t *testing.T) {
	t.Parallel()

	set := separableSet()
	m := trainSeparable(t)

	pred, err := m.Predict(set.X)
	require.NoError(t, err)
	assert.Equal(t, set.Labels, pred)

	prob, err := m.PredictProbability(set.X)
	require.NoError(t, err)
	require.NoError(t, oracle.Validate(pred, prob, set.Rows()))
	for i, c := range set.Labels {
		if c == labels.Bathy {
			assert.Greater(t, prob[i], 0.5, "row %d", i)
		} else {
			assert.Less(t, prob[i], 0.5, "row %d", i)
		}
	}
}

func TestTrain_Deterministic(t *testing.T) {
	t.Parallel()

	a := trainSeparable(t)
	b := trainSeparable(t)
	assert.True(t, mat.Equal(a.weights, b.weights))
}

func TestTrain_Errors(t *testing.T) {
	t.Parallel()

	opts := Options{L2: 1e-3, MaxIterations: 10}

	set := separableSet()
	set.Labels = set.Labels[:3]
	_, err := Train(set, opts)
	assert.Error(t, err)

	set = separableSet()
	set.Labels[0] = 7
	_, err = Train(set, opts)
	assert.ErrorIs(t, err, labels.ErrInvalidClass)

	set = separableSet()
	set.Contract = features.Contract{"qtrees"}
	_, err = Train(set, opts)
	assert.Error(t, err)

	_, err = Train(separableSet(), Options{L2: -1, MaxIterations: 10})
	assert.Error(t, err)
}

func TestModel_ImputesMissingValues(t *testing.T) {
	t.Parallel()

	m := trainSeparable(t)
	x := mat.NewDense(2, 2, []float64{40, math.NaN(), math.NaN(), math.NaN()})

	pred, err := m.Predict(x)
	require.NoError(t, err)
	assert.Equal(t, labels.Bathy, pred[0])

	prob, err := m.PredictProbability(x)
	require.NoError(t, err)
	for _, p := range prob {
		assert.False(t, math.IsNaN(p))
	}
}

func TestModel_RejectsWrongWidth(t *testing.T) {
	t.Parallel()

	m := trainSeparable(t)
	_, err := m.Predict(mat.NewDense(1, 3, nil))
	assert.ErrorIs(t, err, features.ErrContractMismatch)
}

func TestModel_Importances(t *testing.T) {
	t.Parallel()

	imp := trainSeparable(t).Importances()
	require.Len(t, imp, 2)
	assert.Equal(t, "qtrees", imp[0].Feature)
	assert.Equal(t, "geoid_corr_h", imp[1].Feature)
	for _, v := range imp {
		assert.GreaterOrEqual(t, v.Mean, 0.0)
		assert.GreaterOrEqual(t, v.Std, 0.0)
	}
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	t.Parallel()

	mfs := fsutil.NewMemoryFileSystem()
	m := trainSeparable(t)
	require.NoError(t, m.Save(mfs, "/models/ensemble.json"))

	loaded, err := Loader{FS: mfs}.Load("/models/ensemble.json")
	require.NoError(t, err)
	assert.Equal(t, m.Features(), loaded.Features())

	set := separableSet()
	want, err := m.PredictProbability(set.X)
	require.NoError(t, err)
	got, err := loaded.PredictProbability(set.X)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestLoad_Errors(t *testing.T) {
	t.Parallel()

	mfs := fsutil.NewMemoryFileSystem()
	tests := []struct {
		name string
		body string
	}{
		{"not json", "{"},
		{"wrong kind", `{"kind":"xgboost","version":1}`},
		{"wrong version", `{"kind":"bathy-softmax","version":9}`},
		{"no features", `{"kind":"bathy-softmax","version":1,"classes":3}`},
		{"wrong class count", `{"kind":"bathy-softmax","version":1,"features":["a"],"mean":[0],"scale":[1],"classes":2,"weights":[[0,0],[0,0]]}`},
		{"zero scale", `{"kind":"bathy-softmax","version":1,"features":["a"],"mean":[0],"scale":[0],"classes":3,"weights":[[0,0],[0,0],[0,0]]}`},
		{"short weights", `{"kind":"bathy-softmax","version":1,"features":["a"],"mean":[0],"scale":[1],"classes":3,"weights":[[0],[0,0],[0,0]]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := "/m/" + tt.name + ".json"
			require.NoError(t, mfs.WriteFile(path, []byte(tt.body), 0644))
			_, err := Load(mfs, path)
			assert.Error(t, err)
		})
	}

	_, err := Load(mfs, "/m/missing.json")
	assert.Error(t, err)
}

func TestTrain_OnAssembledGranule(t *testing.T) {
	t.Parallel()

	tbl := testutil.SyntheticGranule("g", 120, 11)
	set, err := features.NewAssembler(config.EmptyTuningConfig()).Fit(tbl)
	require.NoError(t, err)

	m, err := Train(set, OptionsFromConfig(config.EmptyTuningConfig()))
	require.NoError(t, err)

	got, err := oracle.Run(m, set)
	require.NoError(t, err)

	hits := 0
	for i, c := range got.Classes {
		if c == set.Labels[i] {
			hits++
		}
	}
	assert.Greater(t, float64(hits)/float64(len(set.Labels)), 0.8)
}
