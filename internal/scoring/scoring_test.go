package scoring

import (
	"bytes"
	"math"
	"math/rand/v2"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/bathy.ensemble/internal/granule"
	"github.com/banshee-data/bathy.ensemble/internal/testutil"
)

const tol = 1e-9

func rawEngine() Engine { return Engine{R0: 0.5} }

func TestBathyViewScenario(t *testing.T) {
	t.Parallel()

	ref := []float64{40, 41, 0, 40}
	pred := []float64{40, 41, 0, 41}

	rec := rawEngine().ScoreColumns(ViewBathy, "qtrees", ref, pred)
	assert.Equal(t, Confusion{TP: 1, FP: 0, FN: 1, TN: 2}, rec.Confusion)
	assert.Equal(t, 4, rec.Rows)

	acc, _ := rec.Metric("Accuracy")
	f1, _ := rec.Metric("F1")
	assert.InDelta(t, 0.75, acc.Value, tol)
	assert.InDelta(t, 2.0/3.0, f1.Value, tol)
	assert.Equal(t, "0.667", f1.String())

	ba, _ := rec.Metric("BA")
	assert.InDelta(t, 0.75, ba.Value, tol)
	cal, _ := rec.Metric("calF1")
	assert.InDelta(t, 2*0.5/(0.5+0+1), cal.Value, tol)
	mcc, _ := rec.Metric("MCC")
	assert.InDelta(t, 2/math.Sqrt(12), mcc.Value, tol)
}

func TestCalF1_FalsePositiveRateScaledByR0(t *testing.T) {
	t.Parallel()

	c := Confusion{TP: 30, FP: 7, FN: 11, TN: 52}
	tpr, fpr := 30.0/41.0, 7.0/59.0

	tests := []struct {
		r0   float64
		want float64
	}{
		{0.5, 2 * tpr / (tpr + fpr/0.5 + 1)},
		{0.25, 2 * tpr / (tpr + fpr/0.25 + 1)},
		{2, 2 * tpr / (tpr + fpr/2 + 1)},
	}
	for _, tt := range tests {
		cal := c.Scores(tt.r0).CalF1
		require.True(t, cal.Valid)
		assert.InDelta(t, tt.want, cal.Value, 1e-12, "r0=%g", tt.r0)
	}
	assert.InDelta(t, 0.7432, c.Scores(0.5).CalF1.Value, 1e-4)
}

func TestMCC_MatchesCovarianceFormula(t *testing.T) {
	t.Parallel()

	c := Confusion{TP: 30, FP: 7, FN: 11, TN: 52}
	s := c.Scores(0.5)
	tp, fp, fn, tn := float64(c.TP), float64(c.FP), float64(c.FN), float64(c.TN)
	want := (tp*tn - fp*fn) / math.Sqrt((tp+fp)*(tp+fn)*(tn+fp)*(tn+fn))
	require.True(t, s.MCC.Valid)
	assert.InDelta(t, want, s.MCC.Value, 1e-12)
}

func TestScores_Perfect(t *testing.T) {
	t.Parallel()

	s := Confusion{TP: 5, TN: 5}.Scores(0.5)
	for i, m := range s.Metrics() {
		require.True(t, m.Valid, BinaryColumns[i])
		assert.InDelta(t, 1.0, m.Value, tol, BinaryColumns[i])
	}
}

func TestScores_UndefinedWhenNoPositives(t *testing.T) {
	t.Parallel()

	s := Confusion{TN: 4}.Scores(0.5)
	assert.Equal(t, Defined(1), s.Accuracy)
	assert.False(t, s.F1.Valid)
	assert.False(t, s.BA.Valid)
	assert.False(t, s.CalF1.Valid)
	assert.False(t, s.MCC.Valid)
	assert.False(t, s.Avg4.Valid)
	assert.Equal(t, UndefinedText, s.Avg4.String())
}

func TestScores_UndefinedWhenNoPredictedPositives(t *testing.T) {
	t.Parallel()

	// PPV and FDR have no denominator, so MCC is undefined while F1 is 0.
	s := Confusion{FN: 2, TN: 3}.Scores(0.5)
	assert.Equal(t, Defined(0), s.F1)
	assert.True(t, s.BA.Valid)
	assert.False(t, s.MCC.Valid)
	assert.False(t, s.Avg4.Valid)
}

func TestScores_BoundsAndIdentity(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewPCG(1, 2))
	codes := []float64{0, 1, 40, 41, 45}
	for trial := range 200 {
		n := 1 + rng.IntN(40)
		ref := make([]float64, n)
		pred := make([]float64, n)
		for i := range ref {
			ref[i] = codes[rng.IntN(len(codes))]
			pred[i] = codes[rng.IntN(len(codes))]
		}

		records := make([]Record, 0, len(DefaultViews))
		for _, v := range DefaultViews {
			records = append(records, rawEngine().ScoreColumns(v, "algo", rawEngine().clean(ref), rawEngine().clean(pred)))
		}
		for _, rec := range records[1:] {
			assert.Equal(t, rec.Rows, rec.Confusion.Total(), "trial %d view %s", trial, rec.View)

			for _, name := range []string{"Accuracy", "F1", "BA"} {
				if m, _ := rec.Metric(name); m.Valid {
					assert.True(t, m.Value >= 0 && m.Value <= 1, "%s=%g", name, m.Value)
				}
			}
			if m, _ := rec.Metric("MCC"); m.Valid {
				assert.True(t, m.Value >= -1-tol && m.Value <= 1+tol, "MCC=%g", m.Value)
			}

			avg, _ := rec.Metric("avg4")
			want := Mean(rec.Metrics[1], rec.Metrics[2], rec.Metrics[3], rec.Metrics[4])
			assert.Equal(t, want.Valid, avg.Valid)
			if want.Valid {
				assert.InDelta(t, want.Value, avg.Value, tol)
			}
		}
		assert.Equal(t, n, records[1].Rows)
		assert.Equal(t, n, records[2].Rows)
	}
}

func TestMultiClass(t *testing.T) {
	t.Parallel()

	m := ScoreMultiClass([]float64{40, 41, 0, 40}, []float64{40, 41, 0, 41})
	assert.InDelta(t, 0.75, m.Accuracy.Value, tol)
	assert.InDelta(t, 0.75, m.WeightedF1.Value, tol)
	assert.InDelta(t, (1+2.0/3+2.0/3)/3, m.MacroF1.Value, tol)
	assert.InDelta(t, 0.75, m.MicroF1.Value, tol)

	empty := ScoreMultiClass(nil, nil)
	for _, v := range empty.Metrics() {
		assert.False(t, v.Valid)
	}
}

func TestMultiClass_PredictedOnlyClassCountsInMacro(t *testing.T) {
	t.Parallel()

	m := ScoreMultiClass([]float64{0, 0}, []float64{0, 40})
	// Class 0: F1 = 2/3; class 40: F1 = 0.
	assert.InDelta(t, 1.0/3, m.MacroF1.Value, tol)
	assert.InDelta(t, 2.0/3, m.WeightedF1.Value, tol)
}

func scoringTable(t *testing.T) *granule.Table {
	return testutil.NewGranule(t, "g",
		testutil.Col{Name: "manual_label", Values: []float64{40, 41, 45, 40, 1, math.NaN()}},
		testutil.Col{Name: "qtrees", Values: []float64{40, 41, 0, 41, 0, 40}},
		testutil.Col{Name: "ensemble", Values: []float64{40, 41, 1, 40, 45, 0}},
	)
}

func TestEngine_Score(t *testing.T) {
	t.Parallel()

	records, err := rawEngine().Score(scoringTable(t), "manual_label", []string{"qtrees", "ensemble"}, DefaultViews)
	require.NoError(t, err)
	require.Len(t, records, 8)

	var keys []Key
	for _, r := range records {
		keys = append(keys, r.Key())
	}
	assert.Equal(t, []Key{
		{"all", "qtrees"}, {"all", "ensemble"},
		{"surface", "qtrees"}, {"surface", "ensemble"},
		{"bathy", "qtrees"}, {"bathy", "ensemble"},
		{"nonsurface", "qtrees"}, {"nonsurface", "ensemble"},
	}, keys)

	// The ensemble is correct once 1, 45 and missing values fold to 0.
	for _, r := range records {
		if r.Algorithm != "ensemble" {
			continue
		}
		acc, _ := r.Metric("Accuracy")
		assert.Equal(t, Defined(1), acc, r.View)
	}

	nonsurface := records[7]
	assert.Equal(t, 5, nonsurface.Rows)
	assert.Equal(t, Confusion{TP: 2, TN: 3}, nonsurface.Confusion)

	bathyQ := records[4]
	assert.Equal(t, Confusion{TP: 1, FP: 1, FN: 1, TN: 3}, bathyQ.Confusion)
}

func TestEngine_RawCodesFoldInEveryView(t *testing.T) {
	t.Parallel()

	ref := []float64{40, 41, 45, 1, 0, 40, 41, 45}
	pred := []float64{40, 1, 45, 0, 45, 41, 41, 1}
	replaced := func(col []float64) []float64 {
		out := make([]float64, len(col))
		for i, v := range col {
			if v != 1 && v != 45 {
				out[i] = v
			}
		}
		return out
	}

	score := func(ref, pred []float64) []Record {
		tbl := testutil.NewGranule(t, "g",
			testutil.Col{Name: "manual_label", Values: ref},
			testutil.Col{Name: "ensemble", Values: pred},
		)
		records, err := rawEngine().Score(tbl, "manual_label", []string{"ensemble"}, DefaultViews)
		require.NoError(t, err)
		return records
	}

	raw := score(ref, pred)
	require.Len(t, raw, len(DefaultViews))
	assert.Equal(t, score(replaced(ref), replaced(pred)), raw)
	assert.Equal(t, "all", raw[0].View)
}

func TestEngine_Canonical(t *testing.T) {
	t.Parallel()

	e := Engine{R0: 0.5, Canonical: true}
	rec := e.ScoreColumns(ViewSurface, "ensemble", []float64{2, 2, 1, 0}, []float64{2, 1, 1, 0})
	assert.Equal(t, Confusion{TP: 1, FN: 1, TN: 2}, rec.Confusion)

	rec = e.ScoreColumns(ViewNonSurface, "ensemble", []float64{2, 2, 1, 0}, []float64{2, 1, 1, 0})
	assert.Equal(t, 2, rec.Rows)
	assert.Equal(t, Confusion{TP: 1, TN: 1}, rec.Confusion)
}

func TestEngine_ScoreErrors(t *testing.T) {
	t.Parallel()

	tbl := scoringTable(t)
	_, err := rawEngine().Score(tbl, "manual_label", []string{"qtrees", "coastnet"}, DefaultViews)
	assert.ErrorIs(t, err, granule.ErrSchema)

	_, err = rawEngine().Score(tbl, "manual_label", nil, DefaultViews)
	assert.ErrorIs(t, err, granule.ErrSchema)
}

func TestEngine_MissingReferenceIsUnclassified(t *testing.T) {
	t.Parallel()

	tbl := testutil.NewGranule(t, "g", testutil.Col{Name: "qtrees", Values: []float64{0, 0, 40}})
	records, err := rawEngine().Score(tbl, "manual_label", []string{"qtrees"}, []View{ViewBathy})
	require.NoError(t, err)
	assert.Equal(t, Confusion{FP: 1, TN: 2}, records[0].Confusion)
}

func TestParseViews(t *testing.T) {
	t.Parallel()

	v, err := ParseViews(nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultViews, v)

	v, err = ParseViews([]string{"bathy", "all"})
	require.NoError(t, err)
	assert.Equal(t, []View{ViewBathy, ViewAll}, v)

	_, err = ParseViews([]string{"water"})
	assert.Error(t, err)
}

func TestWriteReport(t *testing.T) {
	t.Parallel()

	records := []Record{
		{View: "all", Algorithm: "qtrees", Metrics: []Metric{Defined(0.75), Defined(0.75), Defined(7.0 / 9), Defined(0.75)}},
		{View: "bathy", Algorithm: "qtrees", Metrics: []Metric{Defined(0.75), Defined(2.0 / 3), Defined(0.75), Defined(2.0 / 3), Defined(0.57735), Undefined}},
		{View: "bathy", Algorithm: "ensemble", Metrics: []Metric{Defined(1), Defined(1), Defined(1), Defined(1), Defined(1), Defined(1)}},
	}
	var buf bytes.Buffer
	require.NoError(t, WriteReport(&buf, records))

	want := strings.Join([]string{
		"Cls\tName\tAccuracy\tWghtF1\tMacroF1\tMicroF1",
		"all\tqtrees\t0.750\t0.750\t0.778\t0.750",
		"Cls\tName\tAccuracy\tF1\tBA\tcalF1\tMCC\tavg4",
		"bathy\tqtrees\t0.750\t0.667\t0.750\t0.667\t0.577\tundefined",
		"bathy\tensemble\t1.000\t1.000\t1.000\t1.000\t1.000\t1.000",
		"",
	}, "\n")
	assert.Equal(t, want, buf.String())

	back, err := ReadReport(&buf)
	require.NoError(t, err)
	require.Len(t, back, 3)
	assert.Equal(t, Key{"bathy", "qtrees"}, back[1].Key())
	assert.Equal(t, Defined(0.667), back[1].Metrics[1])
	assert.Equal(t, Undefined, back[1].Metrics[5])
	assert.Len(t, back[0].Metrics, 4)
}

func TestReadReport_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
	}{
		{"row before header", "bathy\tq\t1\t1\t1\t1\t1\t1\n"},
		{"unknown columns", "Cls\tName\tFoo\n"},
		{"short row", "Cls\tName\tAccuracy\tF1\tBA\tcalF1\tMCC\tavg4\nbathy\tq\t1\n"},
		{"bad value", "Cls\tName\tAccuracy\tWghtF1\tMacroF1\tMicroF1\nall\tq\t1\tx\t1\t1\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadReport(strings.NewReader(tt.in))
			assert.Error(t, err)
		})
	}
}

func binary(view, algo string, avg4 Metric, c Confusion, rows int) Record {
	return Record{
		View: view, Algorithm: algo, Rows: rows, Confusion: c,
		Metrics: []Metric{Defined(0.9), Defined(0.8), Defined(0.7), Defined(0.6), Defined(0.5), avg4},
	}
}

func TestAverage(t *testing.T) {
	t.Parallel()

	fold1 := []Record{binary("bathy", "ensemble", Defined(0.80), Confusion{TP: 1, TN: 2}, 3)}
	fold2 := []Record{binary("bathy", "ensemble", Defined(0.90), Confusion{TP: 2, FN: 1}, 3)}

	avg, err := Average([][]Record{fold1, fold2})
	require.NoError(t, err)
	require.Len(t, avg, 1)

	a4, _ := avg[0].Metric("avg4")
	require.True(t, a4.Valid)
	assert.InDelta(t, 0.85, a4.Value, 1e-12)
	assert.Equal(t, "0.850", a4.String())
	assert.Equal(t, 6, avg[0].Rows)
	assert.Equal(t, Confusion{TP: 3, FN: 1, TN: 2}, avg[0].Confusion)
}

func TestAverage_UndefinedPropagates(t *testing.T) {
	t.Parallel()

	fold1 := []Record{binary("surface", "qtrees", Defined(0.5), Confusion{}, 0)}
	fold2 := []Record{binary("surface", "qtrees", Undefined, Confusion{}, 0)}
	avg, err := Average([][]Record{fold1, fold2})
	require.NoError(t, err)
	a4, _ := avg[0].Metric("avg4")
	assert.False(t, a4.Valid)
}

func TestAverage_Mismatch(t *testing.T) {
	t.Parallel()

	a := binary("bathy", "qtrees", Defined(0.5), Confusion{}, 0)
	b := binary("bathy", "coastnet", Defined(0.5), Confusion{}, 0)

	tests := []struct {
		name  string
		folds [][]Record
	}{
		{"no folds", nil},
		{"different algorithm", [][]Record{{a}, {b}}},
		{"subset", [][]Record{{a, b}, {a}}},
		{"duplicate", [][]Record{{a, a}, {a, a}}},
		{"metric count", [][]Record{{a}, {{View: "bathy", Algorithm: "qtrees", Metrics: []Metric{Defined(1)}}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Average(tt.folds)
			assert.ErrorIs(t, err, ErrFoldMismatch)
		})
	}
}

func TestAverage_OrderFollowsFirstFold(t *testing.T) {
	t.Parallel()

	a := binary("bathy", "qtrees", Defined(0.5), Confusion{}, 0)
	b := binary("bathy", "coastnet", Defined(0.5), Confusion{}, 0)
	avg, err := Average([][]Record{{b, a}, {a, b}})
	require.NoError(t, err)
	assert.Equal(t, "coastnet", avg[0].Algorithm)
	assert.Equal(t, "qtrees", avg[1].Algorithm)
}

func TestParseMetric(t *testing.T) {
	t.Parallel()

	m, err := ParseMetric("0.125")
	require.NoError(t, err)
	assert.Equal(t, Defined(0.125), m)

	m, err = ParseMetric(UndefinedText)
	require.NoError(t, err)
	assert.Equal(t, Undefined, m)

	_, err = ParseMetric("NaN")
	assert.Error(t, err)
}
