package granule

import (
	"bytes"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/bathy.ensemble/internal/fsutil"
)

const sampleCSV = `index_ph,x_atc,geoid_corr_h,prediction,cshelph,manual_label
0,100.5,-1.25,40,0,40
1,101.0,-1.5,41,41,41
2,101.5,,0,45,
`

func TestDecode(t *testing.T) {
	t.Parallel()

	tbl, err := Decode(strings.NewReader(sampleCSV), "g1.csv", Schema{
		Required: []string{"index_ph", "x_atc", "geoid_corr_h"},
		Aliases:  DefaultAliases,
	})
	require.NoError(t, err)

	assert.Equal(t, 3, tbl.Len())
	assert.Equal(t, "g1.csv", tbl.Name)
	assert.Equal(t,
		[]string{"index_ph", "x_atc", "geoid_corr_h", "qtrees", "cshelph", "manual_label"},
		tbl.Columns())

	q, ok := tbl.Column("qtrees")
	require.True(t, ok)
	assert.Equal(t, []float64{40, 41, 0}, q)

	h, _ := tbl.Column("geoid_corr_h")
	assert.True(t, math.IsNaN(h[2]))
	ref, _ := tbl.Column("manual_label")
	assert.True(t, math.IsNaN(ref[2]))
}

func TestDecode_AliasDoesNotShadowCanonicalColumn(t *testing.T) {
	t.Parallel()

	in := "index_ph,x_atc,geoid_corr_h,qtrees,prediction\n0,1,2,40,41\n"
	tbl, err := Decode(strings.NewReader(in), "g", Schema{Aliases: DefaultAliases})
	require.NoError(t, err)

	q, _ := tbl.Column("qtrees")
	p, _ := tbl.Column("prediction")
	assert.Equal(t, []float64{40}, q)
	assert.Equal(t, []float64{41}, p)
}

func TestDecode_SchemaErrors(t *testing.T) {
	t.Parallel()

	required := Schema{Required: []string{"index_ph", "x_atc", "geoid_corr_h"}}
	tests := []struct {
		name string
		in   string
	}{
		{"empty file", ""},
		{"header only", "index_ph,x_atc,geoid_corr_h\n"},
		{"missing geometry", "index_ph,x_atc\n0,1\n"},
		{"missing index", "x_atc,geoid_corr_h\n0,1\n"},
		{"ragged row", "index_ph,x_atc,geoid_corr_h\n0,1\n"},
		{"bad number", "index_ph,x_atc,geoid_corr_h\n0,abc,1\n"},
		{"duplicate header", "index_ph,x_atc,x_atc,geoid_corr_h\n0,1,1,1\n"},
		{"blank header", "index_ph,,geoid_corr_h\n0,1,1\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(strings.NewReader(tt.in), "bad.csv", required)
			assert.ErrorIs(t, err, ErrSchema)
		})
	}
}

func TestEncode_RoundTrip(t *testing.T) {
	t.Parallel()

	tbl := NewTable("out", 3)
	require.NoError(t, tbl.Set("index_ph", []float64{0, 1, 2}))
	require.NoError(t, tbl.Set("ensemble_prob", []float64{0.25, math.NaN(), 1}))
	require.NoError(t, tbl.Set("ensemble", []float64{40, 0, 41}))

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, tbl))
	assert.Equal(t, "index_ph,ensemble_prob,ensemble\n0,0.25,40\n1,,0\n2,1,41\n", buf.String())

	back, err := Decode(&buf, "out", Schema{})
	require.NoError(t, err)
	assert.Equal(t, tbl.Columns(), back.Columns())
}

func TestReadWriteCSV_MemoryFS(t *testing.T) {
	t.Parallel()

	mfs := fsutil.NewMemoryFileSystem()
	require.NoError(t, mfs.WriteFile("/in/g.csv", []byte(sampleCSV), 0644))

	tbl, err := ReadCSV(mfs, "/in/g.csv", Schema{Aliases: DefaultAliases})
	require.NoError(t, err)
	require.NoError(t, WriteCSV(mfs, "/out/g.csv", tbl))

	data, err := mfs.ReadFile("/out/g.csv")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "index_ph,x_atc,geoid_corr_h,qtrees,cshelph,manual_label\n"))
	assert.Contains(t, string(data), "2,101.5,,0,45,\n")

	_, err = ReadCSV(mfs, "/in/missing.csv", Schema{})
	assert.Error(t, err)
}

func TestTable_SetAndSelect(t *testing.T) {
	t.Parallel()

	tbl := NewTable("g", 3)
	require.NoError(t, tbl.Set("a", []float64{1, 2, 3}))
	assert.ErrorIs(t, tbl.Set("b", []float64{1}), ErrSchema)
	assert.ErrorIs(t, tbl.Require("a", "b", "c"), ErrSchema)
	assert.NoError(t, tbl.Require("a"))

	sub := tbl.Select([]int{2, 0})
	a, _ := sub.Column("a")
	assert.Equal(t, []float64{3, 1}, a)

	clone := tbl.Clone()
	require.NoError(t, clone.Set("a", []float64{9, 9, 9}))
	orig, _ := tbl.Column("a")
	assert.Equal(t, []float64{1, 2, 3}, orig)

	assert.Equal(t, []float64{0, 0, 0}, tbl.ColumnOr("missing", 0))
}

func TestConcat(t *testing.T) {
	t.Parallel()

	g1 := NewTable("g1", 2)
	require.NoError(t, g1.Set("index_ph", []float64{0, 1}))
	require.NoError(t, g1.Set("qtrees", []float64{40, 0}))

	g2 := NewTable("g2", 1)
	require.NoError(t, g2.Set("index_ph", []float64{0}))
	require.NoError(t, g2.Set("coastnet", []float64{41}))

	all, origins, err := Concat("train", g1, g2)
	require.NoError(t, err)
	assert.Equal(t, 3, all.Len())
	assert.Equal(t, []string{"index_ph", "qtrees", "coastnet"}, all.Columns())

	idx, _ := all.Column("index_ph")
	assert.Equal(t, []float64{0, 1, 0}, idx)

	q, _ := all.Column("qtrees")
	assert.True(t, math.IsNaN(q[2]))
	c, _ := all.Column("coastnet")
	assert.True(t, math.IsNaN(c[0]))
	assert.Equal(t, 41.0, c[2])

	assert.Equal(t, []Origin{{"g1", 0}, {"g1", 1}, {"g2", 0}}, origins)

	_, _, err = Concat("none")
	assert.ErrorIs(t, err, ErrSchema)
}
