package softmax

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/bathy.ensemble/internal/config"
	"github.com/banshee-data/bathy.ensemble/internal/features"
	"github.com/banshee-data/bathy.ensemble/internal/labels"
	"github.com/banshee-data/bathy.ensemble/internal/monitoring"
)

// Options control training.
type Options struct {
	// L2 is the ridge penalty on non-bias weights.
	L2 float64
	// MaxIterations bounds the L-BFGS major iterations.
	MaxIterations int
}

// OptionsFromConfig reads training options from cfg.
func OptionsFromConfig(cfg *config.TuningConfig) Options {
	return Options{L2: cfg.GetL2Penalty(), MaxIterations: cfg.GetMaxIterations()}
}

// Train fits a model to an assembled training set. Training is
// deterministic: the same set and options always yield the same weights.
func Train(set *features.Set, opts Options) (*Model, error) {
	rows, d := set.X.Dims()
	if rows == 0 || d == 0 {
		return nil, errors.New("softmax: empty training set")
	}
	if len(set.Labels) != rows {
		return nil, fmt.Errorf("softmax: %d labels for %d rows", len(set.Labels), rows)
	}
	if len(set.Contract) != d {
		return nil, fmt.Errorf("softmax: contract has %d columns, matrix has %d", len(set.Contract), d)
	}
	if opts.L2 < 0 || opts.MaxIterations < 1 {
		return nil, fmt.Errorf("softmax: invalid options %+v", opts)
	}
	for i, c := range set.Labels {
		if !c.Valid() {
			return nil, fmt.Errorf("softmax: %w: %d at row %d", labels.ErrInvalidClass, int(c), i)
		}
	}

	m := &Model{
		contract: append(features.Contract(nil), set.Contract...),
		mean:     make([]float64, d),
		scale:    make([]float64, d),
	}
	col := make([]float64, rows)
	for j := 0; j < d; j++ {
		mat.Col(col, j, set.X)
		m.mean[j], m.scale[j] = columnStats(col)
	}

	z := mat.NewDense(rows, d, nil)
	for i := 0; i < rows; i++ {
		m.standardise(z.RawRowView(i), set.X, i)
	}

	obj := objective{z: z, y: set.Labels, k: labels.NumClasses, l2: opts.L2}
	problem := optimize.Problem{
		Func: obj.loss,
		Grad: obj.grad,
	}
	init := make([]float64, obj.k*(d+1))
	settings := &optimize.Settings{
		MajorIterations:   opts.MaxIterations,
		GradientThreshold: 1e-6,
	}
	result, err := optimize.Minimize(problem, init, settings, &optimize.LBFGS{})
	if result == nil {
		return nil, fmt.Errorf("softmax: optimise: %w", err)
	}
	if err != nil {
		monitoring.Debugf("softmax: optimiser stopped early: %v", err)
	}
	monitoring.Debugf("softmax: %d rows, %d features, loss %.6f after %d iterations (%s)",
		rows, d, result.F, result.Stats.MajorIterations, result.Status)

	m.weights = mat.NewDense(obj.k, d+1, append([]float64(nil), result.X...))
	return m, nil
}

// columnStats returns the mean and standard deviation of the finite values
// of col. Constant or empty columns get a unit scale.
func columnStats(col []float64) (mean, scale float64) {
	vals := make([]float64, 0, len(col))
	for _, v := range col {
		if !math.IsNaN(v) {
			vals = append(vals, v)
		}
	}
	if len(vals) == 0 {
		return 0, 1
	}
	mean, scale = stat.MeanStdDev(vals, nil)
	if !(scale > 0) {
		scale = 1
	}
	return mean, scale
}

// objective is the mean multinomial negative log-likelihood with a ridge
// penalty. Parameters are laid out class by class: bias then weights.
type objective struct {
	z  *mat.Dense
	y  []labels.Class
	k  int
	l2 float64
}

func (o objective) loss(w []float64) float64 {
	rows, d := o.z.Dims()
	logits := make([]float64, o.k)
	var nll float64
	for i := 0; i < rows; i++ {
		o.logits(logits, w, o.z.RawRowView(i), d)
		nll -= logits[o.y[i]] - floats.LogSumExp(logits)
	}
	return nll/float64(rows) + 0.5*o.l2*o.penalty(w, d)
}

func (o objective) grad(g, w []float64) {
	rows, d := o.z.Dims()
	for i := range g {
		g[i] = 0
	}
	p := make([]float64, o.k)
	for i := 0; i < rows; i++ {
		zi := o.z.RawRowView(i)
		o.logits(p, w, zi, d)
		softmaxInPlace(p)
		p[o.y[i]]--
		for c := 0; c < o.k; c++ {
			base := c * (d + 1)
			g[base] += p[c]
			floats.AddScaled(g[base+1:base+1+d], p[c], zi)
		}
	}
	floats.Scale(1/float64(rows), g)
	for c := 0; c < o.k; c++ {
		base := c * (d + 1)
		floats.AddScaled(g[base+1:base+1+d], o.l2, w[base+1:base+1+d])
	}
}

func (o objective) logits(dst, w, z []float64, d int) {
	for c := range dst {
		base := c * (d + 1)
		dst[c] = w[base] + floats.Dot(w[base+1:base+1+d], z)
	}
}

func (o objective) penalty(w []float64, d int) float64 {
	var s float64
	for c := 0; c < o.k; c++ {
		base := c * (d + 1)
		s += floats.Dot(w[base+1:base+1+d], w[base+1:base+1+d])
	}
	return s
}
