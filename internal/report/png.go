package report

import (
	"fmt"
	"io"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

// PNG renders charts as images with gonum/plot.
type PNG struct {
	Width, Height vg.Length
}

// DefaultPNG is a landscape chart sized for a handful of algorithms.
var DefaultPNG = PNG{Width: 10 * vg.Inch, Height: 6 * vg.Inch}

// Render implements Renderer.
func (r PNG) Render(w io.Writer, c Chart) error {
	p := plot.New()
	p.Title.Text = c.Title
	p.Y.Label.Text = "score"
	p.Y.Min = c.Min()
	p.Y.Max = 1
	p.Add(plotter.NewGrid())
	p.Legend.Top = false
	p.Legend.Left = false

	width := vg.Points(60 / float64(len(c.Metrics)))
	for m, name := range c.Metrics {
		bars, err := plotter.NewBarChart(plotter.Values(c.Values[m]), width)
		if err != nil {
			return fmt.Errorf("bars for %s: %w", name, err)
		}
		bars.LineStyle.Width = vg.Length(0)
		bars.Color = plotutil.Color(m)
		bars.Offset = width * vg.Length(2*m-len(c.Metrics)+1) / 2
		p.Add(bars)
		p.Legend.Add(name, bars)
	}
	p.NominalX(c.Algorithms...)

	wt, err := p.WriterTo(r.Width, r.Height, "png")
	if err != nil {
		return fmt.Errorf("render png: %w", err)
	}
	_, err = wt.WriteTo(w)
	return err
}
