package report

import (
	"fmt"
	"io"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
)

// HTML renders charts as an interactive go-echarts page.
type HTML struct {
	// AssetsHost overrides where the echarts script is loaded from.
	AssetsHost string
}

// Render implements Renderer.
func (r HTML) Render(w io.Writer, c Chart) error {
	initOpts := opts.Initialization{PageTitle: c.Title, Width: "100%", Height: "720px"}
	if r.AssetsHost != "" {
		initOpts.AssetsHost = r.AssetsHost
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(initOpts),
		charts.WithTitleOpts(opts.Title{Title: c.Title, Subtitle: fmt.Sprintf("view=%s undefined=%d", c.View, c.Undefined)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Bottom: "0"}),
		charts.WithYAxisOpts(opts.YAxis{Min: c.Min(), Max: 1, Name: "score"}),
	)
	bar.SetXAxis(c.Algorithms)
	for m, name := range c.Metrics {
		data := make([]opts.BarData, len(c.Values[m]))
		for a, v := range c.Values[m] {
			data[a] = opts.BarData{Value: v}
		}
		bar.AddSeries(name, data)
	}

	page := components.NewPage()
	page.AddCharts(bar)
	return page.Render(w)
}
