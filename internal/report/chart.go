// Package report renders scoring reports as grouped bar charts: one group
// per algorithm, one bar per metric.
package report

import (
	"fmt"
	"io"
	"slices"

	"github.com/banshee-data/bathy.ensemble/internal/scoring"
)

// BinaryMetrics is the metric order plotted for binary views.
var BinaryMetrics = []string{"avg4", "F1", "BA", "calF1", "MCC"}

// Chart is the data of one view's bar chart.
type Chart struct {
	Title      string
	View       string
	Algorithms []string
	Metrics    []string
	// Values[m][a] is metric m of algorithm a. Undefined metrics are 0.
	Values [][]float64
	// Undefined counts the metrics drawn as 0 because they were undefined.
	Undefined int
}

// Min is the lowest plotted value, never above 0.
func (c Chart) Min() float64 {
	lo := 0.0
	for _, vs := range c.Values {
		for _, v := range vs {
			lo = min(lo, v)
		}
	}
	return lo
}

// Build collects the records of view into a chart. Algorithms listed in
// exclude are left out.
func Build(title, view string, records []scoring.Record, exclude []string) (Chart, error) {
	c := Chart{Title: title, View: view}
	var selected []scoring.Record
	for _, r := range records {
		if r.View != view || slices.Contains(exclude, r.Algorithm) {
			continue
		}
		selected = append(selected, r)
		c.Algorithms = append(c.Algorithms, r.Algorithm)
	}
	if len(selected) == 0 {
		return c, fmt.Errorf("no records for view %q", view)
	}

	c.Metrics = BinaryMetrics
	if v, err := scoring.ViewByName(view); err == nil && v.Multiclass {
		c.Metrics = scoring.MultiClassColumns
	}

	c.Values = make([][]float64, len(c.Metrics))
	for m, name := range c.Metrics {
		c.Values[m] = make([]float64, len(selected))
		for a, r := range selected {
			v, ok := r.Metric(name)
			if !ok {
				return c, fmt.Errorf("%s/%s has no %s metric", r.View, r.Algorithm, name)
			}
			if !v.Valid {
				c.Undefined++
				continue
			}
			c.Values[m][a] = v.Value
		}
	}
	return c, nil
}

// Renderer writes a chart in one output format.
type Renderer interface {
	Render(w io.Writer, c Chart) error
}
