// Package scoring turns prediction columns into confusion matrices and
// metric records under several class-collapse views.
//
// A metric whose denominator is zero is undefined rather than NaN. Undefined
// values propagate: any composite built from an undefined input is itself
// undefined, and averaging across folds never mixes defined and undefined
// values silently.
package scoring

import (
	"fmt"
	"math"
	"strconv"
)

// UndefinedText is how an undefined metric is written in reports.
const UndefinedText = "undefined"

// Metric is a score that may be undefined.
type Metric struct {
	Value float64
	Valid bool
}

// Defined returns a valid metric.
func Defined(v float64) Metric { return Metric{Value: v, Valid: true} }

// Undefined is the undefined metric.
var Undefined = Metric{}

// ratio returns num/den, undefined when den is zero.
func ratio(num, den int) Metric {
	if den == 0 {
		return Undefined
	}
	return Defined(float64(num) / float64(den))
}

// complement returns 1-m.
func complement(m Metric) Metric {
	if !m.Valid {
		return Undefined
	}
	return Defined(1 - m.Value)
}

// Mean is the arithmetic mean of ms, undefined if ms is empty or any input
// is undefined.
func Mean(ms ...Metric) Metric {
	if len(ms) == 0 {
		return Undefined
	}
	var sum float64
	for _, m := range ms {
		if !m.Valid {
			return Undefined
		}
		sum += m.Value
	}
	return Defined(sum / float64(len(ms)))
}

func product(ms ...Metric) Metric {
	p := 1.0
	for _, m := range ms {
		if !m.Valid {
			return Undefined
		}
		p *= m.Value
	}
	return Defined(p)
}

// String formats the metric with three decimals.
func (m Metric) String() string {
	if !m.Valid {
		return UndefinedText
	}
	return strconv.FormatFloat(m.Value, 'f', 3, 64)
}

// ParseMetric reads a value written by String.
func ParseMetric(s string) (Metric, error) {
	if s == UndefinedText {
		return Undefined, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return Undefined, fmt.Errorf("parse metric %q: %w", s, err)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return Undefined, fmt.Errorf("parse metric %q: not finite", s)
	}
	return Defined(v), nil
}
