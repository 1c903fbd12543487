package scoring

import "sort"

// MultiClass is the metric bundle of the full multiclass comparison.
type MultiClass struct {
	Accuracy   Metric
	WeightedF1 Metric
	MacroF1    Metric
	MicroF1    Metric
}

// Metrics returns the bundle in report column order.
func (m MultiClass) Metrics() []Metric {
	return []Metric{m.Accuracy, m.WeightedF1, m.MacroF1, m.MicroF1}
}

// ScoreMultiClass compares ref and pred over the union of labels seen in
// either column. Per-class F1 is one-vs-rest; the weighted mean uses
// reference support.
func ScoreMultiClass(ref, pred []float64) MultiClass {
	n := len(ref)
	if n == 0 {
		return MultiClass{}
	}

	seen := make(map[float64]bool)
	hits := 0
	for i, r := range ref {
		seen[r] = true
		seen[pred[i]] = true
		if r == pred[i] {
			hits++
		}
	}
	classes := make([]float64, 0, len(seen))
	for c := range seen {
		classes = append(classes, c)
	}
	sort.Float64s(classes)

	var macro, weighted float64
	var support, sumTP, sumFP, sumFN int
	for _, c := range classes {
		conf := Collapse(ref, pred, c)
		f1 := ratio(2*conf.TP, 2*conf.TP+conf.FP+conf.FN)
		// Every class in the union has TP+FP+FN > 0.
		macro += f1.Value
		weighted += f1.Value * float64(conf.TP+conf.FN)
		support += conf.TP + conf.FN
		sumTP += conf.TP
		sumFP += conf.FP
		sumFN += conf.FN
	}

	return MultiClass{
		Accuracy:   ratio(hits, n),
		WeightedF1: Defined(weighted / float64(support)),
		MacroF1:    Defined(macro / float64(len(classes))),
		MicroF1:    ratio(2*sumTP, 2*sumTP+sumFP+sumFN),
	}
}
