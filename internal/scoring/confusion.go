package scoring

import "math"

// Confusion is a 2x2 confusion matrix of a binary collapse.
type Confusion struct {
	TP, FP, FN, TN int
}

// Collapse counts a binary comparison where positive is the only positive
// label. ref and pred must have equal length.
func Collapse(ref, pred []float64, positive float64) Confusion {
	var c Confusion
	for i, r := range ref {
		actual := r == positive
		predicted := pred[i] == positive
		switch {
		case actual && predicted:
			c.TP++
		case actual:
			c.FN++
		case predicted:
			c.FP++
		default:
			c.TN++
		}
	}
	return c
}

// Total is the number of compared rows.
func (c Confusion) Total() int { return c.TP + c.FP + c.FN + c.TN }

// Add returns the cell-wise sum.
func (c Confusion) Add(o Confusion) Confusion {
	return Confusion{TP: c.TP + o.TP, FP: c.FP + o.FP, FN: c.FN + o.FN, TN: c.TN + o.TN}
}

// Rates are the conditional rates of a confusion matrix.
type Rates struct {
	TPR, FPR, TNR, FNR Metric
	PPV, NPV, FOR, FDR Metric
}

// Rates derives every rate; a zero denominator leaves a rate undefined.
func (c Confusion) Rates() Rates {
	tpr := ratio(c.TP, c.TP+c.FN)
	fpr := ratio(c.FP, c.FP+c.TN)
	return Rates{
		TPR: tpr,
		FPR: fpr,
		TNR: complement(fpr),
		FNR: complement(tpr),
		PPV: ratio(c.TP, c.TP+c.FP),
		NPV: ratio(c.TN, c.TN+c.FN),
		FOR: ratio(c.FN, c.TN+c.FN),
		FDR: ratio(c.FP, c.TP+c.FP),
	}
}

// Scores is the binary metric bundle.
type Scores struct {
	Accuracy Metric
	F1       Metric
	BA       Metric
	CalF1    Metric
	MCC      Metric
	Avg4     Metric
}

// Metrics returns the bundle in report column order.
func (s Scores) Metrics() []Metric {
	return []Metric{s.Accuracy, s.F1, s.BA, s.CalF1, s.MCC, s.Avg4}
}

// Scores computes the binary bundle. r0 is the reference prevalence ratio of
// the calibrated F1.
func (c Confusion) Scores(r0 float64) Scores {
	r := c.Rates()

	var s Scores
	s.Accuracy = ratio(c.TP+c.TN, c.Total())
	s.F1 = ratio(2*c.TP, 2*c.TP+c.FP+c.FN)
	s.BA = Mean(r.TPR, r.TNR)

	if r.TPR.Valid && r.FPR.Valid && r0 > 0 {
		s.CalF1 = Defined(2 * r.TPR.Value / (r.TPR.Value + r.FPR.Value/r0 + 1))
	}

	pos := product(r.TPR, r.TNR, r.PPV, r.NPV)
	neg := product(r.FNR, r.FPR, r.FOR, r.FDR)
	if pos.Valid && neg.Valid {
		s.MCC = Defined(math.Sqrt(pos.Value) - math.Sqrt(neg.Value))
	}

	s.Avg4 = Mean(s.F1, s.BA, s.CalF1, s.MCC)
	return s
}
