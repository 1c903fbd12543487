package scoring

import (
	"fmt"
	"slices"
	"strings"
)

// View is a lens under which predictions are rescored.
type View struct {
	Name string
	// Multiclass views report MultiClassColumns; binary views report
	// BinaryColumns for the Positive class.
	Multiclass bool
	Positive   Target
	// DropSurface removes rows whose reference is surface before scoring.
	DropSurface bool
}

// Target names the positive class of a binary view independent of label
// space.
type Target int

// Binary view targets.
const (
	TargetNone Target = iota
	TargetBathy
	TargetSurface
)

// Report columns after the Cls and Name columns.
var (
	BinaryColumns     = []string{"Accuracy", "F1", "BA", "calF1", "MCC", "avg4"}
	MultiClassColumns = []string{"Accuracy", "WghtF1", "MacroF1", "MicroF1"}
)

// Standard views.
var (
	ViewAll        = View{Name: "all", Multiclass: true}
	ViewSurface    = View{Name: "surface", Positive: TargetSurface}
	ViewBathy      = View{Name: "bathy", Positive: TargetBathy}
	ViewNonSurface = View{Name: "nonsurface", Positive: TargetBathy, DropSurface: true}
)

// DefaultViews is the report order.
var DefaultViews = []View{ViewAll, ViewSurface, ViewBathy, ViewNonSurface}

// Columns returns the metric column names reported for v.
func (v View) Columns() []string {
	if v.Multiclass {
		return MultiClassColumns
	}
	return BinaryColumns
}

// ViewByName finds a standard view.
func ViewByName(name string) (View, error) {
	for _, v := range DefaultViews {
		if v.Name == name {
			return v, nil
		}
	}
	return View{}, fmt.Errorf("unknown view %q (want one of %s)", name, strings.Join(ViewNames(), ", "))
}

// ParseViews resolves view names, keeping their order. Empty input selects
// DefaultViews.
func ParseViews(names []string) ([]View, error) {
	if len(names) == 0 {
		return slices.Clone(DefaultViews), nil
	}
	out := make([]View, 0, len(names))
	for _, n := range names {
		v, err := ViewByName(n)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// ViewNames lists the standard view names.
func ViewNames() []string {
	names := make([]string, len(DefaultViews))
	for i, v := range DefaultViews {
		names[i] = v.Name
	}
	return names
}
