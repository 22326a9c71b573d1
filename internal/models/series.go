package models

import (
	"fmt"
	"math"
	"strconv"
)

// Point is one (x, y) coordinate handed to a renderer: (t, value) on a path,
// (x, density) on a reference curve, (a, expected loss) on a loss curve.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Bin is one histogram bar.
type Bin struct {
	Center  float64 `json:"center"`
	Lo      float64 `json:"lo"`
	Hi      float64 `json:"hi"`
	Count   int     `json:"count"`
	Density float64 `json:"density"` // count / (n * width)
}

// View selects the coordinate a GBM terminal histogram is drawn in.
type View string

const (
	ViewLinear View = "linear" // S(T) or W(T)
	ViewLog    View = "log"    // log S(T)
)

// ParseView maps a view name to a View. The empty string means linear.
func ParseView(s string) (View, bool) {
	switch View(s) {
	case "", ViewLinear:
		return ViewLinear, true
	case ViewLog:
		return ViewLog, true
	default:
		return "", false
	}
}

// Stat is a scalar statistic that may be undefined. An undefined statistic is
// NaN in Go and null on the wire, since JSON has no NaN.
type Stat float64

// Undefined is the sentinel returned by statistics over an empty sample.
var Undefined = Stat(math.NaN())

// Defined reports whether s holds a finite value.
func (s Stat) Defined() bool {
	f := float64(s)
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

func (s Stat) MarshalJSON() ([]byte, error) {
	if !s.Defined() {
		return []byte("null"), nil
	}
	return strconv.AppendFloat(nil, float64(s), 'g', -1, 64), nil
}

func (s *Stat) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*s = Undefined
		return nil
	}
	f, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return fmt.Errorf("parsing statistic %q: %w", data, err)
	}
	*s = Stat(f)
	return nil
}
