package montecarlo

import (
	"encoding/json"
	"math"
	"strings"
	"testing"

	"github.com/nvandessel/stochsim/internal/constants"
	"github.com/nvandessel/stochsim/internal/models"
	"github.com/nvandessel/stochsim/internal/sde"
)

var wienerParams = models.Params{S0: 1, T: 1, Steps: 4, Paths: 10}

func ingestAll(a *Aggregate, xs ...float64) {
	for _, x := range xs {
		a.Ingest(x)
	}
}

func TestEmptyAggregate(t *testing.T) {
	a := New(models.ProcessWiener, wienerParams)

	mean, variance := a.MeanAndVariance()
	if !math.IsNaN(mean) || !math.IsNaN(variance) {
		t.Errorf("MeanAndVariance() = %v, %v, want NaN, NaN", mean, variance)
	}
	if q := a.Quantile(0.5); !math.IsNaN(q) {
		t.Errorf("Quantile(0.5) = %v, want NaN", q)
	}
	if h := a.Histogram(40, models.ViewLinear); h != nil {
		t.Errorf("Histogram() = %v, want nil", h)
	}
	if _, ok := a.Last(); ok {
		t.Error("Last() ok on empty aggregate")
	}

	s := a.Summary()
	if s.N != 0 || s.Mean.Defined() || s.P50.Defined() {
		t.Errorf("Summary() = %+v, want undefined fields", s)
	}
	data, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("json.Marshal(Summary) error = %v", err)
	}
	if !strings.Contains(string(data), `"mean":null`) {
		t.Errorf("marshaled summary = %s, want null mean", data)
	}
}

func TestMeanAndVariance(t *testing.T) {
	a := New(models.ProcessWiener, wienerParams)
	ingestAll(a, 2, 4, 4, 4, 5, 5, 7, 9)

	mean, variance := a.MeanAndVariance()
	if mean != 5 {
		t.Errorf("mean = %v, want 5", mean)
	}
	if math.Abs(variance-32.0/7) > 1e-12 {
		t.Errorf("variance = %v, want %v", variance, 32.0/7)
	}

	single := New(models.ProcessWiener, wienerParams)
	single.Ingest(3)
	mean, variance = single.MeanAndVariance()
	if mean != 3 || !math.IsNaN(variance) {
		t.Errorf("single sample = %v, %v, want 3, NaN", mean, variance)
	}
}

func TestQuantile(t *testing.T) {
	a := New(models.ProcessWiener, wienerParams)
	ingestAll(a, 40, 10, 30, 20) // order must not matter

	tests := []struct {
		q    float64
		want float64
	}{
		{0, 10},
		{1, 40},
		{0.5, 25},
		{1.0 / 3, 20},
		{0.25, 17.5},
	}
	for _, tt := range tests {
		if got := a.Quantile(tt.q); math.Abs(got-tt.want) > 1e-12 {
			t.Errorf("Quantile(%v) = %v, want %v", tt.q, got, tt.want)
		}
	}
	for _, q := range []float64{-0.1, 1.1, math.NaN()} {
		if got := a.Quantile(q); !math.IsNaN(got) {
			t.Errorf("Quantile(%v) = %v, want NaN", q, got)
		}
	}
	if got := a.Samples(); got[0] != 40 {
		t.Errorf("Quantile reordered the samples: %v", got)
	}
}

func TestWienerHistogram(t *testing.T) {
	a := New(models.ProcessWiener, models.Params{S0: 1, T: 4, Steps: 4, Paths: 10})
	ingestAll(a, -7.9, 0.1, 0.2, 8, 100) // 100 is outside +/- 8

	bins := a.Histogram(10, models.ViewLog) // view is ignored for Wiener
	if len(bins) != 10 {
		t.Fatalf("len = %d, want 10", len(bins))
	}
	if bins[0].Lo != -8 || math.Abs(bins[9].Hi-8) > 1e-12 {
		t.Errorf("domain = [%v, %v], want [-8, 8]", bins[0].Lo, bins[9].Hi)
	}

	total := 0
	for _, b := range bins {
		total += b.Count
		if b.Density != float64(b.Count)/(5*1.6) {
			t.Errorf("bin %+v density mismatch", b)
		}
	}
	if total != 4 {
		t.Errorf("binned %d samples, want 4", total)
	}
	if bins[0].Count != 1 || bins[5].Count != 2 || bins[9].Count != 1 {
		t.Errorf("counts = %v", bins)
	}
}

func TestHistogramBinsClamped(t *testing.T) {
	a := New(models.ProcessWiener, wienerParams)
	a.Ingest(0)
	if got := len(a.Histogram(1, models.ViewLinear)); got != constants.MinBins {
		t.Errorf("len = %d, want %d", got, constants.MinBins)
	}
	if got := len(a.Histogram(10_000, models.ViewLinear)); got != constants.MaxBins {
		t.Errorf("len = %d, want %d", got, constants.MaxBins)
	}
}

func TestGBMDomain(t *testing.T) {
	p := models.Params{S0: 100, Mu: 0.08, Sigma: 0.2, T: 1, Steps: 2, Paths: 1}
	a := New(models.ProcessGBM, p)

	m := math.Log(100) + 0.06
	lo, hi := a.Domain(models.ViewLog)
	if math.Abs(lo-(m-0.8)) > 1e-12 || math.Abs(hi-(m+0.8)) > 1e-12 {
		t.Errorf("log domain = [%v, %v]", lo, hi)
	}
	lo, hi = a.Domain(models.ViewLinear)
	if math.Abs(lo-math.Exp(m-0.8)) > 1e-9 || math.Abs(hi-math.Exp(m+0.8)) > 1e-9 {
		t.Errorf("linear domain = [%v, %v]", lo, hi)
	}

	flat := New(models.ProcessGBM, models.Params{S0: 100, Sigma: 0, T: 1, Steps: 2, Paths: 1})
	lo, hi = flat.Domain(models.ViewLog)
	if !(hi > lo) {
		t.Errorf("zero-volatility domain is empty: [%v, %v]", lo, hi)
	}
}

// A histogram of simulated terminal values integrates to roughly the share
// of samples inside the domain, and tracks the reference density.
func TestHistogramMatchesReference(t *testing.T) {
	p := models.Params{S0: 100, Mu: 0.05, Sigma: 0.3, T: 1, Steps: 2, Paths: 20000, Seed: 11}
	sim, err := sde.New(models.ProcessGBMTerminal, p)
	if err != nil {
		t.Fatal(err)
	}
	a := New(models.ProcessGBMTerminal, p)
	if _, err := sim.Advance(p.Paths, a.Ingest); err != nil {
		t.Fatal(err)
	}

	for _, view := range []models.View{models.ViewLog, models.ViewLinear} {
		bins := a.Histogram(constants.DefaultTerminalBins, view)
		var area float64
		for _, b := range bins {
			area += b.Density * (b.Hi - b.Lo)
		}
		if area < 0.99 || area > 1.0000001 {
			t.Errorf("%s: histogram area = %v", view, area)
		}
	}

	bins := a.Histogram(20, models.ViewLog)
	m, s := logNormalParams(p)
	for _, b := range bins {
		if math.Abs(b.Center-m) > s {
			continue
		}
		want := normalPDF(b.Center, m, s)
		if math.Abs(b.Density-want) > 0.15*want {
			t.Errorf("bin at %v: density %v, reference %v", b.Center, b.Density, want)
		}
	}
}

func TestReference(t *testing.T) {
	a := New(models.ProcessWiener, wienerParams)
	ref := a.Reference(models.ViewLinear, 0)
	if len(ref) != constants.DefaultReferencePoints {
		t.Fatalf("len = %d, want %d", len(ref), constants.DefaultReferencePoints)
	}
	if ref[0].X != -4 || math.Abs(ref[len(ref)-1].X-4) > 1e-12 {
		t.Errorf("range = [%v, %v], want [-4, 4]", ref[0].X, ref[len(ref)-1].X)
	}

	mid := a.Reference(models.ViewLinear, 3)[1]
	if mid.X != 0 || math.Abs(mid.Y-1/math.Sqrt(2*math.Pi)) > 1e-12 {
		t.Errorf("midpoint = %+v", mid)
	}

	g := New(models.ProcessGBM, models.Params{S0: 100, Mu: 0.08, Sigma: 0.2, T: 1, Steps: 2, Paths: 1})
	for _, pt := range g.Reference(models.ViewLinear, 50) {
		if pt.X <= 0 || pt.Y < 0 {
			t.Fatalf("lognormal reference point %+v", pt)
		}
	}
}

func TestSummary(t *testing.T) {
	a := New(models.ProcessWiener, models.Params{S0: 1, T: 4, Steps: 2, Paths: 5})
	ingestAll(a, 1, 2, 3, 4, 5)

	s := a.Summary()
	if s.N != 5 || s.Mean != 3 || s.Variance != 2.5 {
		t.Errorf("Summary() = %+v", s)
	}
	if s.Min != 1 || s.Max != 5 || s.P50 != 3 {
		t.Errorf("order statistics = %v %v %v", s.Min, s.Max, s.P50)
	}
	if math.Abs(float64(s.P05)-1.2) > 1e-12 || math.Abs(float64(s.P95)-4.8) > 1e-12 {
		t.Errorf("P05, P95 = %v, %v", s.P05, s.P95)
	}
	if s.Last != 5 || s.LastZ != 2.5 {
		t.Errorf("Last, LastZ = %v, %v, want 5, 2.5", s.Last, s.LastZ)
	}
}

func TestTheory(t *testing.T) {
	w := Theory(models.ProcessWiener, models.Params{T: 3})
	if w.Mean != 0 || w.Variance != 3 {
		t.Errorf("Wiener moments = %+v", w)
	}

	p := models.Params{S0: 100, Mu: 0.1, Sigma: 0.2, T: 2}
	g := Theory(models.ProcessGBM, p)
	if math.Abs(float64(g.Mean)-100*math.Exp(0.2)) > 1e-9 {
		t.Errorf("GBM mean = %v", g.Mean)
	}
	wantVar := 1e4 * math.Exp(0.4) * (math.Exp(0.08) - 1)
	if math.Abs(float64(g.Variance)-wantVar) > 1e-6 {
		t.Errorf("GBM variance = %v, want %v", g.Variance, wantVar)
	}
	if math.Abs(float64(g.LogStdDev)-0.2*math.Sqrt2) > 1e-12 {
		t.Errorf("LogStdDev = %v", g.LogStdDev)
	}
}

func TestTheoryOverflow(t *testing.T) {
	p := models.Params{S0: 100, Mu: 800, Sigma: 0.2, T: 1, Steps: 4, Paths: 10}
	m := Theory(models.ProcessGBM, p)
	if m.Mean.Defined() || m.Variance.Defined() || !m.LogMean.Defined() {
		t.Errorf("moments = %+v, want undefined mean and variance", m)
	}
	data, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("json.Marshal(moments) error = %v", err)
	}
	if !strings.Contains(string(data), `"mean":null,"variance":null`) {
		t.Errorf("moments JSON = %s", data)
	}

	a := New(models.ProcessGBM, p)
	if ref := a.Reference(models.ViewLinear, 50); ref != nil {
		t.Errorf("linear reference past float64 range = %d points, want nil", len(ref))
	}
	ref := a.Reference(models.ViewLog, 50)
	if len(ref) != 50 {
		t.Fatalf("log reference = %d points, want 50", len(ref))
	}
	for _, pt := range ref {
		if math.IsInf(pt.Y, 0) || math.IsNaN(pt.Y) {
			t.Fatalf("log reference point %+v is not finite", pt)
		}
	}
}

func TestReset(t *testing.T) {
	a := New(models.ProcessWiener, wienerParams)
	ingestAll(a, 1, 2, 3)
	a.Reset()
	if a.N() != 0 {
		t.Errorf("N() after Reset = %d", a.N())
	}
}
