package sde

import (
	"errors"
	"math"
	"testing"

	"github.com/nvandessel/stochsim/internal/constants"
	"github.com/nvandessel/stochsim/internal/models"
)

func testParams() models.Params {
	return models.Params{S0: 100, Mu: 0.08, Sigma: 0.2, T: 1, Steps: 16, Paths: 5, Seed: 42}
}

func collect(t *testing.T, s *Simulator, n int) []float64 {
	t.Helper()
	var out []float64
	if _, err := s.Advance(n, func(v float64) { out = append(out, v) }); err != nil {
		t.Fatalf("Advance(%d) error = %v", n, err)
	}
	return out
}

func TestNewRejectsInvalidParams(t *testing.T) {
	p := testParams()
	p.Steps = 1
	_, err := New(models.ProcessWiener, p)
	if !errors.Is(err, models.ErrInvalidParameter) {
		t.Fatalf("New() error = %v, want ErrInvalidParameter", err)
	}

	_, err = New(models.Process("ou"), testParams())
	if !errors.Is(err, models.ErrInvalidParameter) {
		t.Fatalf("New(unknown process) error = %v, want ErrInvalidParameter", err)
	}
}

func TestAdvanceDeterministic(t *testing.T) {
	for _, process := range []models.Process{models.ProcessWiener, models.ProcessGBM, models.ProcessGBMTerminal} {
		t.Run(string(process), func(t *testing.T) {
			a, err := New(process, testParams())
			if err != nil {
				t.Fatal(err)
			}
			b, err := New(process, testParams())
			if err != nil {
				t.Fatal(err)
			}

			// Different chunking, same step sequence.
			var got []float64
			for !a.Done() {
				got = append(got, collect(t, a, 3)...)
			}
			want := collect(t, b, 1000)

			if len(got) != len(want) {
				t.Fatalf("len = %d vs %d", len(got), len(want))
			}
			for i := range got {
				if got[i] != want[i] {
					t.Errorf("terminal %d: %v != %v", i, got[i], want[i])
				}
			}
			if a.GeneratorState() != b.GeneratorState() {
				t.Errorf("generator states differ: %d vs %d", a.GeneratorState(), b.GeneratorState())
			}
		})
	}
}

func TestAdvanceStopsAtTarget(t *testing.T) {
	p := testParams()
	s, err := New(models.ProcessWiener, p)
	if err != nil {
		t.Fatal(err)
	}

	var emitted int
	taken, err := s.Advance(10_000, func(float64) { emitted++ })
	if err != nil {
		t.Fatal(err)
	}
	if taken != p.Steps*p.Paths {
		t.Errorf("taken = %d, want %d", taken, p.Steps*p.Paths)
	}
	if emitted != p.Paths || s.Completed() != p.Paths {
		t.Errorf("emitted = %d, completed = %d, want %d", emitted, s.Completed(), p.Paths)
	}
	if !s.Done() {
		t.Error("Done() = false after target reached")
	}
	if st := s.State(); st.K != p.Steps {
		t.Errorf("final K = %d, want %d", st.K, p.Steps)
	}
	if n, _ := s.Advance(5, nil); n != 0 {
		t.Errorf("Advance after done took %d steps", n)
	}
}

func TestAdvanceStepIndexBounded(t *testing.T) {
	p := testParams()
	s, err := New(models.ProcessGBM, p)
	if err != nil {
		t.Fatal(err)
	}
	for !s.Done() {
		if _, err := s.Advance(1, nil); err != nil {
			t.Fatal(err)
		}
		k := s.State().K
		if k < 0 || k > p.Steps {
			t.Fatalf("K = %d outside [0, %d]", k, p.Steps)
		}
		if got := len(s.Path()); got != k+1 {
			t.Fatalf("path has %d points at K = %d", got, k)
		}
	}
}

func TestWienerTerminalMatchesPath(t *testing.T) {
	p := testParams()
	p.Paths = 2
	s, err := New(models.ProcessWiener, p)
	if err != nil {
		t.Fatal(err)
	}
	terms := collect(t, s, p.Steps)
	if len(terms) != 1 {
		t.Fatalf("emitted %d values after one path", len(terms))
	}
	bg := s.Background()
	if len(bg) != 1 {
		t.Fatalf("background has %d paths, want 1", len(bg))
	}
	last := bg[0][len(bg[0])-1]
	if last.Y != terms[0] {
		t.Errorf("terminal %v != archived path end %v", terms[0], last.Y)
	}
	if math.Abs(last.X-p.T) > 1e-12 {
		t.Errorf("archived path ends at t = %v, want %v", last.X, p.T)
	}
	if st := s.State(); st.K != 0 || st.W != 0 {
		t.Errorf("new path state = %+v, want zero", st)
	}
}

func TestGBMPositive(t *testing.T) {
	p := models.Params{S0: 1, Mu: -2, Sigma: 3, T: 5, Steps: 200, Paths: 50, Seed: 7}
	s, err := New(models.ProcessGBM, p)
	if err != nil {
		t.Fatal(err)
	}
	for !s.Done() {
		if _, err := s.Advance(1, func(v float64) {
			if !(v > 0) {
				t.Fatalf("terminal %v not positive", v)
			}
		}); err != nil {
			t.Fatal(err)
		}
		if st := s.State(); !(st.S > 0) {
			t.Fatalf("S = %v at K = %d", st.S, st.K)
		}
	}
}

func TestZeroVolatilityIsDeterministicGrowth(t *testing.T) {
	p := models.Params{S0: 100, Mu: 0.1, Sigma: 0, T: 2, Steps: 50, Paths: 1, Seed: 3}
	s, err := New(models.ProcessGBM, p)
	if err != nil {
		t.Fatal(err)
	}
	terms := collect(t, s, p.Steps)
	want := 100 * math.Exp(0.1*2)
	if len(terms) != 1 || math.Abs(terms[0]-want) > 1e-9 {
		t.Errorf("terminal = %v, want %v", terms, want)
	}
}

func TestAdvanceComputationErrors(t *testing.T) {
	tests := []struct {
		name     string
		process  models.Process
		params   models.Params
		quantity string
	}{
		{"infinite horizon", models.ProcessWiener, models.Params{S0: 1, T: math.Inf(1), Steps: 2, Paths: 1}, "dt"},
		{"underflowing dt", models.ProcessWiener, models.Params{S0: 1, T: 5e-324, Steps: 4, Paths: 1}, "dt"},
		{"overflowing drift", models.ProcessGBM, models.Params{S0: 1, Mu: 1e308, T: 1, Steps: 2, Paths: 1}, "S"},
		{"underflowing level", models.ProcessGBM, models.Params{S0: 1, Mu: -1e6, T: 1, Steps: 2, Paths: 1}, "S"},
		{"infinite volatility", models.ProcessGBM, models.Params{S0: 1, Sigma: math.Inf(1), T: 1, Steps: 2, Paths: 1}, "logS"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := New(tt.process, tt.params)
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			before := s.State()
			taken, err := s.Advance(10, nil)
			if !errors.Is(err, models.ErrComputation) {
				t.Fatalf("Advance() error = %v, want ErrComputation", err)
			}
			var se *models.StepError
			if !errors.As(err, &se) {
				t.Fatalf("error %T is not a *StepError", err)
			}
			if se.Quantity != tt.quantity {
				t.Errorf("Quantity = %q, want %q", se.Quantity, tt.quantity)
			}
			if taken != 0 {
				t.Errorf("taken = %d, want 0", taken)
			}
			if s.State() != before {
				t.Errorf("state changed on failure: %+v -> %+v", before, s.State())
			}
		})
	}
}

func TestResetRestoresFreshState(t *testing.T) {
	p := testParams()
	fresh, err := New(models.ProcessGBM, p)
	if err != nil {
		t.Fatal(err)
	}
	s, err := New(models.ProcessGBM, p)
	if err != nil {
		t.Fatal(err)
	}
	first := collect(t, s, 40)

	s.Reset()
	s.Reset()
	if s.GeneratorState() != fresh.GeneratorState() {
		t.Errorf("generator state = %d, want %d", s.GeneratorState(), fresh.GeneratorState())
	}
	if s.Completed() != 0 || s.Done() || len(s.Background()) != 0 {
		t.Errorf("reset left completed=%d done=%v background=%d", s.Completed(), s.Done(), len(s.Background()))
	}
	if s.State() != fresh.State() {
		t.Errorf("state = %+v, want %+v", s.State(), fresh.State())
	}
	again := collect(t, s, 40)
	if len(again) != len(first) {
		t.Fatalf("replay emitted %d values, want %d", len(again), len(first))
	}
	for i := range first {
		if again[i] != first[i] {
			t.Errorf("replay terminal %d = %v, want %v", i, again[i], first[i])
		}
	}
}

func TestTerminalModeOneStepPerPath(t *testing.T) {
	p := testParams()
	p.Paths = 100
	s, err := New(models.ProcessGBMTerminal, p)
	if err != nil {
		t.Fatal(err)
	}
	if s.StepsPerPath() != 1 {
		t.Fatalf("StepsPerPath() = %d, want 1", s.StepsPerPath())
	}
	terms := collect(t, s, 30)
	if len(terms) != 30 {
		t.Errorf("emitted %d, want 30", len(terms))
	}
	if len(s.Background()) != 0 {
		t.Errorf("terminal mode archived %d paths", len(s.Background()))
	}
}

func TestBackgroundCapped(t *testing.T) {
	p := models.Params{S0: 1, T: 1, Steps: 2, Paths: constants.MaxBackgroundPaths + 25, Seed: 1}
	s, err := New(models.ProcessWiener, p)
	if err != nil {
		t.Fatal(err)
	}
	collect(t, s, p.Steps*p.Paths)
	if got := len(s.Background()); got != constants.MaxBackgroundPaths {
		t.Errorf("background = %d, want %d", got, constants.MaxBackgroundPaths)
	}
}

func TestDecomposeSumsToLogLevel(t *testing.T) {
	p := testParams()
	s, err := New(models.ProcessGBM, p)
	if err != nil {
		t.Fatal(err)
	}
	collect(t, s, 9)

	drift, diffusion := s.Decompose()
	path := s.Path()
	if len(drift) != len(path) || len(diffusion) != len(path) {
		t.Fatalf("lengths: drift %d diffusion %d path %d", len(drift), len(diffusion), len(path))
	}
	for i, pt := range path {
		want := math.Log(pt.Y) - math.Log(p.S0)
		got := drift[i].Y + diffusion[i].Y
		if math.Abs(got-want) > 1e-9 {
			t.Errorf("k=%d: drift+diffusion = %v, want %v", i, got, want)
		}
	}

	w, err := New(models.ProcessWiener, p)
	if err != nil {
		t.Fatal(err)
	}
	if d, f := w.Decompose(); d != nil || f != nil {
		t.Error("Decompose() for Wiener should return nil")
	}
}

func TestEnvelope(t *testing.T) {
	p := models.Params{S0: 100, Mu: 0.1, Sigma: 0.2, T: 4, Steps: 4, Paths: 1}

	b, err := Envelope(models.ProcessWiener, p)
	if err != nil {
		t.Fatal(err)
	}
	if len(b.Mean) != 5 {
		t.Fatalf("len = %d, want 5", len(b.Mean))
	}
	if b.Upper[4].Y != 2 || b.Lower[4].Y != -2 || b.Mean[4].Y != 0 {
		t.Errorf("Wiener band at T = %+v %+v %+v", b.Mean[4], b.Upper[4], b.Lower[4])
	}

	g, err := Envelope(models.ProcessGBM, p)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(g.Mean[0].Y-100) > 1e-9 {
		t.Errorf("GBM centre at 0 = %v, want 100", g.Mean[0].Y)
	}
	wantUpper := 100 * math.Exp((0.1-0.02)*4+0.2*2)
	if math.Abs(g.Upper[4].Y-wantUpper) > 1e-9 {
		t.Errorf("GBM upper at T = %v, want %v", g.Upper[4].Y, wantUpper)
	}

	if _, err := Envelope(models.ProcessGBM, models.Params{}); !errors.Is(err, models.ErrInvalidParameter) {
		t.Errorf("Envelope(zero params) error = %v", err)
	}

	huge := p
	huge.Mu = 800
	if _, err := Envelope(models.ProcessGBM, huge); !errors.Is(err, models.ErrComputation) {
		t.Errorf("Envelope(mu=800) error = %v, want ErrComputation", err)
	}
	if _, err := Envelope(models.ProcessWiener, huge); err != nil {
		t.Errorf("Wiener envelope ignores mu, error = %v", err)
	}
}
