package mcp

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nvandessel/stochsim/internal/config"
	"github.com/nvandessel/stochsim/internal/decision"
	"github.com/nvandessel/stochsim/internal/export"
	"github.com/nvandessel/stochsim/internal/models"
	"github.com/nvandessel/stochsim/internal/ratelimit"
)

func ptr[T any](v T) *T { return &v }

func TestHandleSimulate(t *testing.T) {
	s, _ := setupTestServer(t)
	ctx := context.Background()

	in := SimulateInput{
		RunInput: RunInput{Process: "gbm", Steps: ptr(20), Paths: ptr(300), Seed: ptr(uint32(7))},
		Bins:     25,
		View:     "log",
	}
	_, out, err := s.handleSimulate(ctx, nil, in)
	if err != nil {
		t.Fatalf("handleSimulate() error = %v", err)
	}
	if out.Summary.N != 300 || out.TotalSteps != 20*300 {
		t.Errorf("N = %d total steps = %d", out.Summary.N, out.TotalSteps)
	}
	if len(out.Histogram) != 25 {
		t.Errorf("histogram has %d bins, want 25", len(out.Histogram))
	}
	// Unset fields come from the defaults.
	if out.Params.S0 != 100 || out.Params.Sigma != 0.2 {
		t.Errorf("params = %+v", out.Params)
	}

	// Same seed, same sample.
	_, again, err := s.handleSimulate(ctx, nil, in)
	if err != nil {
		t.Fatal(err)
	}
	if again.Summary.Mean != out.Summary.Mean || again.GeneratorState != out.GeneratorState {
		t.Error("repeated simulation with the same seed differs")
	}
	if again.RunID == out.RunID {
		t.Error("each call should get a fresh run ID")
	}
}

func TestHandleSimulate_Validation(t *testing.T) {
	tests := []struct {
		name string
		in   SimulateInput
	}{
		{"unknown process", SimulateInput{RunInput: RunInput{Process: "cauchy"}}},
		{"bad sigma", SimulateInput{RunInput: RunInput{Sigma: ptr(-1.0)}}},
		{"too few steps", SimulateInput{RunInput: RunInput{Steps: ptr(1)}}},
		{"too many paths", SimulateInput{RunInput: RunInput{Paths: ptr(MaxToolPaths + 1)}}},
		{"too much work", SimulateInput{RunInput: RunInput{Steps: ptr(10_000), Paths: ptr(10_000)}}},
		{"bad view", SimulateInput{RunInput: RunInput{Paths: ptr(10)}, View: "polar"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := setupTestServer(t)
			if _, _, err := s.handleSimulate(context.Background(), nil, tt.in); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestHandleSimulate_TerminalWorkBound(t *testing.T) {
	s, _ := setupTestServer(t)
	// Terminal sampling takes one step per path, so a large step count is fine.
	in := SimulateInput{RunInput: RunInput{Process: "gbm-terminal", Steps: ptr(1_000_000), Paths: ptr(100)}}
	_, out, err := s.handleSimulate(context.Background(), nil, in)
	if err != nil {
		t.Fatalf("handleSimulate() error = %v", err)
	}
	if out.TotalSteps != 100 {
		t.Errorf("total steps = %d, want 100", out.TotalSteps)
	}
}

func TestHandleSimulate_RateLimited(t *testing.T) {
	s, _ := setupTestServer(t)
	in := SimulateInput{RunInput: RunInput{Process: "wiener", Steps: ptr(4), Paths: ptr(2)}}

	var lastErr error
	for i := 0; i < 4; i++ {
		_, _, lastErr = s.handleSimulate(context.Background(), nil, in)
	}
	if !errors.Is(lastErr, ratelimit.ErrLimited) {
		t.Errorf("fourth call error = %v, want rate limit", lastErr)
	}
}

func TestHandlePath(t *testing.T) {
	s, _ := setupTestServer(t)

	in := PathInput{
		RunInput:  RunInput{Process: "gbm", Steps: ptr(16), Paths: ptr(500), Seed: ptr(uint32(3))},
		Decompose: true,
		Envelope:  true,
	}
	_, out, err := s.handlePath(context.Background(), nil, in)
	if err != nil {
		t.Fatalf("handlePath() error = %v", err)
	}
	if len(out.Path) != 17 {
		t.Fatalf("path has %d points, want 17", len(out.Path))
	}
	if out.Params.Paths != 1 {
		t.Errorf("path tool should simulate one path, params = %+v", out.Params)
	}
	if last := out.Path[len(out.Path)-1]; last.Y != out.Terminal || last.X != 1 {
		t.Errorf("last point %+v, terminal %v", last, out.Terminal)
	}
	if len(out.Drift) != 17 || len(out.Diffusion) != 17 || out.Envelope == nil {
		t.Errorf("drift %d diffusion %d envelope %v", len(out.Drift), len(out.Diffusion), out.Envelope)
	}
}

func TestHandlePath_Wiener(t *testing.T) {
	s, _ := setupTestServer(t)
	in := PathInput{RunInput: RunInput{Process: "wiener", Steps: ptr(8)}, Decompose: true}
	_, out, err := s.handlePath(context.Background(), nil, in)
	if err != nil {
		t.Fatal(err)
	}
	if out.Path[0].Y != 0 {
		t.Errorf("Wiener path starts at %v, want 0", out.Path[0].Y)
	}
	if out.Drift != nil || out.Envelope != nil {
		t.Error("Wiener path should have no decomposition and no envelope unless asked")
	}
}

func TestHandleDecide(t *testing.T) {
	tests := []struct {
		name string
		loss string
		tau  *float64
		kind decision.Kind
	}{
		{"squared", "squared", nil, decision.KindSquared},
		{"absolute", "absolute", nil, decision.KindAbsolute},
		{"pinball", "pinball", ptr(0.8), decision.KindPinball},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := setupTestServer(t)
			in := DecideInput{
				RunInput:   RunInput{Process: "gbm-terminal", Paths: ptr(2000), Seed: ptr(uint32(11))},
				Loss:       tt.loss,
				Tau:        tt.tau,
				GridPoints: 60,
			}
			_, out, err := s.handleDecide(context.Background(), nil, in)
			if err != nil {
				t.Fatalf("handleDecide() error = %v", err)
			}
			if out.Result.Loss.Kind != tt.kind || out.Result.N != 2000 {
				t.Errorf("loss %v n %d", out.Result.Loss, out.Result.N)
			}
			if len(out.Result.Curve) != 60 {
				t.Errorf("curve has %d points", len(out.Result.Curve))
			}
			if !out.Agrees {
				t.Errorf("grid minimiser %v disagrees with closed form %v", out.Result.AStar, out.Result.ClosedForm)
			}
		})
	}
}

func TestHandleDecide_InvalidLoss(t *testing.T) {
	s, _ := setupTestServer(t)
	tests := []DecideInput{
		{RunInput: RunInput{Paths: ptr(10)}, Loss: "hinge"},
		{RunInput: RunInput{Paths: ptr(10)}, Loss: "pinball", Tau: ptr(1.0)},
	}
	for _, in := range tests {
		if _, _, err := s.handleDecide(context.Background(), nil, in); !errors.Is(err, models.ErrInvalidParameter) {
			t.Errorf("handleDecide(%+v) error = %v, want ErrInvalidParameter", in, err)
		}
	}
}

func TestHandleTheory(t *testing.T) {
	s, _ := setupTestServer(t)

	_, out, err := s.handleTheory(context.Background(), nil, TheoryInput{
		RunInput: RunInput{Process: "gbm", S0: ptr(50.0), Mu: ptr(0.1), Sigma: ptr(0.3), T: ptr(2.0)},
	})
	if err != nil {
		t.Fatal(err)
	}
	wantMean := 50 * math.Exp(0.2)
	if math.Abs(float64(out.Moments.Mean)-wantMean) > 1e-9 {
		t.Errorf("mean = %v, want %v", out.Moments.Mean, wantMean)
	}
	if out.Envelope == nil {
		t.Error("GBM theory should include the envelope")
	}

	_, term, err := s.handleTheory(context.Background(), nil, TheoryInput{RunInput: RunInput{Process: "gbm-terminal"}})
	if err != nil {
		t.Fatal(err)
	}
	if term.Envelope != nil {
		t.Error("terminal sampling has no time grid, so no envelope")
	}
}

func TestHandleExport(t *testing.T) {
	tests := []struct {
		name string
		in   ExportInput
		rows int
	}{
		{"terminals", ExportInput{RunInput: RunInput{Process: "gbm-terminal", Paths: ptr(500)}, Dataset: "terminals"}, 500},
		{"histogram", ExportInput{RunInput: RunInput{Process: "wiener", Steps: ptr(8), Paths: ptr(200)}, Dataset: "histogram", Bins: 15}, 15},
		{"loss", ExportInput{RunInput: RunInput{Process: "gbm-terminal", Paths: ptr(300)}, Dataset: "loss", Loss: "pinball", Tau: ptr(0.9), GridPoints: 25}, 25},
		{"paths", ExportInput{RunInput: RunInput{Process: "gbm", Steps: ptr(4), Paths: ptr(5)}, Dataset: "paths", Path: "sub/paths.arrow"}, 25},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, auditPath := setupTestServer(t)
			_, out, err := s.handleExport(context.Background(), nil, tt.in)
			if err != nil {
				t.Fatalf("handleExport() error = %v", err)
			}
			if out.Rows != tt.rows || out.Dataset != tt.in.Dataset {
				t.Errorf("output = %+v, want %d rows", out, tt.rows)
			}
			if rel, err := filepath.Rel(s.exportDir, out.Path); err != nil || strings.HasPrefix(rel, "..") {
				t.Errorf("path %q is outside %q", out.Path, s.exportDir)
			}

			f, err := os.Open(out.Path)
			if err != nil {
				t.Fatal(err)
			}
			defer f.Close()
			info, err := export.Inspect(f, nil)
			if err != nil {
				t.Fatal(err)
			}
			if info.Rows != int64(tt.rows) || info.Metadata["run_id"] != out.RunID {
				t.Errorf("Inspect() = %+v", info)
			}

			entries := readAudit(t, auditPath)
			if len(entries) != 1 || entries[0].Params["dataset"] != tt.in.Dataset {
				t.Errorf("audit = %+v", entries)
			}
		})
	}
}

func TestHandleExport_Rejects(t *testing.T) {
	tests := []struct {
		name string
		in   ExportInput
	}{
		{"unknown dataset", ExportInput{Dataset: "frames"}},
		{"escaping path", ExportInput{RunInput: RunInput{Paths: ptr(5), Steps: ptr(4)}, Dataset: "terminals", Path: "../out.arrow"}},
		{"absolute path", ExportInput{RunInput: RunInput{Paths: ptr(5), Steps: ptr(4)}, Dataset: "terminals", Path: "/tmp/out.arrow"}},
		{"bad loss", ExportInput{RunInput: RunInput{Paths: ptr(5), Steps: ptr(4)}, Dataset: "loss", Loss: "hinge"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := setupTestServer(t)
			if _, _, err := s.handleExport(context.Background(), nil, tt.in); err == nil {
				t.Error("expected error")
			}
			if entries, _ := os.ReadDir(s.exportDir); len(entries) != 0 {
				t.Errorf("export directory holds %d entries after a rejected call", len(entries))
			}
		})
	}
}

func TestHandleExport_Retention(t *testing.T) {
	cfg := config.Default()
	cfg.Export.Keep = 1
	dir := t.TempDir()
	s, err := NewServer(&Config{Name: "stochsim-test", Defaults: cfg, ExportDir: dir})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })

	in := ExportInput{RunInput: RunInput{Process: "gbm-terminal", Paths: ptr(10)}, Dataset: "terminals"}
	_, first, err := s.handleExport(context.Background(), nil, in)
	if err != nil {
		t.Fatal(err)
	}
	// Archive names carry millisecond timestamps.
	time.Sleep(5 * time.Millisecond)
	_, second, err := s.handleExport(context.Background(), nil, in)
	if err != nil {
		t.Fatal(err)
	}
	if len(second.Deleted) != 1 || filepath.Base(second.Deleted[0]) != filepath.Base(first.Path) {
		t.Errorf("deleted = %v, want [%s]", second.Deleted, first.Path)
	}
	archives, _ := export.ListArchives(dir)
	if len(archives) != 1 || filepath.Base(archives[0].Path) != filepath.Base(second.Path) {
		t.Errorf("archives = %+v", archives)
	}
}

func TestHandleExport_Disabled(t *testing.T) {
	s, err := NewServer(&Config{Name: "stochsim-test"})
	if err != nil {
		t.Fatal(err)
	}
	in := ExportInput{RunInput: RunInput{Paths: ptr(5)}, Dataset: "terminals"}
	if _, _, err := s.handleExport(context.Background(), nil, in); err == nil {
		t.Error("export without a directory should fail")
	}
}
