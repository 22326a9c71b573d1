package metrics

import (
	"io"
	"math"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/nvandessel/stochsim/internal/models"
	"github.com/nvandessel/stochsim/internal/playback"
)

// metricValue finds the value of a counter or gauge with the given labels.
func metricValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if !labelsMatch(m, labels) {
				continue
			}
			switch {
			case m.GetCounter() != nil:
				return m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				return m.GetGauge().GetValue()
			}
		}
	}
	return math.NaN()
}

func labelsMatch(m *dto.Metric, want map[string]string) bool {
	got := map[string]string{}
	for _, lp := range m.GetLabel() {
		got[lp.GetName()] = lp.GetValue()
	}
	for k, v := range want {
		if got[k] != v {
			return false
		}
	}
	return true
}

func TestCollectorObservesEngine(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := New(reg)
	if err != nil {
		t.Fatal(err)
	}

	p := models.Params{S0: 100, Mu: 0.05, Sigma: 0.2, T: 1, Steps: 10, Paths: 4, Seed: 1}
	e, err := playback.NewEngine(models.ProcessGBM, p, playback.Options{Rate: 1000, Observer: c})
	if err != nil {
		t.Fatal(err)
	}
	if err := e.Start(); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Tick(25 * time.Millisecond); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Tick(time.Second); err != nil {
		t.Fatal(err)
	}

	gbm := map[string]string{"process": "gbm"}
	if got := metricValue(t, reg, "stochsim_steps_total", gbm); got != 40 {
		t.Errorf("steps_total = %v, want 40", got)
	}
	if got := metricValue(t, reg, "stochsim_paths_total", gbm); got != 4 {
		t.Errorf("paths_total = %v, want 4", got)
	}
	if got := metricValue(t, reg, "stochsim_ticks_total", gbm); got != 2 {
		t.Errorf("ticks_total = %v, want 2", got)
	}
	if got := metricValue(t, reg, "stochsim_mode", gbm); got != float64(playback.ModeIdle) {
		t.Errorf("mode = %v, want idle", got)
	}
	toIdle := map[string]string{"process": "gbm", "to": "idle"}
	if got := metricValue(t, reg, "stochsim_mode_transitions_total", toIdle); got != 1 {
		t.Errorf("transitions to idle = %v, want 1", got)
	}
}

func TestCollectorCountsErrors(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := New(reg)
	if err != nil {
		t.Fatal(err)
	}

	p := models.Params{S0: 1, T: math.Inf(1), Steps: 2, Paths: 1}
	e, err := playback.NewEngine(models.ProcessWiener, p, playback.Options{Rate: 1000, Observer: c})
	if err != nil {
		t.Fatal(err)
	}
	if err := e.Start(); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Tick(time.Second); err == nil {
		t.Fatal("expected a computation error")
	}

	labels := map[string]string{"process": "wiener", "kind": "computation"}
	if got := metricValue(t, reg, "stochsim_errors_total", labels); got != 1 {
		t.Errorf("errors_total = %v, want 1", got)
	}
}

func TestNewRejectsDoubleRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	if _, err := New(reg); err != nil {
		t.Fatal(err)
	}
	if _, err := New(reg); err == nil {
		t.Error("second New() on the same registry should fail")
	}
}

func TestHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := New(reg)
	if err != nil {
		t.Fatal(err)
	}
	c.ObserveTick(models.ProcessWiener, playback.TickResult{Steps: 3})

	srv := httptest.NewServer(Handler(reg))
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(body), `stochsim_steps_total{process="wiener"} 3`) {
		t.Errorf("metrics output missing steps counter:\n%s", body)
	}
}
