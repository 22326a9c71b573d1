// Package metrics exports engine activity as Prometheus metrics.
package metrics

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nvandessel/stochsim/internal/models"
	"github.com/nvandessel/stochsim/internal/playback"
)

const namespace = "stochsim"

// Collector implements playback.Observer on top of Prometheus collectors.
type Collector struct {
	StepsTotal       *prometheus.CounterVec
	PathsTotal       *prometheus.CounterVec
	TicksTotal       *prometheus.CounterVec
	TickSteps        *prometheus.HistogramVec
	TransitionsTotal *prometheus.CounterVec
	ErrorsTotal      *prometheus.CounterVec
	Mode             *prometheus.GaugeVec
}

var _ playback.Observer = (*Collector)(nil)

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		StepsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "steps_total",
			Help:      "Simulation steps taken",
		}, []string{"process"}),
		PathsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "paths_total",
			Help:      "Paths completed and ingested",
		}, []string{"process"}),
		TicksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_total",
			Help:      "Scheduler ticks processed while running",
		}, []string{"process"}),
		TickSteps: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tick_steps",
			Help:      "Steps taken per tick",
			Buckets:   []float64{0, 1, 4, 16, 64, 256, 1024, 4000, 10000},
		}, []string{"process"}),
		TransitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mode_transitions_total",
			Help:      "Scheduler mode transitions by target mode",
		}, []string{"process", "to"}),
		ErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Runs stopped by an error, by category",
		}, []string{"process", "kind"}),
		Mode: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "mode",
			Help:      "Current scheduler mode: 0=idle, 1=running, 2=paused",
		}, []string{"process"}),
	}

	for _, col := range []prometheus.Collector{
		c.StepsTotal, c.PathsTotal, c.TicksTotal, c.TickSteps,
		c.TransitionsTotal, c.ErrorsTotal, c.Mode,
	} {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// ObserveTick records one tick.
func (c *Collector) ObserveTick(process models.Process, r playback.TickResult) {
	p := string(process)
	c.TicksTotal.WithLabelValues(p).Inc()
	c.StepsTotal.WithLabelValues(p).Add(float64(r.Steps))
	c.PathsTotal.WithLabelValues(p).Add(float64(r.Emitted))
	c.TickSteps.WithLabelValues(p).Observe(float64(r.Steps))
}

// ObserveTransition records a mode change.
func (c *Collector) ObserveTransition(process models.Process, _, to playback.Mode) {
	p := string(process)
	c.TransitionsTotal.WithLabelValues(p, to.String()).Inc()
	c.Mode.WithLabelValues(p).Set(float64(to))
}

// ObserveError records a fatal run error.
func (c *Collector) ObserveError(process models.Process, err error) {
	c.ErrorsTotal.WithLabelValues(string(process), errorKind(err)).Inc()
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, models.ErrComputation):
		return "computation"
	case errors.Is(err, models.ErrInvalidParameter):
		return "invalid_parameter"
	default:
		return "other"
	}
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
