package montecarlo

import (
	"math"

	"github.com/nvandessel/stochsim/internal/models"
)

// Summary is the scalar readout of an aggregate. Undefined fields are NaN
// and marshal to null.
type Summary struct {
	N        int         `json:"n"`
	Mean     models.Stat `json:"mean"`
	Variance models.Stat `json:"variance"`
	StdDev   models.Stat `json:"std_dev"`
	Min      models.Stat `json:"min"`
	Max      models.Stat `json:"max"`
	P05      models.Stat `json:"p05"`
	P50      models.Stat `json:"p50"`
	P95      models.Stat `json:"p95"`

	// Last is the most recent terminal value and LastZ its z-score under the
	// theoretical terminal distribution (of log S(T) for GBM).
	Last  models.Stat `json:"last"`
	LastZ models.Stat `json:"last_z"`
}

// Summary computes every statistic from one sorted copy of the samples.
func (a *Aggregate) Summary() Summary {
	s := Summary{
		N:        len(a.samples),
		Mean:     models.Undefined,
		Variance: models.Undefined,
		StdDev:   models.Undefined,
		Min:      models.Undefined,
		Max:      models.Undefined,
		P05:      models.Undefined,
		P50:      models.Undefined,
		P95:      models.Undefined,
		Last:     models.Undefined,
		LastZ:    models.Undefined,
	}
	if s.N == 0 {
		return s
	}

	mean, variance := a.MeanAndVariance()
	asc := sorted(a.samples)
	s.Mean = models.Stat(mean)
	s.Variance = models.Stat(variance)
	s.StdDev = models.Stat(math.Sqrt(variance))
	s.Min = models.Stat(asc[0])
	s.Max = models.Stat(asc[len(asc)-1])
	s.P05 = models.Stat(Quantile(asc, 0.05))
	s.P50 = models.Stat(Quantile(asc, 0.5))
	s.P95 = models.Stat(Quantile(asc, 0.95))

	last, _ := a.Last()
	s.Last = models.Stat(last)
	if a.process.LogDomain() {
		m, sd := logNormalParams(a.params)
		s.LastZ = models.Stat((math.Log(last) - m) / sd)
	} else {
		s.LastZ = models.Stat(last / math.Sqrt(a.params.T))
	}
	return s
}

// Moments are the theoretical moments of the terminal value. A moment that
// overflows float64 (large mu T) is left infinite and marshals to null.
type Moments struct {
	Mean     models.Stat `json:"mean"`
	Variance models.Stat `json:"variance"`

	// LogMean and LogStdDev parametrise log S(T) ~ N(LogMean, LogStdDev^2)
	// for GBM. Both are zero for the Wiener process.
	LogMean   models.Stat `json:"log_mean,omitempty"`
	LogStdDev models.Stat `json:"log_std_dev,omitempty"`
}

// Theory returns the exact terminal moments: (0, T) for Wiener and
// S0 e^{mu T}, S0^2 e^{2 mu T} (e^{sigma^2 T} - 1) for GBM.
func Theory(process models.Process, p models.Params) Moments {
	if !process.LogDomain() {
		return Moments{Mean: 0, Variance: models.Stat(p.T)}
	}
	return Moments{
		Mean:      models.Stat(p.S0 * math.Exp(p.Mu*p.T)),
		Variance:  models.Stat(p.S0 * p.S0 * math.Exp(2*p.Mu*p.T) * math.Expm1(p.Sigma*p.Sigma*p.T)),
		LogMean:   models.Stat(math.Log(p.S0) + (p.Mu-0.5*p.Sigma*p.Sigma)*p.T),
		LogStdDev: models.Stat(p.Sigma * math.Sqrt(p.T)),
	}
}
