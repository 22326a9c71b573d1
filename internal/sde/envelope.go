package sde

import (
	"fmt"
	"math"

	"github.com/nvandessel/stochsim/internal/models"
)

// Band is the expected level of a process with a one-standard-deviation band
// around it, sampled on the step grid.
type Band struct {
	Mean  []models.Point `json:"mean"`
	Upper []models.Point `json:"upper"`
	Lower []models.Point `json:"lower"`
}

// Envelope returns the theoretical band on the grid t_k = k T/steps.
//
// For the Wiener process that is 0 +/- sqrt(t). For GBM the band is taken in
// log space and mapped back: S0 exp((mu - sigma^2/2) t +/- sigma sqrt(t)),
// with the median S0 exp((mu - sigma^2/2) t) as the centre line. A band that
// overflows float64 fails with an error wrapping models.ErrComputation.
func Envelope(process models.Process, params models.Params) (Band, error) {
	if err := params.Validate(); err != nil {
		return Band{}, err
	}
	n := params.Steps + 1
	b := Band{
		Mean:  make([]models.Point, n),
		Upper: make([]models.Point, n),
		Lower: make([]models.Point, n),
	}
	dt := params.Dt()
	a := params.Mu - 0.5*params.Sigma*params.Sigma
	for k := 0; k < n; k++ {
		t := float64(k) * dt
		sd := math.Sqrt(t)
		if !process.LogDomain() {
			b.Mean[k] = models.Point{X: t, Y: 0}
			b.Upper[k] = models.Point{X: t, Y: sd}
			b.Lower[k] = models.Point{X: t, Y: -sd}
			continue
		}
		m := math.Log(params.S0) + a*t
		s := params.Sigma * sd
		b.Mean[k] = models.Point{X: t, Y: math.Exp(m)}
		b.Upper[k] = models.Point{X: t, Y: math.Exp(m + s)}
		b.Lower[k] = models.Point{X: t, Y: math.Exp(m - s)}
		if !finite(b.Upper[k].Y) {
			return Band{}, fmt.Errorf("%w: envelope overflows at t=%g", models.ErrComputation, t)
		}
	}
	return b, nil
}
