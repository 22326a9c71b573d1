package rng

import (
	"math"

	"github.com/nvandessel/stochsim/internal/constants"
)

// Normal turns a uniform Source into standard-normal variates using the
// cosine branch of the Box-Muller transform.
//
// Each call consumes exactly two uniform draws and returns one variate; the
// sine variate r*sin(theta) is thrown away. A trajectory is therefore a pure
// function of (seed, step index).
type Normal struct {
	src Source
}

// NewNormal returns a sampler drawing from src.
func NewNormal(src Source) *Normal {
	return &Normal{src: src}
}

// StandardNormal returns one N(0, 1) variate.
func (n *Normal) StandardNormal() float64 {
	u1 := n.src.Next()
	u2 := n.src.Next()
	if u1 < constants.NormalEpsilon {
		u1 = constants.NormalEpsilon
	}
	r := math.Sqrt(-2 * math.Log(u1))
	theta := 2 * math.Pi * u2
	return r * math.Cos(theta)
}
