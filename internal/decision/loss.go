// Package decision evaluates expected-loss curves over a sample of terminal
// values and locates the decision that minimises them.
package decision

import (
	"fmt"
	"math"

	"github.com/nvandessel/stochsim/internal/models"
)

// Kind names a loss family.
type Kind string

const (
	KindSquared  Kind = "squared"  // (a - s)^2, minimised by the mean
	KindAbsolute Kind = "absolute" // |a - s|, minimised by the median
	KindPinball  Kind = "pinball"  // asymmetric, minimised by the tau-quantile
)

// Loss is a loss family with its parameter.
type Loss struct {
	Kind Kind    `json:"kind"`
	Tau  float64 `json:"tau,omitempty"` // pinball only, in (0, 1)
}

// Squared returns the squared loss.
func Squared() Loss { return Loss{Kind: KindSquared} }

// Absolute returns the absolute loss.
func Absolute() Loss { return Loss{Kind: KindAbsolute} }

// Pinball returns the pinball loss for quantile level tau.
func Pinball(tau float64) (Loss, error) {
	l := Loss{Kind: KindPinball, Tau: tau}
	return l, l.Validate()
}

// ParseLoss builds a Loss from its name. "quantile" is accepted as an alias
// for "pinball"; tau is ignored by the symmetric families.
func ParseLoss(name string, tau float64) (Loss, error) {
	switch name {
	case string(KindSquared):
		return Squared(), nil
	case string(KindAbsolute):
		return Absolute(), nil
	case string(KindPinball), "quantile":
		return Pinball(tau)
	default:
		return Loss{}, &models.ParamError{Field: "loss", Value: name, Reason: "must be squared, absolute or pinball"}
	}
}

// Validate checks the family and its parameter.
func (l Loss) Validate() error {
	switch l.Kind {
	case KindSquared, KindAbsolute:
		return nil
	case KindPinball:
		if !(l.Tau > 0 && l.Tau < 1) {
			return &models.ParamError{Field: "tau", Value: l.Tau, Reason: "must be in (0, 1)"}
		}
		return nil
	default:
		return &models.ParamError{Field: "loss", Value: string(l.Kind), Reason: "must be squared, absolute or pinball"}
	}
}

// String renders the family, with tau for pinball.
func (l Loss) String() string {
	if l.Kind == KindPinball {
		return fmt.Sprintf("pinball(%g)", l.Tau)
	}
	return string(l.Kind)
}

// Eval returns the loss of deciding a when the outcome is s.
func (l Loss) Eval(a, s float64) float64 {
	switch l.Kind {
	case KindSquared:
		d := a - s
		return d * d
	case KindAbsolute:
		return math.Abs(a - s)
	case KindPinball:
		u := s - a
		if u >= 0 {
			return l.Tau * u
		}
		return (l.Tau - 1) * u
	default:
		return math.NaN()
	}
}

// ExpectedLoss is the sample mean of l.Eval(a, s). It is NaN for an empty
// sample.
func ExpectedLoss(samples []float64, a float64, l Loss) float64 {
	if len(samples) == 0 {
		return math.NaN()
	}
	var acc float64
	for _, s := range samples {
		acc += l.Eval(a, s)
	}
	return acc / float64(len(samples))
}
