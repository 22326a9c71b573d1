package playback

import "github.com/nvandessel/stochsim/internal/models"

// Observer receives engine activity, for metrics. Calls happen on the
// goroutine that owns the engine and must not block.
type Observer interface {
	ObserveTick(process models.Process, r TickResult)
	ObserveTransition(process models.Process, from, to Mode)
	ObserveError(process models.Process, err error)
}

type nopObserver struct{}

func (nopObserver) ObserveTick(models.Process, TickResult)       {}
func (nopObserver) ObserveTransition(models.Process, Mode, Mode) {}
func (nopObserver) ObserveError(models.Process, error)           {}
