package models

import (
	"errors"
	"fmt"
)

// Engine error categories. Both are fatal to the current run.
var (
	// ErrInvalidParameter indicates a parameter outside its valid range.
	ErrInvalidParameter = errors.New("stochsim: invalid parameter")

	// ErrComputation indicates a step produced a non-finite or non-representable value.
	ErrComputation = errors.New("stochsim: non-finite value in computation")
)

// ParamError reports which parameter failed validation.
type ParamError struct {
	Field  string
	Value  any
	Reason string
}

func (e *ParamError) Error() string {
	return fmt.Sprintf("%s: %s %s, got %v", ErrInvalidParameter, e.Field, e.Reason, e.Value)
}

func (e *ParamError) Unwrap() error {
	return ErrInvalidParameter
}

// StepError wraps a computation failure with the position it happened at.
type StepError struct {
	Path     int     // zero-based index of the path being integrated
	Step     int     // step index k the failed step would have produced
	Value    float64 // offending value
	Quantity string  // "dt", "W", "logS" or "S"
	Wrapped  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%v: %s = %v at path %d step %d", e.Wrapped, e.Quantity, e.Value, e.Path, e.Step)
}

func (e *StepError) Unwrap() error {
	return e.Wrapped
}
