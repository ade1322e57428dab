package ensemble

import (
	"errors"
	"fmt"
)

// ErrNotLoaded reports that no base predictors are available. The engine
// returns it instead of guessing when the artifact at index 0 is absent.
var ErrNotLoaded = errors.New("ensemble not loaded: no base predictors available")

// ShapeMismatchError reports an input whose width does not match what a
// predictor was built for.
type ShapeMismatchError struct {
	What     string // "sequence" or "indicators"
	Expected int
	Got      int
}

func (e *ShapeMismatchError) Error() string {
	return fmt.Sprintf("shape mismatch: %s expects %d values, got %d", e.What, e.Expected, e.Got)
}

// ComputationError wraps an opaque failure inside a base or meta
// predictor call.
type ComputationError struct {
	Model string
	Err   error
}

func (e *ComputationError) Error() string {
	return fmt.Sprintf("prediction failed in %s: %v", e.Model, e.Err)
}

func (e *ComputationError) Unwrap() error { return e.Err }
