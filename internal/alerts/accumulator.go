package alerts

import (
	"errors"

	"go.uber.org/multierr"
)

// ErrThresholdReached signals that a batch accumulated too many failures and
// must abort instead of grinding on against a broken dependency.
var ErrThresholdReached = errors.New("alerts: error threshold reached")

// Accumulator collects per-item failures during a batch run. It is not safe
// for concurrent use; batch jobs are strictly sequential.
type Accumulator struct {
	threshold int
	errs      []error
}

// NewAccumulator returns an accumulator that trips once threshold errors
// have been recorded. A threshold of zero or less never trips.
func NewAccumulator(threshold int) *Accumulator {
	return &Accumulator{threshold: threshold}
}

// Add records a failure. It returns ErrThresholdReached when the recorded
// count reaches the threshold; nil errors are ignored.
func (a *Accumulator) Add(err error) error {
	if err == nil {
		return nil
	}
	a.errs = append(a.errs, err)
	if a.threshold > 0 && len(a.errs) >= a.threshold {
		return ErrThresholdReached
	}
	return nil
}

// Len reports how many failures have been recorded.
func (a *Accumulator) Len() int {
	return len(a.errs)
}

// Errors returns the recorded failures in arrival order.
func (a *Accumulator) Errors() []error {
	return a.errs
}

// Combined folds the recorded failures into one error, or nil when the
// batch was clean.
func (a *Accumulator) Combined() error {
	return multierr.Combine(a.errs...)
}
