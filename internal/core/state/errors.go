package state

import (
	"errors"
	"fmt"

	"github.com/hashicorp/go-multierror"
)

var (
	ErrInvalidInitialState   = errors.New("initial state must be a map")
	ErrAggregateApplyFailure = errors.New("patch entries failed to apply")
)

// AggregateApplyError lists every entry of a patch that failed a strict
// application. It matches ErrAggregateApplyFailure and each of the
// individual failures with errors.Is.
type AggregateApplyError struct {
	Failures *multierror.Error
}

func (e *AggregateApplyError) Error() string {
	return fmt.Sprintf("%d %s: %s", e.Len(), ErrAggregateApplyFailure, e.Failures.Error())
}

func (e *AggregateApplyError) Len() int {
	return e.Failures.Len()
}

func (e *AggregateApplyError) Unwrap() []error {
	return append([]error{ErrAggregateApplyFailure}, e.Failures.WrappedErrors()...)
}
