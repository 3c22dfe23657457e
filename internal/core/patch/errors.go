package patch

import (
	"errors"
	"fmt"

	"github.com/zeusync/treesync/internal/core/tree"
)

var (
	ErrBaseMismatch   = errors.New("base mismatch")
	ErrUnknownOp      = errors.New("unknown patch operation")
	ErrMalformedEntry = errors.New("malformed patch entry")
	ErrInvalidPointer = errors.New("invalid json pointer")
	ErrTestFailed     = errors.New("json patch test failed")
	ErrIndexRange     = errors.New("list index out of range")
)

// BaseMismatchError reports that a strict application found a different
// value than the one the entry was computed against.
type BaseMismatchError struct {
	Keypath  tree.Keypath
	Expected *tree.Value
	Actual   *tree.Value
}

func (e *BaseMismatchError) Error() string {
	return fmt.Sprintf("%s at %q: expected %s but found %s", ErrBaseMismatch, e.Keypath.String(), e.Expected, e.Actual)
}

func (e *BaseMismatchError) Unwrap() error {
	return ErrBaseMismatch
}
