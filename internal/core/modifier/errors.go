package modifier

import (
	"errors"
	"fmt"

	"github.com/zeusync/treesync/internal/core/tree"
)

var ErrTypeMismatch = errors.New("keypath does not point to a list")

// TypeMismatchError reports a push or pop against a path that holds, or runs
// through, something other than a list.
type TypeMismatchError struct {
	Keypath tree.Keypath
	Found   tree.Kind
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("%s: %q holds %s", ErrTypeMismatch.Error(), e.Keypath.String(), e.Found)
}

func (e *TypeMismatchError) Unwrap() error {
	return ErrTypeMismatch
}
