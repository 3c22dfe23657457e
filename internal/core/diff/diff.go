// Package diff computes the patch that turns one tree into another.
package diff

import (
	"errors"

	"github.com/zeusync/treesync/internal/core/modifier"
	"github.com/zeusync/treesync/internal/core/patch"
	"github.com/zeusync/treesync/internal/core/tree"
)

var ErrRootMismatch = errors.New("diff roots must be containers of the same kind")

// Diff returns a patch that, applied to a copy of base, yields target.
// Neither tree is modified.
//
// The walk is a Merge through a modifier over a copy of base, so diffs and
// live mutations share one encoding.
func Diff(base, target *tree.Value) (patch.Patch, error) {
	if !base.IsContainer() || base.Kind() != target.Kind() {
		return nil, ErrRootMismatch
	}
	m := modifier.New(tree.Clone(base))
	m.Merge(nil, target)
	return patch.FromChanges(m), nil
}
