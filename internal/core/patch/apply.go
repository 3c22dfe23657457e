package patch

import (
	"fmt"

	"github.com/zeusync/treesync/internal/core/modifier"
	"github.com/zeusync/treesync/internal/core/tree"
)

// Apply applies p to root in place and returns the modifier that recorded
// the resulting changes, compacted. A compacted log reports what changed but
// cannot be turned back into a patch with FromChanges.
//
// In strict mode every entry first checks that the tree holds the entry's
// expected old value. The first mismatch stops the application with a
// *BaseMismatchError; entries applied before it stay applied. Callers that
// need all-or-nothing behavior apply to a clone first.
func Apply(root *tree.Value, p Patch, strict bool) (*modifier.Modifier, error) {
	m := modifier.New(root)
	err := ApplyTo(m, p, strict)
	m.Compact()
	return m, err
}

// ApplyTo applies p through an existing modifier, stopping at the first
// failing entry.
func ApplyTo(m *modifier.Modifier, p Patch, strict bool) error {
	for _, e := range p {
		if err := ApplyEntry(m, e, strict); err != nil {
			return err
		}
	}
	return nil
}

// ApplyEntry applies a single entry through m. An entry that writes past
// the end of a list fails with ErrIndexRange in both modes.
func ApplyEntry(m *modifier.Modifier, e Entry, strict bool) error {
	before, after, err := e.expected()
	if err != nil {
		return err
	}
	if after != nil {
		if err = checkIndices(m.Root(), e.Keypath); err != nil {
			return err
		}
	}
	if strict {
		actual := m.Root().At(e.Keypath)
		if !tree.Equal(actual, before) {
			return &BaseMismatchError{
				Keypath:  e.Keypath,
				Expected: before,
				Actual:   tree.Clone(actual),
			}
		}
	}
	m.Set(e.Keypath, after)
	return nil
}

// checkIndices rejects a write that would grow a list by more than one
// element at any level of keypath. Levels that do not exist yet are created
// as lists only for index 0.
func checkIndices(root *tree.Value, keypath tree.Keypath) error {
	cur := root
	for depth, k := range keypath {
		i, isIndex := k.Index()
		switch {
		case !isIndex:
		case cur.Kind() == tree.KindList && i > cur.Len(),
			!cur.IsContainer() && i > 0:
			return fmt.Errorf("%w: %d at %q", ErrIndexRange, i, keypath[:depth+1].String())
		}
		cur = cur.Get(k)
	}
	return nil
}
