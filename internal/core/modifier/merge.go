package modifier

import (
	"github.com/zeusync/treesync/internal/core/tree"
)

// Merge rewrites the value at keypath into target with few writes. Keys
// present on both sides are visited first and recursed into when both hold
// the same kind of non-empty container; any other difference replaces the
// whole value. Keys only in the current value are removed, list elements
// last first, then keys only in target are added.
func (m *Modifier) Merge(keypath tree.Keypath, target *tree.Value) {
	m.merge(keypath.Append(), m.root.At(keypath), target)
}

func (m *Modifier) merge(path tree.Keypath, a, b *tree.Value) {
	if !b.IsBranch() || a.Kind() != b.Kind() {
		if !tree.Equal(a, b) {
			m.Set(path, b)
		}
		return
	}

	var onlyA []tree.Key
	for _, k := range a.Keys() {
		if !b.Has(k) {
			onlyA = append(onlyA, k)
			continue
		}
		childA, childB := a.Get(k), b.Get(k)
		if childA.IsContainer() && childA.Kind() == childB.Kind() {
			m.merge(path.Append(k), childA, childB)
			continue
		}
		if !tree.Equal(childA, childB) {
			m.Set(path.Append(k), childB)
		}
	}
	// popping keeps the list dense
	for i := len(onlyA) - 1; i >= 0; i-- {
		m.Remove(path.Append(onlyA[i]))
	}
	for _, k := range b.Keys() {
		if !a.Has(k) {
			m.Set(path.Append(k), b.Get(k))
		}
	}
}
