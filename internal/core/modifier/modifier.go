// Package modifier mutates a tree in place and records every leaf-level
// change it makes as an ordered change log.
//
// Overwriting a value is recorded as two changes: the old leaves are set to
// undefined, then the new value is written. Composite writes are recorded as
// an empty container of the same kind followed by one write per child, and
// every intermediate container or null padding created along the way is
// recorded too. The log can then be folded with Compact (drop history
// that cancels out) or Compress (one before/after pair per touched subtree).
package modifier

import (
	"github.com/zeusync/treesync/internal/core/tree"
)

// Change is one entry of the change log. Composite values are live
// references into the tree or into detached subtrees.
type Change struct {
	Keypath tree.Keypath
	Old     *tree.Value
	New     *tree.Value
	Seen    bool

	seq uint64
}

// ChangeFunc receives one change. Seen reports whether the change had been
// visited before this iteration.
type ChangeFunc func(c Change)

// Modifier wraps a container and records its changes. It is not safe for
// concurrent use.
type Modifier struct {
	root    *tree.Value
	changes []Change
	next    uint64
}

// New wraps root, which must be a list or a map.
func New(root *tree.Value) *Modifier {
	return &Modifier{root: root}
}

// Root returns the live tree being modified.
func (m *Modifier) Root() *tree.Value {
	return m.root
}

// Len returns the number of recorded changes.
func (m *Modifier) Len() int {
	return len(m.changes)
}

// Set replaces whatever is at keypath with a copy of value. A nil value
// removes the path. Setting the empty keypath replaces the root's children.
func (m *Modifier) Set(keypath tree.Keypath, value *tree.Value) {
	value = tree.Clone(value)
	if len(keypath) == 0 {
		m.replaceRoot(value)
		return
	}
	m.set(keypath.Append(), value)
}

// Remove is Set(keypath, nil).
func (m *Modifier) Remove(keypath tree.Keypath) {
	m.Set(keypath, nil)
}

// Push appends values to the list at keypath, creating the list when the path
// is empty.
func (m *Modifier) Push(keypath tree.Keypath, values ...*tree.Value) error {
	for _, value := range values {
		target, ok := m.root.Lookup(keypath)
		if !ok {
			return &TypeMismatchError{Keypath: keypath, Found: target.Kind()}
		}
		switch target.Kind() {
		case tree.KindList:
			m.Set(keypath.Append(tree.Index(target.Len())), value)
		case tree.KindUndefined:
			m.Set(keypath.Append(tree.Index(0)), value)
		default:
			return &TypeMismatchError{Keypath: keypath, Found: target.Kind()}
		}
	}
	return nil
}

// Pop removes the last element of the list at keypath.
func (m *Modifier) Pop(keypath tree.Keypath) error {
	target, ok := m.root.Lookup(keypath)
	if !ok || target.Kind() != tree.KindList {
		return &TypeMismatchError{Keypath: keypath, Found: target.Kind()}
	}
	last := target.Len() - 1
	if last < 0 {
		return nil
	}
	m.Set(keypath.Append(tree.Index(last)), nil)
	return nil
}

// Reset discards the change log. The tree is left as is.
func (m *Modifier) Reset() {
	m.changes = nil
}

// ForEachChange replays the whole log in order and marks every entry seen.
func (m *Modifier) ForEachChange(fn ChangeFunc) {
	visit := make([]Change, len(m.changes))
	for i := range m.changes {
		visit[i] = m.changes[i]
		m.changes[i].Seen = true
	}
	for _, c := range visit {
		fn(c)
	}
}

// ForEachNewChange replays only the entries not seen yet, then marks them.
// Entries are marked before the callbacks run, so a callback that mutates the
// tree never gets its own changes replayed in the same pass.
func (m *Modifier) ForEachNewChange(fn ChangeFunc) {
	var visit []Change
	for i := range m.changes {
		if m.changes[i].Seen {
			continue
		}
		visit = append(visit, m.changes[i])
		m.changes[i].Seen = true
	}
	for _, c := range visit {
		fn(c)
	}
}

func (m *Modifier) set(keypath tree.Keypath, value *tree.Value) {
	if removed := m.detach(keypath); removed != nil {
		changes := removalChanges(keypath, removed)
		// a middle list slot is cleared to null instead of removed
		if kept := m.root.At(keypath); kept != nil {
			if removed.Kind() == tree.KindNull {
				changes = nil
			} else {
				changes[len(changes)-1].New = kept
			}
		}
		m.record(changes...)
	}

	switch {
	case value.IsContainer():
		if !m.setLeaf(keypath, value.EmptyLike()) {
			return
		}
		for _, k := range value.Keys() {
			m.set(keypath.Append(k), value.Get(k))
		}
	case value != nil:
		m.setLeaf(keypath, value)
	}
}

func (m *Modifier) replaceRoot(value *tree.Value) {
	keys := m.root.Keys()
	// last first, so list elements are popped rather than nulled
	for i := len(keys) - 1; i >= 0; i-- {
		m.set(tree.Keypath{keys[i]}, nil)
	}
	for _, k := range value.Keys() {
		m.set(tree.Keypath{k}, value.Get(k))
	}
}

// detach unlinks the value at keypath and returns it untouched.
func (m *Modifier) detach(keypath tree.Keypath) *tree.Value {
	parent := m.root.At(keypath[:len(keypath)-1])
	if !parent.IsContainer() {
		return nil
	}
	return parent.Delete(keypath[len(keypath)-1])
}

// setLeaf writes a primitive or an empty container at keypath, creating the
// levels above it. It reports false when the root cannot take the path.
func (m *Modifier) setLeaf(keypath tree.Keypath, value *tree.Value) bool {
	parent, ok := m.ensurePath(keypath)
	if !ok {
		return false
	}
	m.put(keypath[:len(keypath)-1], parent, keypath[len(keypath)-1], value)
	return true
}

// put stores value under k in parent, which lives at path, and records it.
// Lists are padded with recorded nulls up to the index.
func (m *Modifier) put(path tree.Keypath, parent *tree.Value, k tree.Key, value *tree.Value) {
	if parent.Kind() == tree.KindList {
		i, _ := k.Index()
		for n := parent.Len(); n < i; n++ {
			pad := tree.Null()
			parent.Put(tree.Index(n), pad)
			m.record(Change{Keypath: path.Append(tree.Index(n)), New: pad})
		}
	}
	old := parent.Put(k, value)
	m.record(Change{Keypath: path.Append(k), Old: old, New: value})
}

// record appends changes to the log, stamping each with its position in the
// history of the modifier.
func (m *Modifier) record(changes ...Change) {
	for _, c := range changes {
		m.next++
		c.seq = m.next
		m.changes = append(m.changes, c)
	}
}

// ensurePath makes every level above keypath a container that takes the key
// below it and returns the parent of the last key. A missing level or a
// primitive in the way becomes a list when the key below it is an index and
// a map otherwise. A list that meets a name key becomes a map holding its
// elements under their positions. Every replaced level is recorded. It
// reports false when the root itself cannot take the first key.
func (m *Modifier) ensurePath(keypath tree.Keypath) (*tree.Value, bool) {
	cur := m.root
	for i := 0; i < len(keypath)-1; i++ {
		k, next := keypath[i], keypath[i+1]
		if !cur.Accepts(k) {
			return nil, false
		}
		child := cur.Get(k)
		switch {
		case child.Kind() == tree.KindList && !child.Accepts(next):
			fresh := listToMap(child)
			m.put(keypath[:i], cur, k, fresh)
			child = fresh
		case !child.IsContainer():
			fresh := tree.Map()
			if next.IsIndex() {
				fresh = tree.List()
			}
			m.put(keypath[:i], cur, k, fresh)
			child = fresh
		}
		cur = child
	}
	return cur, cur.Accepts(keypath[len(keypath)-1])
}

func listToMap(list *tree.Value) *tree.Value {
	out := tree.Map()
	for _, k := range list.Keys() {
		out.Put(tree.Name(k.String()), tree.Clone(list.Get(k)))
	}
	return out
}

// removalChanges lists the changes of setting every node under v to
// undefined, children before their parent.
func removalChanges(keypath tree.Keypath, v *tree.Value) []Change {
	if v == nil {
		return nil
	}
	var out []Change
	for _, k := range v.Keys() {
		out = append(out, removalChanges(keypath.Append(k), v.Get(k))...)
	}
	return append(out, Change{Keypath: keypath, Old: v})
}
