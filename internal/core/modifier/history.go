package modifier

import (
	"sort"

	"github.com/zeusync/treesync/internal/core/tree"
)

// changeNode groups the changes recorded for one keypath. Children keep the
// order in which their paths first appeared in the log.
type changeNode struct {
	changes  []Change
	keys     []tree.Key
	children map[string]*changeNode
}

func newChangeNode() *changeNode {
	return &changeNode{children: make(map[string]*changeNode)}
}

func (n *changeNode) child(k tree.Key) *changeNode {
	name := k.String()
	c, ok := n.children[name]
	if !ok {
		c = newChangeNode()
		n.children[name] = c
		n.keys = append(n.keys, k)
	}
	return c
}

// Compact removes history that cancels out. Within each keypath, a change
// whose old value is the new value of the change right before it is folded
// into it; a fold that ends where it started disappears. Only changes that
// have been reported the same way (both seen or both not) are folded, so an
// already reported change is never rewritten.
//
// Compress needs the full history below a rewritten node, so a log that
// will be compressed later must not be compacted first.
func (m *Modifier) Compact() {
	m.changes = Fold(m.changes)
}

// Fold returns the compacted form of changes without touching the input.
func Fold(changes []Change) []Change {
	root := changeTree(changes)
	compactNode(root)
	return zipChanges(root, nil)
}

// Compress collapses the history of every touched subtree into a single
// change from the value before its first change to the value after its last
// one, dropping the history below it. Subtrees that end as they started drop
// out.
func (m *Modifier) Compress() {
	root := changeTree(m.changes)
	compressNode(root)
	m.changes = zipChanges(root, nil)
}

func changeTree(changes []Change) *changeNode {
	root := newChangeNode()
	for _, c := range changes {
		node := root
		for _, k := range c.Keypath {
			node = node.child(k)
		}
		c.Keypath = nil
		node.changes = append(node.changes, c)
	}
	return root
}

func compactNode(n *changeNode) {
	i := len(n.changes) - 1
	for i > 0 {
		prev, cur := n.changes[i-1], n.changes[i]
		if prev.Seen != cur.Seen || !tree.Identical(cur.Old, prev.New) {
			i--
			continue
		}
		if tree.Identical(prev.Old, cur.New) {
			n.changes = append(n.changes[:i-1], n.changes[i+1:]...)
			// the entry after the dropped pair now follows i-2
			i--
			if i > len(n.changes)-1 {
				i = len(n.changes) - 1
			}
			continue
		}
		n.changes[i-1] = Change{Old: prev.Old, New: cur.New, Seen: cur.Seen, seq: prev.seq}
		n.changes = append(n.changes[:i], n.changes[i+1:]...)
		i--
	}
	for _, k := range n.keys {
		compactNode(n.children[k.String()])
	}
}

func compressNode(n *changeNode) {
	if len(n.changes) == 0 {
		for _, k := range n.keys {
			compressNode(n.children[k.String()])
		}
		return
	}

	first, last := n.changes[0], n.changes[len(n.changes)-1]
	if tree.Identical(first.Old, last.New) {
		n.changes = nil
		n.keys, n.children = nil, nil
		return
	}
	old := first.Old
	if earlier := n.changesBefore(first.seq, nil); len(earlier) > 0 {
		old = rewind(old, earlier)
	}
	n.changes = []Change{{Old: old, New: last.New, Seen: last.Seen, seq: first.seq}}
	n.keys, n.children = nil, nil
}

// changesBefore lists the descendant changes recorded before seq, with
// keypaths relative to n.
func (n *changeNode) changesBefore(seq uint64, prefix tree.Keypath) []Change {
	var out []Change
	for _, k := range n.keys {
		child := n.children[k.String()]
		path := prefix.Append(k)
		for _, c := range child.changes {
			if c.seq < seq {
				c.Keypath = path
				out = append(out, c)
			}
		}
		out = append(out, child.changesBefore(seq, path)...)
	}
	return out
}

// rewind returns a copy of v with the given changes undone, latest first.
// Containers in the log are live, so a container that was changed in place
// before being replaced no longer shows its original content.
func rewind(v *tree.Value, changes []Change) *tree.Value {
	if !v.IsContainer() {
		return v
	}
	sort.Slice(changes, func(i, j int) bool {
		return changes[i].seq > changes[j].seq
	})
	out := tree.Clone(v)
	for _, c := range changes {
		parent := out.At(c.Keypath[:len(c.Keypath)-1])
		if !parent.IsContainer() {
			continue
		}
		last := c.Keypath[len(c.Keypath)-1]
		if c.Old == nil {
			parent.Delete(last)
			continue
		}
		parent.Put(last, tree.Clone(c.Old))
	}
	return out
}

// zipChanges flattens the change tree back into a log ordered by when each
// change was first recorded.
func zipChanges(n *changeNode, prefix tree.Keypath) []Change {
	out := flatten(n, prefix)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].seq < out[j].seq
	})
	return out
}

func flatten(n *changeNode, prefix tree.Keypath) []Change {
	var out []Change
	for _, c := range n.changes {
		c.Keypath = prefix.Append()
		out = append(out, c)
	}
	for _, k := range n.keys {
		out = append(out, flatten(n.children[k.String()], prefix.Append(k))...)
	}
	return out
}
