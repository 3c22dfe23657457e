package patch

import (
	"sort"
	"strings"

	"github.com/zeusync/treesync/internal/core/modifier"
	"github.com/zeusync/treesync/internal/core/tree"
)

// FromChanges turns the change log of m into a minimal patch: the log is
// compressed, then every remaining change becomes one entry. Values are
// copied, so the patch does not alias the modified tree. The log must hold
// the full history since the base the patch applies to; a compacted log
// loses what Compress needs to rebuild old values.
//
// FromChanges rewrites the log of m and marks it seen; it does not reset it.
func FromChanges(m *modifier.Modifier) Patch {
	m.Compress()

	var p Patch
	m.ForEachChange(func(c modifier.Change) {
		old, value := tree.Clone(c.Old), tree.Clone(c.New)
		switch {
		case old == nil:
			p = append(p, Add(c.Keypath, value))
		case value == nil:
			p = append(p, Delete(c.Keypath, old))
		default:
			p = append(p, Update(c.Keypath, old, value))
		}
	})
	orderListDeletes(p)
	return p
}

// orderListDeletes puts the deletions of every list's elements last index
// first, within the slots they already occupy. Removing any element but the
// last one leaves a null behind.
func orderListDeletes(p Patch) {
	slots := make(map[string][]int)
	var parents []string
	for i, e := range p {
		if e.Op != OpDelete || len(e.Keypath) == 0 {
			continue
		}
		if _, ok := e.Keypath[len(e.Keypath)-1].Index(); !ok {
			continue
		}
		parent := parentKey(e.Keypath)
		if _, seen := slots[parent]; !seen {
			parents = append(parents, parent)
		}
		slots[parent] = append(slots[parent], i)
	}

	for _, parent := range parents {
		positions := slots[parent]
		if len(positions) < 2 {
			continue
		}
		entries := make([]Entry, len(positions))
		for j, i := range positions {
			entries[j] = p[i]
		}
		sort.SliceStable(entries, func(a, b int) bool {
			return lastIndex(entries[a]) > lastIndex(entries[b])
		})
		for j, i := range positions {
			p[i] = entries[j]
		}
	}
}

func parentKey(keypath tree.Keypath) string {
	parts := make([]string, len(keypath)-1)
	for i, k := range keypath[:len(keypath)-1] {
		parts[i] = k.String()
	}
	return strings.Join(parts, "\x00")
}

func lastIndex(e Entry) int {
	i, _ := e.Keypath[len(e.Keypath)-1].Index()
	return i
}
