// Package patch defines the patch format exchanged between replicas and
// applies patches to trees.
//
// A patch is an ordered list of entries. Each entry names a keypath, an
// operation and the values before and after it:
//
//	{"keypath":["a","b",0],"op":"u","old_value":1,"new_value":2}
//
// "a" entries carry only new_value, "d" entries only old_value.
package patch

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/zeusync/treesync/internal/core/tree"
)

type Op string

const (
	OpAdd    Op = "a"
	OpUpdate Op = "u"
	OpDelete Op = "d"
)

func (o Op) Valid() bool {
	switch o {
	case OpAdd, OpUpdate, OpDelete:
		return true
	}
	return false
}

// Entry is one step of a patch. Old is the value expected at Keypath before
// the step and New the value after it; nil means absent.
type Entry struct {
	Keypath tree.Keypath
	Op      Op
	Old     *tree.Value
	New     *tree.Value
}

// Add builds an entry creating value at keypath.
func Add(keypath tree.Keypath, value *tree.Value) Entry {
	return Entry{Keypath: keypath, Op: OpAdd, New: value}
}

// Update builds an entry replacing old with value at keypath.
func Update(keypath tree.Keypath, old, value *tree.Value) Entry {
	return Entry{Keypath: keypath, Op: OpUpdate, Old: old, New: value}
}

// Delete builds an entry removing old from keypath.
func Delete(keypath tree.Keypath, old *tree.Value) Entry {
	return Entry{Keypath: keypath, Op: OpDelete, Old: old}
}

// expected returns the value the tree must hold before the entry and the one
// it holds after.
func (e Entry) expected() (before, after *tree.Value, err error) {
	switch e.Op {
	case OpAdd:
		return nil, e.New, nil
	case OpUpdate:
		return e.Old, e.New, nil
	case OpDelete:
		return e.Old, nil, nil
	}
	return nil, nil, fmt.Errorf("%w %q at %q", ErrUnknownOp, e.Op, e.Keypath.String())
}

func (e Entry) String() string {
	return fmt.Sprintf("%s %s: %s -> %s", e.Op, e.Keypath.String(), e.Old, e.New)
}

type wireEntry struct {
	Keypath tree.Keypath    `json:"keypath"`
	Op      Op              `json:"op"`
	Old     json.RawMessage `json:"old_value,omitempty"`
	New     json.RawMessage `json:"new_value,omitempty"`
}

func (e Entry) MarshalJSON() ([]byte, error) {
	w := wireEntry{Keypath: e.Keypath, Op: e.Op}
	if w.Keypath == nil {
		w.Keypath = tree.Keypath{}
	}
	var err error
	switch e.Op {
	case OpAdd:
		w.New, err = e.New.MarshalJSON()
	case OpUpdate:
		if w.Old, err = e.Old.MarshalJSON(); err == nil {
			w.New, err = e.New.MarshalJSON()
		}
	case OpDelete:
		w.Old, err = e.Old.MarshalJSON()
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownOp, e.Op)
	}
	if err != nil {
		return nil, err
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes an entry and checks that exactly the values its
// operation needs are present. JSON null decodes to a Null value.
func (e *Entry) UnmarshalJSON(data []byte) error {
	var w wireEntry
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedEntry, err)
	}
	if !w.Op.Valid() {
		return fmt.Errorf("%w %q", ErrUnknownOp, w.Op)
	}

	hasOld, hasNew := present(w.Old), present(w.New)
	wantOld, wantNew := w.Op != OpAdd, w.Op != OpDelete
	if hasOld != wantOld || hasNew != wantNew {
		return fmt.Errorf("%w: op %q with old_value=%t new_value=%t", ErrMalformedEntry, w.Op, hasOld, hasNew)
	}

	out := Entry{Keypath: w.Keypath, Op: w.Op}
	var err error
	if hasOld {
		if out.Old, err = tree.ParseJSON(w.Old); err != nil {
			return fmt.Errorf("%w: old_value: %v", ErrMalformedEntry, err)
		}
	}
	if hasNew {
		if out.New, err = tree.ParseJSON(w.New); err != nil {
			return fmt.Errorf("%w: new_value: %v", ErrMalformedEntry, err)
		}
	}
	*e = out
	return nil
}

func present(raw json.RawMessage) bool {
	return len(bytes.TrimSpace(raw)) > 0
}

// Patch is an ordered list of entries. Order matters: entries are applied
// one after another.
type Patch []Entry

// Empty reports whether the patch has nothing to apply.
func (p Patch) Empty() bool {
	return len(p) == 0
}

// MarshalJSON encodes an empty patch as [] rather than null.
func (p Patch) MarshalJSON() ([]byte, error) {
	if p == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]Entry(p))
}
