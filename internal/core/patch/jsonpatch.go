package patch

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	jsonpatch "github.com/evanphx/json-patch"

	"github.com/zeusync/treesync/internal/core/modifier"
	"github.com/zeusync/treesync/internal/core/tree"
)

// JSON Patch (RFC 6902) operation names.
const (
	JSONAdd     = "add"
	JSONRemove  = "remove"
	JSONReplace = "replace"
	JSONCopy    = "copy"
	JSONMove    = "move"
	JSONTest    = "test"
)

// Operation is one JSON Patch operation. Paths are JSON Pointers (RFC 6901).
type Operation struct {
	Op    string
	Path  string
	From  string
	Value *tree.Value
}

type wireOperation struct {
	Op    string          `json:"op"`
	Path  string          `json:"path"`
	From  string          `json:"from,omitempty"`
	Value json.RawMessage `json:"value,omitempty"`
}

func (o Operation) MarshalJSON() ([]byte, error) {
	w := wireOperation{Op: o.Op, Path: o.Path, From: o.From}
	if o.needsValue() {
		data, err := o.Value.MarshalJSON()
		if err != nil {
			return nil, err
		}
		w.Value = data
	}
	return json.Marshal(w)
}

func (o *Operation) UnmarshalJSON(data []byte) error {
	var w wireOperation
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedEntry, err)
	}
	out := Operation{Op: w.Op, Path: w.Path, From: w.From}
	if out.needsValue() {
		if !present(w.Value) {
			return fmt.Errorf("%w: %s operation without value", ErrMalformedEntry, w.Op)
		}
		v, err := tree.ParseJSON(w.Value)
		if err != nil {
			return fmt.Errorf("%w: value: %v", ErrMalformedEntry, err)
		}
		out.Value = v
	}
	*o = out
	return nil
}

func (o Operation) needsValue() bool {
	return o.Op == JSONAdd || o.Op == JSONReplace || o.Op == JSONTest
}

// ApplyJSONPatch applies JSON Patch operations to the tree of m. The
// operations run against an encoded copy, so either all of them apply or the
// tree is left untouched; the result is then merged into the tree through m.
func ApplyJSONPatch(m *modifier.Modifier, ops []Operation) error {
	for i, op := range ops {
		if err := checkOperation(op); err != nil {
			return fmt.Errorf("operation %d (%s %s): %w", i, op.Op, op.Path, err)
		}
	}
	raw, err := json.Marshal(ops)
	if err != nil {
		return err
	}
	decoded, err := jsonpatch.DecodePatch(raw)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedEntry, err)
	}

	doc, err := m.Root().MarshalJSON()
	if err != nil {
		return err
	}
	out, err := decoded.Apply(doc)
	if err != nil {
		if errors.Is(err, jsonpatch.ErrTestFailed) {
			return fmt.Errorf("%w: %w", ErrTestFailed, err)
		}
		return fmt.Errorf("%w: %w", ErrInvalidPointer, err)
	}
	result, err := tree.ParseJSON(out)
	if err != nil {
		return err
	}
	if result.Kind() != m.Root().Kind() {
		return fmt.Errorf("%w: root must stay a %s", ErrInvalidPointer, m.Root().Kind())
	}
	m.Merge(nil, result)
	return nil
}

// checkOperation rejects what the patch engine would otherwise accept or
// report without a usable error.
func checkOperation(op Operation) error {
	switch op.Op {
	case JSONAdd, JSONRemove, JSONReplace, JSONTest:
	case JSONCopy, JSONMove:
		from, err := ParsePointer(op.From)
		if err != nil {
			return err
		}
		path, _ := ParsePointer(op.Path)
		if op.Op == JSONMove && len(path) > len(from) && path[:len(from)].Equal(from) {
			return fmt.Errorf("%w: cannot move %q into itself", ErrInvalidPointer, op.From)
		}
	default:
		return fmt.Errorf("%w %q", ErrUnknownOp, op.Op)
	}
	_, err := ParsePointer(op.Path)
	return err
}

// ParsePointer converts a JSON Pointer into a keypath. The empty pointer is
// the root.
func ParsePointer(pointer string) (tree.Keypath, error) {
	if pointer == "" {
		return tree.Keypath{}, nil
	}
	if !strings.HasPrefix(pointer, "/") {
		return nil, fmt.Errorf("%w: %q does not start with /", ErrInvalidPointer, pointer)
	}
	segments := strings.Split(pointer[1:], "/")
	path := make(tree.Keypath, len(segments))
	for i, s := range segments {
		s = strings.ReplaceAll(s, "~1", "/")
		s = strings.ReplaceAll(s, "~0", "~")
		path[i] = tree.Name(s)
	}
	return path, nil
}

// Pointer formats a keypath as a JSON Pointer.
func Pointer(path tree.Keypath) string {
	var b strings.Builder
	for _, k := range path {
		b.WriteByte('/')
		s := strings.ReplaceAll(k.String(), "~", "~0")
		b.WriteString(strings.ReplaceAll(s, "/", "~1"))
	}
	return b.String()
}
