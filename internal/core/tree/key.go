package tree

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// PathDelimiter separates keys in the dotted keypath notation.
const PathDelimiter = "."

// Key addresses one level of a tree: a map field by name or a list element by
// index. A name that reads as a canonical non-negative integer ("0", "12")
// also addresses list elements, so keys coming from dotted strings and keys
// produced while walking lists are interchangeable.
type Key struct {
	name    string
	index   int
	indexed bool
}

// Name creates a named key.
func Name(name string) Key {
	return Key{name: name}
}

// Index creates a list index key.
func Index(i int) Key {
	return Key{index: i, indexed: true}
}

// Index returns the list position addressed by the key, if any.
func (k Key) Index() (int, bool) {
	if k.indexed {
		return k.index, k.index >= 0
	}
	return parseIndex(k.name)
}

// IsIndex reports whether the key can address a list element.
func (k Key) IsIndex() bool {
	_, ok := k.Index()
	return ok
}

func (k Key) String() string {
	if k.indexed {
		return strconv.Itoa(k.index)
	}
	return k.name
}

// Equal compares keys by their string form.
func (k Key) Equal(other Key) bool {
	return k.String() == other.String()
}

func (k Key) MarshalJSON() ([]byte, error) {
	if k.indexed {
		return []byte(strconv.Itoa(k.index)), nil
	}
	return json.Marshal(k.name)
}

func (k *Key) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var name string
		if err := json.Unmarshal(data, &name); err != nil {
			return err
		}
		*k = Name(name)
		return nil
	}

	var i int
	if err := json.Unmarshal(data, &i); err != nil {
		return fmt.Errorf("keypath element must be a string or a non-negative integer: %s", data)
	}
	if i < 0 {
		return fmt.Errorf("negative keypath index %d", i)
	}
	*k = Index(i)
	return nil
}

// parseIndex accepts "0" and digit strings without a leading zero.
func parseIndex(s string) (int, bool) {
	if s == "" || len(s) > 1 && s[0] == '0' {
		return 0, false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Keypath is an ordered sequence of keys from the root of a tree. The empty
// keypath denotes the root itself.
type Keypath []Key

// Path builds a keypath from strings and ints. It panics on any other element
// type and is meant for literals in code and tests.
func Path(parts ...any) Keypath {
	p := make(Keypath, 0, len(parts))
	for _, part := range parts {
		switch v := part.(type) {
		case string:
			p = append(p, Name(v))
		case int:
			p = append(p, Index(v))
		case Key:
			p = append(p, v)
		default:
			panic(fmt.Sprintf("tree: unsupported keypath element %T", part))
		}
	}
	return p
}

// ParseKeypath splits a dotted keypath such as "a.b.0.c".
func ParseKeypath(dotted string) Keypath {
	if dotted == "" {
		return Keypath{}
	}
	parts := strings.Split(dotted, PathDelimiter)
	p := make(Keypath, len(parts))
	for i, part := range parts {
		p[i] = Name(part)
	}
	return p
}

// Append returns a new keypath; the receiver is never modified.
func (p Keypath) Append(keys ...Key) Keypath {
	out := make(Keypath, 0, len(p)+len(keys))
	out = append(out, p...)
	return append(out, keys...)
}

// Concat joins two keypaths into a new one.
func (p Keypath) Concat(other Keypath) Keypath {
	return p.Append(other...)
}

func (p Keypath) Equal(other Keypath) bool {
	if len(p) != len(other) {
		return false
	}
	for i := range p {
		if !p[i].Equal(other[i]) {
			return false
		}
	}
	return true
}

func (p Keypath) String() string {
	parts := make([]string, len(p))
	for i, k := range p {
		parts[i] = k.String()
	}
	return strings.Join(parts, PathDelimiter)
}
