// Package tree holds the replicated value model: a recursive union of
// primitives, ordered lists and insertion-ordered maps, addressed by keypaths.
//
// An absent value is a nil *Value. Every method accepts a nil receiver.
package tree

// Kind tags the variant held by a Value.
type Kind uint8

const (
	KindUndefined Kind = iota
	KindNull
	KindBool
	KindNumber
	KindString
	KindList
	KindMap
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindList:
		return "list"
	case KindMap:
		return "map"
	default:
		return "undefined"
	}
}

// Value is one node of a tree.
type Value struct {
	kind Kind

	b   bool
	num float64
	str string

	// KindList; never holds nil entries
	items []*Value

	// KindMap
	keys   []string
	fields map[string]*Value
}

func Null() *Value {
	return &Value{kind: KindNull}
}

func Bool(b bool) *Value {
	return &Value{kind: KindBool, b: b}
}

func Number(n float64) *Value {
	return &Value{kind: KindNumber, num: n}
}

func Int(n int) *Value {
	return Number(float64(n))
}

func String(s string) *Value {
	return &Value{kind: KindString, str: s}
}

// List creates a list holding the given items. Nil items become Null.
func List(items ...*Value) *Value {
	return (&Value{kind: KindList, items: make([]*Value, 0, len(items))}).Append(items...)
}

// Map creates an empty map.
func Map() *Value {
	return &Value{kind: KindMap, fields: make(map[string]*Value)}
}

// Kind returns KindUndefined for a nil value.
func (v *Value) Kind() Kind {
	if v == nil {
		return KindUndefined
	}
	return v.kind
}

// IsContainer reports whether v is a list or a map.
func (v *Value) IsContainer() bool {
	k := v.Kind()
	return k == KindList || k == KindMap
}

// IsBranch reports whether v is a container with children. Empty containers
// and primitives are leaves.
func (v *Value) IsBranch() bool {
	return v.IsContainer() && v.Len() > 0
}

// Len returns the number of list items or map fields.
func (v *Value) Len() int {
	switch v.Kind() {
	case KindList:
		return len(v.items)
	case KindMap:
		return len(v.keys)
	default:
		return 0
	}
}

func (v *Value) AsBool() (bool, bool) {
	if v.Kind() != KindBool {
		return false, false
	}
	return v.b, true
}

func (v *Value) AsNumber() (float64, bool) {
	if v.Kind() != KindNumber {
		return 0, false
	}
	return v.num, true
}

func (v *Value) AsString() (string, bool) {
	if v.Kind() != KindString {
		return "", false
	}
	return v.str, true
}

// Keys lists child keys: indices for lists, field names in insertion order
// for maps.
func (v *Value) Keys() []Key {
	switch v.Kind() {
	case KindList:
		keys := make([]Key, len(v.items))
		for i := range v.items {
			keys[i] = Index(i)
		}
		return keys
	case KindMap:
		keys := make([]Key, len(v.keys))
		for i, name := range v.keys {
			keys[i] = Name(name)
		}
		return keys
	default:
		return nil
	}
}

// Has reports whether a child exists under k.
func (v *Value) Has(k Key) bool {
	return v.Get(k) != nil
}

// Get returns the child under k, or nil.
func (v *Value) Get(k Key) *Value {
	switch v.Kind() {
	case KindList:
		i, ok := k.Index()
		if !ok || i >= len(v.items) {
			return nil
		}
		return v.items[i]
	case KindMap:
		return v.fields[k.String()]
	default:
		return nil
	}
}

// At follows path from v. It returns nil when any step is absent or runs
// through a primitive.
func (v *Value) At(path Keypath) *Value {
	found, ok := v.Lookup(path)
	if !ok {
		return nil
	}
	return found
}

// Lookup follows path from v. When a primitive blocks the walk before the end
// of the path, Lookup returns that primitive and false. An absent
// intermediate step yields (nil, true).
func (v *Value) Lookup(path Keypath) (*Value, bool) {
	cur := v
	for _, k := range path {
		if cur == nil {
			return nil, true
		}
		if !cur.IsContainer() {
			return cur, false
		}
		cur = cur.Get(k)
	}
	return cur, true
}

// Accepts reports whether the container can hold a child under k. Maps take
// any key, lists only index keys.
func (v *Value) Accepts(k Key) bool {
	switch v.Kind() {
	case KindMap:
		return true
	case KindList:
		return k.IsIndex()
	default:
		return false
	}
}

// Put stores child under k and returns the value it replaced. Lists are
// padded with Null up to the index. Put is a no-op when v cannot accept k or
// child is nil; use Delete to remove.
func (v *Value) Put(k Key, child *Value) *Value {
	if child == nil {
		return nil
	}
	switch v.Kind() {
	case KindList:
		i, ok := k.Index()
		if !ok {
			return nil
		}
		for len(v.items) < i {
			v.items = append(v.items, Null())
		}
		if i == len(v.items) {
			v.items = append(v.items, child)
			return nil
		}
		old := v.items[i]
		v.items[i] = child
		return old
	case KindMap:
		name := k.String()
		old, exists := v.fields[name]
		if !exists {
			v.keys = append(v.keys, name)
		}
		v.fields[name] = child
		return old
	default:
		return nil
	}
}

// Delete removes the child under k and returns it. Removing the last list
// element shrinks the list; removing any other element leaves Null in its
// slot so later indices keep their positions.
func (v *Value) Delete(k Key) *Value {
	switch v.Kind() {
	case KindList:
		i, ok := k.Index()
		if !ok || i >= len(v.items) {
			return nil
		}
		old := v.items[i]
		if i < len(v.items)-1 {
			v.items[i] = Null()
			return old
		}
		v.items[i] = nil
		v.items = v.items[:i]
		return old
	case KindMap:
		name := k.String()
		old, exists := v.fields[name]
		if !exists {
			return nil
		}
		delete(v.fields, name)
		for i, existing := range v.keys {
			if existing == name {
				v.keys = append(v.keys[:i], v.keys[i+1:]...)
				break
			}
		}
		return old
	default:
		return nil
	}
}

// With stores child under name and returns the map, for building literals.
func (v *Value) With(name string, child *Value) *Value {
	v.Put(Name(name), child)
	return v
}

// Append adds items at the end of a list and returns it. Nil items become
// Null.
func (v *Value) Append(items ...*Value) *Value {
	if v.Kind() != KindList {
		return v
	}
	for _, item := range items {
		if item == nil {
			item = Null()
		}
		v.items = append(v.items, item)
	}
	return v
}

// EmptyLike returns a fresh empty container of the same kind as v.
func (v *Value) EmptyLike() *Value {
	if v.Kind() == KindList {
		return List()
	}
	return Map()
}

func (v *Value) String() string {
	if v == nil {
		return "undefined"
	}
	data, err := v.MarshalJSON()
	if err != nil {
		return "<" + err.Error() + ">"
	}
	return string(data)
}
