package tree

// Clone returns a deep copy of v. Cloning nil yields nil.
func Clone(v *Value) *Value {
	if v == nil {
		return nil
	}
	out := &Value{kind: v.kind, b: v.b, num: v.num, str: v.str}
	switch v.kind {
	case KindList:
		out.items = make([]*Value, len(v.items))
		for i, item := range v.items {
			out.items[i] = Clone(item)
		}
	case KindMap:
		out.keys = append(make([]string, 0, len(v.keys)), v.keys...)
		out.fields = make(map[string]*Value, len(v.fields))
		for name, child := range v.fields {
			out.fields[name] = Clone(child)
		}
	}
	return out
}

// Equal compares two trees structurally. Map field order is irrelevant.
func Equal(a, b *Value) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case KindNull:
		return true
	case KindBool:
		return a.b == b.b
	case KindNumber:
		return a.num == b.num
	case KindString:
		return a.str == b.str
	case KindList:
		if len(a.items) != len(b.items) {
			return false
		}
		for i := range a.items {
			if !Equal(a.items[i], b.items[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(a.fields) != len(b.fields) {
			return false
		}
		for name, child := range a.fields {
			other, ok := b.fields[name]
			if !ok || !Equal(child, other) {
				return false
			}
		}
		return true
	}
	return false
}

// Identical compares containers by identity and primitives by value. It is
// the equality used when folding change history: two containers are the same
// only if they are the same node.
func Identical(a, b *Value) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if a.IsContainer() || b.IsContainer() {
		return a == b
	}
	return Equal(a, b)
}
