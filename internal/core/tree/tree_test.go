package tree

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyIndex(t *testing.T) {
	cases := []struct {
		key   Key
		index int
		ok    bool
	}{
		{Index(3), 3, true},
		{Name("0"), 0, true},
		{Name("12"), 12, true},
		{Name("012"), 0, false},
		{Name("-1"), 0, false},
		{Name("1.5"), 0, false},
		{Name("a"), 0, false},
		{Name(""), 0, false},
	}
	for _, c := range cases {
		i, ok := c.key.Index()
		assert.Equal(t, c.ok, ok, "key %q", c.key.String())
		if c.ok {
			assert.Equal(t, c.index, i)
		}
	}
	assert.True(t, Name("2").Equal(Index(2)))
}

func TestKeypathJSON(t *testing.T) {
	p := Path("a", "b", 0, "c")
	data, err := json.Marshal(p)
	require.NoError(t, err)
	assert.JSONEq(t, `["a","b",0,"c"]`, string(data))

	var decoded Keypath
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.True(t, p.Equal(decoded))
	assert.Equal(t, "a.b.0.c", decoded.String())

	assert.Error(t, json.Unmarshal([]byte(`[-1]`), &decoded))
	assert.Error(t, json.Unmarshal([]byte(`[true]`), &decoded))
}

func TestParseKeypath(t *testing.T) {
	assert.Empty(t, ParseKeypath(""))
	assert.True(t, ParseKeypath("a.b.0").Equal(Path("a", "b", 0)))
}

func TestListDeleteLeavesNullInMiddle(t *testing.T) {
	l := List(Int(1), Int(2), Int(3))

	assert.True(t, Equal(Int(2), l.Delete(Index(1))))
	assert.Equal(t, 3, l.Len())
	assert.Equal(t, KindNull, l.Get(Index(1)).Kind())

	assert.True(t, Equal(Int(3), l.Delete(Index(2))))
	assert.Equal(t, `[1,null]`, l.String())

	assert.Nil(t, l.Delete(Index(5)))
}

func TestPutPadsListWithNull(t *testing.T) {
	l := List()
	l.Put(Index(3), String("hello"))
	require.Equal(t, 4, l.Len())
	assert.Equal(t, KindNull, l.Get(Index(0)).Kind())
	assert.Equal(t, `[null,null,null,"hello"]`, l.String())

	assert.Nil(t, l.Put(Name("x"), Int(1)))
	assert.Nil(t, l.Put(Index(0), nil))
	assert.Equal(t, 4, l.Len())

	assert.Equal(t, `[null,1]`, List(nil, Int(1)).String())
}

func TestListSurvivesJSON(t *testing.T) {
	l := List(Int(1), Int(2), Int(3))
	l.Delete(Index(1))

	decoded, err := ParseJSON([]byte(l.String()))
	require.NoError(t, err)
	assert.True(t, Equal(l, decoded))
	assert.Equal(t, Fingerprint(l), Fingerprint(decoded))
}

func TestMapKeepsInsertionOrder(t *testing.T) {
	m := Map().With("z", Int(1)).With("a", Int(2)).With("m", Int(3))
	assert.Equal(t, `{"z":1,"a":2,"m":3}`, m.String())

	m.Delete(Name("a"))
	m.Put(Name("a"), Int(4))
	assert.Equal(t, `{"z":1,"m":3,"a":4}`, m.String())
}

func TestLookup(t *testing.T) {
	root := MustFromAny(map[string]any{"a": map[string]any{"b": "x"}})

	v, ok := root.Lookup(Path("a", "b"))
	assert.True(t, ok)
	assert.True(t, Equal(String("x"), v))

	v, ok = root.Lookup(Path("a", "missing", "deeper"))
	assert.True(t, ok)
	assert.Nil(t, v)

	v, ok = root.Lookup(Path("a", "b", "c"))
	assert.False(t, ok)
	assert.True(t, Equal(String("x"), v))
	assert.Nil(t, root.At(Path("a", "b", "c")))
}

func TestCloneIsDeep(t *testing.T) {
	orig := MustFromAny(map[string]any{"a": []any{1, map[string]any{"b": true}}})
	cp := Clone(orig)
	require.True(t, Equal(orig, cp))

	cp.At(Path("a", 1)).Put(Name("b"), Bool(false))
	assert.False(t, Equal(orig, cp))
	b, _ := orig.At(Path("a", 1, "b")).AsBool()
	assert.True(t, b)
}

func TestEqualAndIdentical(t *testing.T) {
	a := Map().With("x", Int(1))
	b := Map().With("x", Int(1))

	assert.True(t, Equal(a, b))
	assert.False(t, Identical(a, b))
	assert.True(t, Identical(a, a))
	assert.True(t, Identical(String("s"), String("s")))
	assert.True(t, Identical(nil, nil))
	assert.False(t, Identical(nil, Null()))
	assert.False(t, Equal(Int(0), Bool(false)))
}

func TestJSONRoundTripPreservesOrder(t *testing.T) {
	src := `{"b":1,"a":[true,null,"s",{"y":2,"x":3}],"c":{}}`
	v, err := ParseJSON([]byte(src))
	require.NoError(t, err)
	assert.Equal(t, KindNull, v.At(Path("a", 1)).Kind())

	out, err := json.Marshal(v)
	require.NoError(t, err)
	assert.Equal(t, src, string(out))

	_, err = ParseJSON([]byte(`{} {}`))
	assert.Error(t, err)
}

func TestParseYAML(t *testing.T) {
	doc := []byte(`
title: board
shapes:
  - kind: circle
    r: 2.5
  - kind: line
flags:
  locked: false
  owner: ~
`)
	v, err := ParseYAML(doc)
	require.NoError(t, err)
	assert.Equal(t, `{"title":"board","shapes":[{"kind":"circle","r":2.5},{"kind":"line"}],"flags":{"locked":false,"owner":null}}`, v.String())

	empty, err := ParseYAML(nil)
	require.NoError(t, err)
	assert.Equal(t, KindMap, empty.Kind())
}

func TestFingerprintIgnoresFieldOrder(t *testing.T) {
	a := Map().With("x", Int(1)).With("y", List(String("s")))
	b := Map().With("y", List(String("s"))).With("x", Int(1))
	c := Map().With("x", Int(2)).With("y", List(String("s")))

	assert.Equal(t, Fingerprint(a), Fingerprint(b))
	assert.NotEqual(t, Fingerprint(a), Fingerprint(c))
	assert.NotEqual(t, Fingerprint(String("1")), Fingerprint(Int(1)))

	negZero := Number(math.Copysign(0, -1))
	assert.True(t, Equal(negZero, Int(0)))
	assert.Equal(t, Fingerprint(Int(0)), Fingerprint(negZero))
}

func TestToAny(t *testing.T) {
	in := map[string]any{"a": []any{1.0, "x", nil}, "b": true}
	assert.Equal(t, in, ToAny(MustFromAny(in)))

	_, err := FromAny(struct{}{})
	assert.ErrorIs(t, err, ErrUnsupportedType)
}
