package patch

import (
	"encoding/json"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/treesync/internal/core/modifier"
	"github.com/zeusync/treesync/internal/core/tree"
)

func TestApplyStrictBaseMismatch(t *testing.T) {
	root := tree.Map().With("a", tree.Int(6))

	_, err := Apply(root, Patch{Update(tree.Path("a"), tree.Int(5), tree.Int(7))}, true)

	require.ErrorIs(t, err, ErrBaseMismatch)
	var mismatch *BaseMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.True(t, tree.Equal(tree.Int(5), mismatch.Expected))
	assert.True(t, tree.Equal(tree.Int(6), mismatch.Actual))
	assert.Equal(t, "a", mismatch.Keypath.String())
	assert.Equal(t, `{"a":6}`, root.String())
}

func TestApplyStopsAtFirstFailure(t *testing.T) {
	root := tree.Map().With("a", tree.Int(6))
	p := Patch{
		Add(tree.Path("b"), tree.Int(1)),
		Update(tree.Path("a"), tree.Int(5), tree.Int(7)),
		Add(tree.Path("c"), tree.Int(2)),
	}

	_, err := Apply(root, p, true)

	assert.ErrorIs(t, err, ErrBaseMismatch)
	assert.Equal(t, `{"a":6,"b":1}`, root.String())
}

func TestApplyLenientOverwrites(t *testing.T) {
	root := tree.Map().With("a", tree.Int(6))
	p := Patch{
		Add(tree.Path("b"), tree.Int(1)),
		Update(tree.Path("a"), tree.Int(5), tree.Int(7)),
		Delete(tree.Path("missing"), tree.Int(0)),
	}

	m, err := Apply(root, p, false)

	require.NoError(t, err)
	// an overwritten key moves to the end of its map
	assert.Equal(t, `{"b":1,"a":7}`, root.String())
	var touched []string
	m.ForEachChange(func(c modifier.Change) {
		touched = append(touched, c.Keypath.String())
	})
	assert.Equal(t, []string{"b", "a"}, touched)
}

func TestApplyStrictComparesStructurally(t *testing.T) {
	root := tree.MustFromAny(map[string]any{"a": map[string]any{"x": 1, "y": []any{1, 2}}})
	old := tree.MustFromAny(map[string]any{"y": []any{1, 2}, "x": 1})

	_, err := Apply(root, Patch{Update(tree.Path("a"), old, tree.String("flat"))}, true)

	require.NoError(t, err)
	assert.Equal(t, `{"a":"flat"}`, root.String())
}

func TestApplyIsIdempotentWhenLenient(t *testing.T) {
	root := tree.MustFromAny(map[string]any{"a": 1, "b": []any{1, 2}})
	p := Patch{
		Update(tree.Path("a"), tree.Int(1), tree.Int(2)),
		Delete(tree.Path("b", 1), tree.Int(2)),
		Add(tree.Path("c", "d"), tree.Bool(true)),
	}

	_, err := Apply(root, p, false)
	require.NoError(t, err)
	once := tree.Clone(root)

	m, err := Apply(root, p, false)
	require.NoError(t, err)
	assert.True(t, tree.Equal(once, root))
	assert.Equal(t, 0, m.Len())
}

func TestApplyUnknownOp(t *testing.T) {
	_, err := Apply(tree.Map(), Patch{{Keypath: tree.Path("a"), Op: "x"}}, false)
	assert.ErrorIs(t, err, ErrUnknownOp)
}

func TestEntryJSON(t *testing.T) {
	p := Patch{
		Update(tree.Path("a", 0), tree.Int(1), tree.String("x")),
		Add(tree.Path("b"), tree.Null()),
		Delete(nil, tree.MustFromAny(map[string]any{"k": []any{true}})),
	}

	data, err := json.Marshal(p)
	require.NoError(t, err)
	assert.JSONEq(t, `[
		{"keypath":["a",0],"op":"u","old_value":1,"new_value":"x"},
		{"keypath":["b"],"op":"a","new_value":null},
		{"keypath":[],"op":"d","old_value":{"k":[true]}}
	]`, string(data))

	var decoded Patch
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Len(t, decoded, 3)
	assert.True(t, decoded[0].Keypath.Equal(tree.Path("a", 0)))
	assert.Equal(t, OpUpdate, decoded[0].Op)
	assert.Equal(t, tree.KindNull, decoded[1].New.Kind())
	assert.Nil(t, decoded[1].Old)
	assert.Nil(t, decoded[2].New)
	assert.True(t, tree.Equal(p[2].Old, decoded[2].Old))
}

func TestEntryJSONValidation(t *testing.T) {
	var e Entry
	assert.ErrorIs(t, json.Unmarshal([]byte(`{"keypath":["a"],"op":"u","old_value":1}`), &e), ErrMalformedEntry)
	assert.ErrorIs(t, json.Unmarshal([]byte(`{"keypath":["a"],"op":"a","old_value":1,"new_value":2}`), &e), ErrMalformedEntry)
	assert.ErrorIs(t, json.Unmarshal([]byte(`{"keypath":[],"op":"x"}`), &e), ErrUnknownOp)
	assert.Error(t, json.Unmarshal([]byte(`{"keypath":[-1],"op":"a","new_value":1}`), &e))
}

func TestEmptyPatchJSON(t *testing.T) {
	data, err := json.Marshal(Patch(nil))
	require.NoError(t, err)
	assert.Equal(t, "[]", string(data))
	assert.True(t, Patch(nil).Empty())
}

func TestFromChanges(t *testing.T) {
	root := tree.Map().With("a", tree.Int(1)).With("d", tree.String("x"))
	m := modifier.New(root)

	m.Set(tree.Path("a"), tree.Int(2))
	m.Set(tree.Path("b", "c"), tree.List(tree.Int(1)))
	m.Remove(tree.Path("d"))
	p := FromChanges(m)

	require.Len(t, p, 3)
	assert.Equal(t, "u a: 1 -> 2", p[0].String())
	assert.Equal(t, OpAdd, p[1].Op)
	assert.Equal(t, `{"c":[1]}`, p[1].New.String())
	assert.Equal(t, OpDelete, p[2].Op)
	assert.True(t, tree.Equal(tree.String("x"), p[2].Old))

	root.At(tree.Path("b", "c")).Append(tree.Int(2))
	assert.Equal(t, `{"c":[1]}`, p[1].New.String())
}

func TestFromChangesDropsNetZero(t *testing.T) {
	root := tree.Map().With("a", tree.Int(1))
	m := modifier.New(root)

	m.Set(tree.Path("a"), tree.Int(2))
	m.Set(tree.Path("a"), tree.Int(1))
	m.Set(tree.Path("tmp", "x"), tree.Int(1))
	m.Remove(tree.Path("tmp"))

	assert.Empty(t, FromChanges(m))
}

func TestFromChangesAfterOverwritingReportedChildren(t *testing.T) {
	base := tree.MustFromAny(map[string]any{"a": map[string]any{}})
	m := modifier.New(tree.Clone(base))

	m.Set(tree.Path("a", "x"), tree.Int(1))
	m.ForEachNewChange(func(modifier.Change) {})
	m.Set(tree.Path("a"), tree.Bool(true))
	m.ForEachNewChange(func(modifier.Change) {})
	p := FromChanges(m)

	require.Len(t, p, 1)
	assert.Equal(t, "u a: {} -> true", p[0].String())
	_, err := Apply(base, p, true)
	require.NoError(t, err)
	assert.Equal(t, `{"a":true}`, base.String())
}

func TestFromChangesDeletesListTailLastFirst(t *testing.T) {
	base := tree.MustFromAny(map[string]any{"l": []any{"a", "b", "c"}})
	m := modifier.New(tree.Clone(base))

	m.Set(tree.Path("l", 1), tree.String("x"))
	m.Remove(tree.Path("l", 2))
	m.Remove(tree.Path("l", 1))
	p := FromChanges(m)

	require.Len(t, p, 2)
	assert.Equal(t, "l.2", p[0].Keypath.String())
	assert.Equal(t, "l.1", p[1].Keypath.String())
	_, err := Apply(base, p, true)
	require.NoError(t, err)
	assert.Equal(t, `{"l":["a"]}`, base.String())
}

func TestApplyRejectsIndexPastListEnd(t *testing.T) {
	root := tree.MustFromAny(map[string]any{"l": []any{1}})

	for _, strict := range []bool{true, false} {
		_, err := Apply(root, Patch{Add(tree.Path("l", 50000000), tree.Int(1))}, strict)
		assert.ErrorIs(t, err, ErrIndexRange)
		_, err = Apply(root, Patch{Add(tree.Path("n", 3, "x"), tree.Int(1))}, strict)
		assert.ErrorIs(t, err, ErrIndexRange)
	}
	assert.Equal(t, `{"l":[1]}`, root.String())

	_, err := Apply(root, Patch{Add(tree.Path("l", 1), tree.Int(2)), Add(tree.Path("n", 0), tree.Int(3))}, true)
	require.NoError(t, err)
	assert.Equal(t, `{"l":[1,2],"n":[3]}`, root.String())
}

var randomKeys = []string{"0", "1", "17", "a", "b"}

func randomValue(rng *rand.Rand, depth int) *tree.Value {
	n := 4
	if depth > 0 {
		n = 7
	}
	switch rng.Intn(n) {
	case 0:
		return tree.Null()
	case 1:
		return tree.Bool(rng.Intn(2) == 0)
	case 2:
		return tree.Int(rng.Intn(4))
	case 3:
		return tree.String(randomKeys[rng.Intn(len(randomKeys))])
	case 4, 5:
		m := tree.Map()
		for _, k := range rng.Perm(len(randomKeys))[:rng.Intn(len(randomKeys)+1)] {
			m.Put(tree.Name(randomKeys[k]), randomValue(rng, depth-1))
		}
		return m
	default:
		l := tree.List()
		for i := rng.Intn(4); i > 0; i-- {
			l.Append(randomValue(rng, depth-1))
		}
		return l
	}
}

func randomPath(rng *rand.Rand) tree.Keypath {
	path := make(tree.Keypath, 1+rng.Intn(3))
	for i := range path {
		if rng.Intn(2) == 0 {
			path[i] = tree.Index(rng.Intn(4))
		} else {
			path[i] = tree.Name(randomKeys[rng.Intn(len(randomKeys))])
		}
	}
	return path
}

func TestFromChangesReplaysOnBase(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 500; i++ {
		base := tree.Map()
		for _, k := range randomKeys {
			if rng.Intn(2) == 0 {
				base.Put(tree.Name(k), randomValue(rng, 3))
			}
		}
		m := modifier.New(tree.Clone(base))
		for ops := 1 + rng.Intn(8); ops > 0; ops-- {
			switch rng.Intn(6) {
			case 0:
				m.Remove(randomPath(rng))
			case 1:
				_ = m.Push(randomPath(rng), randomValue(rng, 1))
			case 2:
				_ = m.Pop(randomPath(rng))
			case 3:
				// reported changes must not change the outcome
				m.ForEachNewChange(func(modifier.Change) {})
			default:
				m.Set(randomPath(rng), randomValue(rng, 2))
			}
		}
		want := tree.Clone(m.Root())

		p := FromChanges(m)
		result := tree.Clone(base)
		_, err := Apply(result, p, true)
		require.NoError(t, err, "base %s patch %v", base, p)
		require.True(t, tree.Equal(want, result), "base %s: got %s, want %s", base, result, want)
	}
}
