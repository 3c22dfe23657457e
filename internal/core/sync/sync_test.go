package sync

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/treesync/internal/core/patch"
	"github.com/zeusync/treesync/internal/core/state"
	"github.com/zeusync/treesync/internal/core/tree"
)

func newReplica(t *testing.T, doc string, peers ...string) (*state.State, *Sync) {
	t.Helper()
	init, err := tree.ParseJSON([]byte(doc))
	require.NoError(t, err)
	st, err := state.New(init)
	require.NoError(t, err)
	s := New(st)
	for _, id := range peers {
		require.NoError(t, s.AddPeer(id))
	}
	return st, s
}

func TestConvergenceAfterOneRoundTrip(t *testing.T) {
	hubState, hub := newReplica(t, `{"x":1}`, "p")
	peerState, peer := newReplica(t, `{"x":1}`, "hub")

	hubState.Set(tree.Path("y"), tree.Int(2))
	hubState.Set(tree.Path("x"), tree.Int(3))
	peerState.Set(tree.Path("z"), tree.Bool(true))

	request, err := hub.PatchForPeer("p")
	require.NoError(t, err)
	require.NotEmpty(t, request)

	answer, err := peer.Receive("hub", request, false)
	require.NoError(t, err)
	_, err = hub.Receive("p", answer, true)
	require.NoError(t, err)

	assert.True(t, tree.Equal(hubState.Tree(), peerState.Tree()), "hub %s, peer %s", hubState, peerState)
	want := tree.MustFromAny(map[string]any{"x": 3, "y": 2, "z": true})
	assert.True(t, tree.Equal(want, peerState.Tree()), peerState.String())
}

// wire sends p through its JSON encoding, as the transports do.
func wire(t *testing.T, p patch.Patch) patch.Patch {
	t.Helper()
	data, err := json.Marshal(p)
	require.NoError(t, err)
	var out patch.Patch
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func TestConvergenceOverJSON(t *testing.T) {
	doc := `{"l":[1,2,3],"m":{"0":"zero"}}`
	hubState, hub := newReplica(t, doc, "p")
	peerState, peer := newReplica(t, doc, "hub")

	hubState.Remove(tree.Path("l", 1))
	hubState.Set(tree.Path("m", "b"), tree.String("bee"))
	peerState.Set(tree.Path("l", 2), tree.String("c"))

	request, err := hub.PatchForPeer("p")
	require.NoError(t, err)
	answer, err := peer.Receive("hub", wire(t, request), false)
	require.NoError(t, err)
	_, err = hub.Receive("p", wire(t, answer), true)
	require.NoError(t, err)

	assert.Equal(t, `[1,null,"c"]`, peerState.Get(tree.Path("l")).String())
	assert.True(t, tree.Equal(hubState.Tree(), peerState.Tree()), "hub %s, peer %s", hubState, peerState)

	// the cleared slot holds the same null on both sides
	peerState.Set(tree.Path("l", 1), tree.String("b"))
	request, err = peer.PatchForPeer("hub")
	require.NoError(t, err)
	require.Len(t, request, 1)
	answer, err = hub.Receive("p", wire(t, request), false)
	require.NoError(t, err)
	_, err = peer.Receive("hub", wire(t, answer), true)
	require.NoError(t, err)

	want := tree.MustFromAny(map[string]any{"l": []any{1, "b", "c"}, "m": map[string]any{"0": "zero", "b": "bee"}})
	assert.True(t, tree.Equal(want, hubState.Tree()), hubState.String())
	assert.True(t, tree.Equal(want, peerState.Tree()), peerState.String())
	assert.Equal(t, hubState.Fingerprint(), peerState.Fingerprint())
}

func TestHandshakeAllowsOneExchange(t *testing.T) {
	local, s := newReplica(t, `{}`, "p")

	status, err := s.Status("p")
	require.NoError(t, err)
	assert.Equal(t, PeerInSync, status)

	local.Set(tree.Path("a"), tree.Int(1))
	status, _ = s.Status("p")
	assert.Equal(t, PeerStale, status)

	p, err := s.PatchForPeer("p")
	require.NoError(t, err)
	assert.Len(t, p, 1)
	status, _ = s.Status("p")
	assert.Equal(t, PeerAwaitingAnswer, status)

	_, err = s.PatchForPeer("p")
	assert.ErrorIs(t, err, ErrAlreadyAwaitingAnswer)

	answer, err := s.Receive("p", nil, true)
	require.NoError(t, err)
	assert.Empty(t, answer)
	status, _ = s.Status("p")
	assert.Equal(t, PeerInSync, status)
}

func TestPatchForUpToDatePeerIsEmpty(t *testing.T) {
	_, s := newReplica(t, `{"a":1}`, "p")

	p, err := s.PatchForPeer("p")

	require.NoError(t, err)
	assert.Empty(t, p)
	status, _ := s.Status("p")
	assert.Equal(t, PeerAwaitingAnswer, status)
}

func TestAbortExchange(t *testing.T) {
	_, s := newReplica(t, `{}`, "p")
	_, err := s.PatchForPeer("p")
	require.NoError(t, err)

	require.NoError(t, s.AbortExchange("p"))

	_, err = s.PatchForPeer("p")
	assert.NoError(t, err)
}

func TestPeerRegistry(t *testing.T) {
	_, s := newReplica(t, `{}`, "b", "a")

	assert.Equal(t, []string{"a", "b"}, s.Peers())
	assert.ErrorIs(t, s.AddPeer("a"), ErrPeerExists)

	require.NoError(t, s.RemovePeer("a"))
	assert.ErrorIs(t, s.RemovePeer("a"), ErrUnknownPeer)
	assert.Equal(t, []string{"b"}, s.Peers())

	_, err := s.PatchForPeer("a")
	assert.ErrorIs(t, err, ErrUnknownPeer)
	_, err = s.Receive("a", nil, true)
	assert.ErrorIs(t, err, ErrUnknownPeer)
	_, err = s.Status("a")
	assert.ErrorIs(t, err, ErrUnknownPeer)
	assert.ErrorIs(t, s.AbortExchange("a"), ErrUnknownPeer)
}

func TestRequestIsAnsweredWithLocalChanges(t *testing.T) {
	local, s := newReplica(t, `{"a":1}`, "p")
	local.Set(tree.Path("b"), tree.Int(2))

	answer, err := s.Receive("p", patch.Patch{patch.Add(tree.Path("c"), tree.Int(3))}, false)

	require.NoError(t, err)
	require.Len(t, answer, 1)
	assert.Equal(t, "b", answer[0].Keypath.String())
	assert.Equal(t, `{"a":1,"b":2,"c":3}`, local.String())
	shadow, err := s.Shadow("p")
	require.NoError(t, err)
	assert.True(t, tree.Equal(local.Tree(), shadow))
}

func TestPreferRemoteOverwritesConflicts(t *testing.T) {
	local, s := newReplica(t, `{"a":"mine"}`, "p")

	_, err := s.Receive("p", patch.Patch{patch.Update(tree.Path("a"), tree.String("base"), tree.String("theirs"))}, true)

	require.NoError(t, err)
	assert.Equal(t, `{"a":"theirs"}`, local.String())
}

func TestStrictLocalFailureInvalidatesAllPeers(t *testing.T) {
	local, s := newReplica(t, `{"a":"mine"}`, "p", "q")
	_, err := s.PatchForPeer("p")
	require.NoError(t, err)

	p := patch.Patch{
		patch.Update(tree.Path("a"), tree.String("base"), tree.String("theirs")),
		patch.Add(tree.Path("b"), tree.Int(1)),
	}
	_, err = s.Receive("p", p, false)

	require.ErrorIs(t, err, state.ErrAggregateApplyFailure)
	assert.ErrorIs(t, err, patch.ErrBaseMismatch)
	assert.Equal(t, `{"a":"mine","b":1}`, local.String())
	for _, id := range []string{"p", "q"} {
		status, err := s.Status(id)
		require.NoError(t, err)
		assert.Equal(t, PeerStale, status, id)
	}
}

func TestResetPeer(t *testing.T) {
	local, s := newReplica(t, `{"a":1,"b":2}`, "p")
	_, err := s.PatchForPeer("p")
	require.NoError(t, err)

	require.NoError(t, s.ResetPeer("p", tree.MustFromAny(map[string]any{"a": 1})))

	status, _ := s.Status("p")
	assert.Equal(t, PeerStale, status)
	p, err := s.PatchForPeer("p")
	require.NoError(t, err)
	// the peer is believed to lack b, so it is sent again
	require.Len(t, p, 1)
	assert.Equal(t, patch.OpAdd, p[0].Op)
	assert.Equal(t, "b", p[0].Keypath.String())
	assert.Equal(t, `2`, p[0].New.String())
	assert.Equal(t, `{"a":1,"b":2}`, local.String())

	assert.ErrorIs(t, s.ResetPeer("p", tree.List()), state.ErrInvalidInitialState)
}

func TestCloseStopsTracking(t *testing.T) {
	local, s := newReplica(t, `{}`, "p")
	s.Close()

	local.Set(tree.Path("a"), tree.Int(1))

	status, _ := s.Status("p")
	assert.Equal(t, PeerInSync, status)
}

// Two clients edit concurrently, the hub applies their patches strictly
// and everyone ends with the hub's resolution.
func TestHubWithTwoClients(t *testing.T) {
	c1State, c1 := newReplica(t, `{}`, "server")
	c2State, c2 := newReplica(t, `{}`, "server")
	hubState, hub := newReplica(t, `{}`, "client1", "client2")

	c1State.SetPath("a", tree.String("hello"))
	c1State.SetPath("b", tree.MustFromAny([]any{1, 2}))
	c2State.SetPath("a", tree.String("world"))
	c2State.SetPath("c", tree.String("foo"))

	exchange := func(client *Sync, clientID string) error {
		request, err := client.PatchForPeer("server")
		require.NoError(t, err)
		answer, err := hub.Receive(clientID, request, false)
		if err != nil {
			require.NoError(t, client.AbortExchange("server"))
			return err
		}
		_, err = client.Receive("server", answer, true)
		require.NoError(t, err)
		return nil
	}

	require.NoError(t, exchange(c1, "client1"))
	// the hub already holds a different "a"
	err := exchange(c2, "client2")
	require.ErrorIs(t, err, state.ErrAggregateApplyFailure)
	require.NoError(t, exchange(c2, "client2"))
	require.NoError(t, exchange(c1, "client1"))

	want := `{"a":"hello","b":[1,2],"c":"foo"}`
	wantTree, err := tree.ParseJSON([]byte(want))
	require.NoError(t, err)
	assert.True(t, tree.Equal(wantTree, hubState.Tree()), hubState.String())
	assert.True(t, tree.Equal(wantTree, c1State.Tree()), c1State.String())
	assert.True(t, tree.Equal(wantTree, c2State.Tree()), c2State.String())
}
