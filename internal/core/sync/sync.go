// Package sync keeps a local state consistent with any number of peers by
// exchanging patches computed against per-peer shadow copies.
//
// Each peer has a shadow: the tree the local side believes the peer holds.
// Outbound patches are diffs between the shadow and the local tree, so only
// deltas travel. One exchange per peer may be in flight: PatchForPeer starts
// it and the Receive carrying the peer's answer ends it. A Receive that
// arrives while no exchange is in flight is a request from the peer and is
// answered with the local changes the peer has not seen.
//
// Sync is not safe for concurrent use; callers serialize calls.
package sync

import (
	"fmt"
	"sort"

	"github.com/zeusync/treesync/internal/core/diff"
	"github.com/zeusync/treesync/internal/core/observability/log"
	"github.com/zeusync/treesync/internal/core/patch"
	"github.com/zeusync/treesync/internal/core/state"
	"github.com/zeusync/treesync/internal/core/tree"
)

type Sync struct {
	local  *state.State
	peers  map[string]*peer
	logger log.Log

	// version counts local changes. Bumping it marks every shadow stale.
	version uint64
	detach  func()
}

// New starts tracking local. Every change notified by local invalidates all
// shadows; quiet mutations of local go unnoticed.
func New(local *state.State, opts ...Option) *Sync {
	s := &Sync{
		local:  local,
		peers:  make(map[string]*peer),
		logger: log.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.detach = local.OnChange(func(tree.Keypath, *tree.Value, *tree.Value) {
		s.version++
	})
	return s
}

// Close stops tracking the local state.
func (s *Sync) Close() {
	s.detach()
}

// Local returns the tracked state.
func (s *Sync) Local() *state.State {
	return s.local
}

// AddPeer registers a peer whose shadow starts as a copy of the local state.
func (s *Sync) AddPeer(id string) error {
	if _, ok := s.peers[id]; ok {
		return fmt.Errorf("%w: %s", ErrPeerExists, id)
	}
	s.peers[id] = &peer{
		shadow:        s.local.Clone(),
		shadowVersion: s.version,
	}
	s.logger.Debug("peer added", log.String("peer", id))
	return nil
}

// ResetPeer replaces the shadow of a peer with a tree known to be what the
// peer holds, typically fetched again after a failed exchange, and ends any
// exchange in flight. The next exchange sends the full difference.
func (s *Sync) ResetPeer(id string, shadow *tree.Value) error {
	p, err := s.peer(id)
	if err != nil {
		return err
	}
	st, err := state.New(shadow)
	if err != nil {
		return err
	}
	p.shadow = st
	p.phase = phaseIdle
	// any value other than the current version marks the shadow stale
	p.shadowVersion = s.version - 1
	s.logger.Debug("peer reset", log.String("peer", id))
	return nil
}

// RemovePeer forgets a peer and its shadow.
func (s *Sync) RemovePeer(id string) error {
	if _, ok := s.peers[id]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPeer, id)
	}
	delete(s.peers, id)
	s.logger.Debug("peer removed", log.String("peer", id))
	return nil
}

// Peers lists the registered peer ids in sorted order.
func (s *Sync) Peers() []string {
	ids := make([]string, 0, len(s.peers))
	for id := range s.peers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (s *Sync) Status(id string) (PeerStatus, error) {
	p, err := s.peer(id)
	if err != nil {
		return 0, err
	}
	switch {
	case p.phase == phaseAwaitingAnswer:
		return PeerAwaitingAnswer, nil
	case p.shadowVersion == s.version:
		return PeerInSync, nil
	default:
		return PeerStale, nil
	}
}

// Shadow returns a copy of what the local side believes the peer holds.
func (s *Sync) Shadow(id string) (*tree.Value, error) {
	p, err := s.peer(id)
	if err != nil {
		return nil, err
	}
	return p.shadow.Tree(), nil
}

// PatchForPeer starts an exchange: it returns the local changes the peer has
// not seen, possibly none, and waits for the peer's answer. It fails with
// ErrAlreadyAwaitingAnswer while a previous exchange is in flight.
func (s *Sync) PatchForPeer(id string) (patch.Patch, error) {
	p, err := s.peer(id)
	if err != nil {
		return nil, err
	}
	if p.phase == phaseAwaitingAnswer {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyAwaitingAnswer, id)
	}

	var out patch.Patch
	if p.shadowVersion != s.version {
		if out, err = s.reconcile(id, p); err != nil {
			return nil, err
		}
	}
	p.phase = phaseAwaitingAnswer
	return out, nil
}

// Receive applies a patch from peer id to its shadow and to the local state.
//
// With preferRemote the patch is applied leniently: the peer wins any
// conflict and Receive does not fail. Otherwise it is applied strictly: a
// shadow that rejects entries is only logged, while entries the local state
// rejects are returned as an error, after every shadow has been invalidated
// and the peer's exchange, if any, has been ended.
//
// If an exchange with the peer was in flight, p is its answer and Receive
// returns an empty patch. Otherwise p is a request and the returned patch is
// the answer to send back.
func (s *Sync) Receive(id string, p patch.Patch, preferRemote bool) (patch.Patch, error) {
	pr, err := s.peer(id)
	if err != nil {
		return nil, err
	}

	if !p.Empty() {
		strict := !preferRemote
		if err = pr.shadow.ApplyPatch(p, strict, state.Quiet()); err != nil {
			s.logger.Debug("shadow rejected patch entries", log.String("peer", id), log.Error(err))
		}
		pr.shadow.ResetChanges()

		localErr := s.local.ApplyPatch(p, strict)
		s.version++
		if localErr != nil {
			pr.phase = phaseIdle
			s.logger.Warn("local state rejected patch entries", log.String("peer", id), log.Error(localErr))
			return nil, localErr
		}
	}

	if pr.phase == phaseAwaitingAnswer {
		pr.phase = phaseIdle
		return nil, nil
	}
	if pr.shadowVersion == s.version {
		return nil, nil
	}
	return s.reconcile(id, pr)
}

// AbortExchange ends an exchange whose answer will never come, for example
// after a transport timeout. The shadow keeps the changes that were sent;
// a caller that cannot tell whether the peer applied them resyncs with
// ResetPeer.
func (s *Sync) AbortExchange(id string) error {
	p, err := s.peer(id)
	if err != nil {
		return err
	}
	p.phase = phaseIdle
	return nil
}

func (s *Sync) peer(id string) (*peer, error) {
	p, ok := s.peers[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPeer, id)
	}
	return p, nil
}

// reconcile advances the shadow to the local state and returns the patch
// that does so.
func (s *Sync) reconcile(id string, p *peer) (patch.Patch, error) {
	d, err := diff.Diff(p.shadow.View(), s.local.View())
	if err != nil {
		return nil, err
	}
	if err = p.shadow.ApplyPatch(d, true, state.Quiet()); err != nil {
		// the diff was computed against this very shadow
		s.logger.Error("shadow rejected its own diff", log.String("peer", id), log.Error(err))
		p.shadow = s.local.Clone()
	}
	p.shadow.ResetChanges()
	p.shadowVersion = s.version
	return d, nil
}
