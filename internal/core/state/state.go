// Package state provides the observable tree: a map-rooted tree whose
// mutations are recorded, reported to change handlers and drained as
// patches.
package state

import (
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/zeusync/treesync/internal/core/modifier"
	"github.com/zeusync/treesync/internal/core/observability/log"
	"github.com/zeusync/treesync/internal/core/patch"
	"github.com/zeusync/treesync/internal/core/tree"
)

// ChangeHandler receives one change: the keypath, the value now there and the
// value that was there before. Either value may be nil for absent. Composite
// values are live views and must not be modified.
type ChangeHandler func(keypath tree.Keypath, value, old *tree.Value)

type handler struct {
	fn ChangeHandler
}

// State owns a map-rooted tree and the modifier that records its changes.
// It is not safe for concurrent use.
type State struct {
	root     *tree.Value
	modifier *modifier.Modifier
	handlers []*handler
	logger   log.Log
	discard  bool
}

// New creates a state holding a copy of init. A nil init starts empty; any
// value other than a map fails with ErrInvalidInitialState.
func New(init *tree.Value, opts ...Option) (*State, error) {
	root := tree.Map()
	if init != nil {
		if init.Kind() != tree.KindMap {
			return nil, fmt.Errorf("%w, got %s", ErrInvalidInitialState, init.Kind())
		}
		root = tree.Clone(init)
	}

	s := &State{
		root:     root,
		modifier: modifier.New(root),
		logger:   log.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Empty creates a state holding an empty map.
func Empty(opts ...Option) *State {
	s, _ := New(nil, opts...)
	return s
}

// Clone returns an independent state holding a copy of s's tree. Change
// handlers and the change log are not copied.
func (s *State) Clone() *State {
	root := tree.Clone(s.root)
	return &State{
		root:     root,
		modifier: modifier.New(root),
		logger:   s.logger,
		discard:  s.discard,
	}
}

// Set writes a copy of value at keypath.
func (s *State) Set(keypath tree.Keypath, value *tree.Value, opts ...MutationOption) {
	s.modifier.Set(keypath, value)
	s.commit(newMutation(opts))
}

// SetPath is Set with a dotted keypath such as "a.b.0".
func (s *State) SetPath(dotted string, value *tree.Value, opts ...MutationOption) {
	s.Set(tree.ParseKeypath(dotted), value, opts...)
}

// Remove deletes whatever is at keypath.
func (s *State) Remove(keypath tree.Keypath, opts ...MutationOption) {
	s.modifier.Remove(keypath)
	s.commit(newMutation(opts))
}

// Push appends value to the list at keypath, creating the list if needed.
func (s *State) Push(keypath tree.Keypath, value *tree.Value, opts ...MutationOption) error {
	if err := s.modifier.Push(keypath, value); err != nil {
		return err
	}
	s.commit(newMutation(opts))
	return nil
}

// Pop removes the last element of the list at keypath.
func (s *State) Pop(keypath tree.Keypath, opts ...MutationOption) error {
	if err := s.modifier.Pop(keypath); err != nil {
		return err
	}
	s.commit(newMutation(opts))
	return nil
}

// ApplyPatch applies every entry of p, continuing past failures. In strict
// mode each entry checks its expected old value first, and the failures are
// returned together as an *AggregateApplyError once every entry has been
// attempted. Entries that failed in lenient mode are only logged.
func (s *State) ApplyPatch(p patch.Patch, strict bool, opts ...MutationOption) error {
	var failures *multierror.Error
	for _, e := range p {
		if err := patch.ApplyEntry(s.modifier, e, strict); err != nil {
			failures = multierror.Append(failures, err)
		}
	}
	s.commit(newMutation(opts))

	if failures == nil {
		return nil
	}
	if !strict {
		s.logger.Warn("dropped patch entries", log.Int("count", failures.Len()), log.Error(failures))
		return nil
	}
	return &AggregateApplyError{Failures: failures}
}

// ApplyJSONPatch applies JSON Patch operations. Either every operation
// applies or the state is left untouched.
func (s *State) ApplyJSONPatch(ops []patch.Operation, opts ...MutationOption) error {
	if err := patch.ApplyJSONPatch(s.modifier, ops); err != nil {
		return err
	}
	s.commit(newMutation(opts))
	return nil
}

// LatestPatch drains everything changed since the previous drain into a
// minimal patch.
func (s *State) LatestPatch() patch.Patch {
	p := patch.FromChanges(s.modifier)
	s.modifier.Reset()
	return p
}

// ResetChanges discards the recorded changes without producing a patch.
func (s *State) ResetChanges() {
	s.modifier.Reset()
}

// Tree returns a copy of the current tree.
func (s *State) Tree() *tree.Value {
	return tree.Clone(s.root)
}

// View returns the live tree. Callers must not modify it; it is meant for
// read-only walks such as diffing, where a copy would be wasted.
func (s *State) View() *tree.Value {
	return s.root
}

// Get returns a copy of the value at keypath, or nil.
func (s *State) Get(keypath tree.Keypath) *tree.Value {
	return tree.Clone(s.root.At(keypath))
}

// Fingerprint hashes the current tree; equal trees have equal fingerprints.
func (s *State) Fingerprint() uint64 {
	return tree.Fingerprint(s.root)
}

func (s *State) String() string {
	return s.root.String()
}

// OnChange registers fn for every change made after this call. Handlers run
// synchronously in registration order. The returned func unregisters fn.
func (s *State) OnChange(fn ChangeHandler) (cancel func()) {
	h := &handler{fn: fn}
	s.handlers = append(s.handlers, h)
	return func() {
		for i, existing := range s.handlers {
			if existing == h {
				s.handlers = append(s.handlers[:i:i], s.handlers[i+1:]...)
				return
			}
		}
	}
}

// commit reports the changes no handler has seen yet, folded so that writes
// cancelling out inside one mutation are not reported. Changes are marked
// reported even when the mutation is quiet. The log itself keeps its full
// history for LatestPatch.
func (s *State) commit(m mutation) {
	var batch []modifier.Change
	s.modifier.ForEachNewChange(func(c modifier.Change) {
		batch = append(batch, c)
	})
	if s.discard {
		s.modifier.Reset()
	}
	if m.quiet {
		return
	}
	handlers := s.handlers
	for _, c := range modifier.Fold(batch) {
		for _, h := range handlers {
			h.fn(c.Keypath, c.New, c.Old)
		}
	}
}
