package state

import (
	"github.com/zeusync/treesync/internal/core/observability/log"
)

type Option func(*State)

// WithLogger sets the logger used to report entries dropped by lenient patch
// application.
func WithLogger(logger log.Log) Option {
	return func(s *State) {
		s.logger = logger
	}
}

// WithoutChangeLog drops every change once handlers have seen it, for
// owners that never call LatestPatch. The log otherwise grows until drained.
func WithoutChangeLog() Option {
	return func(s *State) {
		s.discard = true
	}
}

// MutationOption tunes a single mutation.
type MutationOption func(*mutation)

type mutation struct {
	quiet bool
}

// Quiet applies the mutation without notifying change handlers. The changes
// are still recorded and end up in the next LatestPatch.
func Quiet() MutationOption {
	return func(m *mutation) {
		m.quiet = true
	}
}

func newMutation(opts []MutationOption) mutation {
	var m mutation
	for _, opt := range opts {
		opt(&m)
	}
	return m
}
