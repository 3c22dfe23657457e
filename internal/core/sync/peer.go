package sync

import (
	"fmt"

	"github.com/zeusync/treesync/internal/core/state"
)

// PeerStatus is the externally visible state of one peer's exchange.
type PeerStatus uint8

const (
	// PeerInSync is idle with a shadow matching the local state.
	PeerInSync PeerStatus = iota
	// PeerStale is idle, but the local state changed since the shadow was
	// last reconciled.
	PeerStale
	// PeerAwaitingAnswer has a patch handed out whose answer has not been
	// received yet.
	PeerAwaitingAnswer
)

func (s PeerStatus) String() string {
	switch s {
	case PeerInSync:
		return "in-sync"
	case PeerStale:
		return "stale"
	case PeerAwaitingAnswer:
		return "awaiting-answer"
	}
	return fmt.Sprintf("PeerStatus(%d)", uint8(s))
}

type phase uint8

const (
	phaseIdle phase = iota
	phaseAwaitingAnswer
)

// peer is what the local side believes one remote replica holds.
type peer struct {
	shadow *state.State
	// shadowVersion is the local version the shadow was last reconciled
	// with; the shadow is current when it equals Sync.version.
	shadowVersion uint64
	phase         phase
}
