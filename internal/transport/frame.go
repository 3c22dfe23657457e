// Package transport moves frames between a hub and its clients.
//
// A frame is one JSON object. The websocket transport sends one frame per
// message; the QUIC transport writes newline-delimited frames on a single
// bidirectional stream.
package transport

import (
	"fmt"

	"github.com/zeusync/treesync/internal/core/patch"
	"github.com/zeusync/treesync/internal/core/tree"
)

type FrameType string

const (
	// FrameHello opens a session. The hub answers with FrameWelcome.
	FrameHello FrameType = "hello"
	// FrameWelcome carries the peer id assigned by the hub and its full tree.
	FrameWelcome FrameType = "welcome"
	// FrameSync carries the client's patch for the hub.
	FrameSync FrameType = "sync"
	// FrameAnswer carries the hub's patch back along with its fingerprint.
	FrameAnswer FrameType = "answer"
	// FrameError reports a failed sync. The client treats its exchange as lost.
	FrameError FrameType = "error"
)

// Frame is the unit exchanged over a Conn. Seq echoes the sync frame an
// answer or error belongs to.
type Frame struct {
	Type        FrameType   `json:"type"`
	PeerID      string      `json:"peer_id,omitempty"`
	Seq         uint64      `json:"seq,omitempty"`
	Patch       patch.Patch `json:"patch,omitempty"`
	State       *tree.Value `json:"state,omitempty"`
	Fingerprint uint64      `json:"fingerprint,omitempty"`
	Error       string      `json:"error,omitempty"`
}

func Hello() *Frame {
	return &Frame{Type: FrameHello}
}

func Welcome(peerID string, state *tree.Value, fingerprint uint64) *Frame {
	return &Frame{Type: FrameWelcome, PeerID: peerID, State: state, Fingerprint: fingerprint}
}

func Sync(seq uint64, p patch.Patch) *Frame {
	return &Frame{Type: FrameSync, Seq: seq, Patch: p}
}

func Answer(seq uint64, p patch.Patch, fingerprint uint64) *Frame {
	return &Frame{Type: FrameAnswer, Seq: seq, Patch: p, Fingerprint: fingerprint}
}

func Error(seq uint64, err error) *Frame {
	return &Frame{Type: FrameError, Seq: seq, Error: err.Error()}
}

// Validate checks that the fields a frame type needs are set.
func (f *Frame) Validate() error {
	switch f.Type {
	case FrameHello, FrameSync, FrameAnswer:
		return nil
	case FrameWelcome:
		if f.PeerID == "" {
			return fmt.Errorf("%w: welcome without peer id", ErrInvalidFrame)
		}
		if f.State == nil {
			return fmt.Errorf("%w: welcome without state", ErrInvalidFrame)
		}
		return nil
	case FrameError:
		if f.Error == "" {
			return fmt.Errorf("%w: error frame without message", ErrInvalidFrame)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidFrame, f.Type)
	}
}
