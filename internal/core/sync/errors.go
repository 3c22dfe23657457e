package sync

import "errors"

var (
	ErrAlreadyAwaitingAnswer = errors.New("already awaiting an answer from peer")
	ErrUnknownPeer           = errors.New("unknown peer")
	ErrPeerExists            = errors.New("peer already exists")
)
