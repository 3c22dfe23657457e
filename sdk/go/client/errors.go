package client

import (
	"errors"
	"fmt"
)

// Client-specific errors
var (
	ErrClientClosed     = errors.New("client is closed")
	ErrNotConnected     = errors.New("client is not connected")
	ErrAlreadyConnected = errors.New("client is already connected")
	ErrInvalidConfig    = errors.New("invalid client configuration")
	ErrExchangeFailed   = errors.New("exchange failed")
	ErrUnexpectedFrame  = errors.New("unexpected frame")
	ErrHubRejected      = errors.New("hub rejected the request")
)

// HubError is an error frame sent by the hub.
type HubError struct {
	Seq     uint64
	Message string
}

func (e *HubError) Error() string {
	return fmt.Sprintf("hub error for sync %d: %s", e.Seq, e.Message)
}

func (e *HubError) Unwrap() error {
	return ErrHubRejected
}
