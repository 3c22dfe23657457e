package transport

import "errors"

var (
	ErrClosed           = errors.New("transport: connection closed")
	ErrListenerClosed   = errors.New("transport: listener closed")
	ErrInvalidFrame     = errors.New("transport: invalid frame")
	ErrUnknownTransport = errors.New("transport: unknown transport")
	ErrFrameTooLarge    = errors.New("transport: frame too large")
)
