package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/zeusync/treesync/internal/core/observability/log"
)

// Kind names a transport in configuration.
type Kind string

// MaxFrameSize bounds the encoded size of one inbound frame.
const MaxFrameSize = 4 << 20

const (
	KindWebsocket Kind = "websocket"
	KindQUIC      Kind = "quic"
)

func (k Kind) Valid() bool {
	return k == KindWebsocket || k == KindQUIC
}

// Conn is a frame-oriented connection. Send may be called concurrently with
// Receive; concurrent Receive calls are not supported.
type Conn interface {
	ID() string
	Send(ctx context.Context, f *Frame) error
	// Receive blocks until a frame arrives, ctx is done or the connection
	// fails. A connection whose Receive was interrupted by ctx is unusable.
	Receive(ctx context.Context) (*Frame, error)
	RemoteAddr() string
	Close() error
}

type Listener interface {
	Accept(ctx context.Context) (Conn, error)
	Addr() string
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context, addr string) (Conn, error)
}

// Listen binds a listener of the given kind on addr.
func Listen(kind Kind, addr string, logger log.Log) (Listener, error) {
	switch kind {
	case KindWebsocket:
		l, err := ListenWebsocket(addr, logger)
		if err != nil {
			return nil, err
		}
		return l, nil
	case KindQUIC:
		tlsConfig, err := GenerateSelfSignedTLS()
		if err != nil {
			return nil, err
		}
		l, err := ListenQUIC(addr, tlsConfig, logger)
		if err != nil {
			return nil, err
		}
		return l, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTransport, kind)
	}
}

// NewDialer returns a dialer for the given kind. QUIC dialers accept the
// hub's self-signed certificate.
func NewDialer(kind Kind, logger log.Log) (Dialer, error) {
	switch kind {
	case KindWebsocket:
		return NewWebsocketDialer(logger), nil
	case KindQUIC:
		return NewQUICDialer(InsecureClientTLS(), logger), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTransport, kind)
	}
}

// contextError reports why a read interrupted by ctx failed. A deadline read
// from ctx may expire on the connection before ctx itself notices.
func contextError(ctx context.Context, deadline time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !deadline.IsZero() && !time.Now().Before(deadline) {
		return context.DeadlineExceeded
	}
	return nil
}
