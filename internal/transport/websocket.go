package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/zeusync/treesync/internal/core/observability/log"
)

// SyncPath is the HTTP path a websocket hub serves.
const SyncPath = "/sync"

const closeGracePeriod = time.Second

var _ Conn = (*websocketConn)(nil)

type websocketConn struct {
	id     string
	conn   *websocket.Conn
	closed atomic.Bool

	// gorilla connections support one concurrent writer
	writeMu sync.Mutex
}

func newWebsocketConn(conn *websocket.Conn) *websocketConn {
	conn.SetReadLimit(MaxFrameSize)
	return &websocketConn{
		id:   uuid.New().String(),
		conn: conn,
	}
}

func (c *websocketConn) ID() string {
	return c.id
}

func (c *websocketConn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

func (c *websocketConn) Send(ctx context.Context, f *Frame) error {
	if c.closed.Load() {
		return ErrClosed
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	deadline, _ := ctx.Deadline()
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return c.conn.WriteJSON(f)
}

func (c *websocketConn) Receive(ctx context.Context) (*Frame, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	deadline, _ := ctx.Deadline()
	if err := c.conn.SetReadDeadline(deadline); err != nil {
		return nil, err
	}
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	var f Frame
	if err := c.conn.ReadJSON(&f); err != nil {
		if errors.Is(err, websocket.ErrReadLimit) {
			return nil, ErrFrameTooLarge
		}
		if err := contextError(ctx, deadline); err != nil {
			return nil, err
		}
		if c.closed.Load() {
			return nil, ErrClosed
		}
		return nil, err
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

func (c *websocketConn) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.writeMu.Lock()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGracePeriod))
	c.writeMu.Unlock()
	return c.conn.Close()
}

var _ Listener = (*WebsocketListener)(nil)

// WebsocketListener upgrades HTTP requests into connections handed out by
// Accept. It is an http.Handler, so it can be mounted on any server; the
// listener returned by ListenWebsocket also owns one.
type WebsocketListener struct {
	upgrader websocket.Upgrader
	conns    chan Conn
	done     chan struct{}
	once     sync.Once

	ln     net.Listener
	server *http.Server
	logger log.Log
}

// NewWebsocketListener returns a listener that is not bound to any address.
func NewWebsocketListener(logger log.Log) *WebsocketListener {
	if logger == nil {
		logger = log.Nop()
	}
	return &WebsocketListener{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		conns:  make(chan Conn),
		done:   make(chan struct{}),
		logger: logger.With(log.String("transport", string(KindWebsocket))),
	}
}

// ListenWebsocket serves SyncPath on addr.
func ListenWebsocket(addr string, logger log.Log) (*WebsocketListener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	l := NewWebsocketListener(logger)
	mux := http.NewServeMux()
	mux.Handle(SyncPath, l)
	l.ln = ln
	l.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := l.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.logger.Error("websocket server stopped", log.Error(err))
		}
	}()
	l.logger.Info("websocket listener started", log.String("addr", ln.Addr().String()))
	return l, nil
}

func (l *WebsocketListener) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	select {
	case <-l.done:
		http.Error(w, "listener closed", http.StatusServiceUnavailable)
		return
	default:
	}

	ws, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader has already replied
		l.logger.Warn("websocket upgrade failed", log.String("remote_addr", r.RemoteAddr), log.Error(err))
		return
	}
	c := newWebsocketConn(ws)
	select {
	case l.conns <- c:
	case <-l.done:
		_ = c.Close()
	}
}

func (l *WebsocketListener) Accept(ctx context.Context) (Conn, error) {
	select {
	case c := <-l.conns:
		return c, nil
	case <-l.done:
		return nil, ErrListenerClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Addr is empty for a listener that is only used as a handler.
func (l *WebsocketListener) Addr() string {
	if l.ln == nil {
		return ""
	}
	return l.ln.Addr().String()
}

// Close stops accepting connections. Connections already accepted stay
// open.
func (l *WebsocketListener) Close() error {
	var err error
	l.once.Do(func() {
		close(l.done)
		if l.server != nil {
			err = l.server.Close()
		}
	})
	return err
}

var _ Dialer = (*WebsocketDialer)(nil)

type WebsocketDialer struct {
	dialer *websocket.Dialer
	logger log.Log
}

func NewWebsocketDialer(logger log.Log) *WebsocketDialer {
	if logger == nil {
		logger = log.Nop()
	}
	return &WebsocketDialer{
		dialer: websocket.DefaultDialer,
		logger: logger,
	}
}

// Dial connects to addr, which is either host:port or a ws, wss, http or
// https URL. A URL without a path gets SyncPath.
func (d *WebsocketDialer) Dial(ctx context.Context, addr string) (Conn, error) {
	u, err := websocketURL(addr)
	if err != nil {
		return nil, err
	}
	ws, _, err := d.dialer.DialContext(ctx, u, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", u, err)
	}
	d.logger.Debug("websocket connected", log.String("url", u))
	return newWebsocketConn(ws), nil
}

func websocketURL(addr string) (string, error) {
	if !strings.Contains(addr, "://") {
		addr = "ws://" + addr
	}
	u, err := url.Parse(addr)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported websocket scheme %q", u.Scheme)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = SyncPath
	}
	return u.String(), nil
}
