// Package client provides a polling client that keeps a local tree in sync
// with a treesync hub.
//
// The client holds a local state and one peer, the hub. Every poll sends the
// local changes the hub has not seen and applies the hub's answer, letting
// the hub win conflicts. An exchange whose answer is lost is recovered by
// reconnecting: the hub's fresh tree replaces the shadow and the local tree.
package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/zeusync/treesync/internal/core/diff"
	"github.com/zeusync/treesync/internal/core/observability/log"
	"github.com/zeusync/treesync/internal/core/state"
	coresync "github.com/zeusync/treesync/internal/core/sync"
	"github.com/zeusync/treesync/internal/core/tree"
	"github.com/zeusync/treesync/internal/transport"
)

// hubPeer is the id of the hub in the client's sync tracker.
const hubPeer = "hub"

// Client represents a treesync client
type Client struct {
	// mu guards local, sync and hubFingerprint
	mu             sync.Mutex
	local          *state.State
	sync           *coresync.Sync
	hubFingerprint uint64
	welcomed       bool

	// exchangeMu serializes connects and exchanges and guards conn, peerID
	// and seq
	exchangeMu sync.Mutex
	conn       transport.Conn
	peerID     string
	seq        uint64

	eventHandlers []EventHandler
	handlerMutex  sync.RWMutex

	connected atomic.Bool
	closed    atomic.Bool

	dialer transport.Dialer
	config Config
	logger log.Log
}

// EventHandler defines a function type for handling client events
type EventHandler func(event Event) error

// EventType represents different types of client events
type EventType string

const (
	EventTypeConnected    EventType = "connected"
	EventTypeDisconnected EventType = "disconnected"
	EventTypeResynced     EventType = "resynced"
	EventTypeError        EventType = "error"
)

// Event represents a client event
type Event struct {
	Type      EventType
	Timestamp time.Time
	PeerID    string
	Error     error
}

type Option func(*Client)

func WithLogger(logger log.Log) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithDialer replaces the dialer picked from Config.Transport.
func WithDialer(dialer transport.Dialer) Option {
	return func(c *Client) {
		c.dialer = dialer
	}
}

// NewClient creates a client with an empty local tree. The tree fills up on
// Connect.
func NewClient(config Config, opts ...Option) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	c := &Client{
		config: config,
		logger: log.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(log.String("component", "client"))

	if c.dialer == nil {
		dialer, err := transport.NewDialer(config.Transport, c.logger)
		if err != nil {
			return nil, err
		}
		c.dialer = dialer
	}

	c.local = state.Empty(state.WithLogger(c.logger), state.WithoutChangeLog())
	c.sync = coresync.New(c.local, coresync.WithLogger(c.logger))
	if err := c.sync.AddPeer(hubPeer); err != nil {
		return nil, err
	}

	c.logger.Debug("Client created", log.String("hub_addr", config.HubAddr))
	return c, nil
}

// Connect dials the hub, says hello and takes the hub's tree.
func (c *Client) Connect(ctx context.Context) error {
	if c.closed.Load() {
		return ErrClientClosed
	}
	c.exchangeMu.Lock()
	defer c.exchangeMu.Unlock()
	if c.connected.Load() {
		return ErrAlreadyConnected
	}
	return c.connect(ctx)
}

func (c *Client) connect(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.config.ConnectTimeout)
	defer cancel()

	c.logger.Info("Connecting to hub", log.String("addr", c.config.HubAddr))
	conn, err := c.dialer.Dial(ctx, c.config.HubAddr)
	if err != nil {
		c.logger.Error("Failed to connect to hub", log.String("addr", c.config.HubAddr), log.Error(err))
		return err
	}

	welcome, err := c.handshake(ctx, conn)
	if err != nil {
		_ = conn.Close()
		return err
	}
	if err = c.adopt(welcome); err != nil {
		_ = conn.Close()
		return err
	}

	c.conn = conn
	c.peerID = welcome.PeerID
	c.connected.Store(true)
	c.logger.Info("Connected to hub",
		log.String("peer_id", welcome.PeerID),
		log.String("remote_addr", conn.RemoteAddr()))
	c.emitEvent(Event{Type: EventTypeConnected, Timestamp: time.Now(), PeerID: welcome.PeerID})
	return nil
}

func (c *Client) handshake(ctx context.Context, conn transport.Conn) (*transport.Frame, error) {
	if err := conn.Send(ctx, transport.Hello()); err != nil {
		return nil, err
	}
	reply, err := conn.Receive(ctx)
	if err != nil {
		return nil, err
	}
	switch reply.Type {
	case transport.FrameWelcome:
		return reply, nil
	case transport.FrameError:
		return nil, &HubError{Seq: reply.Seq, Message: reply.Error}
	default:
		return nil, fmt.Errorf("%w: %s during handshake", ErrUnexpectedFrame, reply.Type)
	}
}

// adopt makes the hub's tree both the shadow and the local tree. Local
// handlers see the difference as ordinary changes.
func (c *Client) adopt(welcome *transport.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	d, err := diff.Diff(c.local.View(), welcome.State)
	if err != nil {
		return err
	}
	if err = c.local.ApplyPatch(d, false); err != nil {
		return err
	}
	if err = c.sync.ResetPeer(hubPeer, welcome.State); err != nil {
		return err
	}
	c.hubFingerprint = welcome.Fingerprint
	c.welcomed = true
	return nil
}

// Exchange runs one poll: it sends the local changes the hub has not seen
// and applies the hub's answer. Failures match ErrExchangeFailed. A patch the
// hub rejects is corrected by the next exchange; a lost answer leaves the
// hub's view unknown, so the client reconnects and resyncs.
func (c *Client) Exchange(ctx context.Context) error {
	if c.closed.Load() {
		return ErrClientClosed
	}
	c.exchangeMu.Lock()
	defer c.exchangeMu.Unlock()
	if !c.connected.Load() {
		return ErrNotConnected
	}

	c.mu.Lock()
	p, err := c.sync.PatchForPeer(hubPeer)
	c.mu.Unlock()
	if err != nil {
		return err
	}

	c.seq++
	answer, err := c.roundTrip(ctx, transport.Sync(c.seq, p))
	var hubErr *HubError
	switch {
	case errors.As(err, &hubErr):
		// the hub kept what it could apply and its shadow of us took the
		// whole patch, so the next exchange brings the hub's side
		c.logger.Warn("Hub rejected patch", log.Uint64("seq", c.seq), log.Error(err))
		c.emitEvent(Event{Type: EventTypeError, Timestamp: time.Now(), PeerID: c.peerID, Error: err})
		c.mu.Lock()
		_ = c.sync.AbortExchange(hubPeer)
		c.mu.Unlock()
		return fmt.Errorf("%w: %w", ErrExchangeFailed, err)
	case err != nil:
		c.logger.Warn("Exchange failed, resyncing", log.Uint64("seq", c.seq), log.Error(err))
		c.emitEvent(Event{Type: EventTypeError, Timestamp: time.Now(), PeerID: c.peerID, Error: err})
		return c.resync(ctx, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err = c.sync.Receive(hubPeer, answer.Patch, true); err != nil {
		return err
	}
	c.hubFingerprint = answer.Fingerprint
	if len(p) > 0 || len(answer.Patch) > 0 {
		c.logger.Debug("Exchange done",
			log.Int("sent", len(p)),
			log.Int("received", len(answer.Patch)))
	}
	return nil
}

// roundTrip sends a sync frame and waits for the reply with the same seq.
func (c *Client) roundTrip(ctx context.Context, f *transport.Frame) (*transport.Frame, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.AnswerTimeout)
	defer cancel()

	if err := c.conn.Send(ctx, f); err != nil {
		return nil, err
	}
	for {
		reply, err := c.conn.Receive(ctx)
		if err != nil {
			return nil, err
		}
		if reply.Seq != f.Seq {
			c.logger.Debug("Dropping stale reply", log.Uint64("seq", reply.Seq))
			continue
		}
		switch reply.Type {
		case transport.FrameAnswer:
			return reply, nil
		case transport.FrameError:
			return nil, &HubError{Seq: reply.Seq, Message: reply.Error}
		default:
			return nil, fmt.Errorf("%w: %s", ErrUnexpectedFrame, reply.Type)
		}
	}
}

// resync ends the lost exchange and reconnects, which resets the hub's
// shadow to the tree the hub actually holds. Local changes the hub never
// received are overwritten by the hub's tree.
func (c *Client) resync(ctx context.Context, cause error) error {
	c.mu.Lock()
	_ = c.sync.AbortExchange(hubPeer)
	c.mu.Unlock()
	c.disconnect()

	failure := fmt.Errorf("%w: %w", ErrExchangeFailed, cause)
	if err := c.connect(ctx); err != nil {
		return multierror.Append(failure, fmt.Errorf("reconnect: %w", err))
	}
	c.emitEvent(Event{Type: EventTypeResynced, Timestamp: time.Now(), PeerID: c.peerID})
	return failure
}

// Run connects if needed and exchanges every PollInterval until ctx is done
// or the client is closed. Failures are logged and retried on the next tick.
func (c *Client) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		if c.closed.Load() {
			return ErrClientClosed
		}
		if !c.connected.Load() {
			if err := c.Connect(ctx); err != nil && !errors.Is(err, ErrAlreadyConnected) {
				c.logger.Warn("Connect failed", log.Error(err))
				continue
			}
		}
		if err := c.Exchange(ctx); err != nil && ctx.Err() == nil {
			c.logger.Warn("Poll failed", log.Error(err))
		}
	}
}

// Disconnect closes the connection to the hub. The local tree is kept and
// the next Connect merges the hub's tree into it.
func (c *Client) Disconnect() error {
	c.exchangeMu.Lock()
	defer c.exchangeMu.Unlock()
	if !c.connected.Load() {
		return ErrNotConnected
	}
	c.disconnect()
	return nil
}

func (c *Client) disconnect() {
	if !c.connected.CompareAndSwap(true, false) {
		return
	}
	_ = c.conn.Close()
	peerID := c.peerID
	c.conn, c.peerID = nil, ""
	c.logger.Info("Disconnected from hub", log.String("peer_id", peerID))
	c.emitEvent(Event{Type: EventTypeDisconnected, Timestamp: time.Now(), PeerID: peerID})
}

// Close disconnects and stops tracking local changes.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.exchangeMu.Lock()
	c.disconnect()
	c.exchangeMu.Unlock()

	c.mu.Lock()
	c.sync.Close()
	c.mu.Unlock()
	c.logger.Debug("Client closed")
	return nil
}

// Update runs fn with exclusive access to the local state. Changes fn makes
// reach the hub on the next exchange.
func (c *Client) Update(fn func(st *state.State)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(c.local)
}

// Tree returns a copy of the local tree.
func (c *Client) Tree() *tree.Value {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.local.Tree()
}

func (c *Client) Get(keypath tree.Keypath) *tree.Value {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.local.Get(keypath)
}

// OnChange registers fn for changes of the local tree, whether made through
// Update or received from the hub. fn runs with the client locked and must
// not call back into it.
func (c *Client) OnChange(fn state.ChangeHandler) (cancel func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	detach := c.local.OnChange(fn)
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		detach()
	}
}

// Converged reports whether the local tree matches the hub's tree as of the
// last exchange.
func (c *Client) Converged() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.welcomed && c.local.Fingerprint() == c.hubFingerprint
}

func (c *Client) IsConnected() bool {
	return c.connected.Load()
}

// PeerID returns the id the hub assigned on the last handshake.
func (c *Client) PeerID() string {
	c.exchangeMu.Lock()
	defer c.exchangeMu.Unlock()
	return c.peerID
}

// OnEvent registers an event handler
func (c *Client) OnEvent(handler EventHandler) {
	c.handlerMutex.Lock()
	defer c.handlerMutex.Unlock()
	c.eventHandlers = append(c.eventHandlers, handler)
}

func (c *Client) emitEvent(event Event) {
	c.handlerMutex.RLock()
	handlers := c.eventHandlers
	c.handlerMutex.RUnlock()

	for _, handler := range handlers {
		if err := handler(event); err != nil {
			c.logger.Warn("Event handler failed", log.String("event", string(event.Type)), log.Error(err))
		}
	}
}
