// Package server is the hub: it owns the authoritative state and keeps one
// shadow per connected client.
package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/zeusync/treesync/internal/core/observability/log"
	"github.com/zeusync/treesync/internal/core/state"
	coresync "github.com/zeusync/treesync/internal/core/sync"
	"github.com/zeusync/treesync/internal/core/tree"
	"github.com/zeusync/treesync/internal/transport"
)

// Server represents a treesync hub
type Server struct {
	// mu serializes every call into state and sync
	mu    sync.Mutex
	state *state.State
	sync  *coresync.Sync

	listeners   []transport.Listener
	sessions    sync.Map // map[string]*session, keyed by connection id
	clientCount atomic.Int64

	running atomic.Bool
	closed  atomic.Bool
	cancel  context.CancelFunc
	group   *errgroup.Group
	workers sync.WaitGroup

	config Config
	logger log.Log
}

// session is one connected client. peerID is empty until the hello.
type session struct {
	conn        transport.Conn
	peerID      string
	connectedAt time.Time
	logger      log.Log
}

// Stats is a snapshot of the hub.
type Stats struct {
	Clients     int64
	Peers       int
	Fingerprint uint64
}

// NewServer creates a hub serving st.
func NewServer(config Config, st *state.State, logger log.Log) *Server {
	if logger == nil {
		logger = log.Nop()
	}
	logger = logger.With(log.String("component", "hub"))
	s := &Server{
		state:  st,
		sync:   coresync.New(st, coresync.WithLogger(logger)),
		config: config,
		logger: logger,
	}
	s.logger.Info("Hub created", log.Int("listeners", len(config.Listeners)))
	return s
}

// Start binds the configured listeners and serves them.
func (s *Server) Start(ctx context.Context) error {
	listeners := make([]transport.Listener, 0, len(s.config.Listeners))
	for _, lc := range s.config.Listeners {
		l, err := transport.Listen(lc.Transport, lc.Addr, s.logger)
		if err != nil {
			for _, opened := range listeners {
				_ = opened.Close()
			}
			s.logger.Error("Failed to create listener",
				log.String("transport", string(lc.Transport)),
				log.String("addr", lc.Addr),
				log.Error(err))
			return fmt.Errorf("%w: %s %s: %v", ErrListenerFailed, lc.Transport, lc.Addr, err)
		}
		listeners = append(listeners, l)
	}
	return s.Serve(ctx, listeners...)
}

// Serve accepts clients on listeners until Stop. The hub takes ownership of
// the listeners.
func (s *Server) Serve(ctx context.Context, listeners ...transport.Listener) error {
	if s.closed.Load() {
		return ErrServerClosed
	}
	if !s.running.CompareAndSwap(false, true) {
		return ErrServerAlreadyRunning
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.listeners = listeners
	group, gctx := errgroup.WithContext(ctx)
	for _, l := range listeners {
		l := l
		group.Go(func() error {
			return s.acceptConnections(gctx, l)
		})
	}
	s.group = group

	s.logger.Info("Hub started")
	return nil
}

// Stop closes the listeners and every client connection and waits for the
// handlers to return.
func (s *Server) Stop(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return ErrServerNotRunning
	}
	s.logger.Info("Stopping hub")

	s.cancel()
	for _, l := range s.listeners {
		_ = l.Close()
	}
	s.sessions.Range(func(_, value any) bool {
		_ = value.(*session).conn.Close()
		return true
	})

	done := make(chan error, 1)
	go func() {
		err := s.group.Wait()
		s.workers.Wait()
		done <- err
	}()
	select {
	case err := <-done:
		s.logger.Info("Hub stopped")
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the hub if it is running and releases the sync tracker.
func (s *Server) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	var err error
	if s.running.Load() {
		err = s.Stop(context.Background())
	}
	s.mu.Lock()
	s.sync.Close()
	s.mu.Unlock()
	return err
}

// Update runs fn with exclusive access to the hub state. Changes fn makes
// reach clients on their next poll.
func (s *Server) Update(fn func(st *state.State)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.state)
}

// Tree returns a copy of the hub state.
func (s *Server) Tree() *tree.Value {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Tree()
}

func (s *Server) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Clients:     s.clientCount.Load(),
		Peers:       len(s.sync.Peers()),
		Fingerprint: s.state.Fingerprint(),
	}
}

// acceptConnections accepts clients until ctx is done or l is closed.
func (s *Server) acceptConnections(ctx context.Context, l transport.Listener) error {
	s.logger.Debug("Connection acceptor started", log.String("addr", l.Addr()))
	defer s.logger.Debug("Connection acceptor stopped", log.String("addr", l.Addr()))

	for {
		conn, err := l.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, transport.ErrListenerClosed) || !s.running.Load() {
				return nil
			}
			s.logger.Error("Failed to accept connection", log.Error(err))
			time.Sleep(100 * time.Millisecond)
			continue
		}

		if limit := s.config.MaxClients; limit > 0 && s.clientCount.Load() >= int64(limit) {
			s.logger.Warn("Maximum clients reached, rejecting connection",
				log.String("remote_addr", conn.RemoteAddr()))
			_ = conn.Close()
			continue
		}

		sess := &session{
			conn:        conn,
			connectedAt: time.Now(),
			logger:      s.logger.With(log.String("conn_id", conn.ID())),
		}
		s.sessions.Store(conn.ID(), sess)
		s.clientCount.Add(1)
		sess.logger.Info("Client connected",
			log.String("remote_addr", conn.RemoteAddr()),
			log.Int64("total_clients", s.clientCount.Load()))

		s.workers.Add(1)
		go func() {
			defer s.workers.Done()
			s.handleClient(ctx, sess)
		}()
	}
}

// handleClient serves one client until it disconnects, stays silent past
// ClientTimeout or the hub stops.
func (s *Server) handleClient(ctx context.Context, sess *session) {
	defer func() {
		s.sessions.Delete(sess.conn.ID())
		s.clientCount.Add(-1)
		s.forgetPeer(sess)
		_ = sess.conn.Close()
		sess.logger.Info("Client disconnected",
			log.Duration("connected_for", time.Since(sess.connectedAt)),
			log.Int64("total_clients", s.clientCount.Load()))
	}()

	for {
		rctx, cancel := context.WithTimeout(ctx, s.config.ClientTimeout)
		f, err := sess.conn.Receive(rctx)
		cancel()
		if err != nil {
			if ctx.Err() == nil && s.running.Load() {
				sess.logger.Debug("Receive failed", log.Error(err))
			}
			return
		}
		if err = s.handleMessage(ctx, sess, f); err != nil {
			sess.logger.Warn("Failed to reply", log.Error(err))
			return
		}
	}
}

// handleMessage processes one frame. The returned error is a transport
// failure that ends the session.
func (s *Server) handleMessage(ctx context.Context, sess *session, f *transport.Frame) error {
	sess.logger.Debug("Handling frame", log.String("type", string(f.Type)), log.Uint64("seq", f.Seq))

	switch f.Type {
	case transport.FrameHello:
		return s.handleHello(ctx, sess)
	case transport.FrameSync:
		return s.handleSync(ctx, sess, f)
	default:
		sess.logger.Warn("Unexpected frame type", log.String("type", string(f.Type)))
		return s.send(ctx, sess, transport.Error(f.Seq, fmt.Errorf("%w: %s", ErrInvalidMessage, f.Type)))
	}
}

// handleHello registers a new peer for the session and sends it the full
// tree. A repeated hello starts over with a fresh peer.
func (s *Server) handleHello(ctx context.Context, sess *session) error {
	s.forgetPeer(sess)

	id := uuid.New().String()
	s.mu.Lock()
	err := s.sync.AddPeer(id)
	snapshot := s.state.Tree()
	fingerprint := s.state.Fingerprint()
	s.mu.Unlock()
	if err != nil {
		return err
	}

	sess.peerID = id
	sess.logger = sess.logger.With(log.String("peer_id", id))
	sess.logger.Debug("Peer registered")
	return s.send(ctx, sess, transport.Welcome(id, snapshot, fingerprint))
}

// handleSync applies the client's patch and answers with the hub changes the
// client has not seen. Rejected patches are reported with an error frame.
func (s *Server) handleSync(ctx context.Context, sess *session, f *transport.Frame) error {
	if sess.peerID == "" {
		return s.send(ctx, sess, transport.Error(f.Seq, ErrHandshakeRequired))
	}

	s.mu.Lock()
	answer, err := s.sync.Receive(sess.peerID, f.Patch, false)
	fingerprint := s.state.Fingerprint()
	s.mu.Unlock()

	if err != nil {
		sess.logger.Warn("Patch rejected", log.Int("entries", len(f.Patch)), log.Error(err))
		return s.send(ctx, sess, transport.Error(f.Seq, err))
	}
	return s.send(ctx, sess, transport.Answer(f.Seq, answer, fingerprint))
}

func (s *Server) forgetPeer(sess *session) {
	if sess.peerID == "" {
		return
	}
	s.mu.Lock()
	err := s.sync.RemovePeer(sess.peerID)
	s.mu.Unlock()
	if err != nil {
		sess.logger.Debug("Peer already gone", log.Error(err))
	}
	sess.peerID = ""
}

func (s *Server) send(ctx context.Context, sess *session, f *transport.Frame) error {
	wctx, cancel := context.WithTimeout(ctx, s.config.MessageTimeout)
	defer cancel()
	return sess.conn.Send(wctx, f)
}
