package transport

import (
	"bufio"
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/quic-go/quic-go"

	"github.com/zeusync/treesync/internal/core/observability/log"
	"github.com/zeusync/treesync/pkg/generic"
)

// ALPN is the application protocol negotiated by both QUIC ends.
const ALPN = "treesync"

var errStreamNotOpen = errors.New("transport: stream not open")

// frameBuffers holds encode buffers for outgoing frames.
var frameBuffers = generic.NewPool(func() *bytes.Buffer { return new(bytes.Buffer) }, (*bytes.Buffer).Reset)

func quicConfig() *quic.Config {
	return &quic.Config{
		MaxIdleTimeout:  30 * time.Second,
		KeepAlivePeriod: 10 * time.Second,
	}
}

// GenerateSelfSignedTLS returns a server TLS config with a fresh self-signed
// certificate for localhost. Meant for development.
func GenerateSelfSignedTLS() (*tls.Config, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject: pkix.Name{
			Organization: []string{"treesync"},
		},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IPAddresses:           []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback},
		DNSNames:              []string{"localhost"},
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		Certificates: []tls.Certificate{{Certificate: [][]byte{der}, PrivateKey: key}},
		NextProtos:   []string{ALPN},
		MinVersion:   tls.VersionTLS13,
	}, nil
}

// InsecureClientTLS trusts any server certificate.
func InsecureClientTLS() *tls.Config {
	return &tls.Config{
		InsecureSkipVerify: true, //nolint:gosec // development hubs use self-signed certificates
		NextProtos:         []string{ALPN},
		MinVersion:         tls.VersionTLS13,
	}
}

var _ Conn = (*quicConn)(nil)

// quicConn carries newline-delimited frames on one bidirectional stream.
// The dialing side opens the stream; the accepting side takes it on its
// first Receive.
type quicConn struct {
	id     string
	conn   *quic.Conn
	closed atomic.Bool

	mu     sync.Mutex
	stream *quic.Stream
	reader *bufio.Reader

	writeMu sync.Mutex
}

func newQUICConn(conn *quic.Conn, stream *quic.Stream) *quicConn {
	c := &quicConn{
		id:   uuid.New().String(),
		conn: conn,
	}
	if stream != nil {
		c.setStream(stream)
	}
	return c
}

func (c *quicConn) setStream(stream *quic.Stream) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stream = stream
	c.reader = bufio.NewReader(stream)
}

func (c *quicConn) current() (*quic.Stream, *bufio.Reader) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stream, c.reader
}

func (c *quicConn) ID() string {
	return c.id
}

func (c *quicConn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

func (c *quicConn) Send(ctx context.Context, f *Frame) error {
	if c.closed.Load() {
		return ErrClosed
	}
	stream, _ := c.current()
	if stream == nil {
		return errStreamNotOpen
	}
	buf := frameBuffers.Get()
	defer frameBuffers.Put(buf)
	// Encode terminates the frame with a newline
	if err := json.NewEncoder(buf).Encode(f); err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	deadline, _ := ctx.Deadline()
	if err := stream.SetWriteDeadline(deadline); err != nil {
		return err
	}
	_, err := stream.Write(buf.Bytes())
	return err
}

func (c *quicConn) Receive(ctx context.Context) (*Frame, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	stream, reader := c.current()
	if stream == nil {
		accepted, err := c.conn.AcceptStream(ctx)
		if err != nil {
			return nil, err
		}
		c.setStream(accepted)
		stream, reader = c.current()
	}

	deadline, _ := ctx.Deadline()
	if err := stream.SetReadDeadline(deadline); err != nil {
		return nil, err
	}
	stop := context.AfterFunc(ctx, func() {
		_ = stream.SetReadDeadline(time.Now())
	})
	defer stop()

	line, err := readLine(reader, MaxFrameSize)
	if err != nil {
		if err := contextError(ctx, deadline); err != nil {
			return nil, err
		}
		if c.closed.Load() {
			return nil, ErrClosed
		}
		return nil, err
	}
	var f Frame
	if err = json.Unmarshal(line, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFrame, err)
	}
	if err = f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

func (c *quicConn) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	if stream, _ := c.current(); stream != nil {
		_ = stream.Close()
	}
	return c.conn.CloseWithError(0, "closed")
}

var _ Listener = (*QUICListener)(nil)

type QUICListener struct {
	listener *quic.Listener
	closed   atomic.Bool
	logger   log.Log
}

func ListenQUIC(addr string, tlsConfig *tls.Config, logger log.Log) (*QUICListener, error) {
	if logger == nil {
		logger = log.Nop()
	}
	ln, err := quic.ListenAddr(addr, tlsConfig, quicConfig())
	if err != nil {
		return nil, err
	}
	l := &QUICListener{
		listener: ln,
		logger:   logger.With(log.String("transport", string(KindQUIC))),
	}
	l.logger.Info("quic listener started", log.String("addr", ln.Addr().String()))
	return l, nil
}

func (l *QUICListener) Accept(ctx context.Context) (Conn, error) {
	if l.closed.Load() {
		return nil, ErrListenerClosed
	}
	conn, err := l.listener.Accept(ctx)
	if err != nil {
		if l.closed.Load() {
			return nil, ErrListenerClosed
		}
		return nil, err
	}
	l.logger.Debug("quic connection accepted", log.String("remote_addr", conn.RemoteAddr().String()))
	return newQUICConn(conn, nil), nil
}

func (l *QUICListener) Addr() string {
	return l.listener.Addr().String()
}

func (l *QUICListener) Close() error {
	if l.closed.Swap(true) {
		return nil
	}
	return l.listener.Close()
}

var _ Dialer = (*QUICDialer)(nil)

type QUICDialer struct {
	tlsConfig *tls.Config
	logger    log.Log
}

func NewQUICDialer(tlsConfig *tls.Config, logger log.Log) *QUICDialer {
	if logger == nil {
		logger = log.Nop()
	}
	return &QUICDialer{tlsConfig: tlsConfig, logger: logger}
}

func (d *QUICDialer) Dial(ctx context.Context, addr string) (Conn, error) {
	tlsConfig := d.tlsConfig.Clone()
	if tlsConfig.ServerName == "" {
		if host, _, err := net.SplitHostPort(addr); err == nil {
			tlsConfig.ServerName = host
		} else {
			tlsConfig.ServerName = addr
		}
	}
	conn, err := quic.DialAddr(ctx, addr, tlsConfig, quicConfig())
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		_ = conn.CloseWithError(0, "open stream failed")
		return nil, err
	}
	d.logger.Debug("quic connected", log.String("addr", addr))
	return newQUICConn(conn, stream), nil
}

// readLine reads through the next newline, failing once the line grows past
// limit bytes. The stream is left mid-frame on ErrFrameTooLarge.
func readLine(r *bufio.Reader, limit int) ([]byte, error) {
	var line []byte
	for {
		chunk, err := r.ReadSlice('\n')
		if len(line)+len(chunk) > limit {
			return nil, ErrFrameTooLarge
		}
		line = append(line, chunk...)
		if !errors.Is(err, bufio.ErrBufferFull) {
			return line, err
		}
	}
}
