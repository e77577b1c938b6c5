package httpclient

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"net/textproto"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/net/http2"

	"github.com/vitalvas/crtbridge/crterr"
	"github.com/vitalvas/crtbridge/platform"
)

// Version is the HTTP version a connection speaks.
type Version int

const (
	VersionUnknown Version = iota
	Version1_1
	Version2
)

func (v Version) String() string {
	switch v {
	case Version1_1:
		return "HTTP/1.1"
	case Version2:
		return "HTTP/2"
	default:
		return "unknown"
	}
}

// ConnectionOptions configures Open.
type ConnectionOptions struct {
	Bootstrap *platform.Bootstrap

	// InitialWindowSize is the response body window, in bytes, each stream
	// starts with. Zero means unlimited.
	InitialWindowSize int

	HostName string
	Port     uint32

	// SocketOptions defaults to DefaultSocketOptions when nil.
	SocketOptions *SocketOptions

	// TLSOptions enables TLS when set.
	TLSOptions *TLSConnectionOptions

	// ManualWindowManagement stops the bridge from re-opening the window
	// after each body chunk; the caller grants window with UpdateWindow.
	ManualWindowManagement bool

	// OnSetup fires exactly once when the connect attempt resolves.
	OnSetup func(conn *Connection, err error)

	// OnShutdown fires exactly once after a successful setup, when the
	// connection terminates. It never fires after a failed setup.
	OnShutdown func(conn *Connection, err error)

	UserData any
}

func (o *ConnectionOptions) validate() error {
	const op = "httpclient: open"

	switch {
	case o.Bootstrap == nil:
		return crterr.InvalidArgument(op, "bootstrap must not be nil")
	case o.OnSetup == nil:
		return crterr.InvalidArgument(op, "setup callback must not be nil")
	case o.OnShutdown == nil:
		return crterr.InvalidArgument(op, "shutdown callback must not be nil")
	case o.HostName == "":
		return crterr.InvalidArgument(op, "host name must not be empty")
	case o.Port == 0:
		return crterr.InvalidArgument(op, "port must not be zero")
	case o.InitialWindowSize < 0:
		return crterr.InvalidArgument(op, "initial window size must not be negative")
	}

	return nil
}

type connState int32

const (
	stateConnecting connState = iota
	stateOpen
	stateClosing
	stateClosed
)

// Connection is a client HTTP connection. All of its callbacks, and the
// callbacks of its streams, run in order on one event loop.
type Connection struct {
	id     uuid.UUID
	rt     *platform.Runtime
	logger zerolog.Logger
	loop   *platform.Loop
	opts   ConnectionOptions
	socket SocketOptions

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	state   connState
	raw     net.Conn
	version Version
	h1      *h1Conn
	h2      *http2.ClientConn

	// abortErr is the transport failure that ended a connect attempt.
	abortErr error

	// watching is set after the TLS handshake; transport errors before that
	// are reported by the handshake itself.
	watching  atomic.Bool
	destroyed atomic.Bool
}

// Open validates opts and starts connecting. Validation failures are
// returned immediately and no callback fires. Everything after that is
// reported through OnSetup.
func Open(opts ConnectionOptions) (*Connection, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}

	socket := DefaultSocketOptions()
	if opts.SocketOptions != nil {
		socket = *opts.SocketOptions
	}

	if err := socket.validate(); err != nil {
		return nil, err
	}

	if (socket.Domain == DomainIPv4 || socket.Domain == DomainIPv6) && opts.Port > 65535 {
		return nil, crterr.InvalidArgument("httpclient: open", "port %d out of range", opts.Port)
	}

	var tlsCfg *tls.Config
	if opts.TLSOptions != nil {
		cfg, err := opts.TLSOptions.config(opts.HostName)
		if err != nil {
			return nil, err
		}
		tlsCfg = cfg
	}

	rt := opts.Bootstrap.Runtime()
	id := uuid.New()

	c := &Connection{
		id:     id,
		rt:     rt,
		loop:   opts.Bootstrap.NextLoop(),
		opts:   opts,
		socket: socket,
		logger: rt.Logger().With().
			Str("conn_id", id.String()).
			Str("host", opts.HostName).
			Uint32("port", opts.Port).
			Logger(),
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())

	go c.connect(tlsCfg)

	return c, nil
}

// ID returns the connection identifier used in logs.
func (c *Connection) ID() uuid.UUID { return c.id }

// UserData returns the value given in ConnectionOptions.
func (c *Connection) UserData() any { return c.opts.UserData }

// Version returns the negotiated HTTP version, or VersionUnknown before setup.
func (c *Connection) Version() Version {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.version
}

// IsOpen reports whether the connection completed setup and has not shut down.
func (c *Connection) IsOpen() bool {
	if c == nil {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state == stateOpen
}

func (c *Connection) connect(tlsCfg *tls.Config) {
	raw, err := dialSocket(c.ctx, c.socket, c.opts.Bootstrap.Resolver(), c.opts.HostName, c.opts.Port)
	if err != nil {
		c.setupFailed(connectError(err))
		return
	}

	var conn net.Conn = &watchConn{Conn: raw, c: c}
	version := Version1_1

	if tlsCfg != nil {
		hsCtx := c.ctx
		if c.socket.ConnectTimeout > 0 {
			var cancel context.CancelFunc
			hsCtx, cancel = context.WithTimeout(hsCtx, c.socket.ConnectTimeout)
			defer cancel()
		}

		tlsConn := tls.Client(conn, tlsCfg)
		if err := tlsConn.HandshakeContext(hsCtx); err != nil {
			_ = raw.Close()
			if c.ctx.Err() != nil {
				c.setupFailed(connectError(c.ctx.Err()))
				return
			}
			c.setupFailed(crterr.Wrap(crterr.CodeTLSNegotiationFailure, "httpclient: tls handshake", err))
			return
		}

		if tlsConn.ConnectionState().NegotiatedProtocol == http2.NextProtoTLS {
			version = Version2
		}
		conn = tlsConn
	}

	var (
		h1 *h1Conn
		h2 *http2.ClientConn
	)

	// The h2 read loop starts inside NewClientConn; a failure it sees from
	// here on aborts the attempt through shutdown.
	c.watching.Store(true)

	if version == Version2 {
		h2, err = (&http2.Transport{}).NewClientConn(conn)
		if err != nil {
			_ = raw.Close()
			c.setupFailed(crterr.Wrap(crterr.CodeHTTPProtocolError, "httpclient: http2 preface", err))
			return
		}
	} else {
		br := bufio.NewReader(conn)
		h1 = &h1Conn{
			br: br,
			tp: textproto.NewReader(br),
			bw: bufio.NewWriter(conn),
		}
	}

	c.mu.Lock()
	if c.state != stateConnecting {
		cause := c.abortErr
		c.mu.Unlock()
		if h2 != nil {
			_ = h2.Close()
		}
		_ = raw.Close()
		if cause == nil {
			cause = crterr.New(crterr.CodeSocketConnectAborted, "httpclient: connect")
		}
		c.setupFailed(cause)
		return
	}
	c.state = stateOpen
	c.raw = raw
	c.version = version
	c.h1 = h1
	c.h2 = h2

	c.rt.Metrics().ConnectionSetup(nil)
	c.logger.Debug().Str("version", version.String()).Msg("connection established")

	// Scheduled under the lock so OnSetup is queued ahead of any OnShutdown.
	c.loop.Schedule(func() { c.opts.OnSetup(c, nil) })
	c.mu.Unlock()
}

func (c *Connection) setupFailed(err error) {
	c.mu.Lock()
	c.state = stateClosed
	c.mu.Unlock()
	c.cancel()

	c.rt.Metrics().ConnectionSetup(err)
	c.logger.Debug().Err(err).Int("code", int(crterr.CodeOf(err))).Msg("connection setup failed")

	c.loop.Schedule(func() { c.opts.OnSetup(c, err) })
}

// shutdown moves an open connection to closed and schedules OnShutdown.
// closeTransport is false when the transport is already closing itself.
func (c *Connection) shutdown(err error, closeTransport bool) {
	c.mu.Lock()
	switch c.state {
	case stateConnecting:
		c.state = stateClosing
		c.abortErr = err
		c.mu.Unlock()
		c.cancel()
		return
	case stateOpen:
	default:
		c.mu.Unlock()
		return
	}
	c.state = stateClosed
	raw, h2 := c.raw, c.h2
	c.mu.Unlock()

	c.cancel()

	if closeTransport {
		if h2 != nil && err == nil {
			_ = h2.Close()
		}
		_ = raw.Close()
	}

	c.rt.Metrics().ConnectionShutdown()
	c.logger.Debug().Err(err).Int("code", int(crterr.CodeOf(err))).Msg("connection shut down")

	c.loop.Schedule(func() { c.opts.OnShutdown(c, err) })
}

// Close begins shutdown. OnShutdown fires with a nil error if setup had
// succeeded; a connect still in flight is aborted and reported through
// OnSetup. Safe to call more than once and on a nil connection.
func (c *Connection) Close() {
	if c == nil {
		return
	}

	c.shutdown(nil, true)
}

// Destroy closes the connection and releases the handle. Safe to call more
// than once, after shutdown, and on a nil connection.
func (c *Connection) Destroy() {
	if c == nil || c.destroyed.Swap(true) {
		return
	}

	c.Close()
	c.logger.Debug().Msg("connection destroyed")
}

// MakeRequest creates a stream for opts.Request. The stream does not send
// anything until Activate. On success the stream owns the request; on
// failure the caller keeps it.
func (c *Connection) MakeRequest(opts RequestOptions) (*Stream, error) {
	const op = "httpclient: make request"

	switch {
	case c == nil:
		return nil, crterr.InvalidArgument(op, "connection must not be nil")
	case opts.Request == nil:
		return nil, crterr.InvalidArgument(op, "request must not be nil")
	case opts.OnHeaders == nil:
		return nil, crterr.InvalidArgument(op, "headers callback must not be nil")
	case opts.OnComplete == nil:
		return nil, crterr.InvalidArgument(op, "complete callback must not be nil")
	}

	if !c.IsOpen() {
		return nil, crterr.Wrap(crterr.CodeHTTPConnectionClosed, op, errors.New("connection is not open"))
	}

	return newStream(c, opts), nil
}

func (c *Connection) authority() string {
	switch c.socket.Domain {
	case DomainLocal:
		return "localhost"
	default:
		return net.JoinHostPort(c.opts.HostName, strconv.FormatUint(uint64(c.opts.Port), 10))
	}
}

// watchConn reports transport failures to its connection so that a peer
// close or I/O error turns into a single OnShutdown.
type watchConn struct {
	net.Conn
	c *Connection
}

func (w *watchConn) Read(p []byte) (int, error) {
	n, err := w.Conn.Read(p)
	if err != nil && w.c.watching.Load() {
		w.c.shutdown(transportError(err), true)
	}

	return n, err
}

func (w *watchConn) Write(p []byte) (int, error) {
	n, err := w.Conn.Write(p)
	if err != nil && w.c.watching.Load() {
		w.c.shutdown(transportError(err), true)
	}

	return n, err
}

func (w *watchConn) Close() error {
	err := w.Conn.Close()
	if !w.c.watching.Load() {
		return err
	}
	w.c.shutdown(crterr.Wrap(crterr.CodeHTTPConnectionClosed, "httpclient: transport", net.ErrClosed), false)

	return err
}

func transportError(err error) error {
	const op = "httpclient: transport"

	var netErr net.Error

	switch {
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, net.ErrClosed):
		return crterr.Wrap(crterr.CodeHTTPConnectionClosed, op, err)
	case errors.As(err, &netErr) && netErr.Timeout():
		return crterr.Wrap(crterr.CodeSocketTimeout, op, err)
	default:
		return crterr.Wrap(crterr.CodeSocketError, op, err)
	}
}
