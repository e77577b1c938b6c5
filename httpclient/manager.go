package httpclient

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/vitalvas/crtbridge/crterr"
	"github.com/vitalvas/crtbridge/platform"
)

// ConnectionManagerOptions configures a pool of connections to one host.
type ConnectionManagerOptions struct {
	Bootstrap              *platform.Bootstrap
	HostName               string
	Port                   uint32
	SocketOptions          *SocketOptions
	TLSOptions             *TLSConnectionOptions
	InitialWindowSize      int
	ManualWindowManagement bool

	// MaxConnections bounds the number of connections leased at once.
	MaxConnections int
}

// AcquireFunc receives a leased connection or the reason there is none.
type AcquireFunc func(conn *Connection, err error)

// ConnectionManager leases connections to one host:port, reusing idle ones
// and opening new ones up to MaxConnections.
type ConnectionManager struct {
	id     uuid.UUID
	rt     *platform.Runtime
	logger zerolog.Logger
	opts   ConnectionManagerOptions
	sem    *semaphore.Weighted

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	idle   []*Connection
	leased map[*Connection]struct{}
	closed bool

	destroyed atomic.Bool
}

// NewConnectionManager validates opts and returns an empty pool.
func NewConnectionManager(opts ConnectionManagerOptions) (*ConnectionManager, error) {
	const op = "httpclient: connection manager"

	switch {
	case opts.Bootstrap == nil:
		return nil, crterr.InvalidArgument(op, "bootstrap must not be nil")
	case opts.HostName == "":
		return nil, crterr.InvalidArgument(op, "host name must not be empty")
	case opts.Port == 0:
		return nil, crterr.InvalidArgument(op, "port must not be zero")
	case opts.MaxConnections <= 0:
		return nil, crterr.InvalidArgument(op, "max connections must be positive, got %d", opts.MaxConnections)
	}

	rt := opts.Bootstrap.Runtime()
	id := uuid.New()
	ctx, cancel := context.WithCancel(context.Background())

	return &ConnectionManager{
		id:     id,
		rt:     rt,
		logger: rt.Logger().With().Str("manager_id", id.String()).Str("host", opts.HostName).Logger(),
		opts:   opts,
		sem:    semaphore.NewWeighted(int64(opts.MaxConnections)),
		ctx:    ctx,
		cancel: cancel,
		leased: make(map[*Connection]struct{}),
	}, nil
}

// AcquireConnection leases a connection asynchronously. cb fires exactly
// once on an event loop. Only a nil cb is reported by the return value.
func (m *ConnectionManager) AcquireConnection(ctx context.Context, cb AcquireFunc) error {
	if m == nil || cb == nil {
		return crterr.InvalidArgument("httpclient: acquire", "manager and callback must not be nil")
	}

	go m.acquire(ctx, cb)

	return nil
}

func (m *ConnectionManager) acquire(ctx context.Context, cb AcquireFunc) {
	start := time.Now()

	waitCtx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(m.ctx, cancel)
	err := m.sem.Acquire(waitCtx, 1)
	stop()
	cancel()

	if err != nil {
		m.fail(cb, m.acquireError(ctx))
		return
	}

	m.rt.Metrics().PoolAcquireWait(time.Since(start))

	if conn := m.takeIdle(); conn != nil {
		conn.loop.Schedule(func() { cb(conn, nil) })
		return
	}

	_, err = Open(ConnectionOptions{
		Bootstrap:              m.opts.Bootstrap,
		InitialWindowSize:      m.opts.InitialWindowSize,
		HostName:               m.opts.HostName,
		Port:                   m.opts.Port,
		SocketOptions:          m.opts.SocketOptions,
		TLSOptions:             m.opts.TLSOptions,
		ManualWindowManagement: m.opts.ManualWindowManagement,
		OnSetup: func(conn *Connection, err error) {
			if err != nil {
				m.sem.Release(1)
				conn.Destroy()
				cb(nil, err)
				return
			}

			if !m.lease(conn) {
				m.sem.Release(1)
				conn.Destroy()
				cb(nil, crterr.Wrap(crterr.CodeHTTPManagerShuttingDown, "httpclient: acquire", context.Canceled))
				return
			}

			cb(conn, nil)
		},
		OnShutdown: func(conn *Connection, _ error) {
			m.forget(conn)
		},
	})
	if err != nil {
		m.sem.Release(1)
		m.fail(cb, err)
	}
}

func (m *ConnectionManager) acquireError(ctx context.Context) error {
	if m.ctx.Err() != nil {
		return crterr.Wrap(crterr.CodeHTTPManagerShuttingDown, "httpclient: acquire", m.ctx.Err())
	}

	return crterr.Wrap(crterr.CodeHTTPManagerAcquireTimeout, "httpclient: acquire", ctx.Err())
}

func (m *ConnectionManager) fail(cb AcquireFunc, err error) {
	m.logger.Debug().Err(err).Msg("connection acquire failed")

	if !m.opts.Bootstrap.NextLoop().Schedule(func() { cb(nil, err) }) {
		cb(nil, err)
	}
}

// takeIdle pops an open idle connection and marks it leased.
func (m *ConnectionManager) takeIdle() *Connection {
	m.mu.Lock()
	defer m.mu.Unlock()

	for len(m.idle) > 0 {
		conn := m.idle[len(m.idle)-1]
		m.idle = m.idle[:len(m.idle)-1]

		if conn.IsOpen() {
			m.leased[conn] = struct{}{}
			m.updateGaugesLocked()
			return conn
		}

		conn.Destroy()
	}

	return nil
}

func (m *ConnectionManager) lease(conn *Connection) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return false
	}

	m.leased[conn] = struct{}{}
	m.updateGaugesLocked()

	return true
}

func (m *ConnectionManager) forget(conn *Connection) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.idle = slices.DeleteFunc(m.idle, func(c *Connection) bool { return c == conn })
	m.updateGaugesLocked()
}

// ReleaseConnection returns a leased connection. Open connections go back
// to the idle list; closed ones are destroyed.
func (m *ConnectionManager) ReleaseConnection(conn *Connection) error {
	if m == nil || conn == nil {
		return crterr.InvalidArgument("httpclient: release", "manager and connection must not be nil")
	}

	m.mu.Lock()
	if _, ok := m.leased[conn]; !ok {
		m.mu.Unlock()
		return crterr.InvalidArgument("httpclient: release", "connection %s is not leased from this manager", conn.ID())
	}
	delete(m.leased, conn)

	keep := !m.closed && conn.IsOpen()
	if keep {
		m.idle = append(m.idle, conn)
	}
	m.updateGaugesLocked()
	m.mu.Unlock()

	if !keep {
		conn.Destroy()
	}
	m.sem.Release(1)

	return nil
}

func (m *ConnectionManager) updateGaugesLocked() {
	metrics := m.rt.Metrics()
	metrics.PoolConnections(platform.PoolStateIdle, len(m.idle))
	metrics.PoolConnections(platform.PoolStateLeased, len(m.leased))
}

// IdleCount returns the number of idle pooled connections.
func (m *ConnectionManager) IdleCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.idle)
}

// LeasedCount returns the number of connections currently leased.
func (m *ConnectionManager) LeasedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.leased)
}

// Destroy fails pending acquisitions with manager-shutting-down and
// destroys every pooled connection, idle or leased. Safe to call more than
// once and on a nil manager.
func (m *ConnectionManager) Destroy() {
	if m == nil || m.destroyed.Swap(true) {
		return
	}

	m.cancel()

	m.mu.Lock()
	m.closed = true
	conns := slices.Clone(m.idle)
	for conn := range m.leased {
		conns = append(conns, conn)
	}
	m.idle = nil
	clear(m.leased)
	m.updateGaugesLocked()
	m.mu.Unlock()

	for _, conn := range conns {
		conn.Destroy()
	}

	m.logger.Debug().Int("connections", len(conns)).Msg("connection manager destroyed")
}
