package httpclient

import (
	"net"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/vitalvas/crtbridge/platform"
)

const waitTimeout = 5 * time.Second

func newTestBootstrap(t *testing.T) *platform.Bootstrap {
	t.Helper()

	cfg := platform.DefaultConfig()
	cfg.EventLoop.Threads = 2

	rt, err := platform.New(cfg,
		platform.WithLogger(zerolog.Nop()),
		platform.WithFatalHandler(func(msg string) { panic(msg) }),
	)
	require.NoError(t, err)
	t.Cleanup(rt.Close)

	b, err := platform.NewBootstrap(rt, platform.BootstrapOptions{})
	require.NoError(t, err)

	return b
}

func hostPort(t *testing.T, addr string) (string, uint32) {
	t.Helper()

	host, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)

	port, err := strconv.ParseUint(portStr, 10, 32)
	require.NoError(t, err)

	return host, uint32(port)
}

func serverHostPort(t *testing.T, srv *httptest.Server) (string, uint32) {
	t.Helper()

	return hostPort(t, srv.Listener.Addr().String())
}

// connEvents records connection callbacks.
type connEvents struct {
	setup    chan error
	shutdown chan error

	mu            sync.Mutex
	setupCalls    int
	shutdownCalls int
}

func newConnEvents() *connEvents {
	return &connEvents{
		setup:    make(chan error, 4),
		shutdown: make(chan error, 4),
	}
}

func (e *connEvents) options(b *platform.Bootstrap, host string, port uint32) ConnectionOptions {
	return ConnectionOptions{
		Bootstrap: b,
		HostName:  host,
		Port:      port,
		OnSetup: func(_ *Connection, err error) {
			e.mu.Lock()
			e.setupCalls++
			e.mu.Unlock()
			e.setup <- err
		},
		OnShutdown: func(_ *Connection, err error) {
			e.mu.Lock()
			e.shutdownCalls++
			e.mu.Unlock()
			e.shutdown <- err
		},
	}
}

func (e *connEvents) counts() (int, int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.setupCalls, e.shutdownCalls
}

func waitErr(t *testing.T, ch <-chan error) error {
	t.Helper()

	select {
	case err := <-ch:
		return err
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for callback")
		return nil
	}
}

// openConn opens a connection and waits for a successful setup.
func openConn(t *testing.T, opts ConnectionOptions, events *connEvents) *Connection {
	t.Helper()

	conn, err := Open(opts)
	require.NoError(t, err)
	require.NoError(t, waitErr(t, events.setup))
	t.Cleanup(conn.Destroy)

	return conn
}

// streamRecorder collects stream callbacks.
type streamRecorder struct {
	mu        sync.Mutex
	statuses  []int
	blocks    []Headers
	blockDone []bool
	body      []byte
	completes int
	events    []string

	done chan error
}

func newStreamRecorder() *streamRecorder {
	return &streamRecorder{done: make(chan error, 4)}
}

func (r *streamRecorder) options(req *Request) RequestOptions {
	return RequestOptions{
		Request: req,
		OnHeaders: func(_ *Stream, status int, headers HeaderView) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.statuses = append(r.statuses, status)
			r.blocks = append(r.blocks, headers.Clone())
			r.events = append(r.events, "headers")
		},
		OnHeaderBlockDone: func(_ *Stream, hasBody bool) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.blockDone = append(r.blockDone, hasBody)
			r.events = append(r.events, "block-done")
		},
		OnBody: func(_ *Stream, data []byte) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.body = append(r.body, data...)
			r.events = append(r.events, "body")
		},
		OnComplete: func(_ *Stream, err error) {
			r.mu.Lock()
			r.completes++
			r.events = append(r.events, "complete")
			r.mu.Unlock()
			r.done <- err
		},
	}
}

func (r *streamRecorder) bodyLen() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.body)
}
