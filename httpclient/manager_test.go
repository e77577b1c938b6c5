package httpclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitalvas/crtbridge/crterr"
)

type acquireResult struct {
	conn *Connection
	err  error
}

func acquire(t *testing.T, ctx context.Context, m *ConnectionManager) <-chan acquireResult {
	t.Helper()

	ch := make(chan acquireResult, 1)
	require.NoError(t, m.AcquireConnection(ctx, func(conn *Connection, err error) {
		ch <- acquireResult{conn: conn, err: err}
	}))

	return ch
}

func waitAcquire(t *testing.T, ch <-chan acquireResult) acquireResult {
	t.Helper()

	select {
	case res := <-ch:
		return res
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for acquire")
		return acquireResult{}
	}
}

func TestNewConnectionManager(t *testing.T) {
	b := newTestBootstrap(t)

	tests := []struct {
		name string
		opts ConnectionManagerOptions
	}{
		{"nil bootstrap", ConnectionManagerOptions{HostName: "h", Port: 80, MaxConnections: 1}},
		{"empty host", ConnectionManagerOptions{Bootstrap: b, Port: 80, MaxConnections: 1}},
		{"zero port", ConnectionManagerOptions{Bootstrap: b, HostName: "h", MaxConnections: 1}},
		{"zero max connections", ConnectionManagerOptions{Bootstrap: b, HostName: "h", Port: 80}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := NewConnectionManager(tt.opts)
			assert.Nil(t, m)
			assert.Equal(t, crterr.CodeInvalidArgument, crterr.CodeOf(err))
		})
	}

	t.Run("nil callback", func(t *testing.T) {
		m, err := NewConnectionManager(ConnectionManagerOptions{Bootstrap: b, HostName: "h", Port: 80, MaxConnections: 1})
		require.NoError(t, err)
		defer m.Destroy()

		assert.Equal(t, crterr.CodeInvalidArgument, crterr.CodeOf(m.AcquireConnection(context.Background(), nil)))
	})
}

func TestConnectionManager(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("pooled"))
	}))
	defer srv.Close()

	b := newTestBootstrap(t)
	host, port := serverHostPort(t, srv)

	newManager := func(t *testing.T, max int) *ConnectionManager {
		m, err := NewConnectionManager(ConnectionManagerOptions{
			Bootstrap:      b,
			HostName:       host,
			Port:           port,
			MaxConnections: max,
		})
		require.NoError(t, err)
		t.Cleanup(m.Destroy)

		return m
	}

	t.Run("release returns connection to idle pool", func(t *testing.T) {
		m := newManager(t, 2)

		first := waitAcquire(t, acquire(t, context.Background(), m))
		require.NoError(t, first.err)
		require.NotNil(t, first.conn)
		assert.Equal(t, 1, m.LeasedCount())

		req, err := NewRequest("GET", "/")
		require.NoError(t, err)
		rec := runStream(t, first.conn, req)
		assert.Equal(t, "pooled", string(rec.body))

		require.NoError(t, m.ReleaseConnection(first.conn))
		assert.Equal(t, 1, m.IdleCount())
		assert.Equal(t, 0, m.LeasedCount())

		second := waitAcquire(t, acquire(t, context.Background(), m))
		require.NoError(t, second.err)
		assert.Same(t, first.conn, second.conn)
		assert.Equal(t, 0, m.IdleCount())

		assert.Equal(t, crterr.CodeInvalidArgument, crterr.CodeOf(m.ReleaseConnection(nil)))
		require.NoError(t, m.ReleaseConnection(second.conn))
		assert.Equal(t, crterr.CodeInvalidArgument, crterr.CodeOf(m.ReleaseConnection(second.conn)))
	})

	t.Run("max connections bounds leases", func(t *testing.T) {
		m := newManager(t, 1)

		first := waitAcquire(t, acquire(t, context.Background(), m))
		require.NoError(t, first.err)

		pending := acquire(t, context.Background(), m)
		select {
		case <-pending:
			t.Fatal("second acquire must wait for a release")
		case <-time.After(100 * time.Millisecond):
		}

		require.NoError(t, m.ReleaseConnection(first.conn))

		second := waitAcquire(t, pending)
		require.NoError(t, second.err)
		assert.Same(t, first.conn, second.conn)
	})

	t.Run("acquire timeout", func(t *testing.T) {
		m := newManager(t, 1)

		first := waitAcquire(t, acquire(t, context.Background(), m))
		require.NoError(t, first.err)

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		res := waitAcquire(t, acquire(t, ctx, m))
		assert.Nil(t, res.conn)
		assert.Equal(t, crterr.CodeHTTPManagerAcquireTimeout, crterr.CodeOf(res.err))
	})

	t.Run("destroy fails pending acquisitions", func(t *testing.T) {
		m := newManager(t, 1)

		first := waitAcquire(t, acquire(t, context.Background(), m))
		require.NoError(t, first.err)

		pending := acquire(t, context.Background(), m)
		time.Sleep(50 * time.Millisecond)

		m.Destroy()
		m.Destroy()

		res := waitAcquire(t, pending)
		assert.Nil(t, res.conn)
		assert.Equal(t, crterr.CodeHTTPManagerShuttingDown, crterr.CodeOf(res.err))

		assert.False(t, first.conn.IsOpen())
		assert.Equal(t, 0, m.LeasedCount())
		assert.Equal(t, 0, m.IdleCount())
	})

	t.Run("closed connection is not pooled", func(t *testing.T) {
		m := newManager(t, 1)

		first := waitAcquire(t, acquire(t, context.Background(), m))
		require.NoError(t, first.err)

		first.conn.Close()
		require.NoError(t, m.ReleaseConnection(first.conn))
		assert.Equal(t, 0, m.IdleCount())

		second := waitAcquire(t, acquire(t, context.Background(), m))
		require.NoError(t, second.err)
		assert.NotSame(t, first.conn, second.conn)
	})

	t.Run("connect failure is reported", func(t *testing.T) {
		m, err := NewConnectionManager(ConnectionManagerOptions{
			Bootstrap:      b,
			HostName:       "127.0.0.1",
			Port:           1,
			MaxConnections: 1,
		})
		require.NoError(t, err)
		defer m.Destroy()

		res := waitAcquire(t, acquire(t, context.Background(), m))
		assert.Nil(t, res.conn)
		assert.Error(t, res.err)

		assert.Equal(t, 0, m.LeasedCount())
	})

	t.Run("nil manager", func(t *testing.T) {
		var m *ConnectionManager
		assert.NotPanics(t, m.Destroy)
	})
}
