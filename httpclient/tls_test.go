package httpclient

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitalvas/crtbridge/crterr"
)

func writeServerCA(t *testing.T, srv *httptest.Server) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "ca.pem")
	data := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: srv.Certificate().Raw})
	require.NoError(t, os.WriteFile(path, data, 0o600))

	return path
}

func TestNewTLSContext(t *testing.T) {
	srv := httptest.NewTLSServer(http.NotFoundHandler())
	defer srv.Close()

	t.Run("defaults", func(t *testing.T) {
		ctx, err := NewTLSContext(TLSContextOptions{})
		require.NoError(t, err)
		assert.Equal(t, DefaultTLSContextOptions().MinVersion, ctx.cfg.MinVersion)
		assert.False(t, ctx.cfg.InsecureSkipVerify)
	})

	t.Run("ca file", func(t *testing.T) {
		ctx, err := NewTLSContext(TLSContextOptions{CAFile: writeServerCA(t, srv)})
		require.NoError(t, err)
		assert.NotNil(t, ctx.cfg.RootCAs)
	})

	t.Run("ca path", func(t *testing.T) {
		path := writeServerCA(t, srv)

		ctx, err := NewTLSContext(TLSContextOptions{CAPath: filepath.Dir(path)})
		require.NoError(t, err)
		assert.NotNil(t, ctx.cfg.RootCAs)
	})

	failures := []struct {
		name string
		opts func(dir string) TLSContextOptions
	}{
		{"missing ca file", func(dir string) TLSContextOptions {
			return TLSContextOptions{CAFile: filepath.Join(dir, "missing.pem")}
		}},
		{"ca file without certificates", func(dir string) TLSContextOptions {
			path := filepath.Join(dir, "empty.pem")
			_ = os.WriteFile(path, []byte("not a certificate"), 0o600)
			return TLSContextOptions{CAFile: path}
		}},
		{"empty ca path", func(dir string) TLSContextOptions {
			return TLSContextOptions{CAPath: dir}
		}},
		{"bad pkcs12 bundle", func(dir string) TLSContextOptions {
			path := filepath.Join(dir, "client.p12")
			_ = os.WriteFile(path, []byte("garbage"), 0o600)
			return TLSContextOptions{PKCS12File: path, PKCS12Password: "secret"}
		}},
		{"missing key pair", func(dir string) TLSContextOptions {
			return TLSContextOptions{CertFile: filepath.Join(dir, "c.pem"), KeyFile: filepath.Join(dir, "k.pem")}
		}},
	}

	for _, tt := range failures {
		t.Run(tt.name, func(t *testing.T) {
			ctx, err := NewTLSContext(tt.opts(t.TempDir()))
			assert.Nil(t, ctx)
			assert.Equal(t, crterr.CodeTLSContextFailure, crterr.CodeOf(err))
		})
	}
}

func TestTLSConnectionOptions(t *testing.T) {
	ctx, err := NewTLSContext(TLSContextOptions{ALPNList: []string{"http/1.1"}})
	require.NoError(t, err)

	t.Run("host name as server name", func(t *testing.T) {
		opts := &TLSConnectionOptions{Context: ctx}
		cfg, err := opts.config("example.com")
		require.NoError(t, err)
		assert.Equal(t, "example.com", cfg.ServerName)
		assert.Equal(t, []string{"http/1.1"}, cfg.NextProtos)
	})

	t.Run("overrides", func(t *testing.T) {
		opts := &TLSConnectionOptions{Context: ctx, ServerName: "sni.example.com", ALPNList: []string{"h2"}}
		cfg, err := opts.config("example.com")
		require.NoError(t, err)
		assert.Equal(t, "sni.example.com", cfg.ServerName)
		assert.Equal(t, []string{"h2"}, cfg.NextProtos)
		assert.Equal(t, []string{"http/1.1"}, ctx.cfg.NextProtos)
	})
}

func TestTLSConnections(t *testing.T) {
	b := newTestBootstrap(t)

	t.Run("http2 negotiated through alpn", func(t *testing.T) {
		srv := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Proto", r.Proto)
			_, _ = w.Write([]byte("over h2"))
		}))
		srv.EnableHTTP2 = true
		srv.StartTLS()
		defer srv.Close()

		pool := x509.NewCertPool()
		pool.AddCert(srv.Certificate())

		tlsCtx, err := NewTLSContext(TLSContextOptions{RootCAs: pool, ALPNList: []string{"h2", "http/1.1"}})
		require.NoError(t, err)

		host, port := serverHostPort(t, srv)
		events := newConnEvents()
		opts := events.options(b, host, port)
		opts.TLSOptions = &TLSConnectionOptions{Context: tlsCtx}

		conn := openConn(t, opts, events)
		assert.Equal(t, Version2, conn.Version())

		req, err := NewRequest("GET", "/h2")
		require.NoError(t, err)
		require.NoError(t, req.AddHeader("Connection", "keep-alive"))

		rec := runStream(t, conn, req)
		assert.Equal(t, []int{http.StatusOK}, rec.statuses)
		assert.Equal(t, "over h2", string(rec.body))
		assert.Equal(t, []bool{true}, rec.blockDone)

		proto, ok := rec.blocks[0].Get("x-proto")
		assert.True(t, ok)
		assert.Equal(t, "HTTP/2.0", proto)

		for _, h := range rec.blocks[0] {
			assert.Equal(t, h.Name, strings.ToLower(h.Name))
		}

		t.Run("request body", func(t *testing.T) {
			req, err := NewRequest("POST", "/h2")
			require.NoError(t, err)
			req.SetBody(bodyStream(t, b.Runtime(), "payload"))

			rec := runStream(t, conn, req)
			assert.Equal(t, http.StatusOK, rec.statuses[0])
		})

		conn.Close()
		require.NoError(t, waitErr(t, events.shutdown))
	})

	t.Run("http1 over tls", func(t *testing.T) {
		srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(r.Proto))
		}))
		defer srv.Close()

		tlsCtx, err := NewTLSContext(TLSContextOptions{CAFile: writeServerCA(t, srv)})
		require.NoError(t, err)

		host, port := serverHostPort(t, srv)
		events := newConnEvents()
		opts := events.options(b, host, port)
		opts.TLSOptions = &TLSConnectionOptions{Context: tlsCtx}

		conn := openConn(t, opts, events)
		assert.Equal(t, Version1_1, conn.Version())

		req, err := NewRequest("GET", "/")
		require.NoError(t, err)

		rec := runStream(t, conn, req)
		assert.Equal(t, "HTTP/1.1", string(rec.body))
	})

	t.Run("untrusted certificate", func(t *testing.T) {
		srv := httptest.NewTLSServer(http.NotFoundHandler())
		defer srv.Close()

		tlsCtx, err := NewTLSContext(TLSContextOptions{RootCAs: x509.NewCertPool()})
		require.NoError(t, err)

		host, port := serverHostPort(t, srv)
		events := newConnEvents()
		opts := events.options(b, host, port)
		opts.TLSOptions = &TLSConnectionOptions{Context: tlsCtx}

		_, err = Open(opts)
		require.NoError(t, err)

		err = waitErr(t, events.setup)
		assert.Equal(t, crterr.CodeTLSNegotiationFailure, crterr.CodeOf(err))
	})

	t.Run("skip peer verification", func(t *testing.T) {
		srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusAccepted)
		}))
		defer srv.Close()

		tlsCtx, err := NewTLSContext(TLSContextOptions{SkipPeerVerification: true})
		require.NoError(t, err)

		host, port := serverHostPort(t, srv)
		events := newConnEvents()
		opts := events.options(b, host, port)
		opts.TLSOptions = &TLSConnectionOptions{Context: tlsCtx}

		conn := openConn(t, opts, events)

		req, err := NewRequest("GET", "/")
		require.NoError(t, err)

		rec := runStream(t, conn, req)
		assert.Equal(t, []int{http.StatusAccepted}, rec.statuses)
	})

	t.Run("http2 peer closes after handshake", func(t *testing.T) {
		srv := httptest.NewTLSServer(http.NotFoundHandler())
		defer srv.Close()

		ln, err := tls.Listen("tcp", "127.0.0.1:0", &tls.Config{
			Certificates: srv.TLS.Certificates,
			NextProtos:   []string{"h2"},
		})
		require.NoError(t, err)
		defer ln.Close()

		go func() {
			for {
				conn, err := ln.Accept()
				if err != nil {
					return
				}
				if tc, ok := conn.(*tls.Conn); ok {
					_ = tc.Handshake()
				}
				conn.Close()
			}
		}()

		tlsCtx, err := NewTLSContext(TLSContextOptions{SkipPeerVerification: true, ALPNList: []string{"h2"}})
		require.NoError(t, err)

		host, port := hostPort(t, ln.Addr().String())

		for range 20 {
			events := newConnEvents()
			opts := events.options(b, host, port)
			opts.TLSOptions = &TLSConnectionOptions{Context: tlsCtx}

			conn, err := Open(opts)
			require.NoError(t, err)

			wantShutdowns := 0
			if waitErr(t, events.setup) == nil {
				wantShutdowns = 1
				assert.Error(t, waitErr(t, events.shutdown))
				assert.False(t, conn.IsOpen())
			}

			time.Sleep(10 * time.Millisecond)
			setups, shutdowns := events.counts()
			assert.Equal(t, 1, setups)
			assert.Equal(t, wantShutdowns, shutdowns)

			conn.Destroy()
		}
	})
}
