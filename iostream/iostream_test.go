package iostream

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitalvas/crtbridge/crterr"
	"github.com/vitalvas/crtbridge/platform"
)

func newTestRuntime(t *testing.T) *platform.Runtime {
	t.Helper()

	cfg := platform.DefaultConfig()
	cfg.EventLoop.Threads = 1
	cfg.Metrics.Enabled = false

	rt, err := platform.New(cfg,
		platform.WithLogger(zerolog.Nop()),
		platform.WithFatalHandler(func(msg string) { panic(msg) }),
	)
	require.NoError(t, err)
	t.Cleanup(rt.Close)

	return rt
}

// sliceSource serves payload in reads no larger than the offered buffer.
type sliceSource struct {
	payload []byte
	off     int
	reads   int
}

func (s *sliceSource) source() Source {
	return Source{
		Read: func(buf []byte) (int, State) {
			s.reads++
			n := copy(buf, s.payload[s.off:])
			s.off += n
			if s.off == len(s.payload) {
				return n, StateDone
			}
			return n, StateInProgress
		},
		Seek: func(offset int64, basis SeekBasis) bool {
			if basis != SeekBegin {
				return false
			}
			s.off = int(offset)
			return true
		},
	}
}

func TestNew(t *testing.T) {
	rt := newTestRuntime(t)
	noSeek := func(int64, SeekBasis) bool { return false }
	noRead := func([]byte) (int, State) { return 0, StateDone }

	tests := []struct {
		name string
		src  Source
	}{
		{"missing read", Source{Seek: noSeek}},
		{"missing seek", Source{Read: noRead}},
		{"missing both", Source{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := New(rt, tt.src)
			assert.ErrorIs(t, err, crterr.ErrInvalidArgument)
			assert.Nil(t, s)
		})
	}

	t.Run("missing runtime", func(t *testing.T) {
		s, err := New(nil, Source{Read: noRead, Seek: noSeek})
		assert.ErrorIs(t, err, crterr.ErrInvalidArgument)
		assert.Nil(t, s)
	})
}

func TestRead(t *testing.T) {
	rt := newTestRuntime(t)

	t.Run("reads whole payload", func(t *testing.T) {
		src := &sliceSource{payload: []byte("hello, world")}
		s, err := New(rt, src.source())
		require.NoError(t, err)

		got, err := io.ReadAll(s)
		require.NoError(t, err)
		assert.Equal(t, "hello, world", string(got))
		assert.True(t, s.Status().EndOfStream)
	})

	t.Run("no source call after done", func(t *testing.T) {
		src := &sliceSource{payload: []byte("abc")}
		s, err := New(rt, src.source())
		require.NoError(t, err)

		buf := make([]byte, 8)
		n, err := s.Read(buf)
		require.NoError(t, err)
		assert.Equal(t, 3, n)

		reads := src.reads
		n, err = s.Read(buf)
		assert.Equal(t, 0, n)
		assert.ErrorIs(t, err, io.EOF)
		assert.Equal(t, reads, src.reads)
	})

	t.Run("status tracks reported state", func(t *testing.T) {
		src := &sliceSource{payload: []byte("abcdef")}
		s, err := New(rt, src.source())
		require.NoError(t, err)

		_, err = s.Read(make([]byte, 2))
		require.NoError(t, err)
		assert.Equal(t, Status{EndOfStream: false, Valid: true}, s.Status())
	})

	t.Run("over-report is fatal", func(t *testing.T) {
		s, err := New(rt, Source{
			Read: func(buf []byte) (int, State) { return len(buf) + 1, StateInProgress },
			Seek: func(int64, SeekBasis) bool { return false },
		})
		require.NoError(t, err)

		assert.Panics(t, func() { _, _ = s.Read(make([]byte, 16)) })
	})

	t.Run("negative count is fatal", func(t *testing.T) {
		s, err := New(rt, Source{
			Read: func([]byte) (int, State) { return -1, StateInProgress },
			Seek: func(int64, SeekBasis) bool { return false },
		})
		require.NoError(t, err)

		assert.Panics(t, func() { _, _ = s.Read(make([]byte, 16)) })
	})

	t.Run("exact capacity is allowed", func(t *testing.T) {
		s, err := New(rt, Source{
			Read: func(buf []byte) (int, State) { return len(buf), StateInProgress },
			Seek: func(int64, SeekBasis) bool { return false },
		})
		require.NoError(t, err)

		n, err := s.Read(make([]byte, 16))
		require.NoError(t, err)
		assert.Equal(t, 16, n)
	})

	t.Run("read after close", func(t *testing.T) {
		src := &sliceSource{payload: []byte("abc")}
		s, err := New(rt, src.source())
		require.NoError(t, err)
		require.NoError(t, s.Close())

		_, err = s.Read(make([]byte, 4))
		assert.ErrorIs(t, err, ErrClosed)
	})
}

func TestSeek(t *testing.T) {
	rt := newTestRuntime(t)

	t.Run("unseekable source", func(t *testing.T) {
		s, err := New(rt, Source{
			Read: func([]byte) (int, State) { return 0, StateDone },
			Seek: func(int64, SeekBasis) bool { return false },
		})
		require.NoError(t, err)

		err = s.Seek(0, SeekBegin)
		assert.ErrorIs(t, err, ErrUnseekable)
		assert.Equal(t, crterr.CodeStreamUnseekable, crterr.CodeOf(err))
	})

	t.Run("seek resets state", func(t *testing.T) {
		src := &sliceSource{payload: []byte("abc")}
		s, err := New(rt, src.source())
		require.NoError(t, err)

		first, err := io.ReadAll(s)
		require.NoError(t, err)
		require.True(t, s.Status().EndOfStream)

		require.NoError(t, s.Seek(0, SeekBegin))
		assert.False(t, s.Status().EndOfStream)

		second, err := io.ReadAll(s)
		require.NoError(t, err)
		assert.Equal(t, first, second)
	})
}

func TestLengthAndClose(t *testing.T) {
	rt := newTestRuntime(t)
	src := &sliceSource{payload: []byte("abc")}

	s, err := New(rt, src.source())
	require.NoError(t, err)

	_, err = s.Length()
	assert.ErrorIs(t, err, ErrLengthUnavailable)

	assert.NoError(t, s.Close())
	assert.NoError(t, s.Close())

	var nilStream *InputStream
	assert.NoError(t, nilStream.Close())
}

// flakyReader fails its first read.
type flakyReader struct {
	*bytes.Reader
	fail bool
}

func (r *flakyReader) Read(p []byte) (int, error) {
	if r.fail {
		r.fail = false
		return 0, errors.New("transient")
	}

	return r.Reader.Read(p)
}

func TestFromReader(t *testing.T) {
	rt := newTestRuntime(t)

	t.Run("seekable reader", func(t *testing.T) {
		s, err := New(rt, FromReader(bytes.NewReader([]byte("payload"))))
		require.NoError(t, err)

		got, err := io.ReadAll(s)
		require.NoError(t, err)
		assert.Equal(t, "payload", string(got))

		require.NoError(t, s.Seek(0, SeekBegin))
		got, err = io.ReadAll(s)
		require.NoError(t, err)
		assert.Equal(t, "payload", string(got))
	})

	t.Run("failing reader fails the stream", func(t *testing.T) {
		diskErr := errors.New("disk gone")
		s, err := New(rt, FromReader(io.MultiReader(strings.NewReader("partial"), iotest.ErrReader(diskErr))))
		require.NoError(t, err)

		got, err := io.ReadAll(s)
		assert.Equal(t, "partial", string(got))
		assert.Equal(t, crterr.CodeStreamReadFailed, crterr.CodeOf(err))
		assert.ErrorIs(t, err, diskErr)

		_, err = s.Read(make([]byte, 4))
		assert.ErrorIs(t, err, diskErr)
	})

	t.Run("seek clears a reader failure", func(t *testing.T) {
		r := &flakyReader{Reader: bytes.NewReader([]byte("ok")), fail: true}
		s, err := New(rt, FromReader(r))
		require.NoError(t, err)

		_, err = io.ReadAll(s)
		assert.Equal(t, crterr.CodeStreamReadFailed, crterr.CodeOf(err))

		require.NoError(t, s.Seek(0, SeekBegin))
		got, err := io.ReadAll(s)
		require.NoError(t, err)
		assert.Equal(t, "ok", string(got))
	})

	t.Run("plain reader cannot seek", func(t *testing.T) {
		s, err := New(rt, FromReader(io.MultiReader(strings.NewReader("a"), strings.NewReader("b"))))
		require.NoError(t, err)

		assert.ErrorIs(t, s.Seek(0, SeekBegin), ErrUnseekable)

		got, err := io.ReadAll(s)
		require.NoError(t, err)
		assert.Equal(t, "ab", string(got))
	})
}
