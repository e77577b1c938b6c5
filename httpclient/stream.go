package httpclient

import (
	"bufio"
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vitalvas/crtbridge/crterr"
	"github.com/vitalvas/crtbridge/platform"
)

// bodyChunkSize caps the bytes handed to one OnBody call.
const bodyChunkSize = 16 * 1024

// RequestOptions configures MakeRequest.
//
// Callbacks run on the connection's event loop in this order: OnHeaders once
// per header block (informational blocks first), OnHeaderBlockDone once
// after the final block, OnBody zero or more times, then OnComplete exactly
// once. Nothing fires after OnComplete.
type RequestOptions struct {
	Request *Request

	// OnHeaders receives a borrowed view of one header block. The view is
	// valid only until the callback returns.
	OnHeaders func(s *Stream, status int, headers HeaderView)

	// OnHeaderBlockDone reports whether a body follows the final block.
	OnHeaderBlockDone func(s *Stream, hasBody bool)

	// OnBody receives a borrowed body chunk. The slice is reused once the
	// callback returns; copy it to keep it.
	OnBody func(s *Stream, data []byte)

	// OnComplete reports the outcome. A nil error is success.
	OnComplete func(s *Stream, err error)

	UserData any
}

// Stream is one request/response exchange on a Connection.
type Stream struct {
	id     uuid.UUID
	conn   *Connection
	opts   RequestOptions
	logger zerolog.Logger
	window *window
	manual bool

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	activated bool
	running   bool
	destroyed bool
	status    int

	// closeConn asks the exchange to shut the connection down after
	// completion, e.g. for "Connection: close".
	closeConn    bool
	closeConnErr error

	started     bool
	exchanged   atomic.Bool
	completed   atomic.Bool
	finished    atomic.Bool
	releaseOnce sync.Once
}

func newStream(c *Connection, opts RequestOptions) *Stream {
	id := uuid.New()
	s := &Stream{
		id:     id,
		conn:   c,
		opts:   opts,
		logger: c.logger.With().Str("stream_id", id.String()).Logger(),
		window: newWindow(c.opts.InitialWindowSize),
		manual: c.opts.ManualWindowManagement,
	}
	s.ctx, s.cancel = context.WithCancel(c.ctx)
	context.AfterFunc(s.ctx, s.window.close)

	return s
}

// ID returns the stream identifier used in logs.
func (s *Stream) ID() uuid.UUID { return s.id }

// UserData returns the value given in RequestOptions.
func (s *Stream) UserData() any { return s.opts.UserData }

// Connection returns the connection the stream runs on.
func (s *Stream) Connection() *Connection { return s.conn }

// ResponseStatus returns the final response status, or zero before the
// final header block arrived.
func (s *Stream) ResponseStatus() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.status
}

// Activate starts sending the request. Calling it again is a no-op.
func (s *Stream) Activate() error {
	if s == nil {
		return crterr.InvalidArgument("httpclient: activate", "stream must not be nil")
	}

	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return ErrStreamDestroyed
	}
	if s.activated {
		s.mu.Unlock()
		return nil
	}

	if !s.conn.IsOpen() {
		s.mu.Unlock()
		return crterr.Wrap(crterr.CodeHTTPConnectionClosed, "httpclient: activate", errors.New("connection is not open"))
	}

	s.activated = true
	s.running = true
	s.started = true
	s.mu.Unlock()

	s.conn.rt.Metrics().StreamStarted()
	s.logger.Debug().
		Str("method", s.opts.Request.Method()).
		Str("path", s.opts.Request.Path()).
		Msg("stream activated")

	go s.run()

	return nil
}

// UpdateWindow grants n more bytes of response body window.
func (s *Stream) UpdateWindow(n int) {
	if s == nil || n <= 0 {
		return
	}

	s.window.add(n)
}

// Destroy releases the request, its body stream and the exchange. An
// activated stream that has not completed is cancelled and OnComplete
// fires with a stream-cancelled error. Safe to call more than once and on
// a nil stream.
func (s *Stream) Destroy() {
	if s == nil {
		return
	}

	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return
	}
	s.destroyed = true
	activated, running := s.activated, s.running
	s.mu.Unlock()

	if activated {
		s.complete(crterr.Wrap(crterr.CodeHTTPStreamCancelled, "httpclient: stream", context.Canceled))
	}
	s.cancel()

	if !running {
		s.release()
	}

	s.logger.Debug().Msg("stream destroyed")
}

func (s *Stream) release() {
	s.releaseOnce.Do(func() {
		s.opts.Request.Release()
		s.window.close()
		s.cancel()
	})
}

func (s *Stream) run() {
	var err error

	switch s.conn.Version() {
	case Version2:
		err = s.conn.roundTripH2(s)
	default:
		err = s.conn.roundTripH1(s)
	}

	s.complete(err)

	s.mu.Lock()
	s.running = false
	destroyed := s.destroyed
	closeConn, closeErr := s.closeConn, s.closeConnErr
	s.mu.Unlock()

	if closeConn {
		s.conn.shutdown(closeErr, true)
	}

	if destroyed {
		s.release()
	}
}

func (s *Stream) complete(err error) {
	if s.completed.Swap(true) {
		return
	}

	s.cancel()
	s.conn.rt.Metrics().StreamCompleted(s.started, err)

	if err != nil {
		s.logger.Debug().Err(err).Int("code", int(crterr.CodeOf(err))).Msg("stream failed")
	} else {
		s.logger.Debug().Msg("stream completed")
	}

	s.conn.loop.Schedule(func() {
		s.finished.Store(true)
		s.opts.OnComplete(s, err)
	})
}

// deliver runs fn on the connection loop and waits for it to return, so
// borrowed buffers stay intact for the whole callback. It reports false
// when the stream has already completed.
func (s *Stream) deliver(fn func()) bool {
	if s.completed.Load() {
		return false
	}

	done := make(chan struct{})
	scheduled := s.conn.loop.Schedule(func() {
		defer close(done)
		if s.finished.Load() {
			return
		}
		fn()
	})

	if !scheduled {
		return false
	}

	<-done

	return !s.completed.Load()
}

func (s *Stream) deliverHeaders(status int, headers Headers) bool {
	block := newHeaderBlock(headers)
	defer block.scrub()

	return s.deliver(func() {
		defer block.scrub()
		s.opts.OnHeaders(s, status, HeaderView{block: block})
	})
}

func (s *Stream) deliverFinalHeaders(status int, headers Headers, hasBody bool) bool {
	s.mu.Lock()
	s.status = status
	s.mu.Unlock()

	if !s.deliverHeaders(status, headers) {
		return false
	}

	if s.opts.OnHeaderBlockDone == nil {
		return !s.completed.Load()
	}

	return s.deliver(func() { s.opts.OnHeaderBlockDone(s, hasBody) })
}

// pumpBody reads the response body within the stream window and hands each
// chunk to OnBody.
func (s *Stream) pumpBody(body io.Reader) error {
	buf := make([]byte, bodyChunkSize)
	br := bufio.NewReaderSize(body, bodyChunkSize)
	metrics := s.conn.rt.Metrics()

	for {
		// The end of the body is seen without reserving window.
		if _, err := br.Peek(1); err != nil {
			return s.bodyEnd(err)
		}

		want, ok := s.window.take(len(buf))
		if !ok {
			return s.interrupted()
		}

		n, err := br.Read(buf[:want])
		if n < want {
			s.window.refund(want - n)
		}

		if n > 0 {
			metrics.BodyBytes(platform.DirectionIn, n)

			chunk := buf[:n]
			if s.opts.OnBody != nil {
				if !s.deliver(func() { s.opts.OnBody(s, chunk) }) {
					return s.interrupted()
				}
			}

			if !s.manual {
				s.window.add(n)
			}
		}

		if err != nil {
			return s.bodyEnd(err)
		}
	}
}

// bodyEnd maps the error that ended a body read.
func (s *Stream) bodyEnd(err error) error {
	if errors.Is(err, io.EOF) {
		return nil
	}

	if s.ctx.Err() != nil {
		return s.interrupted()
	}

	return transportError(err)
}

// interrupted returns the error for an exchange stopped from outside.
func (s *Stream) interrupted() error {
	if s.conn.ctx.Err() != nil && !s.completed.Load() {
		return crterr.Wrap(crterr.CodeHTTPConnectionClosed, "httpclient: stream", context.Canceled)
	}

	return crterr.Wrap(crterr.CodeHTTPStreamCancelled, "httpclient: stream", context.Canceled)
}

func (s *Stream) closeConnectionAfter(err error) {
	s.mu.Lock()
	s.closeConn = true
	s.closeConnErr = err
	s.mu.Unlock()
}

// window tracks how many response body bytes may still be delivered.
type window struct {
	mu      sync.Mutex
	cond    *sync.Cond
	limited bool
	avail   int
	closed  bool
}

func newWindow(initial int) *window {
	w := &window{limited: initial > 0, avail: initial}
	w.cond = sync.NewCond(&w.mu)

	return w
}

// take blocks until some window is available and reserves up to max bytes
// of it. It reports false once the window is closed.
func (w *window) take(max int) (int, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.limited {
		return max, !w.closed
	}

	for w.avail == 0 && !w.closed {
		w.cond.Wait()
	}

	if w.closed {
		return 0, false
	}

	n := min(max, w.avail)
	w.avail -= n

	return n, true
}

func (w *window) add(n int) {
	if !w.limited || n <= 0 {
		return
	}

	w.mu.Lock()
	w.avail += n
	w.mu.Unlock()
	w.cond.Broadcast()
}

// refund returns an unused reservation.
func (w *window) refund(n int) { w.add(n) }

func (w *window) close() {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
	w.cond.Broadcast()
}

// available is used by tests to observe window accounting.
func (w *window) available() int {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.avail
}
