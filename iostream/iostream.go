package iostream

import (
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vitalvas/crtbridge/crterr"
	"github.com/vitalvas/crtbridge/platform"
)

// State is the completion state a source reports with each read.
type State int

const (
	StateInProgress State = iota
	StateDone
)

func (s State) String() string {
	if s == StateDone {
		return "done"
	}

	return "in-progress"
}

// SeekBasis selects what a seek offset is relative to.
type SeekBasis int

const (
	SeekBegin SeekBasis = 0
	SeekEnd   SeekBasis = 2
)

// ReadFunc fills buf and reports how many bytes it wrote together with the
// source state after the read. It must never report more than len(buf).
type ReadFunc func(buf []byte) (n int, state State)

// SeekFunc repositions the source. Sources that cannot seek return false.
type SeekFunc func(offset int64, basis SeekBasis) bool

// Source is the pair of caller functions an InputStream pulls from.
type Source struct {
	Read ReadFunc
	Seek SeekFunc

	// Err optionally reports why a source stopped early. A non-nil error
	// after a read reporting StateDone fails the stream instead of ending
	// it.
	Err func() error
}

// Status is a snapshot of an InputStream.
type Status struct {
	EndOfStream bool
	Valid       bool
}

// Stream errors.
var (
	// ErrUnseekable is returned by Seek when the source does not support
	// repositioning. It is expected for most caller streams.
	ErrUnseekable = crterr.New(crterr.CodeStreamUnseekable, "iostream: seek")

	// ErrLengthUnavailable is returned by Length for every caller stream.
	ErrLengthUnavailable = crterr.New(crterr.CodeStreamLengthUnknown, "iostream: length")

	// ErrClosed is returned by Read and Seek after Close.
	ErrClosed = crterr.Wrap(crterr.CodeInvalidState, "iostream", errors.New("stream closed"))
)

// InputStream adapts a caller Source to the pull interface the HTTP and
// signing engines read request bodies through.
//
// An InputStream is owned by exactly one request or signable at a time and
// is not safe for concurrent use.
type InputStream struct {
	id     uuid.UUID
	rt     *platform.Runtime
	logger zerolog.Logger
	src    Source
	state  State
	failed error
	closed atomic.Bool
}

// New wraps src. Both functions are required.
func New(rt *platform.Runtime, src Source) (*InputStream, error) {
	if rt == nil {
		return nil, crterr.InvalidArgument("iostream: new", "runtime must not be nil")
	}

	if src.Read == nil || src.Seek == nil {
		return nil, crterr.InvalidArgument("iostream: new", "read and seek functions are required")
	}

	id := uuid.New()

	return &InputStream{
		id:     id,
		rt:     rt,
		logger: rt.Logger().With().Str("body_stream_id", id.String()).Logger(),
		src:    src,
	}, nil
}

// ID returns the stream identifier used in logs.
func (s *InputStream) ID() uuid.UUID { return s.id }

// Read implements io.Reader over the caller source. A source reporting more
// bytes than len(p), or a negative count, is a fatal contract violation.
// After the source reports done, Read returns io.EOF without calling it, or
// a CodeStreamReadFailed error when the source reported a failure.
func (s *InputStream) Read(p []byte) (int, error) {
	if s.closed.Load() {
		return 0, ErrClosed
	}

	if s.failed != nil {
		return 0, s.failed
	}

	if s.state == StateDone {
		return 0, io.EOF
	}

	if len(p) == 0 {
		return 0, nil
	}

	n, state := s.src.Read(p)
	if n < 0 || n > len(p) {
		s.rt.Fatal(fmt.Sprintf("iostream: source reported %d bytes written into a %d byte buffer", n, len(p)))
		return 0, crterr.New(crterr.CodeStreamReadFailed, "iostream: read")
	}

	s.state = state

	if state == StateDone && s.src.Err != nil {
		if err := s.src.Err(); err != nil {
			s.logger.Warn().Err(err).Msg("body source failed")
			s.failed = crterr.Wrap(crterr.CodeStreamReadFailed, "iostream: read", err)
			if n == 0 {
				return 0, s.failed
			}
			return n, nil
		}
	}

	if n == 0 && state == StateDone {
		return 0, io.EOF
	}

	return n, nil
}

// Seek repositions the source. A source that cannot seek yields
// ErrUnseekable; this is logged at debug level only. A successful seek
// resets the stream to in-progress.
func (s *InputStream) Seek(offset int64, basis SeekBasis) error {
	if s.closed.Load() {
		return ErrClosed
	}

	if !s.src.Seek(offset, basis) {
		s.logger.Debug().Int64("offset", offset).Int("basis", int(basis)).Msg("body stream is not seekable")
		return ErrUnseekable
	}

	s.state = StateInProgress
	s.failed = nil

	return nil
}

// Status reports whether the last read returned done.
func (s *InputStream) Status() Status {
	return Status{
		EndOfStream: s.state == StateDone,
		Valid:       true,
	}
}

// Length always fails: caller streams have no known length.
func (s *InputStream) Length() (int64, error) {
	return 0, ErrLengthUnavailable
}

// Close releases the adapter. Caller buffers are never touched. Safe to
// call more than once and on a nil stream.
func (s *InputStream) Close() error {
	if s == nil || s.closed.Swap(true) {
		return nil
	}

	s.logger.Debug().Msg("body stream closed")

	return nil
}

// FromReader adapts r into a Source. When r also implements io.Seeker the
// source supports seeking; otherwise Seek reports false. A read error other
// than io.EOF fails the stream with CodeStreamReadFailed rather than
// truncating the body.
func FromReader(r io.Reader) Source {
	seeker, canSeek := r.(io.Seeker)

	var readErr error

	return Source{
		Read: func(buf []byte) (int, State) {
			n, err := io.ReadFull(r, buf)
			if err != nil {
				if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
					readErr = err
				}
				return n, StateDone
			}

			return n, StateInProgress
		},
		Seek: func(offset int64, basis SeekBasis) bool {
			if !canSeek {
				return false
			}

			whence := io.SeekStart
			if basis == SeekEnd {
				whence = io.SeekEnd
			}

			_, err := seeker.Seek(offset, whence)
			if err != nil {
				return false
			}
			readErr = nil

			return true
		},
		Err: func() error { return readErr },
	}
}
