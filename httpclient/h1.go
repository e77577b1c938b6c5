package httpclient

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net/http/httputil"
	"net/textproto"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/net/http/httpguts"

	"github.com/vitalvas/crtbridge/crterr"
	"github.com/vitalvas/crtbridge/platform"
)

// h1Conn is the HTTP/1.1 state of a connection. Exchanges are serialized:
// a second stream waits until the first has read its whole response.
type h1Conn struct {
	mu sync.Mutex
	br *bufio.Reader
	tp *textproto.Reader
	bw *bufio.Writer
}

func (c *Connection) roundTripH1(s *Stream) error {
	h := c.h1

	h.mu.Lock()
	defer h.mu.Unlock()

	if s.ctx.Err() != nil {
		return s.interrupted()
	}

	// A half-finished HTTP/1.1 exchange leaves the connection unusable.
	stop := context.AfterFunc(s.ctx, func() {
		if !s.exchanged.Load() {
			c.shutdown(crterr.Wrap(crterr.CodeHTTPStreamCancelled, "httpclient: stream", context.Canceled), true)
		}
	})
	defer stop()

	err := c.exchangeH1(h, s)
	if err != nil {
		s.closeConnectionAfter(err)
	}

	return err
}

func (c *Connection) exchangeH1(h *h1Conn, s *Stream) error {
	req := s.opts.Request
	if err := writeRequestH1(h.bw, req, c.authority(), c.rt.Metrics()); err != nil {
		return s.exchangeError(err)
	}

	for {
		status, headers, err := readResponseHead(h.tp)
		if err != nil {
			return s.exchangeError(err)
		}

		if status >= 100 && status < 200 && status != 101 {
			if !s.deliverHeaders(status, headers) {
				return s.interrupted()
			}
			continue
		}

		body, err := newH1Body(h.br, h.tp, req.Method(), status, headers)
		if err != nil {
			return err
		}

		if !s.deliverFinalHeaders(status, headers, body.hasBody) {
			return s.interrupted()
		}

		if body.hasBody {
			if err := s.pumpBody(body); err != nil {
				return err
			}
		}

		if err := body.finish(); err != nil {
			return s.exchangeError(err)
		}

		s.exchanged.Store(true)

		if !body.keepAlive {
			s.closeConnectionAfter(nil)
		}

		return nil
	}
}

func (s *Stream) exchangeError(err error) error {
	if s.ctx.Err() != nil {
		return s.interrupted()
	}

	var ce *crterr.Error
	if errors.As(err, &ce) {
		return err
	}

	return transportError(err)
}

func writeRequestH1(w *bufio.Writer, r *Request, authority string, metrics *platform.Metrics) error {
	w.WriteString(r.Method())
	w.WriteByte(' ')
	w.WriteString(r.Path())
	w.WriteString(" HTTP/1.1\r\n")

	var hasHost, hasLength, hasChunked bool
	for _, h := range r.headers {
		switch {
		case strings.EqualFold(h.Name, "Host"):
			hasHost = true
		case strings.EqualFold(h.Name, "Content-Length"):
			hasLength = true
		case strings.EqualFold(h.Name, "Transfer-Encoding"):
			hasChunked = httpguts.HeaderValuesContainsToken([]string{h.Value}, "chunked")
		}

		w.WriteString(h.Name)
		w.WriteString(": ")
		w.WriteString(h.Value)
		w.WriteString("\r\n")
	}

	if !hasHost {
		w.WriteString("Host: " + authority + "\r\n")
	}

	body := r.Body()
	chunked := body != nil && !hasLength
	if chunked && !hasChunked {
		w.WriteString("Transfer-Encoding: chunked\r\n")
	}

	w.WriteString("\r\n")

	if body != nil {
		counted := &countingReader{r: body}

		if chunked {
			cw := httputil.NewChunkedWriter(w)
			if _, err := io.Copy(cw, counted); err != nil {
				return err
			}
			if err := cw.Close(); err != nil {
				return err
			}
			w.WriteString("\r\n")
		} else if _, err := io.Copy(w, counted); err != nil {
			return err
		}

		metrics.BodyBytes(platform.DirectionOut, int(counted.n))
	}

	return w.Flush()
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)

	return n, err
}

func readResponseHead(tp *textproto.Reader) (int, Headers, error) {
	line, err := tp.ReadLine()
	if err != nil {
		return 0, nil, err
	}

	proto, rest, ok := strings.Cut(line, " ")
	if !ok || !strings.HasPrefix(proto, "HTTP/1.") {
		return 0, nil, crterr.Wrap(crterr.CodeHTTPProtocolError, "httpclient: response", errors.New("malformed status line"))
	}

	code, _, _ := strings.Cut(rest, " ")
	status, err := strconv.Atoi(code)
	if err != nil || len(code) != 3 {
		return 0, nil, crterr.Wrap(crterr.CodeHTTPProtocolError, "httpclient: response", errors.New("malformed status code"))
	}

	var headers Headers
	for {
		l, err := tp.ReadContinuedLine()
		if err != nil {
			return 0, nil, err
		}
		if l == "" {
			break
		}

		name, value, ok := strings.Cut(l, ":")
		if !ok || !httpguts.ValidHeaderFieldName(name) {
			return 0, nil, crterr.Wrap(crterr.CodeHTTPProtocolError, "httpclient: response", errors.New("malformed header line"))
		}

		headers = append(headers, Header{Name: name, Value: strings.TrimSpace(value)})
	}

	return status, headers, nil
}

// h1Body frames one HTTP/1.1 response body.
type h1Body struct {
	r         io.Reader
	tp        *textproto.Reader
	hasBody   bool
	keepAlive bool
	chunked   bool
	remaining int64
	sized     bool
}

func newH1Body(br *bufio.Reader, tp *textproto.Reader, method string, status int, headers Headers) (*h1Body, error) {
	b := &h1Body{tp: tp, keepAlive: true}

	if httpguts.HeaderValuesContainsToken(headers.Values("Connection"), "close") {
		b.keepAlive = false
	}

	if method == "HEAD" || status == 101 || status == 204 || status == 304 || status/100 == 1 {
		if status == 101 {
			b.keepAlive = false
		}
		return b, nil
	}

	if httpguts.HeaderValuesContainsToken(headers.Values("Transfer-Encoding"), "chunked") {
		b.r = httputil.NewChunkedReader(br)
		b.chunked = true
		b.hasBody = true
		return b, nil
	}

	if cl, ok := headers.Get("Content-Length"); ok {
		n, err := strconv.ParseInt(strings.TrimSpace(cl), 10, 64)
		if err != nil || n < 0 {
			return nil, crterr.Wrap(crterr.CodeHTTPProtocolError, "httpclient: response", errors.New("malformed content length"))
		}

		b.sized = true
		b.remaining = n
		b.r = br
		b.hasBody = n > 0
		return b, nil
	}

	// No framing: the body runs until the peer closes.
	b.r = br
	b.hasBody = true
	b.keepAlive = false

	return b, nil
}

func (b *h1Body) Read(p []byte) (int, error) {
	if !b.sized {
		return b.r.Read(p)
	}

	if b.remaining == 0 {
		return 0, io.EOF
	}

	if int64(len(p)) > b.remaining {
		p = p[:b.remaining]
	}

	n, err := b.r.Read(p)
	b.remaining -= int64(n)

	if errors.Is(err, io.EOF) && b.remaining > 0 {
		return n, io.ErrUnexpectedEOF
	}

	if b.remaining == 0 && err == nil {
		return n, io.EOF
	}

	return n, err
}

// finish consumes chunked trailers so the next response starts clean.
func (b *h1Body) finish() error {
	if !b.chunked {
		return nil
	}

	for {
		line, err := b.tp.ReadLine()
		if err != nil {
			return err
		}
		if line == "" {
			return nil
		}
	}
}
