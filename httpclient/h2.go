package httpclient

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptrace"
	"net/textproto"
	"net/url"
	"slices"
	"strconv"
	"strings"

	"github.com/vitalvas/crtbridge/crterr"
	"github.com/vitalvas/crtbridge/platform"
)

// connection-specific headers that HTTP/2 forbids.
var h2DroppedHeaders = map[string]bool{
	"connection":        true,
	"keep-alive":        true,
	"proxy-connection":  true,
	"transfer-encoding": true,
	"upgrade":           true,
}

func (c *Connection) roundTripH2(s *Stream) error {
	hreq, err := c.buildH2Request(s)
	if err != nil {
		return err
	}

	trace := &httptrace.ClientTrace{
		Got1xxResponse: func(code int, header textproto.MIMEHeader) error {
			if !s.deliverHeaders(code, headersFromMap(http.Header(header))) {
				return s.interrupted()
			}
			return nil
		},
	}
	hreq = hreq.WithContext(httptrace.WithClientTrace(s.ctx, trace))

	resp, err := c.h2.RoundTrip(hreq)
	if err != nil {
		return s.h2Error(err)
	}
	defer resp.Body.Close()

	hasBody := resp.Body != http.NoBody && resp.ContentLength != 0
	if !s.deliverFinalHeaders(resp.StatusCode, headersFromMap(resp.Header), hasBody) {
		return s.interrupted()
	}

	if hasBody {
		if err := s.pumpBody(resp.Body); err != nil {
			return s.h2Error(err)
		}
	}

	s.exchanged.Store(true)

	return nil
}

func (c *Connection) buildH2Request(s *Stream) (*http.Request, error) {
	req := s.opts.Request

	u, err := url.ParseRequestURI(req.Path())
	if err != nil {
		return nil, crterr.Wrap(crterr.CodeHTTPInvalidPath, "httpclient: http2 request", err)
	}
	u.Scheme = "https"
	u.Host = c.authority()

	hreq := &http.Request{
		Method:     req.Method(),
		URL:        u,
		Proto:      "HTTP/2.0",
		ProtoMajor: 2,
		Header:     make(http.Header, len(req.headers)),
		Host:       u.Host,
	}

	hasLength := false
	for _, h := range req.headers {
		name := strings.ToLower(h.Name)

		switch {
		case name == "host":
			hreq.Host = h.Value
		case name == "content-length":
			n, err := strconv.ParseInt(strings.TrimSpace(h.Value), 10, 64)
			if err != nil || n < 0 {
				return nil, crterr.Wrap(crterr.CodeHTTPInvalidHeaderValue, "httpclient: http2 request", errors.New("malformed content length"))
			}
			hreq.ContentLength = n
			hasLength = true
		case h2DroppedHeaders[name]:
		default:
			hreq.Header.Add(h.Name, h.Value)
		}
	}

	if body := req.Body(); body != nil {
		hreq.Body = io.NopCloser(&countingBody{r: body, metrics: c.rt.Metrics()})
		if !hasLength {
			hreq.ContentLength = -1
		}
	}

	return hreq, nil
}

func (s *Stream) h2Error(err error) error {
	if s.ctx.Err() != nil {
		return s.interrupted()
	}

	var ce *crterr.Error
	if errors.As(err, &ce) {
		return err
	}

	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return crterr.Wrap(crterr.CodeHTTPConnectionClosed, "httpclient: http2", err)
	}

	return crterr.Wrap(crterr.CodeHTTPProtocolError, "httpclient: http2", err)
}

// headersFromMap converts a header map into lower-case, name-sorted
// Headers. HTTP/2 field names are lower case on the wire and map order is
// not kept, so the result is sorted for stable delivery.
func headersFromMap(h http.Header) Headers {
	names := make([]string, 0, len(h))
	for name := range h {
		names = append(names, name)
	}
	slices.Sort(names)

	out := make(Headers, 0, len(h))
	for _, name := range names {
		lower := strings.ToLower(name)
		for _, v := range h[name] {
			out = append(out, Header{Name: lower, Value: v})
		}
	}

	return out
}

type countingBody struct {
	r       io.Reader
	metrics *platform.Metrics
}

func (c *countingBody) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.metrics.BodyBytes(platform.DirectionOut, n)

	return n, err
}
