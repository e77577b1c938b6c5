package httpclient

import (
	"fmt"
	"strings"
	"sync/atomic"

	"golang.org/x/net/http/httpguts"

	"github.com/vitalvas/crtbridge/crterr"
	"github.com/vitalvas/crtbridge/iostream"
)

// Request is an outgoing HTTP request under construction. Headers keep the
// order they were added in; that order is the wire order.
//
// A Request owns its body stream: Release closes it.
type Request struct {
	method   string
	path     string
	headers  Headers
	body     *iostream.InputStream
	released atomic.Bool
}

// NewRequest returns a request for method and path. The method must be an
// HTTP token and the path must be non-empty without spaces or controls.
func NewRequest(method, path string) (*Request, error) {
	r := &Request{}

	if err := r.SetMethod(method); err != nil {
		return nil, err
	}

	if err := r.SetPath(path); err != nil {
		return nil, err
	}

	return r, nil
}

// Method returns the request method.
func (r *Request) Method() string { return r.method }

// SetMethod replaces the method.
func (r *Request) SetMethod(method string) error {
	if method == "" || !httpguts.ValidHeaderFieldName(method) {
		return crterr.Wrap(crterr.CodeHTTPInvalidMethod, "httpclient: request", errInvalidToken(method))
	}

	r.method = method

	return nil
}

// Path returns the request target.
func (r *Request) Path() string { return r.path }

// SetPath replaces the request target, e.g. after query signing.
func (r *Request) SetPath(path string) error {
	if path == "" || strings.ContainsFunc(path, func(c rune) bool { return c <= ' ' || c == 0x7f }) {
		return crterr.Wrap(crterr.CodeHTTPInvalidPath, "httpclient: request", errInvalidToken(path))
	}

	r.path = path

	return nil
}

// AddHeader appends a header.
func (r *Request) AddHeader(name, value string) error {
	if err := validateHeader(name, value); err != nil {
		return err
	}

	r.headers = append(r.headers, Header{Name: name, Value: value})

	return nil
}

// SetHeader replaces the first header named name in place and drops any
// later duplicates. A header that is not present is appended.
func (r *Request) SetHeader(name, value string) error {
	if err := validateHeader(name, value); err != nil {
		return err
	}

	out := r.headers[:0]
	replaced := false
	for _, h := range r.headers {
		if strings.EqualFold(h.Name, name) {
			if replaced {
				continue
			}
			h = Header{Name: name, Value: value}
			replaced = true
		}
		out = append(out, h)
	}
	clear(r.headers[len(out):])
	r.headers = out

	if !replaced {
		r.headers = append(r.headers, Header{Name: name, Value: value})
	}

	return nil
}

// EraseHeader removes every header named name and reports how many went.
func (r *Request) EraseHeader(name string) int {
	out := r.headers[:0]
	for _, h := range r.headers {
		if !strings.EqualFold(h.Name, name) {
			out = append(out, h)
		}
	}

	removed := len(r.headers) - len(out)
	clear(r.headers[len(out):])
	r.headers = out

	return removed
}

// Header returns the first value for name.
func (r *Request) Header(name string) (string, bool) {
	return r.headers.Get(name)
}

// HeaderCount returns the number of headers.
func (r *Request) HeaderCount() int { return len(r.headers) }

// HeaderAt returns header i in wire order.
func (r *Request) HeaderAt(i int) (Header, error) {
	if i < 0 || i >= len(r.headers) {
		return Header{}, crterr.InvalidArgument("httpclient: request", "header index %d out of range [0,%d)", i, len(r.headers))
	}

	return r.headers[i], nil
}

// Headers returns a copy of all headers in wire order.
func (r *Request) Headers() Headers { return r.headers.Clone() }

// Body returns the attached body stream, if any.
func (r *Request) Body() *iostream.InputStream { return r.body }

// SetBody attaches body. The request takes ownership; a previously attached
// stream is closed.
func (r *Request) SetBody(body *iostream.InputStream) {
	if r.body != nil && r.body != body {
		_ = r.body.Close()
	}

	r.body = body
}

// Release closes the body stream and clears headers. Safe to call more
// than once and on a nil request.
func (r *Request) Release() {
	if r == nil || r.released.Swap(true) {
		return
	}

	if r.body != nil {
		_ = r.body.Close()
		r.body = nil
	}

	clear(r.headers)
	r.headers = nil
}

func validateHeader(name, value string) error {
	if !httpguts.ValidHeaderFieldName(name) {
		return crterr.Wrap(crterr.CodeHTTPInvalidHeaderName, "httpclient: header", errInvalidToken(name))
	}

	if !httpguts.ValidHeaderFieldValue(value) {
		return crterr.Wrap(crterr.CodeHTTPInvalidHeaderValue, "httpclient: header", fmt.Errorf("invalid value for header %q", name))
	}

	return nil
}
