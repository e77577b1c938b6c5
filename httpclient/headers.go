package httpclient

import "strings"

// Header is one name/value pair. Names keep the case the caller gave.
type Header struct {
	Name  string
	Value string
}

// Headers is an ordered header list. Order is wire order and duplicates
// are allowed. A Headers value is owned by whoever holds it.
type Headers []Header

// Get returns the first value for name, compared case-insensitively.
func (h Headers) Get(name string) (string, bool) {
	for _, kv := range h {
		if strings.EqualFold(kv.Name, name) {
			return kv.Value, true
		}
	}

	return "", false
}

// Values returns every value for name in order.
func (h Headers) Values(name string) []string {
	var out []string
	for _, kv := range h {
		if strings.EqualFold(kv.Name, name) {
			out = append(out, kv.Value)
		}
	}

	return out
}

// Clone returns an independent copy.
func (h Headers) Clone() Headers {
	if h == nil {
		return nil
	}

	out := make(Headers, len(h))
	copy(out, h)

	return out
}

// headerBlock is bridge-side storage behind a HeaderView. It is filled
// before a callback and scrubbed as soon as the callback returns.
type headerBlock struct {
	headers Headers
	live    bool
}

func newHeaderBlock(src Headers) *headerBlock {
	return &headerBlock{headers: src.Clone(), live: true}
}

func (b *headerBlock) scrub() {
	for i := range b.headers {
		b.headers[i] = Header{}
	}
	b.headers = nil
	b.live = false
}

// HeaderView is a borrowed view of one response header block. It is valid
// only while the OnHeaders callback that received it is running; afterwards
// it reports zero headers. Use Clone to keep the headers.
type HeaderView struct {
	block *headerBlock
}

// Valid reports whether the view may still be read.
func (v HeaderView) Valid() bool {
	return v.block != nil && v.block.live
}

// Len returns the number of headers, or zero once the view has expired.
func (v HeaderView) Len() int {
	if !v.Valid() {
		return 0
	}

	return len(v.block.headers)
}

// At returns header i. It panics if i is out of range, as slice indexing does.
func (v HeaderView) At(i int) Header {
	if !v.Valid() {
		panic("httpclient: header view used after its callback returned")
	}

	return v.block.headers[i]
}

// Get returns the first value for name.
func (v HeaderView) Get(name string) (string, bool) {
	if !v.Valid() {
		return "", false
	}

	return v.block.headers.Get(name)
}

// Clone returns an owned copy of the headers.
func (v HeaderView) Clone() Headers {
	if !v.Valid() {
		return nil
	}

	return v.block.headers.Clone()
}
