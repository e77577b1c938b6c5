package signing

import (
	"github.com/vitalvas/crtbridge/crterr"
	"github.com/vitalvas/crtbridge/httpclient"
	"github.com/vitalvas/crtbridge/iostream"
)

type signableKind int

const (
	kindRequest signableKind = iota
	kindCanonicalRequest
	kindChunk
	kindTrailingHeaders
)

// String is used as the metrics kind label.
func (k signableKind) String() string {
	switch k {
	case kindCanonicalRequest:
		return "canonical_request"
	case kindChunk:
		return "chunk"
	case kindTrailingHeaders:
		return "trailing_headers"
	default:
		return "request"
	}
}

// accepts reports whether a signable of kind k can be signed as t.
func (k signableKind) accepts(t SignatureType) bool {
	switch k {
	case kindRequest:
		return t == HTTPRequestViaHeaders || t == HTTPRequestViaQueryParams
	case kindCanonicalRequest:
		return t == CanonicalRequestViaHeaders || t == CanonicalRequestViaQueryParams
	case kindChunk:
		return t == HTTPRequestChunk
	case kindTrailingHeaders:
		return t == HTTPRequestTrailingHeaders
	default:
		return false
	}
}

// Signable is the thing to be signed: a full request, a canonical request
// string, a body chunk or a set of trailing headers. The set is closed; use
// the New*Signable constructors.
type Signable interface {
	kind() signableKind

	// Close drops the signable's references. It never closes the request
	// or body stream it was built from.
	Close()
}

// RequestSignable signs a full HTTP request.
type RequestSignable struct {
	request *httpclient.Request
}

// NewRequestSignable wraps req. The request is read during signing and its
// body, if any, is hashed unless the config carries a SignedBodyValue.
func NewRequestSignable(req *httpclient.Request) (*RequestSignable, error) {
	if req == nil {
		return nil, crterr.InvalidArgument("signing: request signable", "request must not be nil")
	}

	return &RequestSignable{request: req}, nil
}

func (s *RequestSignable) kind() signableKind { return kindRequest }

func (s *RequestSignable) Close() { s.request = nil }

// CanonicalRequestSignable signs a caller-built canonical request string.
type CanonicalRequestSignable struct {
	canonical string
}

// NewCanonicalRequestSignable wraps canonical as is.
func NewCanonicalRequestSignable(canonical string) (*CanonicalRequestSignable, error) {
	if canonical == "" {
		return nil, crterr.InvalidArgument("signing: canonical request signable", "canonical request must not be empty")
	}

	return &CanonicalRequestSignable{canonical: canonical}, nil
}

func (s *CanonicalRequestSignable) kind() signableKind { return kindCanonicalRequest }

func (s *CanonicalRequestSignable) Close() { s.canonical = "" }

// ChunkSignable signs one chunk of an aws-chunked body.
type ChunkSignable struct {
	body              *iostream.InputStream
	previousSignature string
}

// NewChunkSignable reads the chunk from body; a nil body is the empty final
// chunk. previousSignature is the seed or the prior chunk signature.
func NewChunkSignable(body *iostream.InputStream, previousSignature string) (*ChunkSignable, error) {
	if previousSignature == "" {
		return nil, crterr.InvalidArgument("signing: chunk signable", "previous signature must not be empty")
	}

	return &ChunkSignable{body: body, previousSignature: previousSignature}, nil
}

func (s *ChunkSignable) kind() signableKind { return kindChunk }

func (s *ChunkSignable) Close() { s.body = nil }

// TrailingHeadersSignable signs the trailer of an aws-chunked body.
type TrailingHeadersSignable struct {
	headers           httpclient.Headers
	previousSignature string
}

// NewTrailingHeadersSignable copies headers.
func NewTrailingHeadersSignable(headers httpclient.Headers, previousSignature string) (*TrailingHeadersSignable, error) {
	if previousSignature == "" {
		return nil, crterr.InvalidArgument("signing: trailing headers signable", "previous signature must not be empty")
	}

	return &TrailingHeadersSignable{headers: headers.Clone(), previousSignature: previousSignature}, nil
}

func (s *TrailingHeadersSignable) kind() signableKind { return kindTrailingHeaders }

func (s *TrailingHeadersSignable) Close() { s.headers = nil }
