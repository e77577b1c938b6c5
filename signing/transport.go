package signing

import (
	"bytes"
	"io"
	"net/http"
	"slices"
	"strings"

	"github.com/vitalvas/crtbridge/checksum"
	"github.com/vitalvas/crtbridge/crterr"
	"github.com/vitalvas/crtbridge/httpclient"
	"github.com/vitalvas/crtbridge/iostream"
)

// Transport is an http.RoundTripper that signs outgoing requests with
// SigV4 or SigV4a before handing them to a base transport.
type Transport struct {
	base     http.RoundTripper
	signer   *Signer
	config   Config
	checksum checksum.Algorithm
}

// TransportOption configures a Transport.
type TransportOption func(*Transport)

// WithPayloadChecksum adds the alg checksum header of each request body,
// for example x-amz-checksum-crc32, before signing so the signature
// covers it.
func WithPayloadChecksum(alg checksum.Algorithm) TransportOption {
	return func(t *Transport) { t.checksum = alg }
}

// NewTransport creates a signing Transport. When base is nil a clone of
// http.DefaultTransport is used. Leave cfg.Timestamp zero to sign each
// request at the time it is sent.
//
//	transport, err := signing.NewTransport(nil, signer, signing.Config{
//	    Region:          "us-east-1",
//	    Service:         "s3",
//	    AccessKeyID:     id,
//	    SecretAccessKey: secret,
//	})
//	client := &http.Client{Transport: transport}
func NewTransport(base *http.Transport, signer *Signer, cfg Config, opts ...TransportOption) (*Transport, error) {
	if signer == nil {
		return nil, crterr.InvalidArgument("signing: transport", "signer must not be nil")
	}

	var rt http.RoundTripper
	if base != nil {
		rt = base
	} else {
		rt = http.DefaultTransport.(*http.Transport).Clone()
	}

	t := &Transport{
		base:   rt,
		signer: signer,
		config: cfg,
	}
	for _, opt := range opts {
		opt(t)
	}

	return t, nil
}

// RoundTrip signs a clone of req and delegates it to the base transport.
// The body is buffered so it can be hashed and then sent.
//
// RoundTrip waits for the signer's event loop, so it must not be called
// from a bridge callback running on that loop.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())

	var payload []byte
	if req.Body != nil && req.Body != http.NoBody {
		body := req.Body
		if req.GetBody != nil {
			copied, err := req.GetBody()
			if err != nil {
				return nil, err
			}
			body = copied
		}

		data, err := io.ReadAll(body)
		body.Close()
		if err != nil {
			return nil, err
		}
		payload = data

		if t.checksum != checksum.AlgorithmNone {
			sum, err := checksum.Sum(t.checksum, bytes.NewReader(payload))
			if err != nil {
				return nil, err
			}
			clone.Header.Set(t.checksum.HeaderName(), sum)
		}
	}

	params := RequestParams{
		Method:  clone.Method,
		URI:     clone.URL.RequestURI(),
		Headers: requestHeaders(clone),
	}

	if payload != nil {
		stream, err := iostream.New(t.signer.rt, iostream.FromReader(bytes.NewReader(payload)))
		if err != nil {
			return nil, err
		}
		params.Body = stream
	}

	result, err := t.signer.Sign(req.Context(), params, t.config)
	if err != nil {
		return nil, err
	}

	// Repeated names keep every value the signature covers.
	replaced := make(map[string]bool, len(result.Headers))
	for _, h := range result.Headers {
		if strings.EqualFold(h.Name, "Host") {
			continue
		}

		key := http.CanonicalHeaderKey(h.Name)
		if !replaced[key] {
			clone.Header.Del(key)
			replaced[key] = true
		}
		clone.Header.Add(key, h.Value)
	}

	// Query signing only ever appends parameters.
	_, clone.URL.RawQuery = splitPath(result.Path)

	if payload != nil {
		clone.Body = io.NopCloser(bytes.NewReader(payload))
		clone.ContentLength = int64(len(payload))
	}

	return t.base.RoundTrip(clone)
}

// requestHeaders flattens req's headers into name-sorted order with Host
// first.
func requestHeaders(req *http.Request) httpclient.Headers {
	host := req.Host
	if host == "" {
		host = req.URL.Host
	}

	headers := httpclient.Headers{{Name: "Host", Value: host}}

	names := make([]string, 0, len(req.Header))
	for name := range req.Header {
		names = append(names, name)
	}
	slices.Sort(names)

	for _, name := range names {
		if strings.EqualFold(name, "Host") {
			continue
		}
		for _, v := range req.Header[name] {
			headers = append(headers, httpclient.Header{Name: name, Value: v})
		}
	}

	return headers
}
