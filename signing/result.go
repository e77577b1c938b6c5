package signing

import (
	"strings"

	"github.com/vitalvas/crtbridge/crterr"
	"github.com/vitalvas/crtbridge/httpclient"
)

// PropertySignature names the computed signature in a SigningResult.
const PropertySignature = "signature"

// SigningResult is what an Engine produces: headers or query parameters to
// put on the request, plus named properties such as the signature.
type SigningResult struct {
	headers    httpclient.Headers
	query      []queryParam
	properties map[string]string
}

func newSigningResult(signature string) *SigningResult {
	return &SigningResult{properties: map[string]string{PropertySignature: signature}}
}

func (r *SigningResult) addHeader(name, value string) {
	r.headers = append(r.headers, httpclient.Header{Name: name, Value: value})
}

func (r *SigningResult) addParam(key, value string) {
	r.query = append(r.query, queryParam{key: key, value: value})
}

// Headers returns the headers the result adds to a request.
func (r *SigningResult) Headers() httpclient.Headers { return r.headers.Clone() }

// Property returns a named result property.
func (r *SigningResult) Property(name string) (string, bool) {
	v, ok := r.properties[name]
	return v, ok
}

// ApplyToRequest sets every result header on req, replacing any header of
// the same name, and appends result query parameters to its path.
func (r *SigningResult) ApplyToRequest(req *httpclient.Request) error {
	if r == nil || req == nil {
		return crterr.InvalidArgument("signing: apply result", "result and request must not be nil")
	}

	for _, h := range r.headers {
		if err := req.SetHeader(h.Name, h.Value); err != nil {
			return err
		}
	}

	if len(r.query) == 0 {
		return nil
	}

	path := req.Path()
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
		if strings.HasSuffix(path, "?") || strings.HasSuffix(path, "&") {
			sep = ""
		}
	}

	return req.SetPath(path + sep + encodeQuery(r.query))
}

// Result is what a signing completion reports. For a full request Path and
// Headers describe the signed request; for the other kinds only Signature
// is set. All fields are owned by the receiver.
type Result struct {
	Path      string
	Headers   httpclient.Headers
	Signature []byte
}
