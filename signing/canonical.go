package signing

import (
	"net/url"
	"slices"
	"strings"

	"github.com/vitalvas/crtbridge/crterr"
	"github.com/vitalvas/crtbridge/httpclient"
)

// Header and query parameter names the signer owns.
const (
	headerAuthorization = "Authorization"
	headerAmzDate       = "X-Amz-Date"
	headerContentSHA256 = "x-amz-content-sha256"
	headerRegionSet     = "X-Amz-Region-Set"
	headerSecurityToken = "X-Amz-Security-Token"

	paramAlgorithm     = "X-Amz-Algorithm"
	paramCredential    = "X-Amz-Credential"
	paramDate          = "X-Amz-Date"
	paramSignedHeaders = "X-Amz-SignedHeaders"
	paramExpires       = "X-Amz-Expires"
	paramSecurityToken = "X-Amz-Security-Token"
	paramRegionSet     = "X-Amz-Region-Set"
	paramSignature     = "X-Amz-Signature"
)

// forbiddenHeaders may not appear on a request handed to the signer.
var forbiddenHeaders = []string{
	"authorization",
	"x-amz-date",
	"x-amz-content-sha256",
	"x-amz-region-set",
	"x-amz-security-token",
}

// forbiddenParams may not appear in the query of a request signed via
// query parameters.
var forbiddenParams = []string{
	paramAlgorithm,
	paramCredential,
	paramDate,
	paramSignedHeaders,
	paramExpires,
	paramSecurityToken,
	paramRegionSet,
	paramSignature,
}

// skippedHeaders are never signed: proxies and clients rewrite them.
var skippedHeaders = map[string]bool{
	"connection":             true,
	"expect":                 true,
	"sec-websocket-key":      true,
	"sec-websocket-protocol": true,
	"sec-websocket-version":  true,
	"transfer-encoding":      true,
	"upgrade":                true,
	"user-agent":             true,
	"x-amzn-trace-id":        true,
}

type queryParam struct {
	key   string
	value string
}

func checkForbiddenHeaders(headers httpclient.Headers) error {
	for _, h := range headers {
		if slices.Contains(forbiddenHeaders, strings.ToLower(h.Name)) {
			return crterr.Wrap(crterr.CodeAuthSigningIllegalRequestHeader, "signing: request", ErrForbiddenHeader)
		}
	}

	return nil
}

func checkForbiddenParams(params []queryParam) error {
	for _, p := range params {
		for _, name := range forbiddenParams {
			if strings.EqualFold(p.key, name) {
				return crterr.Wrap(crterr.CodeAuthSigningIllegalRequestQuery, "signing: request", ErrForbiddenQueryParam)
			}
		}
	}

	return nil
}

// uriEncode percent-encodes every byte outside the unreserved set. A slash
// is kept when keepSlash is set.
func uriEncode(s string, keepSlash bool) string {
	const hex = "0123456789ABCDEF"

	var b strings.Builder
	b.Grow(len(s))

	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case 'A' <= c && c <= 'Z', 'a' <= c && c <= 'z', '0' <= c && c <= '9',
			c == '-', c == '_', c == '.', c == '~':
			b.WriteByte(c)
		case c == '/' && keepSlash:
			b.WriteByte(c)
		default:
			b.WriteByte('%')
			b.WriteByte(hex[c>>4])
			b.WriteByte(hex[c&0x0f])
		}
	}

	return b.String()
}

// splitPath separates a request target into its path and raw query.
func splitPath(target string) (string, string) {
	path, query, _ := strings.Cut(target, "?")
	return path, query
}

// normalizePath removes dot segments and empty segments, keeping a
// trailing slash.
func normalizePath(path string) string {
	var out []string
	segments := strings.Split(path, "/")

	for _, seg := range segments {
		switch seg {
		case "", ".":
		case "..":
			if len(out) > 0 {
				out = out[:len(out)-1]
			}
		default:
			out = append(out, seg)
		}
	}

	normalized := "/" + strings.Join(out, "/")

	last := segments[len(segments)-1]
	if len(out) > 0 && (last == "" || last == "." || last == "..") {
		normalized += "/"
	}

	return normalized
}

func canonicalURI(path string, cfg *EngineConfig) string {
	if path == "" {
		path = "/"
	}

	if cfg.ShouldNormalizeURIPath {
		path = normalizePath(path)
	}

	if cfg.UseDoubleURIEncode {
		return uriEncode(path, true)
	}

	return path
}

// parseQuery splits a raw query into decoded key/value pairs in order.
func parseQuery(raw string) []queryParam {
	var params []queryParam

	for piece := range strings.SplitSeq(raw, "&") {
		if piece == "" {
			continue
		}

		key, value, _ := strings.Cut(piece, "=")
		params = append(params, queryParam{key: unescape(key), value: unescape(value)})
	}

	return params
}

func unescape(s string) string {
	if out, err := url.PathUnescape(s); err == nil {
		return out
	}

	return s
}

// canonicalQuery encodes params and sorts them by key, then value.
func canonicalQuery(params []queryParam) string {
	encoded := make([]queryParam, len(params))
	for i, p := range params {
		encoded[i] = queryParam{key: uriEncode(p.key, false), value: uriEncode(p.value, false)}
	}

	slices.SortStableFunc(encoded, func(a, b queryParam) int {
		if c := strings.Compare(a.key, b.key); c != 0 {
			return c
		}
		return strings.Compare(a.value, b.value)
	})

	var b strings.Builder
	for i, p := range encoded {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(p.key)
		b.WriteByte('=')
		b.WriteString(p.value)
	}

	return b.String()
}

// encodeQuery renders params in order for appending to a request path.
func encodeQuery(params []queryParam) string {
	var b strings.Builder
	for i, p := range params {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(uriEncode(p.key, false))
		b.WriteByte('=')
		b.WriteString(uriEncode(p.value, false))
	}

	return b.String()
}

// normalizeHeaderValue trims the value and collapses runs of spaces.
func normalizeHeaderValue(v string) string {
	return strings.Join(strings.Fields(v), " ")
}

// canonicalHeaders returns the canonical header lines and the signed header
// list for headers plus the signer-added extra headers, which are always
// signed.
func canonicalHeaders(headers, extra httpclient.Headers, cfg *EngineConfig) (string, string) {
	type entry struct {
		name   string
		values []string
	}

	var entries []*entry
	index := make(map[string]*entry)

	add := func(name, value string) {
		lower := strings.ToLower(name)
		e, ok := index[lower]
		if !ok {
			e = &entry{name: lower}
			index[lower] = e
			entries = append(entries, e)
		}
		e.values = append(e.values, normalizeHeaderValue(value))
	}

	for _, h := range headers {
		lower := strings.ToLower(h.Name)
		if skippedHeaders[lower] || !cfg.shouldSign(h.Name) {
			continue
		}
		add(h.Name, h.Value)
	}

	for _, h := range extra {
		add(h.Name, h.Value)
	}

	slices.SortFunc(entries, func(a, b *entry) int { return strings.Compare(a.name, b.name) })

	var lines strings.Builder
	names := make([]string, 0, len(entries))

	for _, e := range entries {
		lines.WriteString(e.name)
		lines.WriteByte(':')
		lines.WriteString(strings.Join(e.values, ","))
		lines.WriteByte('\n')
		names = append(names, e.name)
	}

	return lines.String(), strings.Join(names, ";")
}

func buildCanonicalRequest(method, uri, query, headerLines, signedHeaders, payloadHash string) string {
	var b strings.Builder

	b.WriteString(method)
	b.WriteByte('\n')
	b.WriteString(uri)
	b.WriteByte('\n')
	b.WriteString(query)
	b.WriteByte('\n')
	b.WriteString(headerLines)
	b.WriteByte('\n')
	b.WriteString(signedHeaders)
	b.WriteByte('\n')
	b.WriteString(payloadHash)

	return b.String()
}

// signedHeadersOf extracts the signed header list from a canonical request.
func signedHeadersOf(canonical string) (string, error) {
	lines := strings.Split(canonical, "\n")
	if len(lines) < 6 {
		return "", crterr.Wrap(crterr.CodeInvalidArgument, "signing: canonical request", ErrMalformedCanonicalRequest)
	}

	return lines[len(lines)-2], nil
}

// canonicalTrailingHeaders renders trailer lines sorted by lower-cased name.
func canonicalTrailingHeaders(headers httpclient.Headers) string {
	lines := make([]string, 0, len(headers))
	for _, h := range headers {
		lines = append(lines, strings.ToLower(h.Name)+":"+normalizeHeaderValue(h.Value)+"\n")
	}
	slices.Sort(lines)

	return strings.Join(lines, "")
}
