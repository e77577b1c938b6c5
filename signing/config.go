package signing

import (
	"strconv"
	"time"

	"github.com/vitalvas/crtbridge/crterr"
)

// Algorithm selects the signature algorithm.
type Algorithm int

const (
	// AlgorithmV4 is HMAC-SHA256 SigV4.
	AlgorithmV4 Algorithm = iota
	// AlgorithmV4A is ECDSA P-256 SigV4a.
	AlgorithmV4A
)

func (a Algorithm) String() string {
	switch a {
	case AlgorithmV4:
		return "sigv4"
	case AlgorithmV4A:
		return "sigv4a"
	default:
		return "algorithm(" + strconv.Itoa(int(a)) + ")"
	}
}

// authScheme is the algorithm token used in Authorization headers, query
// parameters and strings to sign.
func (a Algorithm) authScheme() string {
	if a == AlgorithmV4A {
		return "AWS4-ECDSA-P256-SHA256"
	}

	return "AWS4-HMAC-SHA256"
}

// SignatureType selects what is being signed and where the result goes.
type SignatureType int

const (
	HTTPRequestViaHeaders SignatureType = iota
	HTTPRequestViaQueryParams
	HTTPRequestChunk
	CanonicalRequestViaHeaders
	CanonicalRequestViaQueryParams
	HTTPRequestTrailingHeaders
)

func (t SignatureType) String() string {
	switch t {
	case HTTPRequestViaHeaders:
		return "http-request-headers"
	case HTTPRequestViaQueryParams:
		return "http-request-query-params"
	case HTTPRequestChunk:
		return "http-request-chunk"
	case CanonicalRequestViaHeaders:
		return "canonical-request-headers"
	case CanonicalRequestViaQueryParams:
		return "canonical-request-query-params"
	case HTTPRequestTrailingHeaders:
		return "http-request-trailing-headers"
	default:
		return "signature-type(" + strconv.Itoa(int(t)) + ")"
	}
}

func (t SignatureType) viaQuery() bool {
	return t == HTTPRequestViaQueryParams || t == CanonicalRequestViaQueryParams
}

// SignedBodyHeader selects whether the payload hash is also sent as a header.
type SignedBodyHeader int

const (
	SignedBodyHeaderNone SignedBodyHeader = iota
	SignedBodyHeaderXAmzContentSHA256
)

// Well-known SignedBodyValue settings.
const (
	SignedBodyValueEmptySHA256                     = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
	SignedBodyValueUnsignedPayload                 = "UNSIGNED-PAYLOAD"
	SignedBodyValueStreamingAWS4HMACSHA256Payload  = "STREAMING-AWS4-HMAC-SHA256-PAYLOAD"
	SignedBodyValueStreamingAWS4ECDSAP256Payload   = "STREAMING-AWS4-ECDSA-P256-SHA256-PAYLOAD"
	SignedBodyValueStreamingAWS4HMACSHA256Trailer  = "STREAMING-AWS4-HMAC-SHA256-PAYLOAD-TRAILER"
	SignedBodyValueStreamingAWS4ECDSAP256Trailer   = "STREAMING-AWS4-ECDSA-P256-SHA256-PAYLOAD-TRAILER"
	SignedBodyValueStreamingUnsignedPayloadTrailer = "STREAMING-UNSIGNED-PAYLOAD-TRAILER"
	SignedBodyValueStreamingAWS4HMACSHA256Events   = "STREAMING-AWS4-HMAC-SHA256-EVENTS"
)

// Config is the caller-facing signing configuration.
type Config struct {
	Algorithm     Algorithm
	SignatureType SignatureType

	// Region is the signing region. For SigV4a it is the region set, e.g.
	// "us-east-1,us-west-2" or "*".
	Region  string
	Service string

	// Timestamp is the signing time. Zero means the time of signing.
	Timestamp time.Time

	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string

	// ShouldSignHeader, when set, is asked about every request header that
	// would otherwise be signed. Returning false leaves the header unsigned.
	ShouldSignHeader func(name string) bool

	UseDoubleURIEncode     bool
	ShouldNormalizeURIPath bool

	// OmitSessionToken adds the session token after signing instead of
	// including it in the signature.
	OmitSessionToken bool

	// SignedBodyValue replaces the computed payload hash when set.
	SignedBodyValue  string
	SignedBodyHeader SignedBodyHeader

	// ExpirationInSeconds sets X-Amz-Expires for query signing. Zero omits it.
	ExpirationInSeconds uint64
}

// DefaultConfig returns a SigV4 header-signing configuration with URI
// double-encoding and path normalization enabled. Region, service and
// credentials must still be filled in.
func DefaultConfig() Config {
	return Config{
		Algorithm:              AlgorithmV4,
		SignatureType:          HTTPRequestViaHeaders,
		Timestamp:              time.Now().UTC(),
		UseDoubleURIEncode:     true,
		ShouldNormalizeURIPath: true,
	}
}

// EngineConfig is the configuration an Engine signs with. The Signer builds
// one per call from a Config; it owns its credentials.
type EngineConfig struct {
	Algorithm     Algorithm
	SignatureType SignatureType
	Region        string
	Service       string
	Timestamp     time.Time
	Credentials   *Credentials

	ShouldSignHeader func(name string) bool

	UseDoubleURIEncode     bool
	ShouldNormalizeURIPath bool
	OmitSessionToken       bool

	SignedBodyValue     string
	SignedBodyHeader    SignedBodyHeader
	ExpirationInSeconds uint64
}

// Validate reports configuration errors an engine rejects before signing.
func (c *EngineConfig) Validate() error {
	const op = "signing: config"

	if c == nil {
		return crterr.InvalidArgument(op, "config must not be nil")
	}

	switch {
	case c.Algorithm != AlgorithmV4 && c.Algorithm != AlgorithmV4A:
		return crterr.New(crterr.CodeAuthSigningUnsupportedAlgorithm, op)
	case c.SignatureType < HTTPRequestViaHeaders || c.SignatureType > HTTPRequestTrailingHeaders:
		return crterr.New(crterr.CodeAuthSigningUnsupportedSignature, op)
	case c.Region == "":
		return crterr.Wrap(crterr.CodeAuthSigningInvalidConfiguration, op, errRegionRequired)
	case c.Service == "":
		return crterr.Wrap(crterr.CodeAuthSigningInvalidConfiguration, op, errServiceRequired)
	case c.Credentials == nil:
		return crterr.Wrap(crterr.CodeAuthSigningInvalidConfiguration, op, errCredentialsRequired)
	case c.ExpirationInSeconds > 0 && !c.SignatureType.viaQuery():
		return crterr.Wrap(crterr.CodeAuthSigningInvalidConfiguration, op, errExpirationNeedsQuery)
	}

	return nil
}

func (c *EngineConfig) timestamp() time.Time {
	if c.Timestamp.IsZero() {
		return time.Now().UTC()
	}

	return c.Timestamp.UTC()
}

func (c *EngineConfig) shouldSign(name string) bool {
	if c.ShouldSignHeader == nil {
		return true
	}

	return c.ShouldSignHeader(name)
}
