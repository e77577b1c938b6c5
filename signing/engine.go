package signing

import (
	"encoding/hex"
	"errors"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/vitalvas/crtbridge/checksum"
	"github.com/vitalvas/crtbridge/crterr"
	"github.com/vitalvas/crtbridge/httpclient"
	"github.com/vitalvas/crtbridge/iostream"
	"github.com/vitalvas/crtbridge/platform"
)

// EngineCallback receives the outcome of an asynchronous signing.
type EngineCallback func(result *SigningResult, err error)

// Engine signs signables. SignAsync rejects bad input synchronously and
// otherwise reports through done, exactly once, off the calling goroutine.
type Engine interface {
	SignAsync(s Signable, cfg *EngineConfig, done EngineCallback) error
}

// V4Engine is the SigV4/SigV4a engine. Signing runs on the runtime's event
// loops.
type V4Engine struct {
	rt     *platform.Runtime
	logger zerolog.Logger
}

// NewV4Engine returns an engine bound to rt.
func NewV4Engine(rt *platform.Runtime) (*V4Engine, error) {
	if rt == nil {
		return nil, crterr.InvalidArgument("signing: engine", "runtime must not be nil")
	}

	return &V4Engine{
		rt:     rt,
		logger: rt.Logger().With().Str("component", "sigv4").Logger(),
	}, nil
}

// SignAsync validates cfg and schedules signing.
func (e *V4Engine) SignAsync(s Signable, cfg *EngineConfig, done EngineCallback) error {
	if err := e.check(s, cfg); err != nil {
		return err
	}

	if done == nil {
		return crterr.InvalidArgument("signing: engine", "completion must not be nil")
	}

	scheduled := e.rt.EventLoops().Next().Schedule(func() {
		done(e.sign(s, cfg))
	})
	if !scheduled {
		return crterr.Wrap(crterr.CodeInvalidState, "signing: engine", errors.New("event loops stopped"))
	}

	return nil
}

// Sign signs s on the calling goroutine.
func (e *V4Engine) Sign(s Signable, cfg *EngineConfig) (*SigningResult, error) {
	if err := e.check(s, cfg); err != nil {
		return nil, err
	}

	return e.sign(s, cfg)
}

func (e *V4Engine) check(s Signable, cfg *EngineConfig) error {
	if s == nil {
		return crterr.InvalidArgument("signing: engine", "signable must not be nil")
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	if !s.kind().accepts(cfg.SignatureType) {
		return crterr.Wrap(crterr.CodeAuthSigningMismatchedConfig, "signing: engine", ErrSignableMismatch)
	}

	return nil
}

func (e *V4Engine) sign(s Signable, cfg *EngineConfig) (*SigningResult, error) {
	ts := cfg.timestamp()

	switch s := s.(type) {
	case *RequestSignable:
		return e.signRequest(s.request, cfg, ts)
	case *CanonicalRequestSignable:
		return e.signCanonical(s.canonical, cfg, ts)
	case *ChunkSignable:
		return e.signChunk(s, cfg, ts)
	case *TrailingHeadersSignable:
		return e.signTrailer(s, cfg, ts)
	default:
		return nil, crterr.New(crterr.CodeAuthSigningUnsupportedSignature, "signing: engine")
	}
}

// signRequest computes the canonical request for req and returns the
// headers or query parameters that carry the signature.
func (e *V4Engine) signRequest(req *httpclient.Request, cfg *EngineConfig, ts time.Time) (*SigningResult, error) {
	if req == nil {
		return nil, crterr.InvalidArgument("signing: request", "signable has been closed")
	}

	canonical, pending, err := e.canonicalRequest(req, cfg, ts)
	if err != nil {
		return nil, err
	}

	signature, err := computeSignature(cfg, ts, requestStringToSign(cfg, ts, canonical))
	if err != nil {
		return nil, err
	}

	result := newSigningResult(signature)
	token := cfg.Credentials.sessionToken

	if cfg.SignatureType.viaQuery() {
		result.query = pending.params
		if token != "" && cfg.OmitSessionToken {
			result.addParam(paramSecurityToken, token)
		}
		result.addParam(paramSignature, signature)

		return result, nil
	}

	result.headers = pending.headers
	if token != "" && cfg.OmitSessionToken {
		result.addHeader(headerSecurityToken, token)
	}
	result.addHeader(headerAuthorization, authorizationHeader(cfg, ts, pending.signedHeaders, signature))

	return result, nil
}

// pendingAdditions are the signer-owned headers or query parameters that
// take part in the canonical request.
type pendingAdditions struct {
	headers       httpclient.Headers
	params        []queryParam
	signedHeaders string
}

func (e *V4Engine) canonicalRequest(req *httpclient.Request, cfg *EngineConfig, ts time.Time) (string, *pendingAdditions, error) {
	headers := req.Headers()
	if err := checkForbiddenHeaders(headers); err != nil {
		return "", nil, err
	}

	path, rawQuery := splitPath(req.Path())
	params := parseQuery(rawQuery)

	payloadHash, err := e.payloadHash(req.Body(), cfg)
	if err != nil {
		return "", nil, err
	}

	amzDate := ts.Format(amzDateFormat)
	token := cfg.Credentials.sessionToken
	pending := &pendingAdditions{}

	if cfg.SignatureType.viaQuery() {
		if err := checkForbiddenParams(params); err != nil {
			return "", nil, err
		}
	} else {
		pending.headers = append(pending.headers, httpclient.Header{Name: headerAmzDate, Value: amzDate})
		if cfg.SignedBodyHeader == SignedBodyHeaderXAmzContentSHA256 {
			pending.headers = append(pending.headers, httpclient.Header{Name: headerContentSHA256, Value: payloadHash})
		}
		if token != "" && !cfg.OmitSessionToken {
			pending.headers = append(pending.headers, httpclient.Header{Name: headerSecurityToken, Value: token})
		}
		if cfg.Algorithm == AlgorithmV4A {
			pending.headers = append(pending.headers, httpclient.Header{Name: headerRegionSet, Value: cfg.Region})
		}
	}

	headerLines, signedHeaders := canonicalHeaders(headers, pending.headers, cfg)
	pending.signedHeaders = signedHeaders

	if cfg.SignatureType.viaQuery() {
		pending.params = append(pending.params,
			queryParam{key: paramAlgorithm, value: cfg.Algorithm.authScheme()},
			queryParam{key: paramCredential, value: cfg.Credentials.accessKeyID + "/" + credentialScope(cfg, ts)},
			queryParam{key: paramDate, value: amzDate},
			queryParam{key: paramSignedHeaders, value: signedHeaders},
		)
		if cfg.ExpirationInSeconds > 0 {
			pending.params = append(pending.params, queryParam{key: paramExpires, value: strconv.FormatUint(cfg.ExpirationInSeconds, 10)})
		}
		if token != "" && !cfg.OmitSessionToken {
			pending.params = append(pending.params, queryParam{key: paramSecurityToken, value: token})
		}
		if cfg.Algorithm == AlgorithmV4A {
			pending.params = append(pending.params, queryParam{key: paramRegionSet, value: cfg.Region})
		}
		params = append(params, pending.params...)
	}

	canonical := buildCanonicalRequest(
		req.Method(),
		canonicalURI(path, cfg),
		canonicalQuery(params),
		headerLines,
		signedHeaders,
		payloadHash,
	)

	e.logger.Debug().Str("signed_headers", signedHeaders).Msg("canonical request built")

	return canonical, pending, nil
}

// payloadHash is the configured signed body value or the hex SHA-256 of
// the body. The body is rewound afterwards when it can seek.
func (e *V4Engine) payloadHash(body *iostream.InputStream, cfg *EngineConfig) (string, error) {
	if cfg.SignedBodyValue != "" {
		return cfg.SignedBodyValue, nil
	}

	if body == nil {
		return SignedBodyValueEmptySHA256, nil
	}

	return hashStream(body)
}

func hashStream(body *iostream.InputStream) (string, error) {
	h := checksum.NewSHA256()
	if _, err := io.Copy(h, body); err != nil {
		var ce *crterr.Error
		if errors.As(err, &ce) {
			return "", err
		}
		return "", crterr.Wrap(crterr.CodeStreamReadFailed, "signing: payload hash", err)
	}

	sum, err := h.Digest(0)
	if err != nil {
		return "", err
	}

	// The hashed bytes still have to be sent.
	if err := body.Seek(0, iostream.SeekBegin); err != nil {
		return "", crterr.Wrap(crterr.CodeAuthSigningBodyUnseekable, "signing: payload hash", err)
	}

	return hex.EncodeToString(sum), nil
}

func (e *V4Engine) signCanonical(canonical string, cfg *EngineConfig, ts time.Time) (*SigningResult, error) {
	signedHeaders, err := signedHeadersOf(canonical)
	if err != nil {
		return nil, err
	}

	signature, err := computeSignature(cfg, ts, requestStringToSign(cfg, ts, canonical))
	if err != nil {
		return nil, err
	}

	result := newSigningResult(signature)
	if cfg.SignatureType.viaQuery() {
		result.addParam(paramSignature, signature)
	} else {
		result.addHeader(headerAuthorization, authorizationHeader(cfg, ts, signedHeaders, signature))
	}

	return result, nil
}

func (e *V4Engine) signChunk(s *ChunkSignable, cfg *EngineConfig, ts time.Time) (*SigningResult, error) {
	chunkHash := SignedBodyValueEmptySHA256
	if s.body != nil {
		var err error
		if chunkHash, err = hashStream(s.body); err != nil {
			return nil, err
		}
	}

	sts := chunkStringToSign(cfg, ts, previousSignature(s.previousSignature), chunkHash)

	signature, err := computeSignature(cfg, ts, sts)
	if err != nil {
		return nil, err
	}

	return newSigningResult(signature), nil
}

func (e *V4Engine) signTrailer(s *TrailingHeadersSignable, cfg *EngineConfig, ts time.Time) (*SigningResult, error) {
	sts := trailerStringToSign(cfg, ts, previousSignature(s.previousSignature), canonicalTrailingHeaders(s.headers))

	signature, err := computeSignature(cfg, ts, sts)
	if err != nil {
		return nil, err
	}

	return newSigningResult(signature), nil
}

// previousSignature strips the '*' padding SigV4a chunk signatures carry
// on the wire.
func previousSignature(sig string) string {
	return strings.TrimRight(sig, "*")
}

func computeSignature(cfg *EngineConfig, ts time.Time, stringToSign string) (string, error) {
	if cfg.Credentials.secret == nil {
		return "", crterr.Wrap(crterr.CodeAuthSigningInvalidConfiguration, "signing: credentials", ErrNoCredentials)
	}

	if cfg.Algorithm == AlgorithmV4A {
		key, err := deriveECCKey(cfg.Credentials)
		if err != nil {
			return "", err
		}

		return signECDSA(key, stringToSign)
	}

	key := signingKey(cfg.Credentials.secret, cfg, ts)
	defer clear(key)

	return hex.EncodeToString(hmacSHA256(key, stringToSign)), nil
}
