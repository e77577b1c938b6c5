package signing

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vitalvas/crtbridge/crterr"
	"github.com/vitalvas/crtbridge/httpclient"
	"github.com/vitalvas/crtbridge/iostream"
	"github.com/vitalvas/crtbridge/platform"
)

// CompletionFunc receives the outcome of one signing call. callbackID is
// the value given to the entry point. On failure result is nil.
type CompletionFunc func(callbackID uint64, result *Result, err error)

// RequestParams describes a request to sign. The signer takes ownership
// of Body and closes it once signing has finished.
type RequestParams struct {
	Method  string
	URI     string
	Headers httpclient.Headers
	Body    *iostream.InputStream
}

// Signer bridges caller signing calls onto an Engine.
type Signer struct {
	rt     *platform.Runtime
	logger zerolog.Logger
	engine Engine

	// teardownHook observes continuation teardown steps.
	teardownHook func(step string)
}

// SignerOption configures a Signer.
type SignerOption func(*Signer)

// WithEngine replaces the default V4Engine.
func WithEngine(e Engine) SignerOption {
	return func(s *Signer) { s.engine = e }
}

// NewSigner returns a Signer bound to rt.
func NewSigner(rt *platform.Runtime, opts ...SignerOption) (*Signer, error) {
	if rt == nil {
		return nil, crterr.InvalidArgument("signing: signer", "runtime must not be nil")
	}

	s := &Signer{
		rt:     rt,
		logger: rt.Logger().With().Str("component", "signer").Logger(),
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.engine == nil {
		engine, err := NewV4Engine(rt)
		if err != nil {
			return nil, err
		}
		s.engine = engine
	}

	return s, nil
}

// SignRequest signs a full request. onComplete receives the signed path,
// every request header and the signature. Only a nil onComplete is
// reported by the return value; every other failure goes to onComplete.
func (s *Signer) SignRequest(params RequestParams, cfg Config, callbackID uint64, onComplete CompletionFunc) error {
	if onComplete == nil {
		params.Body.Close()
		return crterr.InvalidArgument("signing: sign request", "completion must not be nil")
	}

	c := s.newContinuation(kindRequest, callbackID, onComplete)
	c.body = params.Body

	if err := c.build(cfg, cfg.SignatureType); err != nil {
		c.fail(err)
		return nil
	}

	req, err := httpclient.NewRequest(params.Method, params.URI)
	if err != nil {
		c.fail(err)
		return nil
	}
	c.request = req

	for _, h := range params.Headers {
		if err := req.AddHeader(h.Name, h.Value); err != nil {
			c.fail(err)
			return nil
		}
	}

	if params.Body != nil {
		req.SetBody(params.Body)
	}

	signable, err := NewRequestSignable(req)
	if err != nil {
		c.fail(err)
		return nil
	}
	c.signable = signable

	c.sign()

	return nil
}

// SignCanonicalRequest signs a canonical request string. A header-signing
// config is treated as canonical-request-via-headers, and likewise for
// query parameters.
func (s *Signer) SignCanonicalRequest(canonical string, cfg Config, callbackID uint64, onComplete CompletionFunc) error {
	if onComplete == nil {
		return crterr.InvalidArgument("signing: sign canonical request", "completion must not be nil")
	}

	sigType := cfg.SignatureType
	switch sigType {
	case HTTPRequestViaHeaders:
		sigType = CanonicalRequestViaHeaders
	case HTTPRequestViaQueryParams:
		sigType = CanonicalRequestViaQueryParams
	}

	c := s.newContinuation(kindCanonicalRequest, callbackID, onComplete)
	if err := c.build(cfg, sigType); err != nil {
		c.fail(err)
		return nil
	}

	signable, err := NewCanonicalRequestSignable(canonical)
	if err != nil {
		c.fail(err)
		return nil
	}
	c.signable = signable

	c.sign()

	return nil
}

// SignChunk signs one aws-chunked body chunk read from body, chained to
// previousSignature. A nil body signs the empty final chunk. The signer
// takes ownership of body.
func (s *Signer) SignChunk(body *iostream.InputStream, previousSignature string, cfg Config, callbackID uint64, onComplete CompletionFunc) error {
	if onComplete == nil {
		body.Close()
		return crterr.InvalidArgument("signing: sign chunk", "completion must not be nil")
	}

	c := s.newContinuation(kindChunk, callbackID, onComplete)
	c.body = body

	if err := c.build(cfg, HTTPRequestChunk); err != nil {
		c.fail(err)
		return nil
	}

	signable, err := NewChunkSignable(body, previousSignature)
	if err != nil {
		c.fail(err)
		return nil
	}
	c.signable = signable

	c.sign()

	return nil
}

// SignTrailingHeaders signs the trailer of an aws-chunked body, chained to
// previousSignature.
func (s *Signer) SignTrailingHeaders(headers httpclient.Headers, previousSignature string, cfg Config, callbackID uint64, onComplete CompletionFunc) error {
	if onComplete == nil {
		return crterr.InvalidArgument("signing: sign trailing headers", "completion must not be nil")
	}

	c := s.newContinuation(kindTrailingHeaders, callbackID, onComplete)
	if err := c.build(cfg, HTTPRequestTrailingHeaders); err != nil {
		c.fail(err)
		return nil
	}

	signable, err := NewTrailingHeadersSignable(headers, previousSignature)
	if err != nil {
		c.fail(err)
		return nil
	}
	c.signable = signable

	c.sign()

	return nil
}

// Sign signs a full request and waits for the result or ctx. The
// completion runs on a runtime event loop, so Sign must not be called from
// a callback already running on one; use SignRequest there.
func (s *Signer) Sign(ctx context.Context, params RequestParams, cfg Config) (*Result, error) {
	type outcome struct {
		result *Result
		err    error
	}

	ch := make(chan outcome, 1)
	err := s.SignRequest(params, cfg, 0, func(_ uint64, result *Result, err error) {
		ch <- outcome{result: result, err: err}
	})
	if err != nil {
		return nil, err
	}

	select {
	case out := <-ch:
		return out.result, out.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type continuationState int32

const (
	stateBuilding continuationState = iota
	stateSigning
	stateCompleting
	stateDestroyed
)

func (s continuationState) String() string {
	switch s {
	case stateBuilding:
		return "building"
	case stateSigning:
		return "signing"
	case stateCompleting:
		return "completing"
	default:
		return "destroyed"
	}
}

// continuation carries one signing call from submission to completion.
type continuation struct {
	signer     *Signer
	id         uuid.UUID
	kind       signableKind
	callbackID uint64
	onComplete CompletionFunc
	logger     zerolog.Logger
	started    time.Time

	state atomic.Int32

	// Owned resources, released by destroy in field order.
	config   *EngineConfig
	signable Signable
	region   string
	service  string
	body     *iostream.InputStream
	request  *httpclient.Request

	shouldSign func(name string) bool
	completed  atomic.Bool
}

func (s *Signer) newContinuation(kind signableKind, callbackID uint64, onComplete CompletionFunc) *continuation {
	id := uuid.New()

	return &continuation{
		signer:     s,
		id:         id,
		kind:       kind,
		callbackID: callbackID,
		onComplete: onComplete,
		started:    time.Now(),
		logger: s.logger.With().
			Str("continuation_id", id.String()).
			Uint64("callback_id", callbackID).
			Str("kind", kind.String()).
			Logger(),
	}
}

func (c *continuation) setState(st continuationState) {
	c.state.Store(int32(st))
}

func (c *continuation) currentState() continuationState {
	return continuationState(c.state.Load())
}

// build fills the engine config from cfg. Credential failures stop here
// before any engine call.
func (c *continuation) build(cfg Config, sigType SignatureType) error {
	c.setState(stateBuilding)

	c.region = cfg.Region
	c.service = cfg.Service
	c.shouldSign = cfg.ShouldSignHeader

	creds, err := NewCredentials(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken)
	if err != nil {
		return err
	}

	c.config = &EngineConfig{
		Algorithm:              cfg.Algorithm,
		SignatureType:          sigType,
		Region:                 c.region,
		Service:                c.service,
		Timestamp:              cfg.Timestamp,
		Credentials:            creds,
		UseDoubleURIEncode:     cfg.UseDoubleURIEncode,
		ShouldNormalizeURIPath: cfg.ShouldNormalizeURIPath,
		OmitSessionToken:       cfg.OmitSessionToken,
		SignedBodyValue:        cfg.SignedBodyValue,
		SignedBodyHeader:       cfg.SignedBodyHeader,
		ExpirationInSeconds:    cfg.ExpirationInSeconds,
	}

	if c.shouldSign != nil {
		c.config.ShouldSignHeader = c.shouldSignHeader
	}

	return nil
}

// shouldSignHeader is the one adapter through which the engine consults
// the caller predicate.
func (c *continuation) shouldSignHeader(name string) bool {
	return c.shouldSign(name)
}

func (c *continuation) sign() {
	c.setState(stateSigning)

	if err := c.signer.engine.SignAsync(c.signable, c.config, c.signed); err != nil {
		c.fail(err)
	}
}

// signed is the engine completion.
func (c *continuation) signed(result *SigningResult, err error) {
	if result == nil && err == nil {
		err = crterr.OrUnknown("signing: engine", nil)
	}

	if err != nil {
		c.finish(nil, err)
		return
	}

	if c.kind != kindRequest {
		sig, _ := result.Property(PropertySignature)
		c.finish(&Result{Signature: []byte(sig)}, nil)
		return
	}

	if err := result.ApplyToRequest(c.request); err != nil {
		c.finish(nil, err)
		return
	}

	sig, _ := result.Property(PropertySignature)
	c.finish(&Result{
		Path:      c.request.Path(),
		Headers:   c.request.Headers(),
		Signature: []byte(sig),
	}, nil)
}

// fail completes a continuation that never reached the engine completion.
// The caller is still notified on an event loop.
func (c *continuation) fail(err error) {
	if !c.signer.rt.EventLoops().Next().Schedule(func() { c.finish(nil, err) }) {
		c.finish(nil, err)
	}
}

func (c *continuation) finish(result *Result, err error) {
	if c.completed.Swap(true) {
		return
	}

	c.setState(stateCompleting)
	defer c.destroy()

	c.signer.rt.Metrics().Signing(c.kind.String(), err, time.Since(c.started))

	if err != nil {
		c.logger.Warn().Err(err).Int("code", int(crterr.CodeOf(err))).Msg("signing failed")
	} else {
		c.logger.Debug().Msg("signing completed")
	}

	c.onComplete(c.callbackID, result, err)
}

// destroy releases everything the continuation owns, in order. Every field
// may be nil when construction stopped early.
func (c *continuation) destroy() {
	if c.currentState() == stateDestroyed {
		return
	}

	if c.config != nil {
		c.config.Credentials.Release()
		c.config.Credentials = nil
	}
	c.step("credentials")

	if c.signable != nil {
		c.signable.Close()
		c.signable = nil
	}
	c.step("signable")

	c.region, c.service = "", ""
	c.config = nil
	c.step("strings")

	c.body.Close()
	c.body = nil
	c.step("body")

	c.request.Release()
	c.request = nil
	c.step("request")

	c.setState(stateDestroyed)
}

func (c *continuation) step(name string) {
	if hook := c.signer.teardownHook; hook != nil {
		hook(name)
	}
}
