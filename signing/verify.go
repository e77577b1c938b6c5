package signing

import (
	"time"

	"github.com/vitalvas/crtbridge/crterr"
	"github.com/vitalvas/crtbridge/httpclient"
)

// VerifySigV4aSignature rebuilds the canonical request for params under
// cfg, checks it equals expectedCanonicalRequest and verifies signatureHex
// over it with the P-256 public key (pubXHex, pubYHex). cfg.Timestamp must
// be the signing time. Any failure yields false.
func (s *Signer) VerifySigV4aSignature(params RequestParams, cfg Config, expectedCanonicalRequest, signatureHex, pubXHex, pubYHex string) bool {
	c := s.newContinuation(kindRequest, 0, nil)
	c.body = params.Body
	defer c.destroy()

	ok, err := c.verifyRequest(params, cfg, expectedCanonicalRequest, signatureHex, pubXHex, pubYHex)
	c.report(err)

	return ok
}

// VerifySigV4aCanonicalSigning verifies signatureHex over a canonical
// request string.
func (s *Signer) VerifySigV4aCanonicalSigning(canonical string, cfg Config, signatureHex, pubXHex, pubYHex string) bool {
	c := s.newContinuation(kindCanonicalRequest, 0, nil)
	defer c.destroy()

	ok, err := c.verifyCanonical(canonical, cfg, signatureHex, pubXHex, pubYHex)
	c.report(err)

	return ok
}

func (c *continuation) verifyRequest(params RequestParams, cfg Config, expected, signatureHex, pubX, pubY string) (bool, error) {
	sigType := cfg.SignatureType
	if sigType != HTTPRequestViaQueryParams {
		sigType = HTTPRequestViaHeaders
	}

	if err := c.buildVerify(cfg, sigType); err != nil {
		return false, err
	}

	req, err := httpclient.NewRequest(params.Method, params.URI)
	if err != nil {
		return false, err
	}
	c.request = req

	for _, h := range params.Headers {
		if err := req.AddHeader(h.Name, h.Value); err != nil {
			return false, err
		}
	}

	if params.Body != nil {
		req.SetBody(params.Body)
	}

	signable, err := NewRequestSignable(req)
	if err != nil {
		return false, err
	}
	c.signable = signable

	c.setState(stateSigning)

	engine, err := NewV4Engine(c.signer.rt)
	if err != nil {
		return false, err
	}

	if err := engine.check(signable, c.config); err != nil {
		return false, err
	}

	canonical, _, err := engine.canonicalRequest(req, c.config, c.config.timestamp())
	if err != nil {
		return false, err
	}

	if canonical != expected {
		return false, crterr.New(crterr.CodeAuthSigningVerificationFailed, "signing: verify canonical request")
	}

	return c.verifySignature(canonical, signatureHex, pubX, pubY)
}

func (c *continuation) verifyCanonical(canonical string, cfg Config, signatureHex, pubX, pubY string) (bool, error) {
	if err := c.buildVerify(cfg, CanonicalRequestViaHeaders); err != nil {
		return false, err
	}

	signable, err := NewCanonicalRequestSignable(canonical)
	if err != nil {
		return false, err
	}
	c.signable = signable

	c.setState(stateSigning)

	return c.verifySignature(canonical, signatureHex, pubX, pubY)
}

func (c *continuation) buildVerify(cfg Config, sigType SignatureType) error {
	cfg.Algorithm = AlgorithmV4A
	if cfg.Timestamp.IsZero() {
		return crterr.InvalidArgument("signing: verify", "timestamp is required to verify")
	}

	if err := c.build(cfg, sigType); err != nil {
		return err
	}

	return c.config.Validate()
}

func (c *continuation) verifySignature(canonical, signatureHex, pubX, pubY string) (bool, error) {
	pub, err := parsePublicKey(pubX, pubY)
	if err != nil {
		return false, crterr.Wrap(crterr.CodeAuthSigningVerificationFailed, "signing: verify", err)
	}

	ts := c.config.timestamp()
	if !verifyECDSA(pub, requestStringToSign(c.config, ts, canonical), signatureHex) {
		return false, crterr.New(crterr.CodeAuthSigningVerificationFailed, "signing: verify signature")
	}

	return true, nil
}

func (c *continuation) report(err error) {
	c.signer.rt.Metrics().Signing("verify_"+c.kind.String(), err, time.Since(c.started))

	if err != nil {
		c.logger.Debug().Err(err).Int("code", int(crterr.CodeOf(err))).Msg("sigv4a verification failed")
	}
}
