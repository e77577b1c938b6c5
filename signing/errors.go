package signing

import "errors"

// Configuration errors, wrapped in an invalid-signing-configuration code.
var (
	errRegionRequired       = errors.New("region must not be empty")
	errServiceRequired      = errors.New("service must not be empty")
	errCredentialsRequired  = errors.New("credentials must not be nil")
	errExpirationNeedsQuery = errors.New("expiration requires query param signing")
)

// Signing errors.
var (
	// ErrNoCredentials is returned when an access key id or secret is missing.
	ErrNoCredentials = errors.New("signing: access key id and secret access key are required")

	// ErrSignableMismatch is returned when the signable kind does not match
	// the configured signature type.
	ErrSignableMismatch = errors.New("signing: signable does not match signature type")

	// ErrForbiddenHeader is returned when a request already carries a header
	// the signer adds itself.
	ErrForbiddenHeader = errors.New("signing: request contains a reserved signing header")

	// ErrForbiddenQueryParam is returned when a request already carries a
	// query parameter the signer adds itself.
	ErrForbiddenQueryParam = errors.New("signing: request contains a reserved signing query parameter")

	// ErrMalformedCanonicalRequest is returned when a canonical request
	// string lacks the signed headers and payload hash lines.
	ErrMalformedCanonicalRequest = errors.New("signing: malformed canonical request")
)

// Key material errors.
var (
	// ErrKeyDerivation is returned when no valid SigV4a key could be derived
	// from the credentials.
	ErrKeyDerivation = errors.New("signing: sigv4a key derivation exhausted")

	// ErrInvalidPublicKey is returned when verification is given a point
	// that is not on P-256.
	ErrInvalidPublicKey = errors.New("signing: invalid P-256 public key")
)
