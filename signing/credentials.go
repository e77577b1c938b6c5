package signing

import (
	"github.com/vitalvas/crtbridge/crterr"
)

// Credentials is an access key id, secret and optional session token. The
// secret is kept as bytes so Release can wipe it.
type Credentials struct {
	accessKeyID  string
	secret       []byte
	sessionToken string
}

// NewCredentials builds credentials. An empty access key id or secret is an
// invalid signing configuration.
func NewCredentials(accessKeyID, secretAccessKey, sessionToken string) (*Credentials, error) {
	if accessKeyID == "" || secretAccessKey == "" {
		return nil, crterr.Wrap(crterr.CodeAuthSigningInvalidConfiguration, "signing: credentials", ErrNoCredentials)
	}

	return &Credentials{
		accessKeyID:  accessKeyID,
		secret:       []byte(secretAccessKey),
		sessionToken: sessionToken,
	}, nil
}

// AccessKeyID returns the access key id.
func (c *Credentials) AccessKeyID() string { return c.accessKeyID }

// SessionToken returns the session token, or "" if there is none.
func (c *Credentials) SessionToken() string { return c.sessionToken }

// Release zeroes the secret. Safe to call more than once and on nil.
func (c *Credentials) Release() {
	if c == nil {
		return
	}

	clear(c.secret)
	c.secret = nil
	c.sessionToken = ""
}
