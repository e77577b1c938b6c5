package signing

import (
	"context"
	"encoding/hex"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sigv4aConfig() Config {
	cfg := suiteConfig()
	cfg.Algorithm = AlgorithmV4A

	return cfg
}

// publicKeyHex returns the hex affine coordinates of the SigV4a key the
// given credentials derive.
func publicKeyHex(t *testing.T, accessKeyID, secret string) (string, string) {
	t.Helper()

	creds, err := NewCredentials(accessKeyID, secret, "")
	require.NoError(t, err)

	key, err := deriveECCKey(creds)
	require.NoError(t, err)

	return hex.EncodeToString(key.X.FillBytes(make([]byte, 32))),
		hex.EncodeToString(key.Y.FillBytes(make([]byte, 32)))
}

func getVanillaQuerySigV4aCanonicalRequest() string {
	return "GET\n" +
		"/\n" +
		"%E1%88%B4=Value1&Param=Value2&Param-3=Value3\n" +
		"host:example.amazonaws.com\n" +
		"x-amz-date:20150830T123600Z\n" +
		"x-amz-region-set:us-east-1\n" +
		"\n" +
		"host;x-amz-date;x-amz-region-set\n" +
		SignedBodyValueEmptySHA256
}

func TestVerifySigV4aSignature(t *testing.T) {
	s := newTestSigner(t)
	pubX, pubY := publicKeyHex(t, suiteAccessKeyID, suiteSecret)

	result, err := s.Sign(context.Background(), getVanillaQueryParams(), sigv4aConfig())
	require.NoError(t, err)

	signature := string(result.Signature)
	expected := getVanillaQuerySigV4aCanonicalRequest()

	auth, _ := result.Headers.Get("Authorization")
	assert.True(t, strings.HasPrefix(auth, "AWS4-ECDSA-P256-SHA256 Credential=AKIDEXAMPLE/20150830/service/aws4_request, "))

	t.Run("valid", func(t *testing.T) {
		assert.True(t, s.VerifySigV4aSignature(getVanillaQueryParams(), sigv4aConfig(), expected, signature, pubX, pubY))
	})

	t.Run("algorithm is forced", func(t *testing.T) {
		cfg := sigv4aConfig()
		cfg.Algorithm = AlgorithmV4
		assert.True(t, s.VerifySigV4aSignature(getVanillaQueryParams(), cfg, expected, signature, pubX, pubY))
	})

	t.Run("canonical request mismatch", func(t *testing.T) {
		tampered := strings.Replace(expected, "Value1", "Value9", 1)
		assert.False(t, s.VerifySigV4aSignature(getVanillaQueryParams(), sigv4aConfig(), tampered, signature, pubX, pubY))
	})

	t.Run("wrong public key", func(t *testing.T) {
		otherX, otherY := publicKeyHex(t, "AKISORANDOMAASORANDOM", "q+jcrXGc+0zWN6uzclKVhvMmUsIfRPa4rlRandom")
		assert.False(t, s.VerifySigV4aSignature(getVanillaQueryParams(), sigv4aConfig(), expected, signature, otherX, otherY))
	})

	t.Run("point not on curve", func(t *testing.T) {
		assert.False(t, s.VerifySigV4aSignature(getVanillaQueryParams(), sigv4aConfig(), expected, signature, pubX, pubX))
		assert.False(t, s.VerifySigV4aSignature(getVanillaQueryParams(), sigv4aConfig(), expected, signature, "zz", pubY))
	})

	t.Run("tampered signature", func(t *testing.T) {
		assert.False(t, s.VerifySigV4aSignature(getVanillaQueryParams(), sigv4aConfig(), expected, "3006020101020101", pubX, pubY))
		assert.False(t, s.VerifySigV4aSignature(getVanillaQueryParams(), sigv4aConfig(), expected, "not-hex", pubX, pubY))
	})

	t.Run("different signing time", func(t *testing.T) {
		cfg := sigv4aConfig()
		cfg.Timestamp = suiteTime.Add(time.Second)
		assert.False(t, s.VerifySigV4aSignature(getVanillaQueryParams(), cfg, expected, signature, pubX, pubY))
	})

	t.Run("timestamp required", func(t *testing.T) {
		cfg := sigv4aConfig()
		cfg.Timestamp = time.Time{}
		assert.False(t, s.VerifySigV4aSignature(getVanillaQueryParams(), cfg, expected, signature, pubX, pubY))
	})
}

func TestVerifySigV4aCanonicalSigning(t *testing.T) {
	s := newTestSigner(t)
	pubX, pubY := publicKeyHex(t, suiteAccessKeyID, suiteSecret)

	canonical := postFormCanonicalRequest()

	c := newCompletion()
	require.NoError(t, s.SignCanonicalRequest(canonical, sigv4aConfig(), 0, c.fn))

	call := c.wait(t)
	require.NoError(t, call.err)
	signature := string(call.result.Signature)

	t.Run("valid", func(t *testing.T) {
		assert.True(t, s.VerifySigV4aCanonicalSigning(canonical, sigv4aConfig(), signature, pubX, pubY))
	})

	t.Run("other canonical request", func(t *testing.T) {
		assert.False(t, s.VerifySigV4aCanonicalSigning(getVanillaQuerySigV4aCanonicalRequest(), sigv4aConfig(), signature, pubX, pubY))
	})

	t.Run("empty canonical request", func(t *testing.T) {
		assert.False(t, s.VerifySigV4aCanonicalSigning("", sigv4aConfig(), signature, pubX, pubY))
	})

	t.Run("missing credentials", func(t *testing.T) {
		cfg := sigv4aConfig()
		cfg.SecretAccessKey = ""
		assert.False(t, s.VerifySigV4aCanonicalSigning(canonical, cfg, signature, pubX, pubY))
	})
}
