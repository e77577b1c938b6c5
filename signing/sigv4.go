package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

const (
	amzDateFormat   = "20060102T150405Z"
	scopeDateFormat = "20060102"
	scopeTerminator = "aws4_request"
)

func hmacSHA256(key []byte, data string) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(data))

	return mac.Sum(nil)
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// credentialScope is date/region/service/aws4_request for SigV4. SigV4a
// scopes drop the region; it travels in X-Amz-Region-Set instead.
func credentialScope(cfg *EngineConfig, ts time.Time) string {
	date := ts.Format(scopeDateFormat)

	if cfg.Algorithm == AlgorithmV4A {
		return date + "/" + cfg.Service + "/" + scopeTerminator
	}

	return date + "/" + cfg.Region + "/" + cfg.Service + "/" + scopeTerminator
}

// signingKey derives the SigV4 HMAC key for the scope.
func signingKey(secret []byte, cfg *EngineConfig, ts time.Time) []byte {
	seed := make([]byte, 0, 4+len(secret))
	seed = append(seed, "AWS4"...)
	seed = append(seed, secret...)
	defer clear(seed)

	kDate := hmacSHA256(seed, ts.Format(scopeDateFormat))
	kRegion := hmacSHA256(kDate, cfg.Region)
	kService := hmacSHA256(kRegion, cfg.Service)

	return hmacSHA256(kService, scopeTerminator)
}

func requestStringToSign(cfg *EngineConfig, ts time.Time, canonical string) string {
	return strings.Join([]string{
		cfg.Algorithm.authScheme(),
		ts.Format(amzDateFormat),
		credentialScope(cfg, ts),
		sha256Hex([]byte(canonical)),
	}, "\n")
}

func chunkStringToSign(cfg *EngineConfig, ts time.Time, previous, chunkHash string) string {
	return strings.Join([]string{
		cfg.Algorithm.authScheme() + "-PAYLOAD",
		ts.Format(amzDateFormat),
		credentialScope(cfg, ts),
		previous,
		SignedBodyValueEmptySHA256,
		chunkHash,
	}, "\n")
}

func trailerStringToSign(cfg *EngineConfig, ts time.Time, previous, trailer string) string {
	return strings.Join([]string{
		cfg.Algorithm.authScheme() + "-TRAILER",
		ts.Format(amzDateFormat),
		credentialScope(cfg, ts),
		previous,
		sha256Hex([]byte(trailer)),
	}, "\n")
}

// authorizationHeader renders the Authorization value for header signing.
func authorizationHeader(cfg *EngineConfig, ts time.Time, signedHeaders, signature string) string {
	return cfg.Algorithm.authScheme() +
		" Credential=" + cfg.Credentials.accessKeyID + "/" + credentialScope(cfg, ts) +
		", SignedHeaders=" + signedHeaders +
		", Signature=" + signature
}
