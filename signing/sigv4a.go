package signing

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math/big"

	"github.com/vitalvas/crtbridge/crterr"
)

const (
	// maxKDFCounter bounds the key derivation retries.
	maxKDFCounter = 254

	kdfLabel = "AWS4-ECDSA-P256-SHA256"
)

// deriveECCKey derives the SigV4a P-256 key from the credentials with the
// NIST SP 800-108 counter-mode KDF over HMAC-SHA256. A candidate above
// N-2 is rejected and the context counter advanced.
func deriveECCKey(creds *Credentials) (*ecdsa.PrivateKey, error) {
	curve := elliptic.P256()
	limit := new(big.Int).Sub(curve.Params().N, big.NewInt(2))

	inputKey := make([]byte, 0, 5+len(creds.secret))
	inputKey = append(inputKey, "AWS4A"...)
	inputKey = append(inputKey, creds.secret...)
	defer clear(inputKey)

	for counter := 1; counter <= maxKDFCounter; counter++ {
		fixed := make([]byte, 0, 4+len(kdfLabel)+1+len(creds.accessKeyID)+1+4)
		fixed = binary.BigEndian.AppendUint32(fixed, 1)
		fixed = append(fixed, kdfLabel...)
		fixed = append(fixed, 0x00)
		fixed = append(fixed, creds.accessKeyID...)
		fixed = append(fixed, byte(counter))
		fixed = binary.BigEndian.AppendUint32(fixed, 256)

		mac := hmac.New(sha256.New, inputKey)
		mac.Write(fixed)
		k0 := mac.Sum(nil)

		candidate := new(big.Int).SetBytes(k0)
		clear(k0)

		if candidate.Cmp(limit) > 0 {
			continue
		}

		d := candidate.Add(candidate, big.NewInt(1)).FillBytes(make([]byte, 32))
		key, err := ecdsa.ParseRawPrivateKey(curve, d)
		clear(d)

		if err != nil {
			return nil, crterr.Wrap(crterr.CodeAuthSigningKeyDerivationExhausted, "signing: sigv4a key", err)
		}

		return key, nil
	}

	return nil, crterr.Wrap(crterr.CodeAuthSigningKeyDerivationExhausted, "signing: sigv4a key", ErrKeyDerivation)
}

// signECDSA returns the hex ASN.1 ECDSA signature over sha256(stringToSign).
func signECDSA(key *ecdsa.PrivateKey, stringToSign string) (string, error) {
	digest := sha256.Sum256([]byte(stringToSign))

	sig, err := ecdsa.SignASN1(rand.Reader, key, digest[:])
	if err != nil {
		return "", crterr.Wrap(crterr.CodeUnknown, "signing: sigv4a", err)
	}

	return hex.EncodeToString(sig), nil
}

// parsePublicKey builds a P-256 public key from hex affine coordinates.
func parsePublicKey(xHex, yHex string) (*ecdsa.PublicKey, error) {
	x, err := hex.DecodeString(xHex)
	if err != nil || len(x) > 32 {
		return nil, ErrInvalidPublicKey
	}

	y, err := hex.DecodeString(yHex)
	if err != nil || len(y) > 32 {
		return nil, ErrInvalidPublicKey
	}

	point := make([]byte, 65)
	point[0] = 0x04
	copy(point[33-len(x):33], x)
	copy(point[65-len(y):], y)

	pub, err := ecdsa.ParseUncompressedPublicKey(elliptic.P256(), point)
	if err != nil {
		return nil, ErrInvalidPublicKey
	}

	return pub, nil
}

// verifyECDSA checks a hex ASN.1 signature over sha256(stringToSign).
func verifyECDSA(pub *ecdsa.PublicKey, stringToSign, signatureHex string) bool {
	sig, err := hex.DecodeString(signatureHex)
	if err != nil {
		return false
	}

	digest := sha256.Sum256([]byte(stringToSign))

	return ecdsa.VerifyASN1(pub, digest[:], sig)
}
