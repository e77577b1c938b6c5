package checksum

import (
	"crypto/md5"  //nolint:gosec
	"crypto/sha1" //nolint:gosec
	"crypto/sha256"
	"errors"
	"hash"

	"github.com/vitalvas/crtbridge/crterr"
)

// ErrFinalized is returned by Update and Digest once a digest was taken.
var ErrFinalized = crterr.Wrap(crterr.CodeInvalidState, "checksum: hash", errors.New("digest already taken"))

// Hash is an incremental message digest. A digest can be taken once.
// Hash is not safe for concurrent use.
type Hash struct {
	h         hash.Hash
	finalized bool
}

// NewSHA1 returns an incremental SHA-1.
func NewSHA1() *Hash { return &Hash{h: sha1.New()} }

// NewSHA256 returns an incremental SHA-256.
func NewSHA256() *Hash { return &Hash{h: sha256.New()} }

// NewMD5 returns an incremental MD5.
func NewMD5() *Hash { return &Hash{h: md5.New()} }

// Size is the full digest length in bytes.
func (h *Hash) Size() int { return h.h.Size() }

// Update feeds buf into the digest.
func (h *Hash) Update(buf []byte) error {
	if h.finalized {
		return ErrFinalized
	}

	_, _ = h.h.Write(buf)

	return nil
}

// Write implements io.Writer on top of Update.
func (h *Hash) Write(p []byte) (int, error) {
	if err := h.Update(p); err != nil {
		return 0, err
	}

	return len(p), nil
}

// Digest finalizes the hash and returns the digest, cut to its first
// truncateTo bytes when truncateTo is between 1 and Size. Zero returns the
// full digest.
func (h *Hash) Digest(truncateTo int) ([]byte, error) {
	if truncateTo < 0 {
		return nil, crterr.InvalidArgument("checksum: digest", "truncation must not be negative")
	}

	if h.finalized {
		return nil, ErrFinalized
	}
	h.finalized = true

	sum := h.h.Sum(nil)
	if truncateTo > 0 && truncateTo < len(sum) {
		sum = sum[:truncateTo]
	}

	return sum, nil
}
