package checksum

import (
	"encoding/hex"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitalvas/crtbridge/crterr"
)

func TestHash(t *testing.T) {
	tests := []struct {
		name  string
		new   func() *Hash
		size  int
		empty string
		abc   string
	}{
		{"sha256", NewSHA256, 32,
			"e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
			"ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"},
		{"sha1", NewSHA1, 20,
			"da39a3ee5e6b4b0d3255bfef95601890afd80709",
			"a9993e364706816aba3e25717850c26c9cd0d89d"},
		{"md5", NewMD5, 16,
			"d41d8cd98f00b204e9800998ecf8427e",
			"900150983cd24fb0d6963f7d28e17f72"},
	}

	for _, tt := range tests {
		t.Run(tt.name+" empty", func(t *testing.T) {
			h := tt.new()
			assert.Equal(t, tt.size, h.Size())

			sum, err := h.Digest(0)
			require.NoError(t, err)
			assert.Equal(t, tt.empty, hex.EncodeToString(sum))
		})

		t.Run(tt.name+" one shot", func(t *testing.T) {
			h := tt.new()
			require.NoError(t, h.Update([]byte("abc")))

			sum, err := h.Digest(0)
			require.NoError(t, err)
			assert.Equal(t, tt.abc, hex.EncodeToString(sum))
		})

		t.Run(tt.name+" iterated", func(t *testing.T) {
			h := tt.new()
			for _, part := range []string{"a", "b", "c"} {
				require.NoError(t, h.Update([]byte(part)))
			}

			sum, err := h.Digest(0)
			require.NoError(t, err)
			assert.Equal(t, tt.abc, hex.EncodeToString(sum))
		})

		t.Run(tt.name+" as writer", func(t *testing.T) {
			h := tt.new()
			_, err := io.Copy(h, strings.NewReader("abc"))
			require.NoError(t, err)

			sum, err := h.Digest(0)
			require.NoError(t, err)
			assert.Equal(t, tt.abc, hex.EncodeToString(sum))
		})
	}
}

func TestHashDigest(t *testing.T) {
	t.Run("truncated", func(t *testing.T) {
		h := NewSHA256()
		require.NoError(t, h.Update([]byte("abc")))

		sum, err := h.Digest(4)
		require.NoError(t, err)
		assert.Equal(t, "ba7816bf", hex.EncodeToString(sum))
	})

	t.Run("truncation past size is the full digest", func(t *testing.T) {
		sum, err := NewMD5().Digest(64)
		require.NoError(t, err)
		assert.Len(t, sum, 16)
	})

	t.Run("negative truncation", func(t *testing.T) {
		_, err := NewSHA1().Digest(-1)
		assert.Equal(t, crterr.CodeInvalidArgument, crterr.CodeOf(err))
	})

	t.Run("digest taken once", func(t *testing.T) {
		h := NewSHA256()
		_, err := h.Digest(0)
		require.NoError(t, err)

		_, err = h.Digest(0)
		assert.ErrorIs(t, err, ErrFinalized)

		assert.ErrorIs(t, h.Update([]byte("x")), ErrFinalized)

		n, err := h.Write([]byte("x"))
		assert.Zero(t, n)
		assert.Equal(t, crterr.CodeInvalidState, crterr.CodeOf(err))
	})
}
