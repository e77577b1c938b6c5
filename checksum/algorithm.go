package checksum

import (
	"encoding/base64"
	"errors"
	"hash"
	"hash/crc32"
	"hash/crc64"
	"io"
	"strings"

	"github.com/vitalvas/crtbridge/crterr"
)

// Algorithm selects a flexible checksum.
type Algorithm int

const (
	AlgorithmNone Algorithm = iota
	AlgorithmCRC32
	AlgorithmCRC32C
	AlgorithmCRC64NVME
	AlgorithmSHA1
	AlgorithmSHA256
)

var algorithmNames = map[Algorithm]string{
	AlgorithmCRC32:     "CRC32",
	AlgorithmCRC32C:    "CRC32C",
	AlgorithmCRC64NVME: "CRC64NVME",
	AlgorithmSHA1:      "SHA1",
	AlgorithmSHA256:    "SHA256",
}

func (a Algorithm) String() string {
	if name, ok := algorithmNames[a]; ok {
		return name
	}

	return "NONE"
}

// ParseAlgorithm maps a name such as "crc32c" onto its Algorithm. Matching
// is case-insensitive.
func ParseAlgorithm(name string) (Algorithm, error) {
	for alg, n := range algorithmNames {
		if strings.EqualFold(n, name) {
			return alg, nil
		}
	}

	return AlgorithmNone, crterr.InvalidArgument("checksum: algorithm", "unknown checksum algorithm %q", name)
}

// HeaderName is the header or trailer that carries the checksum, such as
// x-amz-checksum-crc32.
func (a Algorithm) HeaderName() string {
	return "x-amz-checksum-" + strings.ToLower(a.String())
}

func (a Algorithm) newHash() (hash.Hash, error) {
	switch a {
	case AlgorithmCRC32:
		return crc32.NewIEEE(), nil
	case AlgorithmCRC32C:
		return crc32.New(castagnoli), nil
	case AlgorithmCRC64NVME:
		return crc64.New(nvme), nil
	case AlgorithmSHA1:
		return NewSHA1().h, nil
	case AlgorithmSHA256:
		return NewSHA256().h, nil
	default:
		return nil, crterr.New(crterr.CodeUnsupportedOperation, "checksum: "+a.String())
	}
}

// Sum reads r to the end and returns the base64 of its big-endian checksum,
// the form the checksum header expects.
func Sum(a Algorithm, r io.Reader) (string, error) {
	h, err := a.newHash()
	if err != nil {
		return "", err
	}

	if _, err := io.Copy(h, r); err != nil {
		var ce *crterr.Error
		if errors.As(err, &ce) {
			return "", err
		}
		return "", crterr.Wrap(crterr.CodeStreamReadFailed, "checksum: sum", err)
	}

	return base64.StdEncoding.EncodeToString(h.Sum(nil)), nil
}
