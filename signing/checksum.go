package signing

import (
	"io"

	"github.com/vitalvas/crtbridge/checksum"
	"github.com/vitalvas/crtbridge/httpclient"
)

// ChecksumTrailer reads body to the end and returns the trailer carrying
// its alg checksum, ready for SignTrailingHeaders.
func ChecksumTrailer(alg checksum.Algorithm, body io.Reader) (httpclient.Headers, error) {
	sum, err := checksum.Sum(alg, body)
	if err != nil {
		return nil, err
	}

	return httpclient.Headers{{Name: alg.HeaderName(), Value: sum}}, nil
}
