// Package signing signs HTTP requests with AWS Signature Version 4 and its
// asymmetric variant SigV4a.
//
// A Signer turns a caller configuration into an engine configuration,
// hands the signable to an Engine and reports the outcome exactly once
// through a CompletionFunc that runs on a runtime event loop:
//
//	signer, err := signing.NewSigner(rt)
//	if err != nil {
//	    return err
//	}
//
//	cfg := signing.DefaultConfig()
//	cfg.Region = "us-east-1"
//	cfg.Service = "s3"
//	cfg.AccessKeyID = id
//	cfg.SecretAccessKey = secret
//
//	err = signer.SignRequest(signing.RequestParams{
//	    Method:  "GET",
//	    URI:     "/bucket/key",
//	    Headers: httpclient.Headers{{Name: "Host", Value: "s3.amazonaws.com"}},
//	}, cfg, 1, func(id uint64, res *signing.Result, err error) {
//	    // res.Path, res.Headers and res.Signature are owned by the callee.
//	})
//
// Only a nil completion is rejected synchronously. Configuration errors,
// reserved headers already present on the request and engine failures all
// arrive through the completion, carrying a crterr code.
//
// # Signable kinds
//
// Besides full requests the signer handles caller-built canonical request
// strings, aws-chunked body chunks and chunked trailers. Chunk and trailer
// signatures chain on the previous signature, starting from the seed
// signature of the request that opened the upload.
//
// # SigV4a
//
// With AlgorithmV4A the signing key is an ECDSA P-256 key derived from the
// credentials, the credential scope omits the region and the region set is
// sent in X-Amz-Region-Set. Signatures are randomized; use
// VerifySigV4aSignature or VerifySigV4aCanonicalSigning to check them.
//
// # net/http
//
// Transport wraps an http.RoundTripper so plain net/http clients send
// signed requests. WithPayloadChecksum adds an x-amz-checksum-* header that
// the signature covers; ChecksumTrailer builds the same value as a trailer
// for SignTrailingHeaders.
//
// Sign and Transport.RoundTrip wait for an event loop and must not be
// called from a callback running on one.
package signing
