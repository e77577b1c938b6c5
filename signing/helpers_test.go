package signing

import (
	"bytes"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/vitalvas/crtbridge/httpclient"
	"github.com/vitalvas/crtbridge/iostream"
	"github.com/vitalvas/crtbridge/platform"
)

const (
	suiteAccessKeyID = "AKIDEXAMPLE"
	suiteSecret      = "wJalrXUtnFEMI/K7MDENG+bPxRfiCYEXAMPLEKEY"

	getVanillaQuerySignature = "371d3713e185cc334048618a97f809c9ffe339c62934c032af5a0e595648fcac"
	postFormSignature        = "d3875051da38690788ef43de4db0d8f280229d82040bfac253562e56c3f20e0b"
	postFormPayloadHash      = "9095672bbd1f56dfc5b65f3e153adc8731a4a654192329106275f4c7b24d0b6e"

	waitTimeout = 5 * time.Second
)

var suiteTime = time.Date(2015, 8, 30, 12, 36, 0, 0, time.UTC)

func newTestRuntime(t *testing.T) *platform.Runtime {
	t.Helper()

	cfg := platform.DefaultConfig()
	cfg.EventLoop.Threads = 2

	rt, err := platform.New(cfg,
		platform.WithLogger(zerolog.Nop()),
		platform.WithFatalHandler(func(msg string) { panic(msg) }),
	)
	require.NoError(t, err)
	t.Cleanup(rt.Close)

	return rt
}

func newTestSigner(t *testing.T, opts ...SignerOption) *Signer {
	t.Helper()

	s, err := NewSigner(newTestRuntime(t), opts...)
	require.NoError(t, err)

	return s
}

// suiteConfig is the configuration shared by the SigV4 test suite vectors.
func suiteConfig() Config {
	cfg := DefaultConfig()
	cfg.Region = "us-east-1"
	cfg.Service = "service"
	cfg.Timestamp = suiteTime
	cfg.AccessKeyID = suiteAccessKeyID
	cfg.SecretAccessKey = suiteSecret

	return cfg
}

func suiteEngineConfig(t *testing.T) *EngineConfig {
	t.Helper()

	creds, err := NewCredentials(suiteAccessKeyID, suiteSecret, "")
	require.NoError(t, err)

	return &EngineConfig{
		Algorithm:              AlgorithmV4,
		SignatureType:          HTTPRequestViaHeaders,
		Region:                 "us-east-1",
		Service:                "service",
		Timestamp:              suiteTime,
		Credentials:            creds,
		UseDoubleURIEncode:     true,
		ShouldNormalizeURIPath: true,
	}
}

func getVanillaQueryParams() RequestParams {
	return RequestParams{
		Method:  "GET",
		URI:     "/?Param-3=Value3&Param=Value2&%E1%88%B4=Value1",
		Headers: httpclient.Headers{{Name: "Host", Value: "example.amazonaws.com"}},
	}
}

func postFormParams(t *testing.T, rt *platform.Runtime) RequestParams {
	t.Helper()

	return RequestParams{
		Method: "POST",
		URI:    "/",
		Headers: httpclient.Headers{
			{Name: "Host", Value: "example.amazonaws.com"},
			{Name: "Content-Length", Value: "13"},
			{Name: "Content-Type", Value: "application/x-www-form-urlencoded"},
		},
		Body: bodyStream(t, rt, []byte("Param1=value1")),
	}
}

func postFormCanonicalRequest() string {
	return "POST\n" +
		"/\n" +
		"\n" +
		"content-length:13\n" +
		"content-type:application/x-www-form-urlencoded\n" +
		"host:example.amazonaws.com\n" +
		"x-amz-content-sha256:" + postFormPayloadHash + "\n" +
		"x-amz-date:20150830T123600Z\n" +
		"\n" +
		"content-length;content-type;host;x-amz-content-sha256;x-amz-date\n" +
		postFormPayloadHash
}

func bodyStream(t *testing.T, rt *platform.Runtime, data []byte) *iostream.InputStream {
	t.Helper()

	s, err := iostream.New(rt, iostream.FromReader(bytes.NewReader(data)))
	require.NoError(t, err)

	return s
}

// completion records CompletionFunc invocations.
type completion struct {
	ch chan completionCall
}

type completionCall struct {
	callbackID uint64
	result     *Result
	err        error
}

func newCompletion() *completion {
	return &completion{ch: make(chan completionCall, 4)}
}

func (c *completion) fn(callbackID uint64, result *Result, err error) {
	c.ch <- completionCall{callbackID: callbackID, result: result, err: err}
}

func (c *completion) wait(t *testing.T) completionCall {
	t.Helper()

	select {
	case call := <-c.ch:
		return call
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for signing completion")
		return completionCall{}
	}
}

// assertNoMore fails if another completion arrives within a short grace
// period.
func (c *completion) assertNoMore(t *testing.T) {
	t.Helper()

	select {
	case call := <-c.ch:
		t.Fatalf("unexpected second completion: %+v", call)
	case <-time.After(50 * time.Millisecond):
	}
}
