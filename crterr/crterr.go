// Package crterr defines the numeric error codes reported through every
// crtbridge callback and the error type that carries them.
//
// Codes are grouped by subsystem the same way the native engine groups
// them: common codes below 1024, io codes from 1024, http codes from 2048
// and auth codes from 6144. A code of zero always means success.
//
// Callers that receive an error from a callback can recover the code with
// CodeOf and a human-readable category with CategoryOf:
//
//	conn, err := httpclient.Open(opts)
//	if err != nil {
//	    log.Printf("open failed: code=%d category=%s", crterr.CodeOf(err), crterr.CategoryOf(err))
//	}
package crterr

import (
	"errors"
	"fmt"
)

// Code is a numeric error code. Zero is success.
type Code int

const (
	CodeSuccess              Code = 0
	CodeOutOfMemory          Code = 1
	CodeUnknown              Code = 3
	CodeInvalidArgument      Code = 34
	CodeInvalidState         Code = 35
	CodeUnsupportedOperation Code = 36
)

const (
	CodeSocketTimeout         Code = 1024 + 24
	CodeSocketConnectAborted  Code = 1024 + 25
	CodeConnectionRefused     Code = 1024 + 26
	CodeSocketClosed          Code = 1024 + 27
	CodeSocketError           Code = 1024 + 28
	CodeDNSFailure            Code = 1024 + 29
	CodeTLSNegotiationFailure Code = 1024 + 30
	CodeTLSContextFailure     Code = 1024 + 31
	CodeStreamUnseekable      Code = 1024 + 40
	CodeStreamLengthUnknown   Code = 1024 + 41
	CodeStreamReadFailed      Code = 1024 + 42
)

const (
	CodeHTTPConnectionClosed       Code = 2048 + 2
	CodeHTTPProtocolError          Code = 2048 + 5
	CodeHTTPStreamCancelled        Code = 2048 + 8
	CodeHTTPInvalidHeaderName      Code = 2048 + 10
	CodeHTTPInvalidHeaderValue     Code = 2048 + 11
	CodeHTTPInvalidMethod          Code = 2048 + 12
	CodeHTTPInvalidPath            Code = 2048 + 13
	CodeHTTPManagerShuttingDown    Code = 2048 + 30
	CodeHTTPManagerAcquireTimeout  Code = 2048 + 31
	CodeHTTPStreamAlreadyActivated Code = 2048 + 40
)

const (
	CodeAuthSigningUnsupportedAlgorithm   Code = 6144 + 0
	CodeAuthSigningMismatchedConfig       Code = 6144 + 1
	CodeAuthSigningNoCredentials          Code = 6144 + 2
	CodeAuthSigningIllegalRequestQuery    Code = 6144 + 5
	CodeAuthSigningIllegalRequestHeader   Code = 6144 + 6
	CodeAuthSigningInvalidConfiguration   Code = 6144 + 7
	CodeAuthSigningUnsupportedSignature   Code = 6144 + 8
	CodeAuthSigningBodyUnseekable         Code = 6144 + 9
	CodeAuthSigningVerificationFailed     Code = 6144 + 10
	CodeAuthSigningKeyDerivationExhausted Code = 6144 + 11
)

// Category names the class of failure a code belongs to.
type Category string

const (
	CategorySuccess              Category = "success"
	CategoryInvalidArgument      Category = "invalid-argument"
	CategoryAllocation           Category = "allocation-failure"
	CategoryInvalidSigningConfig Category = "invalid-signing-config"
	CategoryOperationFailure     Category = "operation-failure"
	CategoryUnknown              Category = "unknown"
)

var names = map[Code]string{
	CodeSuccess:                           "AWS_ERROR_SUCCESS",
	CodeOutOfMemory:                       "AWS_ERROR_OOM",
	CodeUnknown:                           "AWS_ERROR_UNKNOWN",
	CodeInvalidArgument:                   "AWS_ERROR_INVALID_ARGUMENT",
	CodeInvalidState:                      "AWS_ERROR_INVALID_STATE",
	CodeUnsupportedOperation:              "AWS_ERROR_UNSUPPORTED_OPERATION",
	CodeSocketTimeout:                     "AWS_IO_SOCKET_TIMEOUT",
	CodeSocketConnectAborted:              "AWS_IO_SOCKET_CONNECT_ABORTED",
	CodeConnectionRefused:                 "AWS_IO_SOCKET_CONNECTION_REFUSED",
	CodeSocketClosed:                      "AWS_IO_SOCKET_CLOSED",
	CodeSocketError:                       "AWS_IO_SOCKET_ERROR",
	CodeDNSFailure:                        "AWS_IO_DNS_QUERY_FAILED",
	CodeTLSNegotiationFailure:             "AWS_IO_TLS_ERROR_NEGOTIATION_FAILURE",
	CodeTLSContextFailure:                 "AWS_IO_TLS_CTX_ERROR",
	CodeStreamUnseekable:                  "AWS_IO_STREAM_SEEK_UNSUPPORTED",
	CodeStreamLengthUnknown:               "AWS_IO_STREAM_GET_LENGTH_UNSUPPORTED",
	CodeStreamReadFailed:                  "AWS_IO_STREAM_READ_FAILED",
	CodeHTTPConnectionClosed:              "AWS_ERROR_HTTP_CONNECTION_CLOSED",
	CodeHTTPProtocolError:                 "AWS_ERROR_HTTP_PROTOCOL_ERROR",
	CodeHTTPStreamCancelled:               "AWS_ERROR_HTTP_STREAM_CANCELLED",
	CodeHTTPInvalidHeaderName:             "AWS_ERROR_HTTP_INVALID_HEADER_NAME",
	CodeHTTPInvalidHeaderValue:            "AWS_ERROR_HTTP_INVALID_HEADER_VALUE",
	CodeHTTPInvalidMethod:                 "AWS_ERROR_HTTP_INVALID_METHOD",
	CodeHTTPInvalidPath:                   "AWS_ERROR_HTTP_INVALID_PATH",
	CodeHTTPManagerShuttingDown:           "AWS_ERROR_HTTP_CONNECTION_MANAGER_SHUTTING_DOWN",
	CodeHTTPManagerAcquireTimeout:         "AWS_ERROR_HTTP_CONNECTION_MANAGER_ACQUIRE_TIMEOUT",
	CodeHTTPStreamAlreadyActivated:        "AWS_ERROR_HTTP_STREAM_HAS_BEEN_ACTIVATED",
	CodeAuthSigningUnsupportedAlgorithm:   "AWS_AUTH_SIGNING_UNSUPPORTED_ALGORITHM",
	CodeAuthSigningMismatchedConfig:       "AWS_AUTH_SIGNING_MISMATCHED_CONFIGURATION",
	CodeAuthSigningNoCredentials:          "AWS_AUTH_SIGNING_NO_CREDENTIALS",
	CodeAuthSigningIllegalRequestQuery:    "AWS_AUTH_SIGNING_ILLEGAL_REQUEST_QUERY_PARAM",
	CodeAuthSigningIllegalRequestHeader:   "AWS_AUTH_SIGNING_ILLEGAL_REQUEST_HEADER",
	CodeAuthSigningInvalidConfiguration:   "AWS_AUTH_SIGNING_INVALID_CONFIGURATION",
	CodeAuthSigningUnsupportedSignature:   "AWS_AUTH_SIGNING_UNSUPPORTED_SIGNATURE_TYPE",
	CodeAuthSigningBodyUnseekable:         "AWS_AUTH_SIGNING_BODY_STREAM_UNSEEKABLE",
	CodeAuthSigningVerificationFailed:     "AWS_AUTH_SIGNING_VERIFICATION_FAILED",
	CodeAuthSigningKeyDerivationExhausted: "AWS_AUTH_SIGNING_KEY_DERIVATION_EXHAUSTED",
}

// Name returns the symbolic name of the code, or "AWS_ERROR_UNKNOWN" for
// codes this package does not define.
func (c Code) Name() string {
	if n, ok := names[c]; ok {
		return n
	}

	return names[CodeUnknown]
}

// String implements fmt.Stringer.
func (c Code) String() string {
	return fmt.Sprintf("%s(%d)", c.Name(), int(c))
}

// Category returns the failure class of the code.
func (c Code) Category() Category {
	switch {
	case c == CodeSuccess:
		return CategorySuccess
	case c == CodeInvalidArgument,
		c == CodeHTTPInvalidHeaderName,
		c == CodeHTTPInvalidHeaderValue,
		c == CodeHTTPInvalidMethod,
		c == CodeHTTPInvalidPath:
		return CategoryInvalidArgument
	case c == CodeOutOfMemory:
		return CategoryAllocation
	case c == CodeAuthSigningInvalidConfiguration,
		c == CodeAuthSigningNoCredentials,
		c == CodeAuthSigningMismatchedConfig,
		c == CodeAuthSigningUnsupportedAlgorithm,
		c == CodeAuthSigningUnsupportedSignature:
		return CategoryInvalidSigningConfig
	case c == CodeUnknown:
		return CategoryUnknown
	default:
		if _, ok := names[c]; !ok {
			return CategoryUnknown
		}

		return CategoryOperationFailure
	}
}

// Error carries a code together with the operation that failed and an
// optional underlying cause.
type Error struct {
	Code Code
	Op   string
	Err  error
}

// New returns an *Error for op with no underlying cause.
func New(code Code, op string) *Error {
	return &Error{Code: code, Op: op}
}

// Wrap returns an *Error for op wrapping err. A nil err still produces an
// error so that a failure is never reported as success.
func Wrap(code Code, op string, err error) *Error {
	return &Error{Code: code, Op: op, Err: err}
}

func (e *Error) Error() string {
	msg := "crt: " + e.Code.Name()
	if e.Op != "" {
		msg = "crt: " + e.Op + ": " + e.Code.Name()
	}

	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}

	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error with the same code, so sentinel
// errors match any wrapped error carrying their code.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}

	return t.Code == e.Code && (t.Op == "" || t.Op == e.Op)
}

// Sentinel errors for errors.Is matching.
var (
	ErrInvalidArgument = New(CodeInvalidArgument, "")
	ErrInvalidState    = New(CodeInvalidState, "")
	ErrUnknown         = New(CodeUnknown, "")
	ErrUnsupported     = New(CodeUnsupportedOperation, "")
)

// CodeOf returns the code carried by err. A nil error is success; an error
// without a code is CodeUnknown.
func CodeOf(err error) Code {
	if err == nil {
		return CodeSuccess
	}

	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}

	return CodeUnknown
}

// CategoryOf is shorthand for CodeOf(err).Category().
func CategoryOf(err error) Category {
	return CodeOf(err).Category()
}

// OrUnknown returns err, or an unknown-error for op when err is nil. It is
// used on paths where the engine reported failure but left no error behind.
func OrUnknown(op string, err error) error {
	if err != nil {
		return err
	}

	return New(CodeUnknown, op)
}

// InvalidArgument returns an invalid-argument error for op describing what
// was wrong.
func InvalidArgument(op, format string, args ...any) *Error {
	return Wrap(CodeInvalidArgument, op, fmt.Errorf(format, args...))
}
