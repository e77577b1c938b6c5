package httpclient

import (
	"errors"
	"fmt"

	"github.com/vitalvas/crtbridge/crterr"
)

// Connection errors.
var (
	// ErrConnectionClosed is reported when a connection is used after
	// shutdown or when the peer closes it.
	ErrConnectionClosed = crterr.New(crterr.CodeHTTPConnectionClosed, "")

	// ErrProtocol is reported for a response the client cannot parse.
	ErrProtocol = crterr.New(crterr.CodeHTTPProtocolError, "")
)

// Stream errors.
var (
	// ErrStreamCancelled is reported to OnComplete when a stream is
	// destroyed before it finished.
	ErrStreamCancelled = crterr.New(crterr.CodeHTTPStreamCancelled, "")

	// ErrStreamDestroyed is returned when a destroyed stream is activated.
	ErrStreamDestroyed = crterr.Wrap(crterr.CodeInvalidState, "httpclient: activate", errors.New("stream destroyed"))
)

// Connection manager errors.
var (
	// ErrManagerShuttingDown is reported to pending acquisitions when the
	// manager is destroyed.
	ErrManagerShuttingDown = crterr.New(crterr.CodeHTTPManagerShuttingDown, "")

	// ErrAcquireTimeout is reported when the acquire context ends first.
	ErrAcquireTimeout = crterr.New(crterr.CodeHTTPManagerAcquireTimeout, "")
)

func errInvalidToken(s string) error {
	return fmt.Errorf("invalid token %q", s)
}
