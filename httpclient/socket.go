package httpclient

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"syscall"
	"time"

	"github.com/mdlayher/vsock"

	"github.com/vitalvas/crtbridge/crterr"
)

// SocketType is the transport type of a socket.
type SocketType int

const (
	SocketStream SocketType = iota
	SocketDgram
)

// SocketDomain is the address family of a socket.
type SocketDomain int

const (
	DomainIPv4 SocketDomain = iota
	DomainIPv6
	// DomainLocal dials a unix socket; HostName is the socket path.
	DomainLocal
	// DomainVSOCK dials a virtio socket; HostName is the context ID.
	DomainVSOCK
)

func (d SocketDomain) String() string {
	switch d {
	case DomainIPv4:
		return "ipv4"
	case DomainIPv6:
		return "ipv6"
	case DomainLocal:
		return "local"
	case DomainVSOCK:
		return "vsock"
	default:
		return "domain(" + strconv.Itoa(int(d)) + ")"
	}
}

// DefaultConnectTimeout is the connect timeout used when no socket options
// are given.
const DefaultConnectTimeout = 3000 * time.Millisecond

// SocketOptions configures the socket a connection is made over.
type SocketOptions struct {
	Type           SocketType
	Domain         SocketDomain
	ConnectTimeout time.Duration

	// KeepAlive enables TCP keep-alive probes.
	KeepAlive bool
	// KeepAliveInterval is the idle time before the first probe.
	KeepAliveInterval time.Duration
	// KeepAliveTimeout is the time between probes.
	KeepAliveTimeout time.Duration
	// KeepAliveMaxProbes is the number of unanswered probes before the
	// connection is dropped.
	KeepAliveMaxProbes int
}

// DefaultSocketOptions returns stream, IPv4, 3000 ms connect timeout.
func DefaultSocketOptions() SocketOptions {
	return SocketOptions{
		Type:           SocketStream,
		Domain:         DomainIPv4,
		ConnectTimeout: DefaultConnectTimeout,
	}
}

func (o SocketOptions) validate() error {
	if o.Type != SocketStream {
		return crterr.InvalidArgument("httpclient: socket", "http requires a stream socket")
	}

	switch o.Domain {
	case DomainIPv4, DomainIPv6, DomainLocal, DomainVSOCK:
	default:
		return crterr.InvalidArgument("httpclient: socket", "unsupported socket domain %s", o.Domain)
	}

	if o.ConnectTimeout < 0 {
		return crterr.InvalidArgument("httpclient: socket", "connect timeout must not be negative")
	}

	return nil
}

func (o SocketOptions) dialer(resolver *net.Resolver) *net.Dialer {
	d := &net.Dialer{
		Timeout:  o.ConnectTimeout,
		Resolver: resolver,
	}

	if o.KeepAlive {
		d.KeepAliveConfig = net.KeepAliveConfig{
			Enable:   true,
			Idle:     o.KeepAliveInterval,
			Interval: o.KeepAliveTimeout,
			Count:    o.KeepAliveMaxProbes,
		}
	} else {
		d.KeepAlive = -1
	}

	return d
}

// dialSocket connects according to o. host and port are interpreted per
// domain.
func dialSocket(ctx context.Context, o SocketOptions, resolver *net.Resolver, host string, port uint32) (net.Conn, error) {
	if o.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.ConnectTimeout)
		defer cancel()
	}

	address := net.JoinHostPort(host, strconv.FormatUint(uint64(port), 10))

	switch o.Domain {
	case DomainIPv6:
		return o.dialer(resolver).DialContext(ctx, "tcp6", address)
	case DomainLocal:
		return o.dialer(resolver).DialContext(ctx, "unix", host)
	case DomainVSOCK:
		return dialVsock(ctx, host, port)
	default:
		return o.dialer(resolver).DialContext(ctx, "tcp4", address)
	}
}

func dialVsock(ctx context.Context, host string, port uint32) (net.Conn, error) {
	cid, err := strconv.ParseUint(host, 10, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid vsock cid: %w", err)
	}

	type dialResult struct {
		conn net.Conn
		err  error
	}

	resultCh := make(chan dialResult, 1)
	go func() {
		conn, dialErr := vsock.Dial(uint32(cid), port, nil)
		resultCh <- dialResult{conn: conn, err: dialErr}
	}()

	select {
	case <-ctx.Done():
		go func() {
			if res := <-resultCh; res.conn != nil {
				_ = res.conn.Close()
			}
		}()
		return nil, ctx.Err()
	case res := <-resultCh:
		return res.conn, res.err
	}
}

// connectError maps a dial failure onto an error code.
func connectError(err error) error {
	const op = "httpclient: connect"

	var dnsErr *net.DNSError
	var netErr net.Error

	switch {
	case errors.Is(err, context.Canceled):
		return crterr.Wrap(crterr.CodeSocketConnectAborted, op, err)
	case errors.As(err, &dnsErr) && !dnsErr.IsTimeout:
		return crterr.Wrap(crterr.CodeDNSFailure, op, err)
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr) && netErr.Timeout():
		return crterr.Wrap(crterr.CodeSocketTimeout, op, err)
	case errors.Is(err, syscall.ECONNREFUSED):
		return crterr.Wrap(crterr.CodeConnectionRefused, op, err)
	case errors.Is(err, syscall.EAFNOSUPPORT), errors.Is(err, errors.ErrUnsupported):
		return crterr.Wrap(crterr.CodeUnsupportedOperation, op, err)
	default:
		return crterr.Wrap(crterr.CodeSocketError, op, err)
	}
}
