package platform

import (
	"net"

	"github.com/google/uuid"

	"github.com/vitalvas/crtbridge/crterr"
)

// BootstrapOptions configures a Bootstrap.
type BootstrapOptions struct {
	// Resolver resolves host names. Default: net.DefaultResolver.
	Resolver *net.Resolver
}

// Bootstrap bundles what a client connection needs from the runtime: the
// event loops its callbacks run on and a host resolver.
type Bootstrap struct {
	id       uuid.UUID
	rt       *Runtime
	resolver *net.Resolver
}

// NewBootstrap returns a Bootstrap bound to rt.
func NewBootstrap(rt *Runtime, opts BootstrapOptions) (*Bootstrap, error) {
	if rt == nil {
		return nil, crterr.InvalidArgument("bootstrap", "runtime must not be nil")
	}

	resolver := opts.Resolver
	if resolver == nil {
		resolver = net.DefaultResolver
	}

	return &Bootstrap{
		id:       uuid.New(),
		rt:       rt,
		resolver: resolver,
	}, nil
}

// ID identifies the bootstrap in logs.
func (b *Bootstrap) ID() uuid.UUID { return b.id }

// Runtime returns the owning runtime.
func (b *Bootstrap) Runtime() *Runtime { return b.rt }

// Resolver returns the host resolver.
func (b *Bootstrap) Resolver() *net.Resolver { return b.resolver }

// NextLoop picks the loop a new connection is pinned to.
func (b *Bootstrap) NextLoop() *Loop { return b.rt.EventLoops().Next() }
