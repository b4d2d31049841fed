// Package peer assembles the Transport Facade, registry, rendezvous
// machinery and connection handlers into a runnable Runtime.
package peer

import (
	"context"
	"fmt"

	"github.com/libp2p/go-libp2p-core/crypto"
	ma "github.com/multiformats/go-multiaddr"

	"github.com/myelnet/hop-carrier/identity"
	"github.com/myelnet/hop-carrier/internal/certutil"
	"github.com/myelnet/hop-carrier/registry"
	"github.com/myelnet/hop-carrier/service"
	"github.com/myelnet/hop-carrier/transport"
)

// Builder accumulates configuration before constructing a Runtime, exposing
// chainable setters instead of one flat struct literal, since service
// registration needs to run in a loop rather than a single field
// assignment.
type Builder struct {
	privKey     crypto.PrivKey
	listenAddrs []string
	bearers     []string
	enableMDNS  bool
	asBearer    bool
	services    map[identity.ServiceName]service.Factory
	err         error
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{services: make(map[identity.ServiceName]service.Factory)}
}

// WithIdentity sets the local private key directly.
func (b *Builder) WithIdentity(key crypto.PrivKey) *Builder {
	b.privKey = key
	return b
}

// WithIdentityFile loads the local private key from a PEM file.
func (b *Builder) WithIdentityFile(path string) *Builder {
	key, err := certutil.LoadPrivateKeyFile(path)
	if err != nil {
		b.err = fmt.Errorf("peer.Builder: %w", err)
		return b
	}
	b.privKey = key
	return b
}

// WithListenAddrs sets the multiaddrs the local host listens on.
func (b *Builder) WithListenAddrs(addrs ...string) *Builder {
	b.listenAddrs = append(b.listenAddrs, addrs...)
	return b
}

// AddBearer registers a bearer to connect to on Build, accepting a full
// "/ip4/.../tcp/.../p2p/<id>" multiaddr string.
func (b *Builder) AddBearer(addr string) *Builder {
	b.bearers = append(b.bearers, addr)
	return b
}

// EnableMDNS turns on local-network peer discovery via mDNS, supplementing
// bearer-mediated rendezvous with same-LAN discovery.
func (b *Builder) EnableMDNS(enabled bool) *Builder {
	b.enableMDNS = enabled
	return b
}

// AsBearer turns on the circuit-relay-v2 relay service so other peers can
// rendezvous and hole-punch through this host. A peer may serve its own services and also act as a bearer for
// others at the same time; the roles are not mutually exclusive.
func (b *Builder) AsBearer() *Builder {
	b.asBearer = true
	return b
}

// RegisterService adds name to the set of services this peer offers.
// Calling RegisterService twice with the same name keeps only the last
// registration, matching registry.Registry's own last-wins semantics.
func (b *Builder) RegisterService(name identity.ServiceName, factory service.Factory) *Builder {
	b.services[name] = factory
	return b
}

// Build constructs and starts the Runtime: the local libp2p host, the
// sealed service registry, and a background loop that keeps a link to one
// configured bearer at a time, trying them in round-robin order.
func (b *Builder) Build(ctx context.Context) (*Runtime, error) {
	if b.err != nil {
		return nil, b.err
	}

	privKey := b.privKey
	if privKey == nil {
		var err error
		privKey, _, err = crypto.GenerateEd25519Key(nil)
		if err != nil {
			return nil, fmt.Errorf("peer.Builder: generating ephemeral identity: %w", err)
		}
	}

	listenAddrs := b.listenAddrs
	if len(listenAddrs) == 0 {
		listenAddrs = []string{"/ip4/0.0.0.0/tcp/0"}
	}

	facade, err := transport.New(ctx, transport.Config{
		PrivateKey:         privKey,
		ListenAddrs:        listenAddrs,
		EnableRelay:        true,
		EnableHolePunching: true,
		ActAsRelay:         b.asBearer,
	})
	if err != nil {
		return nil, fmt.Errorf("peer.Builder: %w", err)
	}

	reg := registry.New()
	for name, factory := range b.services {
		if err := reg.Register(name, factory); err != nil {
			_ = facade.Close()
			return nil, fmt.Errorf("peer.Builder: %w", err)
		}
	}
	reg.Seal()

	bearerAddrs := make([]ma.Multiaddr, 0, len(b.bearers))
	for _, addr := range b.bearers {
		maddr, err := ma.NewMultiaddr(addr)
		if err != nil {
			_ = facade.Close()
			return nil, fmt.Errorf("peer.Builder: parsing bearer address %q: %w", addr, err)
		}
		bearerAddrs = append(bearerAddrs, maddr)
	}

	rt := newRuntime(facade, reg, bearerAddrs)
	if b.enableMDNS {
		if err := rt.startMDNS(); err != nil {
			_ = facade.Close()
			return nil, fmt.Errorf("peer.Builder: %w", err)
		}
	}
	rt.start(ctx)
	return rt, nil
}
