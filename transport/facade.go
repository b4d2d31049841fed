// Package transport is the Transport Facade: it owns the local libp2p host,
// dials and accepts connections, and hands out substreams for the
// control-message codec in package wire to ride on.
package transport

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/ipfs/go-datastore"
	dssync "github.com/ipfs/go-datastore/sync"
	"github.com/jpillora/backoff"
	"github.com/libp2p/go-libp2p"
	connmgr "github.com/libp2p/go-libp2p-connmgr"
	"github.com/libp2p/go-libp2p-core/crypto"
	"github.com/libp2p/go-libp2p-core/host"
	"github.com/libp2p/go-libp2p-core/network"
	"github.com/libp2p/go-libp2p-core/peer"
	"github.com/libp2p/go-libp2p-core/protocol"
	"github.com/libp2p/go-libp2p/p2p/net/conngater"
	ma "github.com/multiformats/go-multiaddr"
	"github.com/rs/zerolog/log"

	"github.com/myelnet/hop-carrier/identity"
)

// ControlProtocolID is the libp2p protocol used for every substream carrying
// the control-message handshake before it is promoted to a raw
// service channel.
const ControlProtocolID = protocol.ID("/hop-carrier/control/1.0.0")

// SessionProtocolID is the libp2p protocol used for substreams opened
// within an already-established session (session.NewStreamHandle.Open).
// These carry no Hello handshake: arriving on this protocol is itself the
// signal that the substream belongs to whatever session is active for its
// remote peer, not to a fresh control-message exchange.
const SessionProtocolID = protocol.ID("/hop-carrier/session/1.0.0")

// Config configures the local Transport Facade.
type Config struct {
	// PrivateKey is the identity key for the local host; its public part
	// derives the local PeerIdentity.
	PrivateKey crypto.PrivKey
	// ListenAddrs are multiaddrs to listen on, e.g. "/ip4/0.0.0.0/tcp/4001".
	ListenAddrs []string
	// ConnManagerLowWater/HighWater bound the libp2p connection manager's
	// trimming behavior, using fixed 20/60 watermarks by default.
	ConnManagerLowWater  int
	ConnManagerHighWater int
	ConnManagerGrace     time.Duration
	// EnableRelay turns on circuit-relay transport, a prerequisite for
	// EnableHolePunching.
	EnableRelay bool
	// EnableHolePunching turns on libp2p's DCUtR hole-punching, establishing
	// a direct peer-to-peer connection once a bearer has exchanged each
	// side's observed address.
	EnableHolePunching bool
	// ActAsRelay turns on the circuit-relay-v2 relay service, so other
	// peers can reach each other through this host when direct dialing and
	// hole-punching both fail.
	ActAsRelay bool
}

// DefaultConnManagerLowWater/HighWater/Grace are the default connection
// manager watermarks.
const (
	DefaultConnManagerLowWater  = 20
	DefaultConnManagerHighWater = 60
	DefaultConnManagerGrace     = 20 * time.Second
)

// Facade is the local node's handle onto the transport: a running libp2p
// host plus the dial-retry policy used to open connections to bearers and
// peers.
type Facade struct {
	host host.Host
}

// New constructs and starts the local libp2p host per cfg.
func New(ctx context.Context, cfg Config) (*Facade, error) {
	if cfg.PrivateKey == nil {
		return nil, fmt.Errorf("transport: Config.PrivateKey is required")
	}
	low := cfg.ConnManagerLowWater
	high := cfg.ConnManagerHighWater
	grace := cfg.ConnManagerGrace
	if low == 0 {
		low = DefaultConnManagerLowWater
	}
	if high == 0 {
		high = DefaultConnManagerHighWater
	}
	if grace == 0 {
		grace = DefaultConnManagerGrace
	}

	gaterDS := dssync.MutexWrap(datastore.NewMapDatastore())
	gater, err := conngater.NewBasicConnectionGater(gaterDS)
	if err != nil {
		return nil, fmt.Errorf("transport: constructing connection gater: %w", err)
	}

	opts := []libp2p.Option{
		libp2p.Identity(cfg.PrivateKey),
		libp2p.ListenAddrStrings(cfg.ListenAddrs...),
		libp2p.ConnectionManager(connmgr.NewConnManager(low, high, grace)),
		libp2p.ConnectionGater(gater),
		libp2p.NATPortMap(),
		libp2p.EnableNATService(),
	}
	if cfg.EnableRelay {
		opts = append(opts, libp2p.EnableRelay())
	}
	if cfg.EnableHolePunching {
		opts = append(opts, libp2p.EnableHolePunching())
	}
	if cfg.ActAsRelay {
		opts = append(opts, libp2p.EnableRelayService())
	}

	h, err := libp2p.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("transport: constructing libp2p host: %w", err)
	}

	log.Info().Str("peer", h.ID().String()).Strs("addrs", addrsToStrings(h.Addrs())).Msg("transport facade listening")

	return &Facade{host: h}, nil
}

// ID returns the local PeerIdentity.
func (f *Facade) ID() identity.PeerIdentity {
	return identity.FromLibp2p(f.host.ID())
}

// Addrs returns the local host's currently known listen addresses.
func (f *Facade) Addrs() []ma.Multiaddr {
	return f.host.Addrs()
}

// Host exposes the underlying libp2p host for collaborators that need to
// register additional protocol handlers (e.g. the builtin ping service).
func (f *Facade) Host() host.Host {
	return f.host
}

// Close shuts down the local host and all its connections.
func (f *Facade) Close() error {
	return f.host.Close()
}

// Connect dials the given address, retrying with jpillora/backoff's
// exponential policy until ctx is done. It returns once a connection to the
// peer is established; it does not itself open a control substream.
func (f *Facade) Connect(ctx context.Context, info peer.AddrInfo) (*Connection, error) {
	b := &backoff.Backoff{
		Min:    200 * time.Millisecond,
		Max:    5 * time.Second,
		Factor: 2,
		Jitter: true,
	}
	var lastErr error
	for {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return nil, fmt.Errorf("transport: connect to %s cancelled after %w", info.ID, lastErr)
			}
			return nil, err
		}
		if err := f.host.Connect(ctx, info); err != nil {
			lastErr = err
			select {
			case <-time.After(b.Duration()):
				continue
			case <-ctx.Done():
				return nil, fmt.Errorf("transport: connect to %s: %w", info.ID, lastErr)
			}
		}
		return &Connection{facade: f, remote: identity.FromLibp2p(info.ID)}, nil
	}
}

// OpenSubstream opens a new control substream to an already-connected peer.
func (f *Facade) OpenSubstream(ctx context.Context, remote identity.PeerIdentity) (*Substream, error) {
	s, err := f.host.NewStream(ctx, remote.Libp2p(), ControlProtocolID)
	if err != nil {
		return nil, fmt.Errorf("transport: opening substream to %s: %w", remote, err)
	}
	return newSubstream(s), nil
}

// SetIncomingHandler registers the callback invoked for every inbound
// control substream.
func (f *Facade) SetIncomingHandler(fn func(*Substream)) {
	f.host.SetStreamHandler(ControlProtocolID, func(s network.Stream) {
		fn(newSubstream(s))
	})
}

// OpenSessionStream opens a new substream to remote on SessionProtocolID: a
// raw byte channel with no control-message framing, for use only within an
// already-established session.
func (f *Facade) OpenSessionStream(ctx context.Context, remote identity.PeerIdentity) (io.ReadWriteCloser, error) {
	s, err := f.host.NewStream(ctx, remote.Libp2p(), SessionProtocolID)
	if err != nil {
		return nil, fmt.Errorf("transport: opening session substream to %s: %w", remote, err)
	}
	return s, nil
}

// SetSessionHandler registers the callback invoked for every inbound
// substream opened via a remote peer's NewStreamHandle.Open, i.e. every
// substream arriving on SessionProtocolID.
func (f *Facade) SetSessionHandler(fn func(remote identity.PeerIdentity, rw io.ReadWriteCloser)) {
	f.host.SetStreamHandler(SessionProtocolID, func(s network.Stream) {
		fn(identity.FromLibp2p(s.Conn().RemotePeer()), s)
	})
}

func addrsToStrings(addrs []ma.Multiaddr) []string {
	out := make([]string, len(addrs))
	for i, a := range addrs {
		out[i] = a.String()
	}
	return out
}
