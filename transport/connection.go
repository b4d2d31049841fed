package transport

import (
	"context"
	"io"

	"github.com/myelnet/hop-carrier/identity"
)

// Connection is the transport-level link to one remote peer, kept
// textually distinct from conn.Handler (the per-substream connection
// handler) to avoid confusing the two.
//
// Session membership is implicit in the underlying transport: every
// substream that arrives from the same remote peer shares one Connection,
// regardless of which rendezvous (if any) produced the underlying link.
type Connection struct {
	facade *Facade
	remote identity.PeerIdentity
}

// NewConnection wraps an already-established libp2p connection to remote as
// a Connection, for callers (the peer runtime) that learn of a peer via an
// inbound substream rather than via Facade.Connect.
func NewConnection(facade *Facade, remote identity.PeerIdentity) *Connection {
	return &Connection{facade: facade, remote: remote}
}

// RemotePeer returns the identity of the peer at the other end.
func (c *Connection) RemotePeer() identity.PeerIdentity {
	return c.remote
}

// OpenSubstream opens a new control substream on this connection.
func (c *Connection) OpenSubstream(ctx context.Context) (*Substream, error) {
	return c.facade.OpenSubstream(ctx, c.remote)
}

// OpenSessionStream opens a new raw substream on this connection for use
// within an already-established session: no Hello handshake, no control
// framing.
func (c *Connection) OpenSessionStream(ctx context.Context) (io.ReadWriteCloser, error) {
	return c.facade.OpenSessionStream(ctx, c.remote)
}

// Close disconnects from the remote peer entirely, tearing down every
// substream multiplexed over it.
func (c *Connection) Close() error {
	return c.facade.host.Network().ClosePeer(c.remote.Libp2p())
}
