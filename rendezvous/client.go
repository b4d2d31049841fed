package rendezvous

import (
	"context"
	"fmt"

	"github.com/libp2p/go-libp2p-core/peer"
	ma "github.com/multiformats/go-multiaddr"

	"github.com/myelnet/hop-carrier/identity"
	"github.com/myelnet/hop-carrier/transport"
	"github.com/myelnet/hop-carrier/wire"
	"github.com/myelnet/hop-carrier/xerrors"
)

// BearerLink is the small slice of a peer's persistent substream to its
// bearer that a Client needs: sending a ConnectToPeer message. It is
// satisfied by *transport.Substream; defined as an interface here so tests
// can substitute a fake without standing up a real bearer.
type BearerLink interface {
	WriteMessage(m *wire.Message) error
}

// Client drives one peer's half of the rendezvous protocol: ask the bearer
// to introduce us to a target, then race a direct (or bearer-relayed)
// connection attempt against a PeerNotFound notice relayed back over the
// bearer link.
type Client struct {
	facade   *transport.Facade
	bearer   BearerLink
	bearerID peer.ID
	registry *Registry
}

// NewClient constructs a Client bound to one bearer link. bearerID is the
// bearer's own peer ID, used to build the circuit-relay address that lets
// libp2p attempt a hole-punch through it.
func NewClient(facade *transport.Facade, bearer BearerLink, bearerID peer.ID, registry *Registry) *Client {
	return &Client{facade: facade, bearer: bearer, bearerID: bearerID, registry: registry}
}

// Connect asks the bearer to relay a rendezvous to target, then waits for
// either a connection to succeed or a PeerNotFound/BearerClosed notice to
// arrive, whichever completes first.
func (c *Client) Connect(ctx context.Context, target identity.PeerIdentity) (*transport.Connection, error) {
	id := c.registry.NextID()
	noticeCh := c.registry.Register(id)
	defer c.registry.Forget(id)

	if err := c.bearer.WriteMessage(wire.NewConnectToPeer(target, id)); err != nil {
		return nil, fmt.Errorf("rendezvous: sending ConnectToPeer via bearer: %w", err)
	}

	circuitAddr, err := ma.NewMultiaddr(fmt.Sprintf("/p2p/%s/p2p-circuit", c.bearerID))
	if err != nil {
		return nil, fmt.Errorf("rendezvous: building circuit address: %w", err)
	}

	dialCtx, cancelDial := context.WithCancel(ctx)
	defer cancelDial()

	type dialResult struct {
		conn *transport.Connection
		err  error
	}
	dialCh := make(chan dialResult, 1)
	go func() {
		// Dialing target through the bearer's circuit-relay address gives
		// libp2p's DCUtR hole-punch coordinator a path to observe both
		// sides and attempt a direct upgrade; if hole-punching fails,
		// traffic continues to flow relayed through the bearer.
		conn, err := c.facade.Connect(dialCtx, peer.AddrInfo{ID: target.Libp2p(), Addrs: []ma.Multiaddr{circuitAddr}})
		dialCh <- dialResult{conn: conn, err: err}
	}()

	select {
	case res := <-dialCh:
		if res.err != nil {
			return nil, fmt.Errorf("rendezvous: connect to %s: %w", target, res.err)
		}
		return res.conn, nil
	case notice := <-noticeCh:
		// The dial goroutine lost the race: cancel it so it doesn't keep
		// running and eventually hand back a Connection nothing will use.
		cancelDial()
		switch notice {
		case PeerNotFound:
			return nil, xerrors.New(xerrors.PeerUnreachable, "rendezvous.Client.Connect",
				fmt.Errorf("peer %s not found by bearer", target))
		case BearerClosed:
			return nil, xerrors.New(xerrors.BearerConnectionLost, "rendezvous.Client.Connect",
				fmt.Errorf("bearer link closed while waiting for %s", target))
		default:
			return nil, fmt.Errorf("rendezvous: unexpected notice %d", notice)
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
