package transport

import (
	"context"
	"testing"
	"time"

	"github.com/libp2p/go-libp2p-core/peer"
	"github.com/stretchr/testify/require"

	"github.com/myelnet/hop-carrier/wire"
)

func TestConnectRetriesThenFailsOnUnreachablePeer(t *testing.T) {
	a := newTestFacade(t)

	unreachable, err := peer.Decode("QmWE9shZVhxaFPJYcf9MxSHEfFkFHEUxAgcKTwyt6z6kp6")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 1500*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err = a.Connect(ctx, peer.AddrInfo{ID: unreachable})
	elapsed := time.Since(start)

	require.Error(t, err)
	// The retry loop must have actually backed off at least once rather
	// than failing instantly on the first dial attempt.
	require.GreaterOrEqual(t, elapsed, 150*time.Millisecond)
}

func TestConnectionCloseDisconnectsPeer(t *testing.T) {
	a := newTestFacade(t)
	b := newTestFacade(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	c, err := a.Connect(ctx, peer.AddrInfo{ID: b.ID().Libp2p(), Addrs: b.Addrs()})
	require.NoError(t, err)

	require.NoError(t, c.Close())

	_, err = a.OpenSubstream(ctx, b.ID())
	require.Error(t, err)
}

func TestSubstreamResetAbortsStream(t *testing.T) {
	a := newTestFacade(t)
	b := newTestFacade(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	incoming := make(chan *Substream, 1)
	b.SetIncomingHandler(func(s *Substream) { incoming <- s })

	_, err := a.Connect(ctx, peer.AddrInfo{ID: b.ID().Libp2p(), Addrs: b.Addrs()})
	require.NoError(t, err)

	s, err := a.OpenSubstream(ctx, b.ID())
	require.NoError(t, err)
	require.NoError(t, s.WriteMessage(wire.Hello()))

	server := <-incoming
	_, err = server.ReadMessage()
	require.NoError(t, err)

	require.NoError(t, s.Reset())

	_, err = server.ReadMessage()
	require.Error(t, err)
}
