package transport

import (
	"context"
	"testing"
	"time"

	"github.com/libp2p/go-libp2p-core/crypto"
	"github.com/libp2p/go-libp2p-core/peer"
	"github.com/stretchr/testify/require"

	"github.com/myelnet/hop-carrier/wire"
)

func newTestFacade(t *testing.T) *Facade {
	t.Helper()
	priv, _, err := crypto.GenerateEd25519Key(nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	f, err := New(ctx, Config{
		PrivateKey:  priv,
		ListenAddrs: []string{"/ip4/127.0.0.1/tcp/0"},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })
	return f
}

func TestOpenSubstreamRoundTrip(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	a := newTestFacade(t)
	b := newTestFacade(t)

	received := make(chan *wire.Message, 1)
	b.SetIncomingHandler(func(s *Substream) {
		m, err := s.ReadMessage()
		if err != nil {
			return
		}
		received <- m
	})

	_, err := a.Connect(ctx, peer.AddrInfo{ID: b.ID().Libp2p(), Addrs: b.Addrs()})
	require.NoError(t, err)

	s, err := a.OpenSubstream(ctx, b.ID())
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.WriteMessage(wire.Hello()))

	select {
	case m := <-received:
		require.Equal(t, wire.TagHello, m.Tag)
	case <-ctx.Done():
		t.Fatal("timed out waiting for message")
	}
}
