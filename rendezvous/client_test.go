package rendezvous

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/libp2p/go-libp2p-core/crypto"
	libp2pTest "github.com/libp2p/go-libp2p-core/test"
	"github.com/stretchr/testify/require"

	"github.com/myelnet/hop-carrier/identity"
	"github.com/myelnet/hop-carrier/transport"
	"github.com/myelnet/hop-carrier/wire"
	"github.com/myelnet/hop-carrier/xerrors"
)

// fakeBearerLink lets a test observe the ConnectToPeer message a Client
// sends and, optionally, simulate the bearer relaying a notice back.
type fakeBearerLink struct {
	onWrite  func(m *wire.Message)
	writeErr error
}

func (f *fakeBearerLink) WriteMessage(m *wire.Message) error {
	if f.writeErr != nil {
		return f.writeErr
	}
	if f.onWrite != nil {
		f.onWrite(m)
	}
	return nil
}

func newTestFacade(t *testing.T) *transport.Facade {
	t.Helper()
	priv, _, err := crypto.GenerateEd25519Key(nil)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	f, err := transport.New(ctx, transport.Config{
		PrivateKey:  priv,
		ListenAddrs: []string{"/ip4/127.0.0.1/tcp/0"},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })
	return f
}

func TestClientConnectPropagatesBearerWriteError(t *testing.T) {
	facade := newTestFacade(t)
	reg := New()
	bearer := &fakeBearerLink{writeErr: errors.New("bearer link down")}
	bearerID, err := libp2pTest.RandPeerID()
	require.NoError(t, err)

	client := NewClient(facade, bearer, bearerID, reg)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	target, err := libp2pTest.RandPeerID()
	require.NoError(t, err)

	_, err = client.Connect(ctx, identity.FromLibp2p(target))
	require.Error(t, err)
	require.Contains(t, err.Error(), "bearer link down")
}

func TestClientConnectRoutesPeerNotFoundNotice(t *testing.T) {
	facade := newTestFacade(t)
	reg := New()
	bearerID, err := libp2pTest.RandPeerID()
	require.NoError(t, err)

	bearer := &fakeBearerLink{
		onWrite: func(m *wire.Message) {
			require.Equal(t, wire.TagConnectToPeer, m.Tag)
			go func() {
				time.Sleep(50 * time.Millisecond)
				_ = reg.Deliver(m.ConnectToPeer.ConnectionID, PeerNotFound)
			}()
		},
	}
	client := NewClient(facade, bearer, bearerID, reg)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	target, err := libp2pTest.RandPeerID()
	require.NoError(t, err)

	_, err = client.Connect(ctx, identity.FromLibp2p(target))
	require.Error(t, err)
	require.Contains(t, err.Error(), "not found")
	require.True(t, xerrors.Is(err, xerrors.PeerUnreachable))
}

func TestClientConnectRoutesBearerClosedNotice(t *testing.T) {
	facade := newTestFacade(t)
	reg := New()
	bearerID, err := libp2pTest.RandPeerID()
	require.NoError(t, err)

	bearer := &fakeBearerLink{
		onWrite: func(m *wire.Message) {
			require.Equal(t, wire.TagConnectToPeer, m.Tag)
			go func() {
				time.Sleep(50 * time.Millisecond)
				_ = reg.Deliver(m.ConnectToPeer.ConnectionID, BearerClosed)
			}()
		},
	}
	client := NewClient(facade, bearer, bearerID, reg)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	target, err := libp2pTest.RandPeerID()
	require.NoError(t, err)

	_, err = client.Connect(ctx, identity.FromLibp2p(target))
	require.Error(t, err)
	require.True(t, xerrors.Is(err, xerrors.BearerConnectionLost))
}

func TestClientConnectRespectsContextCancellation(t *testing.T) {
	facade := newTestFacade(t)
	reg := New()
	bearerID, err := libp2pTest.RandPeerID()
	require.NoError(t, err)
	bearer := &fakeBearerLink{}
	client := NewClient(facade, bearer, bearerID, reg)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	target, err := libp2pTest.RandPeerID()
	require.NoError(t, err)

	_, err = client.Connect(ctx, identity.FromLibp2p(target))
	require.Error(t, err)
	require.ErrorIs(t, err, context.Canceled)
}
