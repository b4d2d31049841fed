package peer

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/libp2p/go-libp2p-core/peer"
	ma "github.com/multiformats/go-multiaddr"
	"github.com/stretchr/testify/require"

	"github.com/myelnet/hop-carrier/examples/echo"
	"github.com/myelnet/hop-carrier/identity"
	"github.com/myelnet/hop-carrier/service"
	"github.com/myelnet/hop-carrier/xerrors"
)

// TestServiceInvocationThroughBearer builds a bearer and two peers, has both
// peers log into the bearer, and has one peer request the echo service from
// the other by identity alone, exercising the full rendezvous + handshake +
// service path end to end.
func TestServiceInvocationThroughBearer(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	bearerRT, err := NewBuilder().AsBearer().WithListenAddrs("/ip4/127.0.0.1/tcp/0").Build(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = bearerRT.Close() })

	bearerAddr := fmt.Sprintf("%s/p2p/%s", bearerRT.Addrs()[0], bearerRT.ID())

	responderRT, err := NewBuilder().
		WithListenAddrs("/ip4/127.0.0.1/tcp/0").
		AddBearer(bearerAddr).
		RegisterService(identity.ServiceName(echo.Name), func() service.Server { return &echo.Server{} }).
		Build(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = responderRT.Close() })

	initiatorRT, err := NewBuilder().
		WithListenAddrs("/ip4/127.0.0.1/tcp/0").
		AddBearer(bearerAddr).
		Build(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = initiatorRT.Close() })

	require.Eventually(t, func() bool {
		return initiatorRT.BearerID() != "" && responderRT.BearerID() != ""
	}, 10*time.Second, 50*time.Millisecond, "both peers should log into the bearer")

	data, err := RunService[[]byte](ctx, initiatorRT, responderRT.ID(), identity.ServiceName(echo.Name), &echo.Client{})
	require.NoError(t, err)
	require.Equal(t, []byte(echo.Payload), data)
}

// TestServiceInvocationWithExtraStreams verifies that additional substreams
// a responder opens via session.NewStreamHandle after the primary stream
// are delivered to the initiator's session.Streams, exercising the
// multi-stream session path beyond the primary handshake substream.
func TestServiceInvocationWithExtraStreams(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	bearerRT, err := NewBuilder().AsBearer().WithListenAddrs("/ip4/127.0.0.1/tcp/0").Build(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = bearerRT.Close() })

	bearerAddr := fmt.Sprintf("%s/p2p/%s", bearerRT.Addrs()[0], bearerRT.ID())

	responderRT, err := NewBuilder().
		WithListenAddrs("/ip4/127.0.0.1/tcp/0").
		AddBearer(bearerAddr).
		RegisterService(identity.ServiceName(echo.Name), func() service.Server { return &echo.Server{ExtraStreams: 2} }).
		Build(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = responderRT.Close() })

	initiatorRT, err := NewBuilder().
		WithListenAddrs("/ip4/127.0.0.1/tcp/0").
		AddBearer(bearerAddr).
		Build(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = initiatorRT.Close() })

	require.Eventually(t, func() bool {
		return initiatorRT.BearerID() != "" && responderRT.BearerID() != ""
	}, 10*time.Second, 50*time.Millisecond, "both peers should log into the bearer")

	data, err := RunService[[]byte](ctx, initiatorRT, responderRT.ID(), identity.ServiceName(echo.Name), &echo.Client{ExpectStreams: 2})
	require.NoError(t, err)
	require.Equal(t, []byte(echo.Payload+echo.Payload+echo.Payload), data)
}

// TestServiceNotFoundWhenUnregistered verifies requesting an unregistered
// service name surfaces xerrors.ServiceNotFound.
func TestServiceNotFoundWhenUnregistered(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	bearerRT, err := NewBuilder().AsBearer().WithListenAddrs("/ip4/127.0.0.1/tcp/0").Build(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = bearerRT.Close() })

	bearerAddr := fmt.Sprintf("%s/p2p/%s", bearerRT.Addrs()[0], bearerRT.ID())

	responderRT, err := NewBuilder().WithListenAddrs("/ip4/127.0.0.1/tcp/0").AddBearer(bearerAddr).Build(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = responderRT.Close() })

	initiatorRT, err := NewBuilder().WithListenAddrs("/ip4/127.0.0.1/tcp/0").AddBearer(bearerAddr).Build(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = initiatorRT.Close() })

	require.Eventually(t, func() bool {
		return initiatorRT.BearerID() != "" && responderRT.BearerID() != ""
	}, 10*time.Second, 50*time.Millisecond, "both peers should log into the bearer")

	_, err = RunService[[]byte](ctx, initiatorRT, responderRT.ID(), identity.ServiceName(echo.Name), &echo.Client{})
	require.Error(t, err)
	require.True(t, xerrors.Is(err, xerrors.ServiceNotFound))
}
