package xerrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsMatchesKindThroughWrapping(t *testing.T) {
	base := New(ServiceNotFound, "dispatch.RequestService", errors.New("no such service"))
	wrapped := fmt.Errorf("peer.RunService: %w", base)

	require.True(t, Is(wrapped, ServiceNotFound))
	require.False(t, Is(wrapped, Transport))
}

func TestKindOfUnknownForPlainError(t *testing.T) {
	require.Equal(t, Unknown, KindOf(errors.New("plain")))
}

func TestErrorMessageIncludesOpAndKind(t *testing.T) {
	err := New(PeerUnreachable, "rendezvous.Client.Connect", nil)
	require.Contains(t, err.Error(), "rendezvous.Client.Connect")
	require.Contains(t, err.Error(), "peer_unreachable")
}
