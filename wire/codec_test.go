package wire

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/libp2p/go-libp2p-core/test"
	"github.com/stretchr/testify/require"

	"github.com/myelnet/hop-carrier/identity"
)

func randomIdentity(t *testing.T) identity.PeerIdentity {
	t.Helper()
	id, err := test.RandPeerID()
	require.NoError(t, err)
	return identity.FromLibp2p(id)
}

func TestRoundTripHello(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteMessage(&buf, Hello()))

	got, err := ReadMessage(bufio.NewReader(&buf))
	require.NoError(t, err)
	require.Equal(t, TagHello, got.Tag)
}

func TestRoundTripConnectToPeer(t *testing.T) {
	target := randomIdentity(t)
	msg := NewConnectToPeer(target, ConnectionID(42))

	var buf bytes.Buffer
	require.NoError(t, WriteMessage(&buf, msg))

	got, err := ReadMessage(bufio.NewReader(&buf))
	require.NoError(t, err)
	require.Equal(t, TagConnectToPeer, got.Tag)
	require.NotNil(t, got.ConnectToPeer)
	require.True(t, target.Equal(got.ConnectToPeer.Target))
	require.Equal(t, ConnectionID(42), got.ConnectToPeer.ConnectionID)
}

func TestRoundTripPeerNotFound(t *testing.T) {
	msg := NewPeerNotFound(ConnectionID(7))

	var buf bytes.Buffer
	require.NoError(t, WriteMessage(&buf, msg))

	got, err := ReadMessage(bufio.NewReader(&buf))
	require.NoError(t, err)
	require.Equal(t, TagPeerNotFound, got.Tag)
	require.Equal(t, ConnectionID(7), got.PeerNotFound.ConnectionID)
}

func TestRoundTripRequestService(t *testing.T) {
	msg := NewRequestService(identity.ServiceName("echo"))

	var buf bytes.Buffer
	require.NoError(t, WriteMessage(&buf, msg))

	got, err := ReadMessage(bufio.NewReader(&buf))
	require.NoError(t, err)
	require.Equal(t, TagRequestService, got.Tag)
	require.Equal(t, identity.ServiceName("echo"), got.RequestService.Name)
}

func TestRoundTripNoPayloadVariants(t *testing.T) {
	for _, m := range []*Message{ServiceConnectionEstablishedMsg(), ServiceNotFoundMsg()} {
		var buf bytes.Buffer
		require.NoError(t, WriteMessage(&buf, m))

		got, err := ReadMessage(bufio.NewReader(&buf))
		require.NoError(t, err)
		require.Equal(t, m.Tag, got.Tag)
	}
}

// TestUnknownTagIgnored verifies that a message with a tag this version does
// not recognize decodes as TagUnknown rather than an error, and that the
// frame boundary (length prefix) keeps the stream synchronized so a
// subsequent, known message can still be read.
func TestUnknownTagIgnored(t *testing.T) {
	var buf bytes.Buffer

	unknown := &bytes.Buffer{}
	require.NoError(t, writeUint(unknown, 99))
	require.NoError(t, writeText(unknown, "future-field"))
	var lenPrefix [4]byte
	binary.BigEndian.PutUint32(lenPrefix[:], uint32(unknown.Len()))
	buf.Write(lenPrefix[:])
	buf.Write(unknown.Bytes())

	require.NoError(t, WriteMessage(&buf, Hello()))

	reader := bufio.NewReader(&buf)

	got, err := ReadMessage(reader)
	require.NoError(t, err)
	require.Equal(t, TagUnknown, got.Tag)

	got2, err := ReadMessage(reader)
	require.NoError(t, err)
	require.Equal(t, TagHello, got2.Tag)
}
