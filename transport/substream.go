package transport

import (
	"bufio"
	"fmt"
	"io"

	"github.com/libp2p/go-libp2p-core/network"

	"github.com/myelnet/hop-carrier/identity"
	"github.com/myelnet/hop-carrier/wire"
)

// Substream is one logical stream multiplexed over a Connection. Before
// promotion it carries framed ControlMessages, driven by the connection
// handler (conn.Handler) or the service dispatcher; after Promote it is
// handed to a service as an opaque byte channel.
//
// It pairs a raw network.Stream with a bufio.Reader so CBOR decoding can
// read varying-length frames without losing already-buffered bytes on
// promotion.
type Substream struct {
	s   network.Stream
	buf *bufio.Reader
}

func newSubstream(s network.Stream) *Substream {
	return &Substream{s: s, buf: bufio.NewReaderSize(s, 4096)}
}

// RemotePeer returns the identity of the peer at the other end of this
// substream.
func (s *Substream) RemotePeer() identity.PeerIdentity {
	return identity.FromLibp2p(s.s.Conn().RemotePeer())
}

// WriteMessage frames and writes one ControlMessage.
func (s *Substream) WriteMessage(m *wire.Message) error {
	if err := wire.WriteMessage(s.s, m); err != nil {
		return fmt.Errorf("transport: writing control message: %w", err)
	}
	return nil
}

// ReadMessage reads and decodes one ControlMessage, using the substream's
// buffered reader so bytes read ahead of a frame boundary are never lost.
func (s *Substream) ReadMessage() (*wire.Message, error) {
	m, err := wire.ReadMessage(s.buf)
	if err != nil {
		return nil, fmt.Errorf("transport: reading control message: %w", err)
	}
	return m, nil
}

// Promote stops control-message framing and returns the substream as a raw
// byte channel, preserving any bytes already read into the buffer ahead of
// the promotion point.
func (s *Substream) Promote() io.ReadWriteCloser {
	return &promoted{buf: s.buf, s: s.s}
}

// Close closes the underlying stream.
func (s *Substream) Close() error {
	return s.s.Close()
}

// Reset aborts the underlying stream, used when a protocol violation
// means no more graceful shutdown is possible.
func (s *Substream) Reset() error {
	return s.s.Reset()
}

type promoted struct {
	buf *bufio.Reader
	s   network.Stream
}

func (p *promoted) Read(b []byte) (int, error)  { return p.buf.Read(b) }
func (p *promoted) Write(b []byte) (int, error) { return p.s.Write(b) }
func (p *promoted) Close() error                { return p.s.Close() }
