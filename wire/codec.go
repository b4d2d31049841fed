package wire

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	cborutil "github.com/filecoin-project/go-cbor-util"
)

// MaxMessageSize bounds the length prefix on an inbound ControlMessage
// frame, guarding against a misbehaving peer claiming an unbounded payload.
const MaxMessageSize = 1 << 20

// WriteMessage frames a ControlMessage as u32 BE length || CBOR payload and
// writes it to w. The message is encoded to a buffer first so the length is
// known before the frame's length prefix is written, since the wire format
// requires an explicit frame length rather than relying on CBOR's own
// self-delimiting shape.
func WriteMessage(w io.Writer, m *Message) error {
	var buf bytes.Buffer
	if err := cborutil.WriteCborRPC(&buf, m); err != nil {
		return fmt.Errorf("wire: encoding message: %w", err)
	}
	if buf.Len() > MaxMessageSize {
		return fmt.Errorf("wire: encoded message of %d bytes exceeds maximum %d", buf.Len(), MaxMessageSize)
	}
	var lenPrefix [4]byte
	binary.BigEndian.PutUint32(lenPrefix[:], uint32(buf.Len()))
	if _, err := w.Write(lenPrefix[:]); err != nil {
		return fmt.Errorf("wire: writing length prefix: %w", err)
	}
	if _, err := w.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("wire: writing message body: %w", err)
	}
	return nil
}

// ReadMessage reads one u32 BE length || CBOR payload frame from r and
// decodes it. An unrecognized tag byte is returned as {Tag: TagUnknown} with
// a nil error: the remainder of the bounded frame is still fully consumed so
// the stream stays in sync, letting a future message variant be ignored by
// an older peer without needing to parse the unknown variant's body.
func ReadMessage(r *bufio.Reader) (*Message, error) {
	var lenPrefix [4]byte
	if _, err := io.ReadFull(r, lenPrefix[:]); err != nil {
		return nil, fmt.Errorf("wire: reading length prefix: %w", err)
	}
	n := binary.BigEndian.Uint32(lenPrefix[:])
	if n > MaxMessageSize {
		return nil, fmt.Errorf("wire: frame of %d bytes exceeds maximum %d", n, MaxMessageSize)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("wire: reading message body: %w", err)
	}
	m := &Message{}
	if err := m.UnmarshalCBOR(bytes.NewReader(body)); err != nil {
		return nil, fmt.Errorf("wire: decoding message: %w", err)
	}
	return m, nil
}
