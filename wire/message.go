// Package wire defines the tagged ControlMessage variants exchanged on a
// substream before it is promoted to a raw service channel, and their CBOR
// encoding. Messages are written with
// github.com/filecoin-project/go-cbor-util's WriteCborRPC and read by
// calling the message type's own UnmarshalCBOR method directly on the bytes
// of one length-prefixed frame.
package wire

import (
	"fmt"
	"io"

	"github.com/myelnet/hop-carrier/identity"
)

// ConnectionID correlates rendezvous messages across the bearer and the two
// peers attempting to connect. It is generated by the initiator and never
// reused within that initiator's process lifetime.
type ConnectionID uint64

// Tag discriminates the ControlMessage variants.
type Tag byte

const (
	// TagUnknown marks a message whose tag this peer does not recognize. It
	// is never constructed by an encoder; only produced by the decoder so
	// callers can ignore a message variant they don't understand instead of
	// failing the connection.
	TagUnknown Tag = 0

	TagHello                        Tag = 1
	TagConnectToPeer                Tag = 2
	TagPeerNotFound                 Tag = 3
	TagRequestService               Tag = 4
	TagServiceConnectionEstablished Tag = 5
	TagServiceNotFound              Tag = 6
)

func (t Tag) String() string {
	switch t {
	case TagHello:
		return "Hello"
	case TagConnectToPeer:
		return "ConnectToPeer"
	case TagPeerNotFound:
		return "PeerNotFound"
	case TagRequestService:
		return "RequestService"
	case TagServiceConnectionEstablished:
		return "ServiceConnectionEstablished"
	case TagServiceNotFound:
		return "ServiceNotFound"
	default:
		return "Unknown"
	}
}

// ConnectToPeer is sent initiator -> bearer -> responder to start a
// rendezvous.
type ConnectToPeer struct {
	Target       identity.PeerIdentity
	ConnectionID ConnectionID
}

// PeerNotFound is sent bearer -> initiator when the target is unknown or
// unreachable.
type PeerNotFound struct {
	ConnectionID ConnectionID
}

// RequestService is sent initiator -> responder on the newly direct
// substream.
type RequestService struct {
	Name identity.ServiceName
}

// Message is the in-memory representation of one ControlMessage. Exactly one
// of the pointer fields is populated, selected by Tag; Hello,
// ServiceConnectionEstablished and ServiceNotFound carry no payload.
type Message struct {
	Tag Tag

	ConnectToPeer  *ConnectToPeer
	PeerNotFound   *PeerNotFound
	RequestService *RequestService
}

// Hello constructs the greeting message sent once by each side immediately
// after opening a substream.
func Hello() *Message { return &Message{Tag: TagHello} }

// NewConnectToPeer constructs the rendezvous request message.
func NewConnectToPeer(target identity.PeerIdentity, id ConnectionID) *Message {
	return &Message{Tag: TagConnectToPeer, ConnectToPeer: &ConnectToPeer{Target: target, ConnectionID: id}}
}

// NewPeerNotFound constructs the bearer's rendezvous failure message.
func NewPeerNotFound(id ConnectionID) *Message {
	return &Message{Tag: TagPeerNotFound, PeerNotFound: &PeerNotFound{ConnectionID: id}}
}

// NewRequestService constructs the service handshake request message.
func NewRequestService(name identity.ServiceName) *Message {
	return &Message{Tag: TagRequestService, RequestService: &RequestService{Name: name}}
}

// ServiceConnectionEstablishedMsg constructs the responder's handshake success message.
func ServiceConnectionEstablishedMsg() *Message {
	return &Message{Tag: TagServiceConnectionEstablished}
}

// ServiceNotFoundMsg constructs the responder's handshake failure message.
func ServiceNotFoundMsg() *Message {
	return &Message{Tag: TagServiceNotFound}
}

// MarshalCBOR encodes the message as its tag followed by the variant's
// fields, each written as a bare CBOR item with no enclosing array header.
func (m *Message) MarshalCBOR(w io.Writer) error {
	if err := writeUint(w, uint64(m.Tag)); err != nil {
		return err
	}
	switch m.Tag {
	case TagHello, TagServiceConnectionEstablished, TagServiceNotFound:
		return nil
	case TagConnectToPeer:
		if m.ConnectToPeer == nil {
			return fmt.Errorf("wire: ConnectToPeer tag without payload")
		}
		if err := writeBytes(w, m.ConnectToPeer.Target.Bytes()); err != nil {
			return err
		}
		return writeUint(w, uint64(m.ConnectToPeer.ConnectionID))
	case TagPeerNotFound:
		if m.PeerNotFound == nil {
			return fmt.Errorf("wire: PeerNotFound tag without payload")
		}
		return writeUint(w, uint64(m.PeerNotFound.ConnectionID))
	case TagRequestService:
		if m.RequestService == nil {
			return fmt.Errorf("wire: RequestService tag without payload")
		}
		return writeText(w, string(m.RequestService.Name))
	default:
		return fmt.Errorf("wire: cannot encode unknown tag %d", m.Tag)
	}
}

// UnmarshalCBOR decodes a message previously produced by MarshalCBOR. An
// unrecognized tag is decoded as {Tag: TagUnknown} rather than an error, so
// callers on a not-yet-promoted substream can implement forward-compatible
// ignore-on-unknown handling.
func (m *Message) UnmarshalCBOR(r io.Reader) error {
	tagVal, err := readUint(r)
	if err != nil {
		return err
	}
	tag := Tag(tagVal)
	switch tag {
	case TagHello, TagServiceConnectionEstablished, TagServiceNotFound:
		m.Tag = tag
		return nil
	case TagConnectToPeer:
		targetBytes, err := readBytes(r)
		if err != nil {
			return err
		}
		target, err := identity.FromBytes(targetBytes)
		if err != nil {
			return err
		}
		connID, err := readUint(r)
		if err != nil {
			return err
		}
		m.Tag = tag
		m.ConnectToPeer = &ConnectToPeer{Target: target, ConnectionID: ConnectionID(connID)}
		return nil
	case TagPeerNotFound:
		connID, err := readUint(r)
		if err != nil {
			return err
		}
		m.Tag = tag
		m.PeerNotFound = &PeerNotFound{ConnectionID: ConnectionID(connID)}
		return nil
	case TagRequestService:
		name, err := readText(r)
		if err != nil {
			return err
		}
		m.Tag = tag
		m.RequestService = &RequestService{Name: identity.ServiceName(name)}
		return nil
	default:
		m.Tag = TagUnknown
		return nil
	}
}
