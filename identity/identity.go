// Package identity defines the cryptographic identity used to address peers
// in the fabric. A PeerIdentity is the multihash of a peer's public key,
// which is exactly how github.com/libp2p/go-libp2p-core/peer.ID is already
// defined, so identity wraps rather than reimplements it.
package identity

import (
	"fmt"

	"github.com/libp2p/go-libp2p-core/crypto"
	"github.com/libp2p/go-libp2p-core/peer"
)

// PeerIdentity is the cryptographic hash of a peer's public key. It is
// globally unique within a trust domain and stable for the lifetime of the
// key pair.
type PeerIdentity struct {
	id peer.ID
}

// Empty reports whether this PeerIdentity was never assigned a value.
func (p PeerIdentity) Empty() bool {
	return p.id == ""
}

// Libp2p returns the underlying libp2p peer ID, for collaborators (the
// Transport Facade) that need to talk directly to the transport.
func (p PeerIdentity) Libp2p() peer.ID {
	return p.id
}

// String renders the identity the same way peer.ID does (a base58 multihash).
func (p PeerIdentity) String() string {
	return p.id.String()
}

// Bytes returns the raw multihash bytes, used by the wire codec.
func (p PeerIdentity) Bytes() []byte {
	return []byte(p.id)
}

// Equal reports whether two identities refer to the same peer.
func (p PeerIdentity) Equal(other PeerIdentity) bool {
	return p.id == other.id
}

// FromLibp2p wraps an already-resolved libp2p peer ID.
func FromLibp2p(id peer.ID) PeerIdentity {
	return PeerIdentity{id: id}
}

// FromBytes parses the raw multihash bytes produced by Bytes.
func FromBytes(b []byte) (PeerIdentity, error) {
	id, err := peer.IDFromBytes(b)
	if err != nil {
		return PeerIdentity{}, fmt.Errorf("identity: parsing peer id: %w", err)
	}
	return PeerIdentity{id: id}, nil
}

// FromPrivateKey derives the identity that corresponds to a private key.
func FromPrivateKey(key crypto.PrivKey) (PeerIdentity, error) {
	id, err := peer.IDFromPrivateKey(key)
	if err != nil {
		return PeerIdentity{}, fmt.Errorf("identity: deriving from private key: %w", err)
	}
	return PeerIdentity{id: id}, nil
}

// FromPublicKey derives the identity that corresponds to a public key, used
// when we only see the other side's certificate (e.g. from an X.509 leaf).
func FromPublicKey(key crypto.PubKey) (PeerIdentity, error) {
	id, err := peer.IDFromPublicKey(key)
	if err != nil {
		return PeerIdentity{}, fmt.Errorf("identity: deriving from public key: %w", err)
	}
	return PeerIdentity{id: id}, nil
}

// Parse decodes a textual identity (as produced by String) back into a
// PeerIdentity, e.g. when a target peer is given on a command line.
func Parse(s string) (PeerIdentity, error) {
	id, err := peer.Decode(s)
	if err != nil {
		return PeerIdentity{}, fmt.Errorf("identity: decoding %q: %w", s, err)
	}
	return PeerIdentity{id: id}, nil
}

// ServiceName is a short printable identifier for a named service, unique
// within one peer and immutable after registration.
type ServiceName string

// MaxServiceNameLen is the upper bound on ServiceName length in bytes.
const MaxServiceNameLen = 64

// Validate reports whether the name is non-empty, ASCII-only, and at most
// MaxServiceNameLen bytes long.
func (n ServiceName) Validate() error {
	if len(n) == 0 {
		return fmt.Errorf("identity: service name must not be empty")
	}
	if len(n) > MaxServiceNameLen {
		return fmt.Errorf("identity: service name %q exceeds %d bytes", n, MaxServiceNameLen)
	}
	for i := 0; i < len(n); i++ {
		if n[i] > 127 {
			return fmt.Errorf("identity: service name %q is not ASCII", n)
		}
	}
	return nil
}
