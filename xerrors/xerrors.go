// Package xerrors provides the typed error taxonomy collaborators use to
// classify failures without string matching. An Error holds its cause and
// exposes it through Unwrap, so the standard errors.Is/As chain still
// reaches it; the only addition on top is a minimal Kind tag.
package xerrors

import (
	"errors"
	"fmt"
)

// Kind classifies an Error into a small, stable taxonomy.
type Kind int

const (
	// Unknown is the zero value; never intentionally constructed.
	Unknown Kind = iota

	// Configuration marks a failure in peer setup (bad key material, bad
	// listen address, invalid service name).
	Configuration

	// Transport marks a failure in the underlying network transport (dial
	// failure, stream reset, I/O error) below the control-message layer.
	Transport

	// ProtocolViolation marks a peer that sent a malformed or
	// out-of-sequence control message.
	ProtocolViolation

	// PeerUnreachable marks a rendezvous attempt that could not locate or
	// reach the target peer.
	PeerUnreachable

	// ServiceNotFound marks a RequestService handshake for a name the
	// responder has not registered.
	ServiceNotFound

	// BearerConnectionLost marks the loss of a peer's link to its bearer.
	BearerConnectionLost

	// Cancelled marks an operation that stopped because its context was
	// cancelled or the runtime is shutting down.
	Cancelled
)

func (k Kind) String() string {
	switch k {
	case Configuration:
		return "configuration"
	case Transport:
		return "transport"
	case ProtocolViolation:
		return "protocol_violation"
	case PeerUnreachable:
		return "peer_unreachable"
	case ServiceNotFound:
		return "service_not_found"
	case BearerConnectionLost:
		return "bearer_connection_lost"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Error is the taxonomy-tagged error type every package in the fabric
// returns for failures a caller might need to branch on.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New constructs a Kind-tagged error, optionally wrapping a cause.
func New(kind Kind, op string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Err: cause}
}

// Is reports whether err carries the given Kind anywhere in its chain.
func Is(err error, kind Kind) bool {
	var xerr *Error
	for errors.As(err, &xerr) {
		if xerr.Kind == kind {
			return true
		}
		err = xerr.Err
		if err == nil {
			return false
		}
	}
	return false
}

// KindOf returns the Kind of the first *Error in err's chain, or Unknown if
// none is found.
func KindOf(err error) Kind {
	var xerr *Error
	if errors.As(err, &xerr) {
		return xerr.Kind
	}
	return Unknown
}
