// Package service defines the interfaces a named service implements and the
// generic client shape used to invoke one on a remote peer.
package service

import (
	"context"
	"io"

	"github.com/myelnet/hop-carrier/session"
)

// Server is implemented by a registered service. Run is invoked once per
// inbound RequestService handshake that named it, after the
// ServiceConnectionEstablished reply has been sent and the substream
// promoted.
type Server interface {
	Run(ctx context.Context, primary io.ReadWriteCloser, streams *session.Streams, open session.NewStreamHandle) error
}

// Factory constructs a fresh Server instance for one invocation. The
// registry stores factories rather than shared instances, so concurrent
// invocations of the same service name never share mutable state (a
// deliberate hardening of the collaborator contract: see DESIGN.md).
type Factory func() Server

// Client is implemented by callers of a remote service. T is the
// caller-defined result type returned by a successful invocation.
type Client[T any] interface {
	Run(ctx context.Context, primary io.ReadWriteCloser, streams *session.Streams, open session.NewStreamHandle) (T, error)
}
