// Package dispatch implements the client-side half of the service
// handshake: greet a freshly opened substream, send RequestService, and
// interpret the responder's reply.
package dispatch

import (
	"context"
	"fmt"

	"github.com/myelnet/hop-carrier/identity"
	"github.com/myelnet/hop-carrier/transport"
	"github.com/myelnet/hop-carrier/wire"
	"github.com/myelnet/hop-carrier/xerrors"
)

// RequestService opens a fresh substream on conn, performs the Hello
// exchange, requests name, and returns the substream with the handshake
// complete, for the caller to Promote before handing it to the Client, or a
// classified error (Configuration, ServiceNotFound, ProtocolViolation,
// Transport).
func RequestService(ctx context.Context, conn *transport.Connection, name identity.ServiceName) (*transport.Substream, error) {
	if err := name.Validate(); err != nil {
		return nil, xerrors.New(xerrors.Configuration, "dispatch.RequestService", err)
	}

	s, err := conn.OpenSubstream(ctx)
	if err != nil {
		return nil, xerrors.New(xerrors.Transport, "dispatch.RequestService", err)
	}

	if err := s.WriteMessage(wire.Hello()); err != nil {
		_ = s.Close()
		return nil, xerrors.New(xerrors.Transport, "dispatch.RequestService", err)
	}
	greeting, err := s.ReadMessage()
	if err != nil {
		_ = s.Close()
		return nil, xerrors.New(xerrors.Transport, "dispatch.RequestService", err)
	}
	if greeting.Tag != wire.TagHello {
		_ = s.Reset()
		return nil, xerrors.New(xerrors.ProtocolViolation, "dispatch.RequestService",
			fmt.Errorf("expected Hello, got %s", greeting.Tag))
	}

	if err := s.WriteMessage(wire.NewRequestService(name)); err != nil {
		_ = s.Close()
		return nil, xerrors.New(xerrors.Transport, "dispatch.RequestService", err)
	}

	reply, err := s.ReadMessage()
	if err != nil {
		_ = s.Close()
		return nil, xerrors.New(xerrors.Transport, "dispatch.RequestService", err)
	}

	switch reply.Tag {
	case wire.TagServiceConnectionEstablished:
		return s, nil
	case wire.TagServiceNotFound:
		_ = s.Close()
		return nil, xerrors.New(xerrors.ServiceNotFound, "dispatch.RequestService",
			fmt.Errorf("responder has no service %q", name))
	default:
		_ = s.Reset()
		return nil, xerrors.New(xerrors.ProtocolViolation, "dispatch.RequestService",
			fmt.Errorf("unexpected reply tag %s", reply.Tag))
	}
}
