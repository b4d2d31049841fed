package peer

import (
	"context"
	"fmt"

	"github.com/myelnet/hop-carrier/dispatch"
	"github.com/myelnet/hop-carrier/identity"
	"github.com/myelnet/hop-carrier/rendezvous"
	"github.com/myelnet/hop-carrier/service"
	"github.com/myelnet/hop-carrier/session"
	"github.com/myelnet/hop-carrier/transport"
	"github.com/myelnet/hop-carrier/xerrors"
)

// RunService invokes a named service on target, rendezvousing through the
// runtime's bearer if no session to target already exists, then running
// client against the resulting substream.
//
// RunService is a free function rather than a method with its own type
// parameter because Go forbids additional type parameters on methods of a
// (possibly itself generic) receiver type.
func RunService[T any](ctx context.Context, rt *Runtime, target identity.PeerIdentity, name identity.ServiceName, client service.Client[T]) (T, error) {
	var zero T

	c, sess, err := rt.connectionTo(ctx, target)
	if err != nil {
		return zero, fmt.Errorf("peer.RunService: %w", err)
	}

	s, err := dispatch.RequestService(ctx, c, name)
	if err != nil {
		return zero, fmt.Errorf("peer.RunService: %w", err)
	}
	raw := s.Promote()

	result, err := client.Run(ctx, raw, sess.Streams, sess.Handle)
	if err != nil {
		return zero, fmt.Errorf("peer.RunService: %w", err)
	}
	return result, nil
}

// connectionTo returns the Connection and Session for target, reusing an
// existing session if one is active or rendezvousing through the current
// bearer link otherwise.
func (rt *Runtime) connectionTo(ctx context.Context, target identity.PeerIdentity) (*transport.Connection, *session.Session, error) {
	rt.mu.Lock()
	if sess, ok := rt.sessions[target]; ok {
		c := sess.Conn
		rt.mu.Unlock()
		return c, sess, nil
	}
	bearer := rt.activeBearer
	bearerID := rt.activeBearerID
	rt.mu.Unlock()

	if bearer == nil {
		return nil, nil, xerrors.New(xerrors.BearerConnectionLost, "peer.Runtime.connectionTo",
			fmt.Errorf("no active bearer link to rendezvous through"))
	}

	client := rendezvous.NewClient(rt.facade, bearer, bearerID, rt.rendez)
	c, err := client.Connect(ctx, target)
	if err != nil {
		return nil, nil, err
	}
	sess := rt.sessionFor(target, c)
	return c, sess, nil
}
