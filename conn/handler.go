// Package conn implements the per-substream connection handler, deliberately
// named Handler rather than Connection to avoid colliding with
// transport.Connection, the underlying multiplexed link.
//
// A Handler drives one substream through Fresh -> Greeted -> one of
// {Serving, Forwarding, Closed}, role-agnostic over named services rather
// than a single fixed protocol.
package conn

import (
	"context"
	"fmt"

	"github.com/myelnet/hop-carrier/identity"
	"github.com/myelnet/hop-carrier/registry"
	"github.com/myelnet/hop-carrier/rendezvous"
	"github.com/myelnet/hop-carrier/session"
	"github.com/myelnet/hop-carrier/transport"
	"github.com/myelnet/hop-carrier/wire"
	"github.com/myelnet/hop-carrier/xerrors"
)

// State names the Handler's position in its connection state machine.
type State int

const (
	Fresh State = iota
	Greeted
	Serving
	Forwarding
	Closed
)

func (s State) String() string {
	switch s {
	case Fresh:
		return "fresh"
	case Greeted:
		return "greeted"
	case Serving:
		return "serving"
	case Forwarding:
		return "forwarding"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// BearerDirectory is the thin slice of a bearer's peer book a Handler needs
// to act as a rendezvous relay: find out whether a target is one of this
// bearer's currently connected peers. peer.Runtime supplies itself as the
// BearerDirectory for every Handler it starts, bearer or not; a Handler
// constructed with a nil BearerDirectory answers every ConnectToPeer request
// with PeerNotFound.
type BearerDirectory interface {
	// Lookup reports whether target currently has an active link to this
	// bearer.
	Lookup(target identity.PeerIdentity) (known bool)
}

// Result summarizes how a Handler's Run concluded, for logging and tests.
type Result struct {
	FinalState State
	// ServiceName is set when FinalState is Serving.
	ServiceName identity.ServiceName
}

// Handler drives the control-message exchange on one substream until it is promoted to a service invocation, used as a
// forwarding relay, or closed.
type Handler struct {
	substream *transport.Substream
	registry  *registry.Registry
	directory BearerDirectory
	rendez    *rendezvous.Registry
	session   *session.Session

	state State
}

// New constructs a Handler for an already-opened substream. registry may be
// empty (no services) but must not be nil. directory and rendez may be nil
// if this peer does not act as a bearer, or has no outstanding rendezvous
// attempts, respectively. sess is the Session the peer runtime maintains
// for this substream's remote peer, used if the substream is promoted into
// service.
func New(s *transport.Substream, reg *registry.Registry, directory BearerDirectory, rendez *rendezvous.Registry, sess *session.Session) *Handler {
	return &Handler{substream: s, registry: reg, directory: directory, rendez: rendez, session: sess, state: Fresh}
}

// Run drives the substream to completion: exchanges Hello, then loops
// reading control messages and dispatching each according to the Handler's
// current state, until the substream is promoted (Serving), a peer protocol
// violation is detected, or ctx is done.
func (h *Handler) Run(ctx context.Context) (Result, error) {
	if err := h.substream.WriteMessage(wire.Hello()); err != nil {
		_ = h.substream.Close()
		return Result{FinalState: h.state}, xerrors.New(xerrors.Transport, "conn.Handler.Run", err)
	}
	greeting, err := h.substream.ReadMessage()
	if err != nil {
		_ = h.substream.Close()
		return Result{FinalState: h.state}, xerrors.New(xerrors.Transport, "conn.Handler.Run", err)
	}
	if greeting.Tag != wire.TagHello {
		_ = h.substream.Reset()
		return Result{FinalState: h.state}, xerrors.New(xerrors.ProtocolViolation, "conn.Handler.Run",
			fmt.Errorf("expected Hello, got %s", greeting.Tag))
	}
	h.state = Greeted

	for {
		select {
		case <-ctx.Done():
			h.state = Closed
			_ = h.substream.Close()
			return Result{FinalState: h.state}, ctx.Err()
		default:
		}

		m, err := h.substream.ReadMessage()
		if err != nil {
			h.state = Closed
			_ = h.substream.Close()
			return Result{FinalState: h.state}, xerrors.New(xerrors.Transport, "conn.Handler.Run", err)
		}

		switch m.Tag {
		case wire.TagUnknown:
			continue // forward-compatible ignore-unknown

		case wire.TagConnectToPeer:
			if err := h.handleConnectToPeer(m.ConnectToPeer); err != nil {
				h.state = Closed
				_ = h.substream.Close()
				return Result{FinalState: h.state}, err
			}
			h.state = Forwarding
			continue

		case wire.TagPeerNotFound:
			if h.rendez == nil {
				h.state = Closed
				_ = h.substream.Reset()
				return Result{FinalState: h.state}, xerrors.New(xerrors.ProtocolViolation, "conn.Handler.Run",
					fmt.Errorf("received PeerNotFound with no pending rendezvous attempts"))
			}
			if err := h.rendez.Deliver(m.PeerNotFound.ConnectionID, rendezvous.PeerNotFound); err != nil {
				h.state = Closed
				_ = h.substream.Reset()
				return Result{FinalState: h.state}, xerrors.New(xerrors.ProtocolViolation, "conn.Handler.Run", err)
			}
			continue

		case wire.TagRequestService:
			result, err, terminal := h.handleRequestService(ctx, m.RequestService)
			if !terminal {
				continue
			}
			return result, err

		default:
			h.state = Closed
			_ = h.substream.Reset()
			return Result{FinalState: h.state}, xerrors.New(xerrors.ProtocolViolation, "conn.Handler.Run",
				fmt.Errorf("unexpected message tag %s in state %s", m.Tag, h.state))
		}
	}
}

func (h *Handler) handleConnectToPeer(req *wire.ConnectToPeer) error {
	if h.directory == nil {
		if err := h.substream.WriteMessage(wire.NewPeerNotFound(req.ConnectionID)); err != nil {
			return xerrors.New(xerrors.Transport, "conn.Handler.handleConnectToPeer", err)
		}
		return nil
	}
	if !h.directory.Lookup(req.Target) {
		if err := h.substream.WriteMessage(wire.NewPeerNotFound(req.ConnectionID)); err != nil {
			return xerrors.New(xerrors.Transport, "conn.Handler.handleConnectToPeer", err)
		}
	}
	return nil
}

// handleRequestService serves one RequestService message. terminal reports
// whether Run's loop should stop: true once the substream is promoted to a
// service or a transport failure makes the substream unusable, false when
// the requested service is unknown and the substream remains in Greeted,
// ready for the peer to try another name.
func (h *Handler) handleRequestService(ctx context.Context, req *wire.RequestService) (result Result, err error, terminal bool) {
	factory, ok := h.registry.Lookup(req.Name)
	if !ok {
		if err := h.substream.WriteMessage(wire.ServiceNotFoundMsg()); err != nil {
			h.state = Closed
			_ = h.substream.Close()
			return Result{FinalState: h.state}, xerrors.New(xerrors.Transport, "conn.Handler.handleRequestService", err), true
		}
		return Result{FinalState: h.state}, nil, false
	}
	if err := h.substream.WriteMessage(wire.ServiceConnectionEstablishedMsg()); err != nil {
		h.state = Closed
		_ = h.substream.Close()
		return Result{FinalState: h.state}, xerrors.New(xerrors.Transport, "conn.Handler.handleRequestService", err), true
	}
	h.state = Serving

	srv := factory()
	raw := h.substream.Promote()

	runErr := srv.Run(ctx, raw, h.session.Streams, h.session.Handle)
	if runErr != nil {
		h.state = Closed
		_ = h.substream.Close()
		return Result{FinalState: h.state, ServiceName: req.Name}, fmt.Errorf("conn.Handler: service %q: %w", req.Name, runErr), true
	}
	return Result{FinalState: h.state, ServiceName: req.Name}, nil, true
}
