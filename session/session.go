// Package session implements the multi-stream session abstraction: once a
// service invocation's first substream is promoted, either side may open
// additional raw substreams multiplexed over the same underlying Connection
// without repeating the RequestService handshake.
//
// The session is split into two single-purpose types, Streams (pull,
// incoming) and NewStreamHandle (push, outgoing), rather than one object
// that conflates both directions.
package session

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/myelnet/hop-carrier/transport"
)

// Streams lets a Server or Client pull additional substreams the remote side
// opened on this session, in the order they arrived.
type Streams struct {
	incoming chan io.ReadWriteCloser
	closed   chan struct{}
	once     sync.Once
}

// Poll blocks until another substream arrives, ctx is done, or the session
// is closed.
func (s *Streams) Poll(ctx context.Context) (io.ReadWriteCloser, error) {
	select {
	case rw, ok := <-s.incoming:
		if !ok {
			return nil, fmt.Errorf("session: stream set closed")
		}
		return rw, nil
	case <-s.closed:
		return nil, fmt.Errorf("session: stream set closed")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// push delivers a newly arrived, already-promoted substream to Poll callers.
// Called by the peer runtime's inbound dispatch when a substream arrives for
// an already-established session.
func (s *Streams) push(rw io.ReadWriteCloser) {
	select {
	case s.incoming <- rw:
	case <-s.closed:
	}
}

// Close stops further delivery; subsequent Poll calls return an error.
func (s *Streams) Close() {
	s.once.Do(func() { close(s.closed) })
}

// NewStreamHandle lets a Server or Client open additional raw substreams on
// this session.
type NewStreamHandle struct {
	conn *transport.Connection
}

// Open opens a new substream on the underlying connection's dedicated
// session protocol and returns it as a raw, unframed byte channel: arriving
// on that protocol is itself the signal the receiving side needs to route
// the substream into this session instead of expecting a Hello handshake.
func (h NewStreamHandle) Open(ctx context.Context) (io.ReadWriteCloser, error) {
	rw, err := h.conn.OpenSessionStream(ctx)
	if err != nil {
		return nil, fmt.Errorf("session: opening substream: %w", err)
	}
	return rw, nil
}

// Session bundles the pull and push halves together with the bookkeeping
// the peer runtime needs to route freshly arrived substreams to the right
// Streams instance.
type Session struct {
	Conn    *transport.Connection
	Streams *Streams
	Handle  NewStreamHandle
}

// New constructs a Session for an established Connection. The returned
// Streams begins empty; the caller (the peer runtime) feeds it incoming
// substreams via Deliver as they arrive.
func New(conn *transport.Connection) *Session {
	streams := &Streams{
		incoming: make(chan io.ReadWriteCloser, 8),
		closed:   make(chan struct{}),
	}
	return &Session{
		Conn:    conn,
		Streams: streams,
		Handle:  NewStreamHandle{conn: conn},
	}
}

// Deliver routes a freshly arrived, already-promoted substream into this
// session's Streams, to be received by a Poll call.
func (sess *Session) Deliver(rw io.ReadWriteCloser) {
	sess.Streams.push(rw)
}

// Close stops delivery on the session's Streams. The underlying Connection
// is left open.
func (sess *Session) Close() error {
	sess.Streams.Close()
	return nil
}
