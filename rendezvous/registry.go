// Package rendezvous implements the bearer-mediated NAT-traversal handshake:
// an initiator asks its bearer to relay a ConnectToPeer message to a target
// peer, then races a direct hole-punched connection attempt against a
// PeerNotFound notice relayed back over the bearer link.
package rendezvous

import (
	"fmt"
	"sync"

	"github.com/myelnet/hop-carrier/wire"
)

// Notice is a signal delivered to a pending rendezvous attempt out-of-band
// from the direct connection race.
type Notice int

const (
	// PeerNotFound mirrors wire.PeerNotFound: the bearer could not locate or
	// reach the target.
	PeerNotFound Notice = iota
	// BearerClosed reports that the link to the bearer was lost while this
	// attempt was still pending, which makes any eventual reply undeliverable.
	BearerClosed
)

// Registry tracks ConnectionIDs this peer originated and is still waiting to
// hear back about, so an inbound PeerNotFound (or the loss of the bearer
// link) can be routed to the right waiter instead of treating a late notice
// as a fatal protocol error.
type Registry struct {
	mu      sync.Mutex
	pending map[wire.ConnectionID]chan Notice
	nextID  wire.ConnectionID
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{pending: make(map[wire.ConnectionID]chan Notice)}
}

// NextID returns a ConnectionID not currently in use by a pending attempt;
// an ID is never reused while still pending.
func (r *Registry) NextID() wire.ConnectionID {
	r.mu.Lock()
	defer r.mu.Unlock()
	for {
		r.nextID++
		if _, inUse := r.pending[r.nextID]; !inUse {
			return r.nextID
		}
	}
}

// Register opens a waiting slot for id and returns the channel that Deliver
// will send to.
func (r *Registry) Register(id wire.ConnectionID) <-chan Notice {
	ch := make(chan Notice, 1)
	r.mu.Lock()
	r.pending[id] = ch
	r.mu.Unlock()
	return ch
}

// Forget removes the waiting slot for id, called once the attempt completes
// by any path (success, notice, or timeout) so late deliveries are dropped
// rather than leaking.
func (r *Registry) Forget(id wire.ConnectionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pending, id)
}

// Deliver routes a notice to the waiter registered for id, if any. It
// returns an error if no attempt is currently pending for id, which the
// caller should treat as a protocol violation rather than a fatal
// condition: the bearer may be replying to an attempt this peer already
// gave up on.
func (r *Registry) Deliver(id wire.ConnectionID, n Notice) error {
	r.mu.Lock()
	ch, ok := r.pending[id]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("rendezvous: notice for unknown connection id %d", id)
	}
	select {
	case ch <- n:
	default:
	}
	return nil
}

// CloseAll delivers BearerClosed to every still-pending attempt, called when
// the link to the bearer is lost.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, ch := range r.pending {
		select {
		case ch <- BearerClosed:
		default:
		}
		delete(r.pending, id)
	}
}
