package peer

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p-core/peer"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	ma "github.com/multiformats/go-multiaddr"
	"github.com/rs/zerolog/log"

	"github.com/myelnet/hop-carrier/conn"
	"github.com/myelnet/hop-carrier/identity"
	"github.com/myelnet/hop-carrier/registry"
	"github.com/myelnet/hop-carrier/rendezvous"
	"github.com/myelnet/hop-carrier/session"
	"github.com/myelnet/hop-carrier/transport"
)

// mdnsServiceTag names this fabric's mDNS advertisement.
const mdnsServiceTag = "hop-carrier"

// reconnectSchedule is the bearer-reconnect backoff: 1s, 2s, 5s, 10s, then
// 30s forever. It is a fixed table rather than jpillora/backoff's
// exponential model because these values don't fit a single
// min/max/factor curve.
var reconnectSchedule = []time.Duration{
	1 * time.Second,
	2 * time.Second,
	5 * time.Second,
	10 * time.Second,
	30 * time.Second,
}

func reconnectDelay(attempt int) time.Duration {
	if attempt < len(reconnectSchedule) {
		return reconnectSchedule[attempt]
	}
	return reconnectSchedule[len(reconnectSchedule)-1]
}

// Runtime is the running peer: its Transport Facade, service registry,
// rendezvous bookkeeping, and the set of active per-remote-peer sessions.
type Runtime struct {
	facade   *transport.Facade
	registry *registry.Registry
	rendez   *rendezvous.Registry

	bearerAddrs []ma.Multiaddr

	mu             sync.Mutex
	sessions       map[identity.PeerIdentity]*session.Session
	activeBearer   *transport.Substream
	activeBearerID peer.ID
	mdnsService    mdns.Service
	done           chan struct{}
	closeOnce      sync.Once
	wg             sync.WaitGroup
	cancelBearers  context.CancelFunc
}

func newRuntime(facade *transport.Facade, reg *registry.Registry, bearerAddrs []ma.Multiaddr) *Runtime {
	return &Runtime{
		facade:      facade,
		registry:    reg,
		rendez:      rendezvous.New(),
		bearerAddrs: bearerAddrs,
		sessions:    make(map[identity.PeerIdentity]*session.Session),
		done:        make(chan struct{}),
	}
}

// ID returns the local peer's identity.
func (rt *Runtime) ID() identity.PeerIdentity {
	return rt.facade.ID()
}

// Addrs returns the local peer's currently known listen addresses.
func (rt *Runtime) Addrs() []ma.Multiaddr {
	return rt.facade.Addrs()
}

// Facade exposes the underlying Transport Facade, e.g. for the builtin ping
// service which needs the raw libp2p host.
func (rt *Runtime) Facade() *transport.Facade {
	return rt.facade
}

// Lookup implements conn.BearerDirectory: a peer is "known" to this runtime
// if it currently has an active session, which covers both peers that
// dialed in directly and peers using this runtime as their bearer.
func (rt *Runtime) Lookup(target identity.PeerIdentity) bool {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	_, ok := rt.sessions[target]
	return ok
}

func (rt *Runtime) sessionFor(remote identity.PeerIdentity, conn *transport.Connection) *session.Session {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if sess, ok := rt.sessions[remote]; ok {
		return sess
	}
	sess := session.New(conn)
	rt.sessions[remote] = sess
	return sess
}

// SessionFor returns the active Session for remote, creating one bound to
// conn if none exists yet.
func (rt *Runtime) SessionFor(remote identity.PeerIdentity, conn *transport.Connection) *session.Session {
	return rt.sessionFor(remote, conn)
}

func (rt *Runtime) start(ctx context.Context) {
	bearerCtx, cancel := context.WithCancel(ctx)
	rt.cancelBearers = cancel

	rt.facade.SetIncomingHandler(func(s *transport.Substream) {
		rt.wg.Add(1)
		go func() {
			defer rt.wg.Done()
			rt.handleIncoming(ctx, s)
		}()
	})

	rt.facade.SetSessionHandler(func(remote identity.PeerIdentity, rw io.ReadWriteCloser) {
		c := rt.connectionFor(remote)
		sess := rt.sessionFor(remote, c)
		sess.Deliver(rw)
	})

	if len(rt.bearerAddrs) > 0 {
		rt.wg.Add(1)
		go func() {
			defer rt.wg.Done()
			rt.maintainBearers(bearerCtx)
		}()
	}
}

func (rt *Runtime) handleIncoming(ctx context.Context, s *transport.Substream) {
	remote := s.RemotePeer()
	c := rt.connectionFor(remote)
	sess := rt.sessionFor(remote, c)

	h := conn.New(s, rt.registry, rt, rt.rendez, sess)
	result, err := h.Run(ctx)
	if err != nil {
		log.Debug().Err(err).Str("peer", remote.String()).Str("final_state", result.FinalState.String()).
			Msg("connection handler exited")
		_ = s.Close()
		return
	}
	if result.FinalState == conn.Serving {
		log.Info().Str("peer", remote.String()).Str("service", string(result.ServiceName)).
			Msg("served inbound request")
	}
}

// connectionFor builds a transport.Connection handle for a peer we are
// already connected to at the libp2p layer (true for every remote peer that
// can open an inbound substream to us).
func (rt *Runtime) connectionFor(remote identity.PeerIdentity) *transport.Connection {
	return transport.NewConnection(rt.facade, remote)
}

// maintainBearers keeps at most one bearer link active at a time, advancing
// through rt.bearerAddrs in round-robin order each time the current
// candidate fails to connect or its link is lost, rather than running one
// independent reconnect loop per configured address.
func (rt *Runtime) maintainBearers(ctx context.Context) {
	idx := 0
	attempt := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		addr := rt.bearerAddrs[idx]
		info, err := peer.AddrInfoFromP2pAddr(addr)
		if err != nil {
			log.Error().Err(err).Str("addr", addr.String()).Msg("invalid bearer address")
			idx = (idx + 1) % len(rt.bearerAddrs)
			continue
		}

		c, err := rt.facade.Connect(ctx, *info)
		if err != nil {
			log.Warn().Err(err).Str("bearer", info.ID.String()).Int("attempt", attempt).
				Msg("bearer connect failed, backing off")
			idx = (idx + 1) % len(rt.bearerAddrs)
			select {
			case <-time.After(reconnectDelay(attempt)):
				attempt++
				continue
			case <-ctx.Done():
				return
			}
		}

		s, err := c.OpenSubstream(ctx)
		if err != nil {
			log.Warn().Err(err).Str("bearer", info.ID.String()).Msg("opening bearer substream failed")
			idx = (idx + 1) % len(rt.bearerAddrs)
			select {
			case <-time.After(reconnectDelay(attempt)):
				attempt++
				continue
			case <-ctx.Done():
				return
			}
		}

		rt.mu.Lock()
		rt.activeBearer = s
		rt.activeBearerID = info.ID
		rt.mu.Unlock()

		attempt = 0
		sess := rt.sessionFor(identity.FromLibp2p(info.ID), c)
		h := conn.New(s, rt.registry, rt, rt.rendez, sess)
		_, err = h.Run(ctx)

		rt.mu.Lock()
		if rt.activeBearer == s {
			rt.activeBearer = nil
			rt.activeBearerID = ""
		}
		rt.mu.Unlock()
		rt.rendez.CloseAll()

		if ctx.Err() != nil {
			return
		}
		log.Warn().Err(err).Str("bearer", info.ID.String()).Msg("bearer link lost, reconnecting")
		idx = (idx + 1) % len(rt.bearerAddrs)
	}
}

// BearerLink returns the currently active bearer substream, or nil if no
// bearer link is up.
func (rt *Runtime) BearerLink() *transport.Substream {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.activeBearer
}

// BearerID returns the peer ID of the currently active bearer, or "" if no
// bearer link is up.
func (rt *Runtime) BearerID() peer.ID {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.activeBearerID
}

// Rendezvous returns the runtime's pending-rendezvous registry, used to
// construct a rendezvous.Client bound to the current bearer link.
func (rt *Runtime) Rendezvous() *rendezvous.Registry {
	return rt.rendez
}

func (rt *Runtime) startMDNS() error {
	svc := mdns.NewMdnsService(rt.facade.Host(), mdnsServiceTag, &mdnsNotifee{rt: rt})
	if err := svc.Start(); err != nil {
		return fmt.Errorf("peer.Runtime: starting mdns: %w", err)
	}
	rt.mdnsService = svc
	return nil
}

type mdnsNotifee struct{ rt *Runtime }

func (n *mdnsNotifee) HandlePeerFound(info peer.AddrInfo) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := n.rt.facade.Connect(ctx, info); err != nil {
		log.Debug().Err(err).Str("peer", info.ID.String()).Msg("mdns-discovered peer connect failed")
	}
}

// Wait blocks until the runtime is closed.
func (rt *Runtime) Wait() {
	<-rt.done
}

// Close stops all bearer maintenance goroutines, shuts down mDNS if
// running, closes the local host, and unblocks Wait.
func (rt *Runtime) Close() error {
	var err error
	rt.closeOnce.Do(func() {
		if rt.cancelBearers != nil {
			rt.cancelBearers()
		}
		if rt.mdnsService != nil {
			_ = rt.mdnsService.Close()
		}
		// Closing the host first ends every open stream, so handlers blocked
		// reading a substream return and wg.Wait can complete.
		err = rt.facade.Close()
		rt.wg.Wait()
		close(rt.done)
	})
	return err
}
