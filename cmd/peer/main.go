// Command peer runs a fabric peer that logs into a bearer, serves the
// builtin echo and ping services, and can optionally invoke a named service
// on another peer given on the command line.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/peterbourgon/ff/v2/ffcli"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/myelnet/hop-carrier/examples/echo"
	pingsvc "github.com/myelnet/hop-carrier/examples/ping"
	"github.com/myelnet/hop-carrier/identity"
	"github.com/myelnet/hop-carrier/peer"
	"github.com/myelnet/hop-carrier/service"
)

func main() {
	fs := flag.NewFlagSet("peer", flag.ExitOnError)
	var (
		identityPath = fs.String("identity", "", "path to a PEM private key file; a fresh key is generated if empty")
		listenAddr   = fs.String("listen", "/ip4/0.0.0.0/tcp/0", "multiaddr to listen on")
		bearerAddr   = fs.String("bearer", "", "bearer multiaddr to log into, e.g. /ip4/1.2.3.4/tcp/22222/p2p/<id>")
		enableMDNS   = fs.Bool("mdns", false, "enable local-network peer discovery via mDNS")
		target       = fs.String("target", "", "peer ID to request a service from; if empty, just serve")
		serviceName  = fs.String("service", "echo", "service name to request from -target (echo or ping)")
		verbose      = fs.Bool("v", false, "enable debug logging")
	)

	cmd := &ffcli.Command{
		Name:       "peer",
		ShortUsage: "peer [flags]",
		ShortHelp:  "Run a fabric peer, optionally requesting a service from another peer",
		FlagSet:    fs,
		Exec: func(ctx context.Context, args []string) error {
			if *verbose {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			}

			b := peer.NewBuilder().
				WithListenAddrs(*listenAddr).
				EnableMDNS(*enableMDNS).
				RegisterService(identity.ServiceName(echo.Name), func() service.Server { return &echo.Server{} }).
				RegisterService(identity.ServiceName(pingsvc.Name), func() service.Server { return pingsvc.Server{} })
			if *identityPath != "" {
				b = b.WithIdentityFile(*identityPath)
			}
			if *bearerAddr != "" {
				b = b.AddBearer(*bearerAddr)
			}

			rt, err := b.Build(ctx)
			if err != nil {
				return fmt.Errorf("peer: %w", err)
			}
			defer rt.Close()

			log.Info().Str("peer", rt.ID().String()).Msg("peer started")

			if *target != "" {
				targetID, err := identity.Parse(*target)
				if err != nil {
					return fmt.Errorf("peer: parsing -target: %w", err)
				}
				return runTarget(ctx, rt, targetID, *serviceName)
			}

			ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer cancel()
			<-ctx.Done()
			return nil
		},
	}

	if err := cmd.ParseAndRun(context.Background(), os.Args[1:]); err != nil {
		log.Fatal().Err(err).Msg("peer exited")
	}
}

func runTarget(ctx context.Context, rt *peer.Runtime, target identity.PeerIdentity, name string) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	switch name {
	case pingsvc.Name:
		rtt, err := peer.RunService[time.Duration](ctx, rt, target, identity.ServiceName(name), pingsvc.Client{})
		if err != nil {
			return fmt.Errorf("peer: ping %s: %w", target, err)
		}
		log.Info().Str("target", target.String()).Dur("rtt", rtt).Msg("ping complete")
		return nil
	default:
		data, err := peer.RunService[[]byte](ctx, rt, target, identity.ServiceName(name), &echo.Client{ExpectStreams: 0})
		if err != nil {
			return fmt.Errorf("peer: %s %s: %w", name, target, err)
		}
		log.Info().Str("target", target.String()).Int("bytes", len(data)).Msg("service complete")
		return nil
	}
}
