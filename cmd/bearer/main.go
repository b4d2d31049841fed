// Command bearer runs a standalone peer whose only purpose is to act as a
// rendezvous relay for other peers: it registers no services
// and never originates a RunService call of its own.
//
// The -identity and -listen-port flags stand in for CARRIER_KEY_PATH and
// CARRIER_LISTEN_PORT, the environment variables a reference carrier-server
// binary reads. This command reads flags only: it does not consult those
// environment variables, and it has no certificate-path flag.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/peterbourgon/ff/v2/ffcli"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/myelnet/hop-carrier/peer"
)

func main() {
	fs := flag.NewFlagSet("bearer", flag.ExitOnError)
	var (
		identityPath = fs.String("identity", "", "path to a PEM private key file (CARRIER_KEY_PATH); a fresh key is generated if empty")
		listenPort   = fs.Int("listen-port", 22222, "TCP port to listen on (CARRIER_LISTEN_PORT)")
		verbose      = fs.Bool("v", false, "enable debug logging")
	)

	cmd := &ffcli.Command{
		Name:       "bearer",
		ShortUsage: "bearer [flags]",
		ShortHelp:  "Run a bearer: a rendezvous relay for other peers",
		FlagSet:    fs,
		Options:    nil,
		Exec: func(ctx context.Context, args []string) error {
			if *verbose {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			}

			b := peer.NewBuilder().
				AsBearer().
				WithListenAddrs(fmt.Sprintf("/ip4/0.0.0.0/tcp/%d", *listenPort))
			if *identityPath != "" {
				b = b.WithIdentityFile(*identityPath)
			}

			rt, err := b.Build(ctx)
			if err != nil {
				return fmt.Errorf("bearer: %w", err)
			}
			defer rt.Close()

			log.Info().Str("peer", rt.ID().String()).Msg("bearer listening")
			for _, addr := range rt.Addrs() {
				log.Info().Str("addr", addr.String()).Msg("listening address")
			}

			ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer cancel()
			<-ctx.Done()
			return nil
		},
	}

	if err := cmd.ParseAndRun(context.Background(), os.Args[1:]); err != nil {
		log.Fatal().Err(err).Msg("bearer exited")
	}
}
