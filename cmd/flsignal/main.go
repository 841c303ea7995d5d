// Flsignal — the signalling server CLI entry point.
//
// It listens for WebSocket connections from nodes, runs the
// challenge/Announce handshake, and relays PeerSetup envelopes and
// node-list requests between them, per spec §4.6.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/ineiti/fledger-sub002/internal/signalserver"
	"github.com/ineiti/fledger-sub002/internal/util"
)

var version = "dev"

func main() {
	var (
		addr        string
		systemRealm string
		maxListLen  int
		ttlMinutes  int
		debug       bool
	)

	root := &cobra.Command{
		Use:     "flsignal",
		Short:   "Fledger signalling server",
		Version: version,
		RunE: func(cmd *cobra.Command, args []string) error {
			if debug {
				util.EnableDebug()
			}
			return run(addr, systemRealm, maxListLen, ttlMinutes)
		},
	}

	root.Flags().StringVar(&addr, "listen", ":8765", "address to listen on")
	root.Flags().StringVar(&systemRealm, "system-realm", "", "if set, restrict the node list to members of this realm")
	root.Flags().IntVar(&maxListLen, "max-list-len", 0, "maximum number of nodes returned per list request, 0 for unbounded")
	root.Flags().IntVar(&ttlMinutes, "ttl-minutes", 2, "minutes of silence before a node is evicted")
	root.Flags().BoolVar(&debug, "debug", false, "enable debug logging")

	if err := root.Execute(); err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}
}

func run(addr, systemRealm string, maxListLen, ttlMinutes int) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cfg := signalserver.Config{
		TTL:         time.Duration(ttlMinutes) * time.Minute,
		SystemRealm: systemRealm,
		MaxListLen:  maxListLen,
	}
	srv := signalserver.New(cfg)
	bound, err := srv.Listen(addr)
	if err != nil {
		return fmt.Errorf("flsignal: listening on %s: %w", addr, err)
	}
	defer srv.Close()

	util.LogSuccess("flsignal: listening on %s", bound)
	if systemRealm != "" {
		util.LogInfo("flsignal: restricting to system realm %q", systemRealm)
	}

	<-ctx.Done()
	util.LogInfo("flsignal: shutting down (%d nodes connected)", srv.NodeCount())
	return nil
}
