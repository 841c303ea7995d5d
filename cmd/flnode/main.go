// Flnode — a fledger node CLI entry point.
//
// It loads (or generates) a persistent identity, connects to a signalling
// server, wires the connection manager and signalling client behind the
// network façade (spec §4.5), and runs the ping and random-connections
// sample modules on top of it.
package main

import (
	"context"
	"fmt"
	"os"
	osSignal "os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/ineiti/fledger-sub002/internal/connection"
	"github.com/ineiti/fledger-sub002/internal/modules/ping"
	"github.com/ineiti/fledger-sub002/internal/modules/randomconn"
	"github.com/ineiti/fledger-sub002/internal/network"
	"github.com/ineiti/fledger-sub002/internal/nodeid"
	"github.com/ineiti/fledger-sub002/internal/rtc"
	signalpkg "github.com/ineiti/fledger-sub002/internal/signal"
	"github.com/ineiti/fledger-sub002/internal/storage"
	"github.com/ineiti/fledger-sub002/internal/util"
)

var version = "dev"

func main() {
	var (
		name         string
		realm        string
		dataDir      string
		signalURL    string
		stunURL      string
		turnURL      string
		targetPeers  int
		pingInterval int
		pingTimeout  int
		debug        bool
		configPath   string
	)

	root := &cobra.Command{
		Use:     "flnode",
		Short:   "Fledger overlay node",
		Version: version,
		RunE: func(cmd *cobra.Command, args []string) error {
			if debug {
				util.EnableDebug()
			}
			na := nodeArgs{
				name:         name,
				realm:        realm,
				dataDir:      dataDir,
				signalURL:    signalURL,
				stunURL:      stunURL,
				turnURL:      turnURL,
				targetPeers:  targetPeers,
				pingInterval: pingInterval,
				pingTimeout:  pingTimeout,
			}
			if configPath != "" {
				fc, err := loadFileConfig(configPath)
				if err != nil {
					return err
				}
				applyFileDefaults(&na, fc, cmd.Flags().Changed)
			}
			return run(na)
		},
	}

	root.Flags().StringVar(&name, "name", "fledger-node", "display name announced to peers")
	root.Flags().StringVar(&realm, "realm", "", "realm to claim membership in")
	root.Flags().StringVar(&dataDir, "data-dir", "", "directory to persist node identity; empty means in-memory only")
	root.Flags().StringVar(&signalURL, "signal-url", "ws://127.0.0.1:8765/", "signalling server URL")
	root.Flags().StringVar(&stunURL, "stun", "", "STUN/TURN host, e.g. stun:stun.example.org:3478")
	root.Flags().StringVar(&turnURL, "turn", "", "TURN host, e.g. user:pass@turn:turn.example.org:3478")
	root.Flags().IntVar(&targetPeers, "target-peers", 4, "number of active connections the random-connections module aims for")
	root.Flags().IntVar(&pingInterval, "ping-interval", 5, "ticks of silence before re-pinging a peer")
	root.Flags().IntVar(&pingTimeout, "ping-timeout", 10, "further ticks before a silent peer is declared failed")
	root.Flags().BoolVar(&debug, "debug", false, "enable debug logging")
	root.Flags().StringVar(&configPath, "config", "", "optional TOML config file providing defaults for the flags above")

	if err := root.Execute(); err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}
}

type nodeArgs struct {
	name, realm, dataDir, signalURL, stunURL, turnURL string
	targetPeers, pingInterval, pingTimeout            int
}

func run(args nodeArgs) error {
	ctx, stop := osSignal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	store, err := openStorage(args.dataDir)
	if err != nil {
		return err
	}

	cfg, err := loadOrCreateIdentity(store, args.name, args.realm)
	if err != nil {
		return err
	}
	util.LogSuccess("flnode: identity %s (%s)", cfg.Info.ID, cfg.Info.Name)

	rtcCfg, err := rtcConnectionConfig(args.stunURL, args.turnURL)
	if err != nil {
		return err
	}

	sigClient := signalpkg.New(cfg.Info, cfg.Signer, args.signalURL, signalpkg.NewWSDialer())
	mgr := connection.NewManager(cfg.Info.ID, rtc.NewPionFactory(), rtcCfg)
	net := network.New(cfg.Info.ID, mgr, sigClient, nil)

	network.WatchStats(net)
	util.StartStatsReporter(ctx)

	pingModule := ping.New(ping.Config{Interval: uint32(args.pingInterval), Timeout: uint32(args.pingTimeout)})
	if _, err := ping.Link(pingModule, net); err != nil {
		return fmt.Errorf("flnode: wiring ping module: %w", err)
	}
	pingModule.StartTicker(time.Second)
	defer pingModule.Stop()

	randomModule := randomconn.New(randomconn.Config{Target: args.targetPeers})
	if _, err := randomconn.Link(randomModule, net); err != nil {
		return fmt.Errorf("flnode: wiring random-connections module: %w", err)
	}

	if err := net.Broker.EmitMsgIn(network.In{Kind: network.InWSUpdateListRequest}); err != nil {
		return fmt.Errorf("flnode: requesting initial peer list: %w", err)
	}

	util.LogInfo("flnode: running — Ctrl+C to stop")
	<-ctx.Done()
	util.LogInfo("flnode: shutting down")
	return nil
}

func openStorage(dataDir string) (storage.DataStorage, error) {
	if dataDir == "" {
		return storage.NewMemory(), nil
	}
	f, err := storage.NewFile(dataDir, "flnode")
	if err != nil {
		return nil, fmt.Errorf("flnode: opening data directory: %w", err)
	}
	return f, nil
}

func loadOrCreateIdentity(store storage.DataStorage, name, realm string) (nodeid.Config, error) {
	cfg, ok, err := storage.LoadNodeConfig(store)
	if err != nil {
		return nodeid.Config{}, fmt.Errorf("flnode: loading identity: %w", err)
	}
	if ok {
		if err := cfg.Validate(); err != nil {
			return nodeid.Config{}, fmt.Errorf("flnode: stored identity is invalid: %w", err)
		}
		return cfg, nil
	}

	signer, err := nodeid.NewEd25519Signer()
	if err != nil {
		return nodeid.Config{}, fmt.Errorf("flnode: generating identity: %w", err)
	}
	cfg = nodeid.NewConfig(name, nodeid.ModulePing|nodeid.ModuleRandomConnections, realm, signer)
	if err := storage.SaveNodeConfig(store, cfg); err != nil {
		return nodeid.Config{}, fmt.Errorf("flnode: persisting identity: %w", err)
	}
	return cfg, nil
}

func rtcConnectionConfig(stunURL, turnURL string) (rtc.ConnectionConfig, error) {
	var cfg rtc.ConnectionConfig
	if stunURL != "" {
		host, err := rtc.ParseHostLogin(stunURL)
		if err != nil {
			return cfg, fmt.Errorf("flnode: parsing --stun: %w", err)
		}
		cfg.STUN = &host
	}
	if turnURL != "" {
		host, err := rtc.ParseHostLogin(turnURL)
		if err != nil {
			return cfg, fmt.Errorf("flnode: parsing --turn: %w", err)
		}
		cfg.TURN = &host
	}
	return cfg, nil
}
