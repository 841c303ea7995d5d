package main

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

// fileConfig is the TOML-loadable subset of nodeArgs, letting an operator
// check a config file into a deployment instead of repeating flags.
// Command-line flags always win over values loaded from file.
type fileConfig struct {
	Name         string `toml:"name"`
	Realm        string `toml:"realm"`
	DataDir      string `toml:"data_dir"`
	SignalURL    string `toml:"signal_url"`
	STUN         string `toml:"stun"`
	TURN         string `toml:"turn"`
	TargetPeers  int    `toml:"target_peers"`
	PingInterval int    `toml:"ping_interval"`
	PingTimeout  int    `toml:"ping_timeout"`
}

func loadFileConfig(path string) (fileConfig, error) {
	var fc fileConfig
	if _, err := toml.DecodeFile(path, &fc); err != nil {
		return fileConfig{}, fmt.Errorf("flnode: decoding config %s: %w", path, err)
	}
	return fc, nil
}

// applyFileDefaults fills any field in args left at its flag default with
// the corresponding non-zero value from fc, called only for flags the user
// did not pass explicitly.
func applyFileDefaults(args *nodeArgs, fc fileConfig, changed func(flag string) bool) {
	if !changed("name") && fc.Name != "" {
		args.name = fc.Name
	}
	if !changed("realm") && fc.Realm != "" {
		args.realm = fc.Realm
	}
	if !changed("data-dir") && fc.DataDir != "" {
		args.dataDir = fc.DataDir
	}
	if !changed("signal-url") && fc.SignalURL != "" {
		args.signalURL = fc.SignalURL
	}
	if !changed("stun") && fc.STUN != "" {
		args.stunURL = fc.STUN
	}
	if !changed("turn") && fc.TURN != "" {
		args.turnURL = fc.TURN
	}
	if !changed("target-peers") && fc.TargetPeers != 0 {
		args.targetPeers = fc.TargetPeers
	}
	if !changed("ping-interval") && fc.PingInterval != 0 {
		args.pingInterval = fc.PingInterval
	}
	if !changed("ping-timeout") && fc.PingTimeout != 0 {
		args.pingTimeout = fc.PingTimeout
	}
}
