package storage

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/ineiti/fledger-sub002/internal/nodeid"
)

const nodeConfigKey = "node_config"

// persistedConfig is the YAML-serializable mirror of nodeid.Config: the
// signer's seed travels alongside the public Info so a restarted node keeps
// its identity.
type persistedConfig struct {
	Info nodeid.Info `yaml:"info"`
	Seed []byte      `yaml:"seed"`
}

// LoadNodeConfig reads the node's identity from store, or reports ok=false
// if none has been saved yet.
func LoadNodeConfig(store DataStorage) (nodeid.Config, bool, error) {
	raw, ok := store.Get(nodeConfigKey)
	if !ok {
		return nodeid.Config{}, false, nil
	}
	var pc persistedConfig
	if err := yaml.Unmarshal(raw, &pc); err != nil {
		return nodeid.Config{}, false, fmt.Errorf("storage: decoding node config: %w", err)
	}
	signer, err := nodeid.Ed25519SignerFromSeed(pc.Seed)
	if err != nil {
		return nodeid.Config{}, false, fmt.Errorf("storage: restoring signer: %w", err)
	}
	return nodeid.Config{Info: pc.Info, Signer: signer}, true, nil
}

// SaveNodeConfig persists cfg's identity so it survives a restart.
func SaveNodeConfig(store DataStorage, cfg nodeid.Config) error {
	signer, ok := cfg.Signer.(*nodeid.Ed25519Signer)
	if !ok {
		return fmt.Errorf("storage: signer of type %T cannot be persisted", cfg.Signer)
	}
	raw, err := yaml.Marshal(persistedConfig{Info: cfg.Info, Seed: signer.Seed()})
	if err != nil {
		return fmt.Errorf("storage: encoding node config: %w", err)
	}
	return store.Set(nodeConfigKey, raw)
}
