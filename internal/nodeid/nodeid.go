// Package nodeid holds the node identity types shared across the substrate:
// NodeID, NodeInfo, NodeConfig, and the Signer collaborator. Cryptographic
// primitives themselves are consumed as opaque verifiers, per spec — this
// package defines the shapes, the hash used to derive an ID from a public
// verifier, and one concrete ed25519-backed Signer (signer_ed25519.go).
package nodeid

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// Size is the width of a NodeID in bytes (256 bits).
const Size = 32

// ID is a 256-bit opaque identifier derived by hashing a node's public
// verifier. Equality is bytewise.
type ID [Size]byte

// FromVerifier derives the NodeID of a public verifier by hashing it.
func FromVerifier(verifier []byte) ID {
	return ID(blake2b.Sum256(verifier))
}

// Random returns a NodeID drawn from a cryptographically secure source, for
// tests and for bootstrapping a node without a real signer.
func Random() ID {
	var id ID
	if _, err := rand.Read(id[:]); err != nil {
		panic("nodeid: system randomness unavailable: " + err.Error())
	}
	return id
}

// String renders the NodeID as grouped hex, e.g. "a1b2c3d4-e5f60718-...".
func (id ID) String() string {
	h := hex.EncodeToString(id[:])
	out := make([]byte, 0, len(h)+len(h)/8)
	for i, c := range h {
		if i > 0 && i%8 == 0 {
			out = append(out, '-')
		}
		out = append(out, byte(c))
	}
	return string(out)
}

// IsZero reports whether id is the zero value.
func (id ID) IsZero() bool { return id == ID{} }

// Module is a bitset flag identifying an application module a node claims
// to run, carried in NodeInfo and used by modules to filter peers.
type Module uint32

const (
	ModuleChat Module = 1 << iota
	ModuleWebProxy
	ModuleGossipEvents
	ModuleDHTRouting
	ModulePing
	ModuleRandomConnections
)

// Has reports whether the bitset includes m.
func (mods Module) Has(m Module) bool { return mods&m != 0 }

// Info maps a NodeID to the information announced about it: a short
// display name, the bitset of modules it claims to run, the opaque realm
// it claims membership in, and its opaque public verifier. Info is what
// gets serialised into signalling Announce messages and gossiped between
// nodes.
type Info struct {
	ID       ID     `json:"id" yaml:"id"`
	Name     string `json:"name" yaml:"name"`
	Modules  Module `json:"modules" yaml:"modules"`
	Realm    string `json:"realm,omitempty" yaml:"realm,omitempty"`
	Verifier []byte `json:"verifier" yaml:"verifier"`
}

// Signer is the opaque private-key collaborator a node uses to sign its
// Announce challenge. The ed25519 implementation lives in this package as
// Ed25519Signer; callers consume Signer purely through this interface, per
// the spec's "cryptographic primitives are consumed as opaque verifiers and
// IDs" non-goal.
type Signer interface {
	// Sign returns a signature over msg.
	Sign(msg []byte) ([]byte, error)
	// Verifier returns the public key bytes that identify this signer.
	Verifier() []byte
}

// Config is the local bundle a node loads or generates at startup: its own
// Info plus the Signer used to prove ownership of that Info's verifier.
type Config struct {
	Info   Info
	Signer Signer
}

// NewConfig builds a Config from a signer and a display name, deriving the
// NodeID and Verifier from the signer itself. realm may be empty if the
// node claims no particular realm membership.
func NewConfig(name string, mods Module, realm string, signer Signer) Config {
	verifier := signer.Verifier()
	return Config{
		Info: Info{
			ID:       FromVerifier(verifier),
			Name:     name,
			Modules:  mods,
			Realm:    realm,
			Verifier: verifier,
		},
		Signer: signer,
	}
}

// Validate checks that the Config's Info.ID actually matches the hash of
// its Signer's verifier — a basic sanity check run at startup and whenever
// a Config is loaded from persistence.
func (c Config) Validate() error {
	want := FromVerifier(c.Signer.Verifier())
	if want != c.Info.ID {
		return fmt.Errorf("nodeid: config ID %s does not match signer verifier (derives %s)", c.Info.ID, want)
	}
	return nil
}
