package nodeid

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
)

// ErrBadSignature is returned by Verify when a signature does not match the
// message under the given verifier.
var ErrBadSignature = errors.New("nodeid: signature does not match message")

// Ed25519Signer is the concrete Signer used by node binaries, grounded on
// the original implementation's ed25519-backed signer.
type Ed25519Signer struct {
	private ed25519.PrivateKey
	public  ed25519.PublicKey
}

// NewEd25519Signer generates a fresh keypair.
func NewEd25519Signer() (*Ed25519Signer, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return &Ed25519Signer{private: priv, public: pub}, nil
}

// Ed25519SignerFromSeed rebuilds a signer from a persisted 32-byte seed,
// used when loading a NodeConfig from storage.
func Ed25519SignerFromSeed(seed []byte) (*Ed25519Signer, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, errors.New("nodeid: invalid ed25519 seed length")
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return &Ed25519Signer{private: priv, public: priv.Public().(ed25519.PublicKey)}, nil
}

// Seed returns the private seed, for persistence.
func (s *Ed25519Signer) Seed() []byte {
	return s.private.Seed()
}

// Sign implements Signer.
func (s *Ed25519Signer) Sign(msg []byte) ([]byte, error) {
	return ed25519.Sign(s.private, msg), nil
}

// Verifier implements Signer.
func (s *Ed25519Signer) Verifier() []byte {
	return append([]byte(nil), s.public...)
}

// VerifyEd25519 checks sig over msg under the opaque verifier bytes
// produced by Ed25519Signer.Verifier. It is the verification half kept
// outside the Signer interface, per spec §1: signature verification is a
// consumed primitive, not part of the node's own identity.
func VerifyEd25519(verifier, msg, sig []byte) error {
	if len(verifier) != ed25519.PublicKeySize {
		return errors.New("nodeid: invalid verifier length")
	}
	if !ed25519.Verify(ed25519.PublicKey(verifier), msg, sig) {
		return ErrBadSignature
	}
	return nil
}
