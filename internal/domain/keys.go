package domain

import "fmt"

// ------------- X25519 -------------

// X25519Private is a clamped Curve25519 scalar used for the AKE and the
// data-message key rotation.
type X25519Private [32]byte

// X25519Public is a Curve25519 point advertised on the wire.
type X25519Public [32]byte

func (k X25519Private) Slice() []byte { return k[:] }
func (k X25519Public) Slice() []byte  { return k[:] }

// IsZero reports whether the key was never set.
func (k X25519Public) IsZero() bool { return k == X25519Public{} }

func MustX25519Public(b []byte) X25519Public {
	if len(b) != 32 {
		panic(fmt.Errorf("X25519 public: want 32 bytes, got %d", len(b)))
	}
	var out X25519Public
	copy(out[:], b)
	return out
}

// ------------- Ed25519 -------------

// Ed25519Private is the long-term signing key of an account.
type Ed25519Private [64]byte

// Ed25519Public is the long-term verification key a fingerprint is computed from.
type Ed25519Public [32]byte

func (k Ed25519Private) Slice() []byte { return k[:] }
func (k Ed25519Public) Slice() []byte  { return k[:] }

// Public returns the public half embedded in an Ed25519 private key.
func (k Ed25519Private) Public() Ed25519Public {
	var pub Ed25519Public
	copy(pub[:], k[32:])
	return pub
}

// ParseEd25519Private copies b into a private key, rejecting wrong lengths.
func ParseEd25519Private(b []byte) (Ed25519Private, error) {
	var out Ed25519Private
	if len(b) != len(out) {
		return out, fmt.Errorf("Ed25519 private: want %d bytes, got %d", len(out), len(b))
	}
	copy(out[:], b)
	return out, nil
}

// ParseEd25519Public copies b into a public key, rejecting wrong lengths.
func ParseEd25519Public(b []byte) (Ed25519Public, error) {
	var out Ed25519Public
	if len(b) != len(out) {
		return out, fmt.Errorf("Ed25519 public: want %d bytes, got %d", len(out), len(b))
	}
	copy(out[:], b)
	return out, nil
}
