package store

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"

	"offrecord/internal/crypto"
)

// KDF names the passphrase key derivation used for the private key file.
type KDF string

const (
	KDFScrypt   KDF = "scrypt"
	KDFArgon2id KDF = "argon2id"
)

// ParseKDF accepts "", "scrypt" and "argon2id".
func ParseKDF(s string) (KDF, error) {
	switch KDF(s) {
	case "", KDFScrypt:
		return KDFScrypt, nil
	case KDFArgon2id:
		return KDFArgon2id, nil
	default:
		return "", fmt.Errorf("store: unknown kdf %q", s)
	}
}

const (
	// The current supported version of the sealed key file.
	envelopeVersion = 1
)

// envelope is the on-disk JSON structure holding the ciphertext and KDF parameters.
type envelope struct {
	V       int    `json:"v"`
	KDF     KDF    `json:"kdf"`
	Salt    []byte `json:"salt"`
	N       int    `json:"scrypt_N,omitempty"`
	R       int    `json:"scrypt_r,omitempty"`
	P       int    `json:"scrypt_p,omitempty"`
	Time    uint32 `json:"argon2_t,omitempty"`
	Memory  uint32 `json:"argon2_m,omitempty"`
	Threads uint8  `json:"argon2_p,omitempty"`
	Cipher  []byte `json:"cipher"`
}

// Tunables for scrypt key derivation.
func scryptParamsDefault() (N, r, p int) { return 1 << 15, 8, 1 }

func (e *envelope) key(passphrase string) ([]byte, error) {
	switch e.KDF {
	case KDFScrypt:
		return crypto.ScryptKey(passphrase, e.Salt, e.N, e.R, e.P)
	case KDFArgon2id:
		if e.Time == 0 || e.Memory == 0 || e.Threads == 0 {
			return nil, errors.New("missing argon2 parameters")
		}
		return crypto.Argon2idKey(passphrase, e.Salt, e.Time, e.Memory, e.Threads), nil
	default:
		return nil, fmt.Errorf("unknown kdf %q", e.KDF)
	}
}

// seal derives a key from passphrase and encrypts raw into a JSON envelope.
func seal(kdf KDF, passphrase string, raw []byte) ([]byte, error) {
	e := envelope{V: envelopeVersion, KDF: kdf, Salt: make([]byte, 16)}
	if _, err := rand.Read(e.Salt); err != nil {
		return nil, err
	}
	switch kdf {
	case KDFArgon2id:
		e.Time, e.Memory, e.Threads = crypto.Argon2Time, crypto.Argon2Memory, crypto.Argon2Threads
	default:
		e.KDF = KDFScrypt
		e.N, e.R, e.P = scryptParamsDefault()
	}
	key, err := e.key(passphrase)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	var nonce [chacha20poly1305.NonceSize]byte // zero nonce; salt-bound key is never reused
	e.Cipher = aead.Seal(nil, nonce[:], raw, e.Salt)
	return json.Marshal(e)
}

// isSealed reports whether b looks like an envelope rather than a plain key file.
func isSealed(b []byte) bool {
	var probe struct {
		Cipher []byte `json:"cipher"`
	}
	return json.Unmarshal(b, &probe) == nil && probe.Cipher != nil
}

// open decrypts an envelope produced by seal.
func open(passphrase string, b []byte) ([]byte, error) {
	var e envelope
	if err := json.Unmarshal(b, &e); err != nil {
		return nil, err
	}
	if e.V > envelopeVersion {
		return nil, fmt.Errorf("unsupported key file version %d", e.V)
	}
	key, err := e.key(passphrase)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	var nonce [chacha20poly1305.NonceSize]byte
	pt, err := aead.Open(nil, nonce[:], e.Cipher, e.Salt)
	if err != nil {
		return nil, ErrWrongPassphrase
	}
	return pt, nil
}
