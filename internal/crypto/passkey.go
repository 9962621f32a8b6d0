package crypto

import (
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/scrypt"
)

// Argon2id tunables for passphrase-derived keys.
const (
	Argon2Time    = 1
	Argon2Memory  = 64 * 1024
	Argon2Threads = 4
)

// ScryptKey derives a ChaCha20-Poly1305 key from a passphrase.
func ScryptKey(passphrase string, salt []byte, n, r, p int) ([]byte, error) {
	return scrypt.Key([]byte(passphrase), salt, n, r, p, chacha20poly1305.KeySize)
}

// Argon2idKey derives a ChaCha20-Poly1305 key from a passphrase.
func Argon2idKey(passphrase string, salt []byte, time, memory uint32, threads uint8) []byte {
	return argon2.IDKey([]byte(passphrase), salt, time, memory, threads, chacha20poly1305.KeySize)
}
