package crypto

import (
	"crypto/sha256"

	"offrecord/internal/domain"
)

// Fingerprint hashes a long-term public key with SHA-256 and truncates it
// to domain.FingerprintSize bytes.
func Fingerprint(pub domain.Ed25519Public) domain.Fingerprint {
	sum := sha256.Sum256(pub[:])
	var fp domain.Fingerprint
	copy(fp[:], sum[:domain.FingerprintSize])
	return fp
}
