// Package crypto exposes the primitives the engine is built from.
//
// Contents
//
//   - X25519 key generation, clamping and Diffie–Hellman (GenerateX25519,
//     PublicX25519, DH, ValidX25519)
//   - Ed25519 key generation, signing and verification (GenerateEd25519,
//     SignEd25519, VerifyEd25519)
//   - Fingerprints of long-term keys (Fingerprint)
//   - HKDF expansion and per-pair session keys (Derive, SessionKeys)
//   - Passphrase key derivation for key files (ScryptKey, Argon2idKey)
//
// # Notes
//
// Returned secrets are fixed-size arrays from internal/domain. Callers wipe
// them with memzero once a key has been consumed.
package crypto
