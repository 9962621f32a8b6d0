// Package identity manages the long-term keys, known fingerprints and
// instance tags of the local accounts.
//
// It enforces passphrase policy, generates Ed25519 identities through the
// store, and persists the three state files (private keys, fingerprints,
// instance tags). Fingerprints and instance tags can live in SQLite instead
// of JSON files; private keys always stay in their sealed file.
package identity
