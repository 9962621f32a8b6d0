// Package store keeps the long-term state of the engine: identity keys per
// (account, protocol), the fingerprints seen for each contact with their
// trust level, and the local instance tags.
//
// State lives in memory behind a single RWMutex and is persisted as
// versioned JSON files written through a temp file and rename. The private
// key file can be sealed under a passphrase (scrypt or Argon2id, then
// ChaCha20-Poly1305). Fingerprints and instance tags can alternatively be
// kept in SQLite via SQLiteBackend.
//
// Loading is all or nothing: a file is decoded and validated into a scratch
// value first and replaces the in-memory section only on success.
package store
