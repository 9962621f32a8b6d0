// Package ratchet encrypts and decrypts data messages and rotates the DH
// keys they are protected with.
//
// Each side holds two of its own DH keys (previous and current) and two of
// the peer's. A message is sent with our previous key and announces our
// current key; once the peer addresses our current key we generate a new
// one and forget the oldest. Every (our key, their key) pair has its own
// session: per-direction hash chains yield a fresh message key for every
// counter value and the chain key is wiped as it advances. MAC keys of
// retired sessions are revealed in the next outgoing message.
//
// Received counters are tracked with an antireplay.Window; skipped message
// keys are cached up to a bound so late messages still decrypt.
//
// Concurrency: a Ratchet is NOT safe for concurrent use. Callers must
// serialise access per conversation.
package ratchet
