// Package conversation is the context manager of the engine. It owns one
// context per (account, protocol, peer, remote instance), routes outgoing
// plaintext and incoming protocol strings through the key exchange, the
// data-message ratchet and SMP, and reports everything else to the
// application through a domain.Handler.
//
// The manager never touches the network. Messages the application must
// transmit are either returned from Send or handed to Handler.InjectMessage.
//
// Contexts for the same peer share one lock; operations on different peers
// run concurrently. Handler callbacks are made with that lock held.
package conversation
