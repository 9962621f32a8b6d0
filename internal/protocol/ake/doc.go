// Package ake implements the authenticated Diffie-Hellman key exchange that
// opens a private conversation.
//
// The initiator commits to its DH value by sending it encrypted under a
// random key together with its hash (DH-Commit). The responder answers with
// its own value (DH-Key). The initiator then reveals the commitment key and
// sends its identity key and a signature over the exchange, encrypted and
// MACed under keys derived from the shared secret (Reveal-Signature). The
// responder verifies, answers with its own signature (Signature) and both
// sides hold the same session keys.
//
//	None ──StartAKE──▶ AwaitingDHKey ──DH-Key──▶ AwaitingSig ──Sig──▶ done
//	None ──DH-Commit─▶ AwaitingRevealSig ──Reveal-Signature──▶ done
//
// If both sides send a DH-Commit at once, the side with the larger hashed
// DH value keeps the initiator role and the other answers as responder.
// Any MAC or signature failure aborts the exchange back to None.
package ake
