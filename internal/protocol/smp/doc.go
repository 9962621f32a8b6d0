// Package smp implements the Socialist Millionaire Protocol over the
// ristretto255 group. Two parties learn whether they hold the same secret
// without revealing anything else about it; the secret is bound to both
// long-term fingerprints and the session id, so a man in the middle cannot
// relay a successful run.
//
// The exchange is four TLVs (SMP1..SMP4). A Session tracks one side and is
// driven by Initiate, Respond and Handle.
package smp
