package crypto

import (
	"bytes"
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/hkdf"

	"offrecord/internal/domain"
)

// Derive expands secret into len(out) bytes per output using HKDF-SHA256.
// Each output gets its own info label so outputs are independent.
func Derive(secret []byte, label string, outs ...[]byte) {
	for i, out := range outs {
		info := []byte(label)
		info = append(info, byte(i))
		r := hkdf.New(sha256.New, secret, nil, info)
		if _, err := io.ReadFull(r, out); err != nil {
			// hkdf only fails past 255*HashLen bytes.
			panic(err)
		}
	}
}

// SessionKeys derives the directional keys for one DH key pair. Both sides
// compute the same secret; the side with the larger public value takes the
// "high" half for sending so the two directions never share a key.
func SessionKeys(secret []byte, ours, theirs domain.X25519Public) domain.SessionKeys {
	var high, low [64]byte
	var k domain.SessionKeys
	Derive(secret, "offrecord data v1", high[:], low[:], k.Extra[:])

	send, recv := &low, &high
	if bytes.Compare(ours[:], theirs[:]) > 0 {
		send, recv = &high, &low
	}
	copy(k.SendEnc[:], send[:32])
	copy(k.SendMAC[:], send[32:])
	copy(k.RecvEnc[:], recv[:32])
	copy(k.RecvMAC[:], recv[32:])
	clear(high[:])
	clear(low[:])
	return k
}
