package domain

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// FingerprintSize is the length of a fingerprint in bytes.
const FingerprintSize = 20

// Fingerprint is the truncated SHA-256 of a long-term public key.
type Fingerprint [FingerprintSize]byte

// String renders the fingerprint as five groups of eight upper-case hex digits.
func (f Fingerprint) String() string {
	h := strings.ToUpper(hex.EncodeToString(f[:]))
	var b strings.Builder
	for i := 0; i < len(h); i += 8 {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(h[i : i+8])
	}
	return b.String()
}

// IsZero reports whether the fingerprint is unset.
func (f Fingerprint) IsZero() bool { return f == Fingerprint{} }

// MarshalText encodes the fingerprint as lower-case hex.
func (f Fingerprint) MarshalText() ([]byte, error) {
	return []byte(hex.EncodeToString(f[:])), nil
}

// UnmarshalText accepts hex with or without grouping spaces.
func (f *Fingerprint) UnmarshalText(b []byte) error {
	got, err := ParseFingerprint(string(b))
	if err != nil {
		return err
	}
	*f = got
	return nil
}

// ParseFingerprint decodes a human or hex rendering of a fingerprint.
func ParseFingerprint(s string) (Fingerprint, error) {
	var fp Fingerprint
	clean := strings.ReplaceAll(strings.TrimSpace(s), " ", "")
	b, err := hex.DecodeString(clean)
	if err != nil {
		return fp, fmt.Errorf("fingerprint: %w", err)
	}
	if len(b) != FingerprintSize {
		return fp, fmt.Errorf("fingerprint: want %d bytes, got %d", FingerprintSize, len(b))
	}
	copy(fp[:], b)
	return fp, nil
}

// Trust records how a fingerprint was verified.
type Trust string

const (
	TrustUnverified Trust = ""
	TrustVerified   Trust = "verified"
	TrustSMP        Trust = "smp"
)

// Verified reports whether the fingerprint was verified by any means.
func (t Trust) Verified() bool { return t != TrustUnverified }

// InstanceTag distinguishes concurrent clients logged into one account.
type InstanceTag uint32

// Reserved instance tags. Values below MinInstanceTag are never assigned to a
// client; they select a child context of the master conversation instead.
const (
	InstanceMaster         InstanceTag = 0
	InstanceBest           InstanceTag = 1
	InstanceRecent         InstanceTag = 2
	InstanceRecentReceived InstanceTag = 3
	InstanceRecentSent     InstanceTag = 4

	MinInstanceTag InstanceTag = 0x100
)

// Valid reports whether t may be assigned to a client.
func (t InstanceTag) Valid() bool { return t >= MinInstanceTag }

// String returns the tag as eight hex digits.
func (t InstanceTag) String() string { return fmt.Sprintf("%08x", uint32(t)) }

// Identity is the long-term signing key of one (account, protocol) pair.
type Identity struct {
	Account  string
	Protocol string
	Public   Ed25519Public
	Private  Ed25519Private
	Created  time.Time
}

// TLV is an auxiliary record carried inside an encrypted data message.
type TLV struct {
	Type  uint16
	Value []byte
}

// TLV types.
const (
	TLVPadding           uint16 = 0
	TLVDisconnected      uint16 = 1
	TLVSMP1              uint16 = 2
	TLVSMP2              uint16 = 3
	TLVSMP3              uint16 = 4
	TLVSMP4              uint16 = 5
	TLVSMPAbort          uint16 = 6
	TLVSMP1Q             uint16 = 7
	TLVExtraSymmetricKey uint16 = 8
)

// IsSMP reports whether the TLV belongs to the SMP exchange.
func (t TLV) IsSMP() bool {
	return t.Type >= TLVSMP1 && t.Type <= TLVSMP1Q
}

// SessionKeys are the directional keys of one (our key, their key) pair.
// The encryption keys seed per-message hash chains; the MAC keys are used
// as-is until the pair is retired and they are revealed.
type SessionKeys struct {
	SendEnc [32]byte
	SendMAC [32]byte
	RecvEnc [32]byte
	RecvMAC [32]byte
	Extra   [32]byte
}

// Conversation is a read-only snapshot of a conversation context handed to
// the application. It is never updated after the callback returns.
type Conversation struct {
	Account       string
	Protocol      string
	Peer          string
	OurInstance   InstanceTag
	TheirInstance InstanceTag
	State         MessageState
	Fingerprint   Fingerprint
	Trust         Trust
	SSID          [8]byte
}

// Envelope is a raw protocol string addressed through the relay.
type Envelope struct {
	From     string    `json:"from"`
	To       string    `json:"to"`
	Protocol string    `json:"protocol"`
	Body     string    `json:"body"`
	Sent     time.Time `json:"sent"`
}
