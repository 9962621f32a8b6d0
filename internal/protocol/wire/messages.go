package wire

import (
	"errors"
	"fmt"

	"offrecord/internal/domain"
)

// ProtocolVersion is the only framing version this engine speaks.
const ProtocolVersion uint16 = 3

// MACSize is the length of every transcript and data-message MAC.
const MACSize = 32

// MessageType identifies the payload of an encoded message.
type MessageType byte

const (
	TypeDHCommit  MessageType = 0x02
	TypeData      MessageType = 0x03
	TypeDHKey     MessageType = 0x0a
	TypeRevealSig MessageType = 0x11
	TypeSig       MessageType = 0x12
)

func (t MessageType) String() string {
	switch t {
	case TypeDHCommit:
		return "dh-commit"
	case TypeData:
		return "data"
	case TypeDHKey:
		return "dh-key"
	case TypeRevealSig:
		return "reveal-signature"
	case TypeSig:
		return "signature"
	default:
		return fmt.Sprintf("MessageType(%#02x)", byte(t))
	}
}

// IsAKE reports whether t belongs to the key exchange.
func (t MessageType) IsAKE() bool {
	return t == TypeDHCommit || t == TypeDHKey || t == TypeRevealSig || t == TypeSig
}

var (
	ErrVersion     = errors.New("wire: unsupported protocol version")
	ErrUnknownType = errors.New("wire: unknown message type")
)

// Header precedes every encoded message.
type Header struct {
	Version     uint16
	Type        MessageType
	SenderTag   domain.InstanceTag
	ReceiverTag domain.InstanceTag
}

func (h Header) encode(w *writer) {
	w.u16(h.Version)
	w.byte(byte(h.Type))
	w.u32(uint32(h.SenderTag))
	w.u32(uint32(h.ReceiverTag))
}

// Payload is the type-specific body of a message.
type Payload interface {
	Type() MessageType
	encode(w *writer)
	decode(r *reader)
}

// DHCommit carries the encrypted and hashed DH public value of the initiator.
type DHCommit struct {
	EncryptedGx []byte
	HashedGx    [32]byte
}

func (*DHCommit) Type() MessageType { return TypeDHCommit }

func (m *DHCommit) encode(w *writer) {
	w.data(m.EncryptedGx)
	w.fixed(m.HashedGx[:])
}

func (m *DHCommit) decode(r *reader) {
	m.EncryptedGx = r.data()
	r.fixed(m.HashedGx[:])
}

// DHKey carries the responder's DH public value.
type DHKey struct {
	Gy domain.X25519Public
}

func (*DHKey) Type() MessageType { return TypeDHKey }

func (m *DHKey) encode(w *writer) { w.fixed(m.Gy[:]) }
func (m *DHKey) decode(r *reader) { r.fixed(m.Gy[:]) }

// RevealSig reveals the commit key and carries the initiator's signature.
type RevealSig struct {
	RevealedKey  []byte
	EncryptedSig []byte
	MAC          [MACSize]byte
}

func (*RevealSig) Type() MessageType { return TypeRevealSig }

func (m *RevealSig) encode(w *writer) {
	w.data(m.RevealedKey)
	w.data(m.EncryptedSig)
	w.fixed(m.MAC[:])
}

func (m *RevealSig) decode(r *reader) {
	m.RevealedKey = r.data()
	m.EncryptedSig = r.data()
	r.fixed(m.MAC[:])
}

// Sig carries the responder's signature.
type Sig struct {
	EncryptedSig []byte
	MAC          [MACSize]byte
}

func (*Sig) Type() MessageType { return TypeSig }

func (m *Sig) encode(w *writer) {
	w.data(m.EncryptedSig)
	w.fixed(m.MAC[:])
}

func (m *Sig) decode(r *reader) {
	m.EncryptedSig = r.data()
	r.fixed(m.MAC[:])
}

// Data flags.
const (
	// FlagIgnoreUnreadable asks the receiver not to report this message if it
	// cannot be decrypted. Heartbeats and SMP-only messages set it.
	FlagIgnoreUnreadable byte = 0x01
)

// Data is an encrypted application message.
type Data struct {
	Flags          byte
	SenderKeyID    uint32
	RecipientKeyID uint32
	NextDH         domain.X25519Public
	Counter        uint64
	Encrypted      []byte
	MAC            [MACSize]byte
	OldMACKeys     []byte
}

func (*Data) Type() MessageType { return TypeData }

func (m *Data) authenticated(w *writer) {
	w.byte(m.Flags)
	w.u32(m.SenderKeyID)
	w.u32(m.RecipientKeyID)
	w.fixed(m.NextDH[:])
	w.u64(m.Counter)
	w.data(m.Encrypted)
}

func (m *Data) encode(w *writer) {
	m.authenticated(w)
	w.fixed(m.MAC[:])
	w.data(m.OldMACKeys)
}

func (m *Data) decode(r *reader) {
	m.Flags = r.byte()
	m.SenderKeyID = r.u32()
	m.RecipientKeyID = r.u32()
	r.fixed(m.NextDH[:])
	m.Counter = r.u64()
	m.Encrypted = r.data()
	r.fixed(m.MAC[:])
	m.OldMACKeys = r.data()
}

// MACInput returns the bytes a data message MAC covers: the header followed
// by every field up to and including the ciphertext.
func (m *Data) MACInput(h Header) []byte {
	h.Type = TypeData
	w := &writer{}
	h.encode(w)
	m.authenticated(w)
	return w.bytes()
}

// Message is a decoded header and payload.
type Message struct {
	Header
	Payload Payload
}

// Marshal encodes h and p; the header type is taken from p.
func Marshal(h Header, p Payload) []byte {
	h.Type = p.Type()
	if h.Version == 0 {
		h.Version = ProtocolVersion
	}
	w := &writer{}
	h.encode(w)
	p.encode(w)
	return w.bytes()
}

// Unmarshal decodes a binary message.
func Unmarshal(b []byte) (Message, error) {
	r := &reader{b: b}
	var m Message
	m.Version = r.u16()
	m.Type = MessageType(r.byte())
	m.SenderTag = domain.InstanceTag(r.u32())
	m.ReceiverTag = domain.InstanceTag(r.u32())
	if r.err != nil {
		return Message{}, r.err
	}
	if m.Version != ProtocolVersion {
		return Message{}, fmt.Errorf("%w: %d", ErrVersion, m.Version)
	}

	switch m.Type {
	case TypeDHCommit:
		m.Payload = &DHCommit{}
	case TypeDHKey:
		m.Payload = &DHKey{}
	case TypeRevealSig:
		m.Payload = &RevealSig{}
	case TypeSig:
		m.Payload = &Sig{}
	case TypeData:
		m.Payload = &Data{}
	default:
		return Message{}, fmt.Errorf("%w: %s", ErrUnknownType, m.Type)
	}
	m.Payload.decode(r)
	if err := r.done(); err != nil {
		return Message{}, err
	}
	return m, nil
}

// Encode marshals and armors a message in one step.
func Encode(h Header, p Payload) string { return Armor(Marshal(h, p)) }

// Decode dearmors and unmarshals a message in one step.
func Decode(s string) (Message, error) {
	b, err := Dearmor(s)
	if err != nil {
		return Message{}, err
	}
	return Unmarshal(b)
}
