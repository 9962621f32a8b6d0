package conversation

import "offrecord/internal/domain"

// SendOutcome tells the caller what is left to transmit after Send.
type SendOutcome struct {
	// Message must be sent by the caller. It is empty when the engine
	// injected everything itself.
	Message string
	// Encrypted reports whether Message (or the injected fragments) carry
	// an encrypted data message.
	Encrypted bool
	// Instance is the remote instance the message was addressed to.
	Instance domain.InstanceTag
}

// ReceiveKind says what the application should do with a received message.
type ReceiveKind int

const (
	// ReceiveInternal: protocol traffic; nothing to show.
	ReceiveInternal ReceiveKind = iota
	// ReceiveDeliver: show Message.
	ReceiveDeliver
	// ReceiveDeliverWithTLVs: show Message and inspect TLVs.
	ReceiveDeliverWithTLVs
)

func (k ReceiveKind) String() string {
	switch k {
	case ReceiveInternal:
		return "internal"
	case ReceiveDeliver:
		return "deliver"
	case ReceiveDeliverWithTLVs:
		return "deliver-with-tlvs"
	default:
		return "unknown"
	}
}

// ReceiveOutcome is the result of Receive.
type ReceiveOutcome struct {
	Kind      ReceiveKind
	Message   string
	TLVs      []domain.TLV
	Encrypted bool
	Instance  domain.InstanceTag
}

func internal() ReceiveOutcome { return ReceiveOutcome{Kind: ReceiveInternal} }
