package domain

import (
	"context"
	"time"
)

// Handler is implemented by the application adapter. The conversation
// manager calls it synchronously while holding the conversation lock, so
// implementations must not call back into the manager for the same
// conversation.
type Handler interface {
	// Policy returns the policy flags for a conversation.
	Policy(conv Conversation) Policy
	// CreatePrivateKey is called when no identity exists for an account.
	// The handler may generate one; the manager re-reads the store afterwards.
	CreatePrivateKey(account, protocol string)
	// LoggedIn reports whether the recipient is online.
	LoggedIn(account, protocol, recipient string) LoggedInStatus
	// InjectMessage sends a raw protocol string to the network.
	InjectMessage(account, protocol, recipient, message string)
	UpdateContextList()
	NewFingerprint(account, protocol, username string, fp Fingerprint)
	WriteFingerprints()
	GoneSecure(conv Conversation)
	GoneInsecure(conv Conversation)
	StillSecure(conv Conversation, initiated Initiated)
	// MaxMessageSize is the transport limit in bytes; 0 disables fragmentation.
	MaxMessageSize(conv Conversation) int
	// ErrorMessage returns the text for an outgoing OTR error message.
	ErrorMessage(conv Conversation, code ErrorCode) string
	ResentMessagePrefix(conv Conversation) string
	HandleSMPEvent(ev SMPEvent, conv Conversation, progress int, question string)
	HandleMessageEvent(ev MessageEvent, conv Conversation, message string, err error)
	// TimerControl asks the host to call Poll every interval; 0 stops it.
	TimerControl(interval time.Duration)
}

// MessageConverter optionally rewrites messages before encryption and
// after decryption. Returning false leaves the message unchanged.
type MessageConverter interface {
	ConvertMessage(conv Conversation, ct ConvertType, msg string) (string, bool)
}

// SymmetricKeyReceiver optionally receives extra symmetric keys announced
// by the peer.
type SymmetricKeyReceiver interface {
	ReceivedSymmetricKey(conv Conversation, use uint32, useData []byte, key [32]byte)
}

// RelayClient moves envelopes between accounts through a store-and-forward relay.
type RelayClient interface {
	Send(ctx context.Context, env Envelope) error
	Fetch(ctx context.Context, username string, limit int) ([]Envelope, error)
	Ack(ctx context.Context, username string, count int) error
}
