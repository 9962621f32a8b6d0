package domain

import "errors"

var (
	// ErrEncryptionRequired is returned when policy forbids sending in the clear.
	ErrEncryptionRequired = errors.New("encryption required but no private session")
	// ErrConnectionEnded is returned when the peer closed the private session.
	ErrConnectionEnded = errors.New("private conversation ended by peer")
	// ErrEncryptionFailed wraps failures while sealing an outgoing message.
	ErrEncryptionFailed = errors.New("encryption error")
	// ErrMessageNotInPrivate means an encrypted message arrived with no session.
	ErrMessageNotInPrivate = errors.New("encrypted message received outside a private session")
	// ErrMessageUnreadable means MAC verification or key lookup failed.
	ErrMessageUnreadable = errors.New("message unreadable")
	// ErrMessageMalformed means the message was structurally invalid or replayed.
	ErrMessageMalformed = errors.New("message malformed")

	ErrNoIdentity    = errors.New("no identity key for account")
	ErrNoHandler     = errors.New("no handler registered")
	ErrNotEncrypted  = errors.New("conversation is not encrypted")
	ErrInvalidTag    = errors.New("invalid instance tag")
	ErrTooManyPieces = errors.New("message needs too many fragments")
)

// Err maps an error code to its sentinel.
func (c ErrorCode) Err() error {
	switch c {
	case ErrorEncryption:
		return ErrEncryptionFailed
	case ErrorMessageNotInPrivate:
		return ErrMessageNotInPrivate
	case ErrorMessageUnreadable:
		return ErrMessageUnreadable
	case ErrorMessageMalformed:
		return ErrMessageMalformed
	default:
		return nil
	}
}
