package domain

import (
	"fmt"
	"strings"
)

// MessageState is the top-level state of a conversation.
type MessageState int

const (
	StatePlaintext MessageState = iota
	StateEncrypted
	StateFinished
)

func (s MessageState) String() string {
	switch s {
	case StatePlaintext:
		return "plaintext"
	case StateEncrypted:
		return "encrypted"
	case StateFinished:
		return "finished"
	default:
		return fmt.Sprintf("MessageState(%d)", int(s))
	}
}

// CanTransition reports whether a conversation may move from s to next.
// Encrypted never falls back to plaintext directly; the peer has to end the
// session first.
func (s MessageState) CanTransition(next MessageState) bool {
	switch s {
	case StatePlaintext:
		return next == StatePlaintext || next == StateEncrypted
	case StateEncrypted:
		return next == StateEncrypted || next == StateFinished
	case StateFinished:
		return next == StatePlaintext || next == StateEncrypted || next == StateFinished
	}
	return false
}

// Policy is a bit set controlling when encryption is offered and required.
type Policy uint32

const (
	PolicyAllowV3 Policy = 1 << iota
	PolicyRequireEncryption
	PolicySendWhitespaceTag
	PolicyWhitespaceStartAKE
	PolicyErrorStartAKE

	PolicyNever         Policy = 0
	PolicyManual        Policy = PolicyAllowV3
	PolicyOpportunistic Policy = PolicyAllowV3 | PolicySendWhitespaceTag | PolicyWhitespaceStartAKE | PolicyErrorStartAKE
	PolicyAlways        Policy = PolicyAllowV3 | PolicyRequireEncryption | PolicyWhitespaceStartAKE | PolicyErrorStartAKE
	PolicyDefault              = PolicyOpportunistic
)

// Has reports whether every bit of flag is set.
func (p Policy) Has(flag Policy) bool { return p&flag == flag }

// ParsePolicy maps a named policy to its flags.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "never":
		return PolicyNever, nil
	case "manual":
		return PolicyManual, nil
	case "opportunistic", "":
		return PolicyOpportunistic, nil
	case "always":
		return PolicyAlways, nil
	default:
		return PolicyNever, fmt.Errorf("unknown policy %q", s)
	}
}

// FragmentPolicy decides which fragments the engine injects itself.
type FragmentPolicy int

const (
	// FragmentSendSkip never fragments; oversized messages are sent whole.
	FragmentSendSkip FragmentPolicy = iota
	// FragmentSendAll injects every fragment.
	FragmentSendAll
	// FragmentSendAllButFirst returns the first fragment to the caller.
	FragmentSendAllButFirst
	// FragmentSendAllButLast returns the last fragment to the caller.
	FragmentSendAllButLast
)

func (p FragmentPolicy) String() string {
	switch p {
	case FragmentSendSkip:
		return "skip"
	case FragmentSendAll:
		return "all"
	case FragmentSendAllButFirst:
		return "all-but-first"
	case FragmentSendAllButLast:
		return "all-but-last"
	default:
		return fmt.Sprintf("FragmentPolicy(%d)", int(p))
	}
}

// ParseFragmentPolicy is the inverse of FragmentPolicy.String.
func ParseFragmentPolicy(s string) (FragmentPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "skip", "":
		return FragmentSendSkip, nil
	case "all":
		return FragmentSendAll, nil
	case "all-but-first":
		return FragmentSendAllButFirst, nil
	case "all-but-last":
		return FragmentSendAllButLast, nil
	default:
		return FragmentSendSkip, fmt.Errorf("unknown fragment policy %q", s)
	}
}

// ErrorCode selects the text of an outgoing OTR error message.
type ErrorCode int

const (
	ErrorNone ErrorCode = iota
	ErrorEncryption
	ErrorMessageNotInPrivate
	ErrorMessageUnreadable
	ErrorMessageMalformed
)

func (c ErrorCode) String() string {
	switch c {
	case ErrorNone:
		return "none"
	case ErrorEncryption:
		return "encryption error"
	case ErrorMessageNotInPrivate:
		return "message not in private"
	case ErrorMessageUnreadable:
		return "message unreadable"
	case ErrorMessageMalformed:
		return "message malformed"
	default:
		return fmt.Sprintf("ErrorCode(%d)", int(c))
	}
}

// MessageEvent reports something noteworthy about a message to the application.
type MessageEvent int

const (
	EventNone MessageEvent = iota
	EventEncryptionRequired
	EventEncryptionError
	EventConnectionEnded
	EventSetupError
	EventMessageReflected
	EventMessageResent
	EventReceivedNotInPrivate
	EventReceivedUnreadable
	EventReceivedMalformed
	EventHeartbeatReceived
	EventHeartbeatSent
	EventReceivedGeneralError
	EventReceivedUnencrypted
	EventReceivedUnrecognised
	EventReceivedForOtherInstance
)

var messageEventNames = [...]string{
	EventNone:                     "none",
	EventEncryptionRequired:       "encryption-required",
	EventEncryptionError:          "encryption-error",
	EventConnectionEnded:          "connection-ended",
	EventSetupError:               "setup-error",
	EventMessageReflected:         "message-reflected",
	EventMessageResent:            "message-resent",
	EventReceivedNotInPrivate:     "received-not-in-private",
	EventReceivedUnreadable:       "received-unreadable",
	EventReceivedMalformed:        "received-malformed",
	EventHeartbeatReceived:        "heartbeat-received",
	EventHeartbeatSent:            "heartbeat-sent",
	EventReceivedGeneralError:     "received-general-error",
	EventReceivedUnencrypted:      "received-unencrypted",
	EventReceivedUnrecognised:     "received-unrecognised",
	EventReceivedForOtherInstance: "received-for-other-instance",
}

func (e MessageEvent) String() string {
	if e >= 0 && int(e) < len(messageEventNames) {
		return messageEventNames[e]
	}
	return fmt.Sprintf("MessageEvent(%d)", int(e))
}

// SMPEvent reports progress of a Socialist Millionaire exchange.
type SMPEvent int

const (
	SMPEventNone SMPEvent = iota
	SMPEventError
	SMPEventAbort
	SMPEventCheated
	SMPEventAskForAnswer
	SMPEventAskForSecret
	SMPEventInProgress
	SMPEventSuccess
	SMPEventFailure
)

func (e SMPEvent) String() string {
	switch e {
	case SMPEventNone:
		return "none"
	case SMPEventError:
		return "error"
	case SMPEventAbort:
		return "abort"
	case SMPEventCheated:
		return "cheated"
	case SMPEventAskForAnswer:
		return "ask-for-answer"
	case SMPEventAskForSecret:
		return "ask-for-secret"
	case SMPEventInProgress:
		return "in-progress"
	case SMPEventSuccess:
		return "success"
	case SMPEventFailure:
		return "failure"
	default:
		return fmt.Sprintf("SMPEvent(%d)", int(e))
	}
}

// LoggedInStatus is the application's answer to whether a peer is online.
type LoggedInStatus int

const (
	LoggedInNotSure LoggedInStatus = -1
	LoggedInNo      LoggedInStatus = 0
	LoggedInYes     LoggedInStatus = 1
)

// Initiated says which side started an AKE that refreshed a live session.
type Initiated int

const (
	InitiatedRemote Initiated = iota
	InitiatedLocal
)

// ConvertType tells a MessageConverter which direction a message travels.
type ConvertType int

const (
	ConvertSending ConvertType = iota
	ConvertReceiving
)
