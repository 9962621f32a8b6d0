package wire

import (
	"encoding/base64"
	"errors"
	"strings"
)

// Textual markers.
const (
	armorPrefix    = "?OTR:"
	armorSuffix    = "."
	errorPrefix    = "?OTR Error:"
	queryPrefix    = "?OTRv"
	queryV1Prefix  = "?OTR?"
	fragmentPrefix = "?OTR|"
	otrPrefix      = "?OTR"

	// QueryMessage offers a version 3 session.
	QueryMessage = "?OTRv3?"

	whitespaceBase = " \t  \t\t\t\t \t \t \t  "
	whitespaceV3   = "  \t\t  \t\t"
)

// ErrArmor is returned for text that is not a well-formed encoded message.
var ErrArmor = errors.New("wire: malformed armor")

// Armor wraps a binary message as "?OTR:<base64>.".
func Armor(b []byte) string {
	return armorPrefix + base64.StdEncoding.EncodeToString(b) + armorSuffix
}

// Dearmor reverses Armor. Text after the terminating dot is ignored.
func Dearmor(s string) ([]byte, error) {
	i := strings.Index(s, armorPrefix)
	if i < 0 {
		return nil, ErrArmor
	}
	body := s[i+len(armorPrefix):]
	end := strings.Index(body, armorSuffix)
	if end < 0 {
		return nil, ErrArmor
	}
	b, err := base64.StdEncoding.DecodeString(body[:end])
	if err != nil {
		return nil, errors.Join(ErrArmor, err)
	}
	return b, nil
}

// ErrorMessage formats an OTR error for the peer.
func ErrorMessage(text string) string { return errorPrefix + " " + text }

// ParseError extracts the text of an OTR error message.
func ParseError(s string) (string, bool) {
	i := strings.Index(s, errorPrefix)
	if i < 0 {
		return "", false
	}
	return strings.TrimSpace(s[i+len(errorPrefix):]), true
}

// QueryOffersV3 reports whether a query message offers version 3.
func QueryOffersV3(s string) bool {
	i := strings.Index(s, queryPrefix)
	if i < 0 {
		return false
	}
	versions := s[i+len(queryPrefix):]
	if end := strings.IndexByte(versions, '?'); end >= 0 {
		versions = versions[:end]
	}
	return strings.ContainsRune(versions, '3')
}

// AppendWhitespaceTag marks a plaintext message as willing to speak OTR v3.
func AppendWhitespaceTag(msg string) string {
	return msg + whitespaceBase + whitespaceV3
}

// StripWhitespaceTag removes a whitespace tag and reports whether it offered v3.
// found is false if msg carries no tag.
func StripWhitespaceTag(msg string) (clean string, v3 bool, found bool) {
	i := strings.Index(msg, whitespaceBase)
	if i < 0 {
		return msg, false, false
	}
	rest := msg[i+len(whitespaceBase):]
	n := 0
	for len(rest) >= 8 && isWhitespaceVersion(rest[:8]) {
		if rest[:8] == whitespaceV3 {
			v3 = true
		}
		rest = rest[8:]
		n += 8
	}
	return msg[:i] + msg[i+len(whitespaceBase)+n:], v3, true
}

func isWhitespaceVersion(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] != ' ' && s[i] != '\t' {
			return false
		}
	}
	return true
}

// Kind classifies an incoming string before any decoding.
type Kind int

const (
	KindPlaintext Kind = iota
	KindTaggedPlaintext
	KindQuery
	KindError
	KindFragment
	KindEncoded
	KindUnknown
)

func (k Kind) String() string {
	switch k {
	case KindPlaintext:
		return "plaintext"
	case KindTaggedPlaintext:
		return "tagged-plaintext"
	case KindQuery:
		return "query"
	case KindError:
		return "error"
	case KindFragment:
		return "fragment"
	case KindEncoded:
		return "encoded"
	default:
		return "unknown"
	}
}

// Classify inspects the header tag of msg.
func Classify(msg string) Kind {
	i := strings.Index(msg, otrPrefix)
	if i < 0 {
		if strings.Contains(msg, whitespaceBase) {
			return KindTaggedPlaintext
		}
		return KindPlaintext
	}
	rest := msg[i:]
	switch {
	case strings.HasPrefix(rest, armorPrefix):
		return KindEncoded
	case strings.HasPrefix(rest, fragmentPrefix):
		return KindFragment
	case strings.HasPrefix(rest, errorPrefix):
		return KindError
	case strings.HasPrefix(rest, queryPrefix), strings.HasPrefix(rest, queryV1Prefix):
		return KindQuery
	default:
		return KindUnknown
	}
}
