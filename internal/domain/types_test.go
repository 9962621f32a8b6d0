package domain_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"offrecord/internal/domain"
)

func TestFingerprint_StringAndParse(t *testing.T) {
	var fp domain.Fingerprint
	for i := range fp {
		fp[i] = byte(0xa0 + i)
	}
	s := fp.String()
	assert.Equal(t, "A0A1A2A3 A4A5A6A7 A8A9AAAB ACADAEAF B0B1B2B3", s)

	got, err := domain.ParseFingerprint(s)
	require.NoError(t, err)
	assert.Equal(t, fp, got)

	_, err = domain.ParseFingerprint("abcd")
	assert.Error(t, err)
}

func TestFingerprint_JSONUsesHex(t *testing.T) {
	fp := domain.Fingerprint{1, 2, 3}
	b, err := json.Marshal(struct {
		FP domain.Fingerprint `json:"fp"`
	}{fp})
	require.NoError(t, err)
	assert.JSONEq(t, `{"fp":"0102030000000000000000000000000000000000"}`, string(b))
}

func TestMessageState_Transitions(t *testing.T) {
	tests := []struct {
		from, to domain.MessageState
		ok       bool
	}{
		{domain.StatePlaintext, domain.StateEncrypted, true},
		{domain.StateEncrypted, domain.StateEncrypted, true},
		{domain.StateEncrypted, domain.StateFinished, true},
		{domain.StateEncrypted, domain.StatePlaintext, false},
		{domain.StateFinished, domain.StatePlaintext, true},
		{domain.StateFinished, domain.StateEncrypted, true},
		{domain.StatePlaintext, domain.StateFinished, false},
	}
	for _, tt := range tests {
		t.Run(tt.from.String()+"->"+tt.to.String(), func(t *testing.T) {
			assert.Equal(t, tt.ok, tt.from.CanTransition(tt.to))
		})
	}
}

func TestParsePolicy(t *testing.T) {
	p, err := domain.ParsePolicy("always")
	require.NoError(t, err)
	assert.True(t, p.Has(domain.PolicyRequireEncryption))
	assert.True(t, p.Has(domain.PolicyAllowV3))

	p, err = domain.ParsePolicy("Opportunistic")
	require.NoError(t, err)
	assert.False(t, p.Has(domain.PolicyRequireEncryption))
	assert.True(t, p.Has(domain.PolicySendWhitespaceTag))

	_, err = domain.ParsePolicy("sometimes")
	assert.Error(t, err)
}

func TestMessageEvent_DistinctCodes(t *testing.T) {
	assert.NotEqual(t, domain.EventMessageReflected, domain.EventMessageResent)
	assert.Equal(t, "message-reflected", domain.EventMessageReflected.String())
	assert.Equal(t, "message-resent", domain.EventMessageResent.String())
}

func TestInstanceTag_Valid(t *testing.T) {
	assert.False(t, domain.InstanceRecentSent.Valid())
	assert.True(t, domain.MinInstanceTag.Valid())
	assert.Equal(t, "00000100", domain.MinInstanceTag.String())
}
