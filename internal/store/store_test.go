package store_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"offrecord/internal/crypto"
	"offrecord/internal/domain"
	"offrecord/internal/store"
)

// clock returns a controllable time source.
func clock() (func() time.Time, func(time.Duration)) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time { return now }, func(d time.Duration) { now = now.Add(d) }
}

func TestIdentity_GenerateOnce(t *testing.T) {
	s := store.New()
	id, err := s.GenerateIdentity("alice@example.org", "xmpp")
	require.NoError(t, err)
	assert.Equal(t, id.Private.Public(), id.Public)

	got, ok := s.Identity("alice@example.org", "xmpp")
	require.True(t, ok)
	assert.Equal(t, id, got)

	_, err = s.GenerateIdentity("alice@example.org", "xmpp")
	assert.ErrorIs(t, err, store.ErrIdentityExists)

	fp, ok := s.OwnFingerprint("alice@example.org", "xmpp")
	require.True(t, ok)
	assert.Equal(t, crypto.Fingerprint(id.Public), fp)
}

func TestIdentity_Delete(t *testing.T) {
	s := store.New()
	_, err := s.GenerateIdentity("a", "p")
	require.NoError(t, err)

	assert.True(t, s.DeleteIdentity("a", "p"))
	assert.False(t, s.DeleteIdentity("a", "p"))
	_, ok := s.Identity("a", "p")
	assert.False(t, ok)

	_, err = s.GenerateIdentity("a", "p")
	assert.NoError(t, err)
}

func TestIdentity_PerProtocol(t *testing.T) {
	s := store.New()
	x, err := s.GenerateIdentity("a", "xmpp")
	require.NoError(t, err)
	i, err := s.GenerateIdentity("a", "irc")
	require.NoError(t, err)
	assert.NotEqual(t, x.Public, i.Public)

	ids := s.Identities()
	require.Len(t, ids, 2)
	assert.Equal(t, "irc", ids[0].Protocol)
}

func TestFingerprints_NewKnownChanged(t *testing.T) {
	now, advance := clock()
	s := store.New(store.WithClock(now))
	fp1 := domain.Fingerprint{1}
	fp2 := domain.Fingerprint{2}

	_, st := s.RecordFingerprint("a", "p", "bob", fp1)
	assert.Equal(t, store.StatusNew, st)

	advance(time.Minute)
	_, st = s.RecordFingerprint("a", "p", "bob", fp1)
	assert.Equal(t, store.StatusKnown, st)

	advance(time.Minute)
	_, st = s.RecordFingerprint("a", "p", "bob", fp2)
	assert.Equal(t, store.StatusChanged, st)

	// Both keys stay on file, in first-seen order.
	list := s.Fingerprints("a", "p", "bob")
	require.Len(t, list, 2)
	assert.Equal(t, fp1, list[0].Fingerprint)
	assert.Equal(t, fp2, list[1].Fingerprint)

	cur, ok := s.FingerprintFor("a", "p", "bob")
	require.True(t, ok)
	assert.Equal(t, fp2, cur.Fingerprint)

	advance(time.Minute)
	s.RecordFingerprint("a", "p", "bob", fp1)
	cur, _ = s.FingerprintFor("a", "p", "bob")
	assert.Equal(t, fp1, cur.Fingerprint)

	assert.Equal(t, []string{"bob"}, s.Contacts("a", "p"))
}

func TestFingerprints_TrustAndForget(t *testing.T) {
	s := store.New()
	fp := domain.Fingerprint{7}
	assert.ErrorIs(t, s.SetTrust("a", "p", "bob", fp, domain.TrustVerified), store.ErrUnknownFingerprint)

	s.RecordFingerprint("a", "p", "bob", fp)
	require.NoError(t, s.SetTrust("a", "p", "bob", fp, domain.TrustSMP))
	e, ok := s.Lookup("a", "p", "bob", fp)
	require.True(t, ok)
	assert.Equal(t, domain.TrustSMP, e.Trust)

	require.NoError(t, s.ForgetFingerprint("a", "p", "bob", fp))
	assert.Empty(t, s.Fingerprints("a", "p", "bob"))
	assert.Empty(t, s.Contacts("a", "p"))
	assert.ErrorIs(t, s.ForgetFingerprint("a", "p", "bob", fp), store.ErrUnknownFingerprint)
}

func TestInstanceTag_EnsureIsStableAndValid(t *testing.T) {
	s := store.New()
	_, ok := s.InstanceTag("a", "p")
	assert.False(t, ok)

	tag, err := s.EnsureInstanceTag("a", "p")
	require.NoError(t, err)
	assert.True(t, tag.Valid())

	again, err := s.EnsureInstanceTag("a", "p")
	require.NoError(t, err)
	assert.Equal(t, tag, again)

	assert.ErrorIs(t, s.SetInstanceTag("a", "p", domain.InstanceTag(0xff)), domain.ErrInvalidTag)
	require.NoError(t, s.SetInstanceTag("a", "p", 0x1234))
	got, _ := s.InstanceTag("a", "p")
	assert.Equal(t, domain.InstanceTag(0x1234), got)
}
