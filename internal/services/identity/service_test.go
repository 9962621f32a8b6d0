package identity_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"offrecord/internal/domain"
	"offrecord/internal/services/identity"
	"offrecord/internal/store"
)

const strong = "Correct-Horse-9-Battery"

func paths(dir string) identity.Paths {
	return identity.Paths{
		Keys:         filepath.Join(dir, "keys.json"),
		Fingerprints: filepath.Join(dir, "fingerprints.json"),
		InstanceTags: filepath.Join(dir, "instance_tags.json"),
	}
}

func TestGenerateIdentity_WeakPassphrase(t *testing.T) {
	svc := identity.New(store.New(), paths(t.TempDir()), nil)
	for _, p := range []string{"", "short1!A", "alllowercase-123", "NoDigitsHere!!", "NoSymbols12345"} {
		_, err := svc.GenerateIdentity("alice", "relay", p)
		assert.ErrorIs(t, err, identity.ErrWeakPassphrase, p)
	}
}

func TestGenerateIdentity_PersistsAndReloads(t *testing.T) {
	dir := t.TempDir()
	svc := identity.New(store.New(), paths(dir), nil)
	require.NoError(t, svc.Load(strong), "missing files are not an error")

	fp, err := svc.GenerateIdentity("alice", "relay", strong)
	require.NoError(t, err)
	assert.False(t, fp.IsZero())
	tag, err := svc.InstanceTag("alice", "relay")
	require.NoError(t, err)
	assert.True(t, tag.Valid())

	_, err = svc.GenerateIdentity("alice", "relay", strong)
	assert.ErrorIs(t, err, store.ErrIdentityExists)

	again := identity.New(store.New(), paths(dir), nil)
	require.NoError(t, again.Load(strong))
	got, err := again.Fingerprint("alice", "relay")
	require.NoError(t, err)
	assert.Equal(t, fp, got)
	gotTag, err := again.InstanceTag("alice", "relay")
	require.NoError(t, err)
	assert.Equal(t, tag, gotTag)

	wrong := identity.New(store.New(), paths(dir), nil)
	assert.ErrorIs(t, wrong.Load("Wrong-Horse-9-Battery"), store.ErrWrongPassphrase)
}

func TestFingerprint_NoIdentity(t *testing.T) {
	svc := identity.New(store.New(), paths(t.TempDir()), nil)
	_, err := svc.Fingerprint("nobody", "relay")
	assert.ErrorIs(t, err, identity.ErrNoIdentity)
}

func TestTrust_SavesFingerprints(t *testing.T) {
	dir := t.TempDir()
	st := store.New()
	svc := identity.New(st, paths(dir), nil)

	var fp domain.Fingerprint
	fp[0], fp[19] = 0xab, 0xcd
	st.RecordFingerprint("alice", "relay", "bob", fp)

	require.NoError(t, svc.Trust("alice", "relay", "bob", fp.String(), domain.TrustVerified))

	reloaded := identity.New(store.New(), paths(dir), nil)
	require.NoError(t, reloaded.Load(""))
	contacts := reloaded.Contacts("alice", "relay")
	require.Len(t, contacts, 1)
	assert.Equal(t, "bob", contacts[0].Username)
	require.Len(t, contacts[0].Fingerprints, 1)
	assert.Equal(t, domain.TrustVerified, contacts[0].Fingerprints[0].Trust)

	var other domain.Fingerprint
	other[0] = 1
	assert.ErrorIs(t, svc.Trust("alice", "relay", "bob", other.String(), domain.TrustVerified), store.ErrUnknownFingerprint)
	assert.Error(t, svc.Trust("alice", "relay", "bob", "not hex", domain.TrustVerified))
}

func TestSQLiteBackend(t *testing.T) {
	dir := t.TempDir()
	db, err := store.OpenSQLite(filepath.Join(dir, "offrecord.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	svc := identity.New(store.New(), paths(dir), db)
	_, err = svc.GenerateIdentity("alice", "relay", strong)
	require.NoError(t, err)
	tag, err := svc.InstanceTag("alice", "relay")
	require.NoError(t, err)

	var fp domain.Fingerprint
	fp[3] = 7
	svc.Store().RecordFingerprint("alice", "relay", "bob", fp)
	require.NoError(t, svc.SaveFingerprints())

	assert.NoFileExists(t, filepath.Join(dir, "fingerprints.json"))
	assert.NoFileExists(t, filepath.Join(dir, "instance_tags.json"))

	again := identity.New(store.New(), paths(dir), db)
	require.NoError(t, again.Load(strong))
	gotTag, err := again.InstanceTag("alice", "relay")
	require.NoError(t, err)
	assert.Equal(t, tag, gotTag)
	assert.Len(t, again.Contacts("alice", "relay"), 1)
}
