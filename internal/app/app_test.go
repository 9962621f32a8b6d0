package app_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"offrecord/internal/app"
	"offrecord/internal/config"
	"offrecord/internal/domain"
)

const pass = "Correct-Horse-9-Battery"

func writeConfig(t *testing.T, mutate func(*config.Config)) (string, string) {
	t.Helper()
	home := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Home = home
	cfg.Account = "alice"
	cfg.Log.Level = "error"
	cfg.Log.Output = filepath.Join(home, "offrecord.log")
	if mutate != nil {
		mutate(cfg)
	}
	path := config.ConfigPath(home)
	require.NoError(t, config.Save(cfg, path))
	return home, path
}

func TestOpen_WiresServices(t *testing.T) {
	home, path := writeConfig(t, nil)
	a, err := app.Open(path, app.Options{Passphrase: pass})
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })

	assert.Equal(t, home, a.Config.Home)
	assert.Nil(t, a.DB)
	assert.Equal(t, domain.PolicyOpportunistic, a.Messages.Policy(domain.Conversation{}))

	fp, err := a.IDs.GenerateIdentity("alice", "relay", pass)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(home, "keys.json"))

	again, err := app.Open(path, app.Options{Passphrase: pass})
	require.NoError(t, err)
	t.Cleanup(func() { again.Close() })
	got, err := again.IDs.Fingerprint("alice", "relay")
	require.NoError(t, err)
	assert.Equal(t, fp, got)
}

func TestOpen_SQLiteBackend(t *testing.T) {
	home, path := writeConfig(t, func(c *config.Config) { c.Store.Backend = config.BackendSQLite })
	a, err := app.Open(path, app.Options{Passphrase: pass})
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })

	require.NotNil(t, a.DB)
	assert.FileExists(t, filepath.Join(home, "offrecord.db"))
}

func TestOpen_Overrides(t *testing.T) {
	_, path := writeConfig(t, nil)
	other := t.TempDir()
	a, err := app.Open(path, app.Options{Home: other, Account: "carol"})
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	assert.Equal(t, other, a.Config.Home)
	assert.Equal(t, "carol", a.Config.Account)
}

func TestOpen_InvalidConfig(t *testing.T) {
	_, path := writeConfig(t, func(c *config.Config) { c.OTR.Policy = "sometimes" })
	_, err := app.Open(path, app.Options{})
	assert.Error(t, err)
}

func TestApply_UpdatesLiveSettings(t *testing.T) {
	_, path := writeConfig(t, nil)
	a, err := app.Open(path, app.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })

	cfg := *a.Config
	cfg.OTR.Policy = "always"
	cfg.OTR.FragmentPolicy = "all-but-last"
	cfg.OTR.MaxMessageSize = 400
	a.Apply(&cfg)

	conv := domain.Conversation{}
	assert.Equal(t, domain.PolicyAlways, a.Messages.Policy(conv))
	assert.Equal(t, 400, a.Messages.MaxMessageSize(conv))
	assert.Equal(t, domain.FragmentSendAllButLast, a.Manager.Settings().FragmentPolicy)
}
