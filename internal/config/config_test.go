package config_test

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"offrecord/internal/config"
	"offrecord/internal/domain"
	"offrecord/internal/logging"
	"offrecord/internal/store"
)

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := config.DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, domain.PolicyOpportunistic, cfg.Policy())
	assert.Equal(t, domain.FragmentSendAll, cfg.FragmentPolicy())
	assert.Equal(t, 60*time.Second, cfg.HeartbeatInterval())
	assert.Equal(t, time.Second, cfg.PollInterval())
	assert.Equal(t, store.KDFScrypt, cfg.KDF())
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.OTR.Policy = "sometimes"
	cfg.Store.Backend = "postgres"
	cfg.Log.Level = "chatty"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "otr.policy")
	assert.Contains(t, err.Error(), "store.backend")
	assert.Contains(t, err.Error(), "log.level")
}

func TestLoader_Formats(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"c.toml": "account = \"alice\"\n[otr]\npolicy = \"always\"\nmax_message_size = 400\n",
		"c.yaml": "account: alice\notr:\n  policy: always\n  max_message_size: 400\n",
		"c.json": `{"account": "alice", "otr": {"policy": "always", "max_message_size": 400}}`,
	}
	for name, body := range files {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)
			require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

			cfg, err := config.NewLoader(path).Load()
			require.NoError(t, err)
			assert.Equal(t, "alice", cfg.Account)
			assert.Equal(t, domain.PolicyAlways, cfg.Policy())
			assert.Equal(t, 400, cfg.OTR.MaxMessageSize)
			// Unset fields keep their defaults.
			assert.Equal(t, "all", cfg.OTR.FragmentPolicy)
			assert.Equal(t, "file", cfg.Store.Backend)
		})
	}
}

func TestLoader_MissingFileGivesDefaults(t *testing.T) {
	cfg, err := config.NewLoader(filepath.Join(t.TempDir(), "none.toml")).Load()
	require.NoError(t, err)
	assert.Equal(t, config.DefaultConfig().OTR, cfg.OTR)
}

func TestLoader_RejectsInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte("[otr]\nfragment_policy = \"some\"\n"), 0o600))
	_, err := config.NewLoader(path).Load()
	assert.ErrorContains(t, err, "fragment_policy")
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("OFFRECORD_ACCOUNT", "carol")
	t.Setenv("OFFRECORD_POLICY", "manual")
	t.Setenv("OFFRECORD_MAX_MESSAGE_SIZE", "512")

	cfg := config.DefaultConfig()
	cfg.ApplyEnvOverrides()
	assert.Equal(t, "carol", cfg.Account)
	assert.Equal(t, domain.PolicyManual, cfg.Policy())
	assert.Equal(t, 512, cfg.OTR.MaxMessageSize)
}

func TestSave_RoundTrip(t *testing.T) {
	for _, ext := range []string{".toml", ".yaml", ".json"} {
		t.Run(ext, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config"+ext)
			want := config.DefaultConfig()
			want.Account = "dave"
			want.OTR.FragmentPolicy = "all-but-last"
			require.NoError(t, config.Save(want, path))

			got, err := config.NewLoader(path).Load()
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}
}

func TestLogging_FromConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Log.Level, cfg.Log.Format = "debug", "json"
	lc := cfg.Logging()
	assert.Equal(t, logging.LevelDebug, lc.Level)
	assert.Equal(t, logging.FormatJSON, lc.Format)
}

func TestLoader_WatchReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[otr]\npolicy = \"manual\"\n"), 0o600))

	l := config.NewLoader(path)
	_, err := l.Load()
	require.NoError(t, err)

	var policy atomic.Value
	l.OnChange(func(c *config.Config) { policy.Store(c.OTR.Policy) })
	require.NoError(t, l.Watch())
	t.Cleanup(func() { _ = l.Close() })

	require.NoError(t, os.WriteFile(path, []byte("[otr]\npolicy = \"always\"\n"), 0o600))
	assert.Eventually(t, func() bool {
		v, _ := policy.Load().(string)
		return v == "always"
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, domain.PolicyAlways, l.Config().Policy())
}
