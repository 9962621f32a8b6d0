// Package config handles configuration loading and validation for offrecord.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"offrecord/internal/domain"
	"offrecord/internal/logging"
	"offrecord/internal/store"
)

// Config holds the complete CLI and engine configuration.
type Config struct {
	// Home is the directory holding keys, fingerprints and instance tags.
	Home string `toml:"home" json:"home" yaml:"home"`

	// Account and Protocol name the local identity.
	Account  string `toml:"account" json:"account" yaml:"account"`
	Protocol string `toml:"protocol" json:"protocol" yaml:"protocol"`

	Relay RelayConfig `toml:"relay" json:"relay" yaml:"relay"`
	OTR   OTRConfig   `toml:"otr" json:"otr" yaml:"otr"`
	Store StoreConfig `toml:"store" json:"store" yaml:"store"`
	Log   LogConfig   `toml:"log" json:"log" yaml:"log"`
}

// RelayConfig points the chat adapter at a relay.
type RelayConfig struct {
	URL string `toml:"url" json:"url" yaml:"url"`

	// PollIntervalMs is how often the relay is asked for new messages.
	PollIntervalMs int `toml:"poll_interval_ms" json:"poll_interval_ms" yaml:"poll_interval_ms"`

	// RatePerSecond caps relay requests.
	RatePerSecond float64 `toml:"rate_per_second" json:"rate_per_second" yaml:"rate_per_second"`
}

// OTRConfig holds the engine tunables. Changes apply to live conversations.
type OTRConfig struct {
	// Policy is one of never, manual, opportunistic, always.
	Policy string `toml:"policy" json:"policy" yaml:"policy"`

	// FragmentPolicy is one of skip, all, all-but-first, all-but-last.
	FragmentPolicy string `toml:"fragment_policy" json:"fragment_policy" yaml:"fragment_policy"`

	// MaxMessageSize is the transport limit in bytes; 0 disables fragmentation.
	MaxMessageSize int `toml:"max_message_size" json:"max_message_size" yaml:"max_message_size"`

	HeartbeatSec    int `toml:"heartbeat_sec" json:"heartbeat_sec" yaml:"heartbeat_sec"`
	ResendWindowSec int `toml:"resend_window_sec" json:"resend_window_sec" yaml:"resend_window_sec"`
}

// Store backends.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// StoreConfig selects how state is persisted.
type StoreConfig struct {
	// Backend is "file" (JSON files) or "sqlite" for fingerprints and tags.
	Backend string `toml:"backend" json:"backend" yaml:"backend"`

	// KDF protects the private key file: scrypt or argon2id.
	KDF string `toml:"kdf" json:"kdf" yaml:"kdf"`
}

// LogConfig mirrors logging.Config in text form.
type LogConfig struct {
	Level  string `toml:"level" json:"level" yaml:"level"`
	Format string `toml:"format" json:"format" yaml:"format"`
	Output string `toml:"output" json:"output" yaml:"output"`
}

// DefaultConfig returns a configuration with every field set.
func DefaultConfig() *Config {
	return &Config{
		Home:     defaultHome(),
		Protocol: "relay",
		Relay: RelayConfig{
			URL:            "http://127.0.0.1:8080",
			PollIntervalMs: 1000,
			RatePerSecond:  4,
		},
		OTR: OTRConfig{
			Policy:          "opportunistic",
			FragmentPolicy:  "all",
			MaxMessageSize:  0,
			HeartbeatSec:    60,
			ResendWindowSec: 60,
		},
		Store: StoreConfig{Backend: BackendFile, KDF: string(store.KDFScrypt)},
		Log:   LogConfig{Level: "info", Format: "text", Output: "stderr"},
	}
}

func defaultHome() string {
	dir, err := os.UserHomeDir()
	if err != nil {
		return ".offrecord"
	}
	return filepath.Join(dir, ".offrecord")
}

// ConfigPath returns the default configuration file inside home.
func ConfigPath(home string) string { return filepath.Join(home, "config.toml") }

// Validate checks every field and joins all problems into one error.
func (c *Config) Validate() error {
	var errs []error
	if c.Home == "" {
		errs = append(errs, errors.New("home must be set"))
	}
	if c.Protocol == "" {
		errs = append(errs, errors.New("protocol must be set"))
	}
	if _, err := domain.ParsePolicy(c.OTR.Policy); err != nil {
		errs = append(errs, fmt.Errorf("otr.policy: %w", err))
	}
	if _, err := domain.ParseFragmentPolicy(c.OTR.FragmentPolicy); err != nil {
		errs = append(errs, fmt.Errorf("otr.fragment_policy: %w", err))
	}
	if c.OTR.MaxMessageSize < 0 {
		errs = append(errs, errors.New("otr.max_message_size must not be negative"))
	}
	if c.OTR.HeartbeatSec < 0 || c.OTR.ResendWindowSec < 0 {
		errs = append(errs, errors.New("otr intervals must not be negative"))
	}
	if c.Relay.PollIntervalMs <= 0 {
		errs = append(errs, errors.New("relay.poll_interval_ms must be positive"))
	}
	if c.Relay.RatePerSecond <= 0 {
		errs = append(errs, errors.New("relay.rate_per_second must be positive"))
	}
	switch c.Store.Backend {
	case BackendFile, BackendSQLite:
	default:
		errs = append(errs, fmt.Errorf("store.backend: unknown backend %q", c.Store.Backend))
	}
	if _, err := store.ParseKDF(c.Store.KDF); err != nil {
		errs = append(errs, fmt.Errorf("store.kdf: %w", err))
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	if _, err := logging.ParseFormat(c.Log.Format); err != nil {
		errs = append(errs, fmt.Errorf("log.format: %w", err))
	}
	return errors.Join(errs...)
}

// ApplyEnvOverrides lets OFFRECORD_* variables replace file values.
func (c *Config) ApplyEnvOverrides() {
	str := map[string]*string{
		"OFFRECORD_HOME":            &c.Home,
		"OFFRECORD_ACCOUNT":         &c.Account,
		"OFFRECORD_PROTOCOL":        &c.Protocol,
		"OFFRECORD_RELAY_URL":       &c.Relay.URL,
		"OFFRECORD_POLICY":          &c.OTR.Policy,
		"OFFRECORD_FRAGMENT_POLICY": &c.OTR.FragmentPolicy,
		"OFFRECORD_STORE_BACKEND":   &c.Store.Backend,
		"OFFRECORD_KDF":             &c.Store.KDF,
		"OFFRECORD_LOG_LEVEL":       &c.Log.Level,
		"OFFRECORD_LOG_FORMAT":      &c.Log.Format,
	}
	for name, dst := range str {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}
	if v, err := strconv.Atoi(os.Getenv("OFFRECORD_MAX_MESSAGE_SIZE")); err == nil {
		c.OTR.MaxMessageSize = v
	}
}

// Policy returns the parsed OTR policy. Call Validate first.
func (c *Config) Policy() domain.Policy {
	p, _ := domain.ParsePolicy(c.OTR.Policy)
	return p
}

// FragmentPolicy returns the parsed fragment policy.
func (c *Config) FragmentPolicy() domain.FragmentPolicy {
	p, _ := domain.ParseFragmentPolicy(c.OTR.FragmentPolicy)
	return p
}

func (c *Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.OTR.HeartbeatSec) * time.Second
}

func (c *Config) ResendWindow() time.Duration {
	return time.Duration(c.OTR.ResendWindowSec) * time.Second
}

func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Relay.PollIntervalMs) * time.Millisecond
}

// KDF returns the parsed key-file KDF.
func (c *Config) KDF() store.KDF {
	k, _ := store.ParseKDF(c.Store.KDF)
	return k
}

// Logging converts the log section into a logging.Config.
func (c *Config) Logging() *logging.Config {
	lc := logging.DefaultConfig()
	lc.Level, _ = logging.ParseLevel(c.Log.Level)
	lc.Format, _ = logging.ParseFormat(c.Log.Format)
	if out := strings.TrimSpace(c.Log.Output); out != "" {
		lc.Output = out
	}
	return lc
}

// Paths of the persisted state under Home.
func (c *Config) KeysPath() string         { return filepath.Join(c.Home, "keys.json") }
func (c *Config) FingerprintsPath() string { return filepath.Join(c.Home, "fingerprints.json") }
func (c *Config) InstanceTagsPath() string { return filepath.Join(c.Home, "instance_tags.json") }
func (c *Config) DatabasePath() string     { return filepath.Join(c.Home, "offrecord.db") }
