package app

import (
	"errors"
	"net/http"

	"offrecord/internal/config"
	"offrecord/internal/logging"
	"offrecord/internal/relay"
	"offrecord/internal/services/conversation"
	"offrecord/internal/services/identity"
	"offrecord/internal/services/message"
	"offrecord/internal/store"
)

// Wire bundles the stores, services and clients for the CLI.
type Wire struct {
	// Config is the configuration the graph was built from.
	Config *config.Config
	Log    *logging.Logger

	Store    *store.Store
	DB       *store.SQLiteBackend
	IDs      *identity.Service
	Relay    *relay.Client
	Manager  *conversation.Manager
	Messages *message.Service
}

// NewWire constructs the dependency graph from cfg and loads persisted state.
func NewWire(cfg *config.Config, opts Options) (*Wire, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log, err := logging.New(cfg.Logging())
	if err != nil {
		return nil, err
	}
	w := &Wire{Config: cfg, Log: log}

	w.Store = store.New(
		store.WithKDF(cfg.KDF()),
		store.WithLogger(log.WithComponent("store").Logger),
	)
	if cfg.Store.Backend == config.BackendSQLite {
		if w.DB, err = store.OpenSQLite(cfg.DatabasePath()); err != nil {
			log.Close()
			return nil, err
		}
	}
	w.IDs = identity.New(w.Store, identity.Paths{
		Keys:         cfg.KeysPath(),
		Fingerprints: cfg.FingerprintsPath(),
		InstanceTags: cfg.InstanceTagsPath(),
	}, w.DB)
	if err := w.IDs.Load(opts.Passphrase); err != nil {
		w.Close()
		return nil, err
	}

	hc := opts.HTTP
	if hc == nil {
		hc = http.DefaultClient
	}
	w.Relay = relay.NewClient(cfg.Relay.URL, hc)

	mc := message.Config{
		Account:        cfg.Account,
		Protocol:       cfg.Protocol,
		Policy:         cfg.Policy(),
		MaxMessageSize: cfg.OTR.MaxMessageSize,
		PollInterval:   cfg.PollInterval(),
		SendRate:       cfg.Relay.RatePerSecond,
		Notify:         opts.Notify,
	}
	if opts.KeyGen {
		pass := opts.Passphrase
		mc.KeyGen = func(account, protocol string) error {
			_, err := w.IDs.GenerateIdentity(account, protocol, pass)
			return err
		}
	}
	w.Messages = message.New(mc, w.Relay, w.IDs, log.WithComponent("message").Logger)
	w.Manager = conversation.New(w.Store, w.Messages,
		conversation.WithLogger(log.WithComponent("conversation").Logger),
		conversation.WithSettings(Settings(cfg)),
	)
	w.Messages.Attach(w.Manager)
	return w, nil
}

// Settings extracts the live-tunable engine settings from cfg.
func Settings(cfg *config.Config) conversation.Settings {
	return conversation.Settings{
		FragmentPolicy:    cfg.FragmentPolicy(),
		HeartbeatInterval: cfg.HeartbeatInterval(),
		ResendWindow:      cfg.ResendWindow(),
	}
}

// Apply pushes the tunables of a reloaded config into the running services.
// Account, relay and store settings need a restart.
func (w *Wire) Apply(cfg *config.Config) {
	w.Manager.UpdateSettings(Settings(cfg))
	w.Messages.SetPolicy(cfg.Policy())
	w.Messages.SetMaxMessageSize(cfg.OTR.MaxMessageSize)
}

// Close ends every conversation and releases files and connections.
func (w *Wire) Close() error {
	var errs []error
	if w.Manager != nil {
		w.Manager.Close()
	}
	if w.DB != nil {
		errs = append(errs, w.DB.Close())
	}
	if w.Log != nil {
		errs = append(errs, w.Log.Close())
	}
	return errors.Join(errs...)
}
