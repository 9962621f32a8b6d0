package app

import (
	"context"
	"time"

	"offrecord/internal/config"
)

// App is a Wire kept in step with its config file.
type App struct {
	*Wire
	loader *config.Loader
}

// Open loads the config at path (defaults when missing), applies
// environment overrides and wires the services.
func Open(path string, opts Options) (*App, error) {
	loader := config.NewLoader(path)
	cfg, err := loader.Load()
	if err != nil {
		return nil, err
	}
	if opts.Home != "" {
		cfg.Home = opts.Home
	}
	if opts.Account != "" {
		cfg.Account = opts.Account
	}
	w, err := NewWire(cfg, opts)
	if err != nil {
		return nil, err
	}
	return &App{Wire: w, loader: loader}, nil
}

// Watch applies config file changes to the running services until ctx is
// done.
func (a *App) Watch(ctx context.Context) error {
	a.loader.OnChange(func(cfg *config.Config) {
		a.Log.Info("config reloaded", "policy", cfg.OTR.Policy, "fragment_policy", cfg.OTR.FragmentPolicy)
		a.Apply(cfg)
	})
	if err := a.loader.Watch(); err != nil {
		return err
	}
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case err, ok := <-a.loader.Errors():
				if !ok {
					return
				}
				a.Log.Warn("config reload failed", "err", err)
			}
		}
	}()
	return nil
}

// Flush posts anything the engine queued, giving up after timeout.
func (a *App) Flush(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return a.Messages.Flush(ctx)
}

// Close stops watching and releases the wiring.
func (a *App) Close() error {
	a.loader.Close()
	return a.Wire.Close()
}
