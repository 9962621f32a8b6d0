package commands

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"offrecord/internal/app"
	"offrecord/internal/config"
)

var (
	home       string
	cfgPath    string
	passphrase string
	account    string
	appCtx     *app.App
)

// Execute runs the root command.
func Execute() error {
	root := &cobra.Command{
		Use:          "offrecord",
		Short:        "Off-the-Record messaging over a relay",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if home == "" {
				home = os.Getenv("OFFRECORD_HOME")
			}
			if home == "" {
				dir, err := os.UserHomeDir()
				if err != nil {
					return err
				}
				home = filepath.Join(dir, ".offrecord")
			}
			if err := os.MkdirAll(home, 0o700); err != nil {
				return err
			}
			if cfgPath == "" {
				cfgPath = config.ConfigPath(home)
			}
			if passphrase == "" {
				passphrase = os.Getenv("OFFRECORD_PASSPHRASE")
			}

			a, err := app.Open(cfgPath, app.Options{
				Home:       home,
				Account:    account,
				Passphrase: passphrase,
				Notify:     printEvent,
			})
			if err != nil {
				return err
			}
			appCtx = a
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if appCtx == nil {
				return nil
			}
			return appCtx.Close()
		},
	}

	root.PersistentFlags().StringVar(&home, "home", "", "state directory (default ~/.offrecord)")
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "config file (default <home>/config.toml)")
	root.PersistentFlags().StringVarP(&passphrase, "passphrase", "p", "", "passphrase protecting the private keys")
	root.PersistentFlags().StringVarP(&account, "account", "a", "", "local account name")

	root.AddCommand(initCmd(), fingerprintCmd(), trustCmd(), instagCmd(), configCmd(), chatCmd())
	return root.Execute()
}

// requireAccount returns the configured account or an error naming the flag.
func requireAccount() (string, string, error) {
	cfg := appCtx.Config
	if cfg.Account == "" {
		return "", "", errNoAccount
	}
	return cfg.Account, cfg.Protocol, nil
}
