package commands

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"offrecord/internal/config"
)

func configCmd() *cobra.Command {
	var write bool
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration, or write it with --write",
		RunE: func(cmd *cobra.Command, args []string) error {
			if write {
				if err := config.Save(appCtx.Config, cfgPath); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", cfgPath)
				return nil
			}
			if _, err := os.Stat(cfgPath); err != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "# %s not found; showing defaults\n", cfgPath)
			}
			return toml.NewEncoder(cmd.OutOrStdout()).Encode(appCtx.Config)
		},
	}
	cmd.Flags().BoolVar(&write, "write", false, "save the effective configuration to the config file")
	return cmd
}
