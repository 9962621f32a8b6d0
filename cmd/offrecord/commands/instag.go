package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func instagCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "instag",
		Short: "Print the instance tag of this client, assigning one if needed",
		RunE: func(cmd *cobra.Command, args []string) error {
			acct, proto, err := requireAccount()
			if err != nil {
				return err
			}
			tag, err := appCtx.IDs.InstanceTag(acct, proto)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tag)
			return nil
		},
	}
}
