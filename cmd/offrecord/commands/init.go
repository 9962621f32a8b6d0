package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Generate the identity key and instance tag for the account",
		RunE: func(cmd *cobra.Command, args []string) error {
			acct, proto, err := requireAccount()
			if err != nil {
				return err
			}
			if passphrase == "" {
				return errPassphrase
			}
			fp, err := appCtx.IDs.GenerateIdentity(acct, proto, passphrase)
			if err != nil {
				return err
			}
			tag, err := appCtx.IDs.InstanceTag(acct, proto)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Identity created for %s (%s).\nFingerprint:  %s\nInstance tag: %s\n",
				acct, proto, fp, tag)
			return nil
		},
	}
}
