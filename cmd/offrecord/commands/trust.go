package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"offrecord/internal/domain"
)

// trust <peer> <fingerprint>: record that the fingerprint was checked out of band.
func trustCmd() *cobra.Command {
	var revoke bool
	cmd := &cobra.Command{
		Use:   "trust <peer> <fingerprint>",
		Short: "Mark a contact fingerprint as verified",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			acct, proto, err := requireAccount()
			if err != nil {
				return err
			}
			peer, fp := args[0], strings.Join(args[1:], "")
			trust := domain.TrustVerified
			if revoke {
				trust = domain.TrustUnverified
			}
			if err := appCtx.IDs.Trust(acct, proto, peer, fp, trust); err != nil {
				return err
			}
			if revoke {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: fingerprint marked unverified\n", peer)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: fingerprint verified\n", peer)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&revoke, "revoke", false, "mark the fingerprint unverified instead")
	return cmd
}
