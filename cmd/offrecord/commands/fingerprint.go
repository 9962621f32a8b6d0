package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func fingerprintCmd() *cobra.Command {
	var contacts bool
	cmd := &cobra.Command{
		Use:   "fingerprint",
		Short: "Print our fingerprint and, with --contacts, the known ones",
		RunE: func(cmd *cobra.Command, args []string) error {
			acct, proto, err := requireAccount()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fp, err := appCtx.IDs.Fingerprint(acct, proto)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Fingerprint: %s\n", fp)
			if !contacts {
				return nil
			}
			for _, c := range appCtx.IDs.Contacts(acct, proto) {
				for _, e := range c.Fingerprints {
					trust := string(e.Trust)
					if trust == "" {
						trust = "unverified"
					}
					fmt.Fprintf(out, "%-20s %s  %-10s last seen %s\n",
						c.Username, e.Fingerprint, trust, e.LastSeen.Format("2006-01-02 15:04"))
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&contacts, "contacts", false, "also list every contact fingerprint")
	return cmd
}
