package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// uninstallAllCmd represents the uninstall-all command
var uninstallAllCmd = &cobra.Command{
	Use:   "uninstall-all",
	Short: "Remove every local (user-scope) install this host manages",
	Long: `Deletes every installId directory under storageRoot that the Local
Installer manages, without touching global-scope installs a distro
package manager or native installer put elsewhere.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		comp, err := buildComponents()
		if err != nil {
			return err
		}

		n, err := comp.local.UninstallAll(context.Background())
		if err != nil {
			return err
		}
		fmt.Printf("removed %d local install(s)\n", n)
		return nil
	},
}

func init() {
	RootCmd.AddCommand(uninstallAllCmd)
}
