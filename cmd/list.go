package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// listCmd represents the list command
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List every installId the tracker currently has owners for",
	RunE: func(cmd *cobra.Command, args []string) error {
		comp, err := buildComponents()
		if err != nil {
			return err
		}

		recs, err := comp.tracker.GetInstalled(context.Background())
		if err != nil {
			return err
		}
		for _, r := range recs {
			fmt.Printf("%s\t%v\n", r.InstallID, r.Owners)
		}
		return nil
	},
}

func init() {
	RootCmd.AddCommand(listCmd)
}
