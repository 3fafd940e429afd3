package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dotnet-acquire/acquire-core/model/acquire"
	"github.com/dotnet-acquire/acquire-core/model/install"
	"github.com/dotnet-acquire/acquire-core/model/version"
)

var flagMode string
var flagArch string
var flagScope string
var flagRequester string
var flagTimeoutSec int
var flagRejectPreviews bool

// getCmd represents the get command
var getCmd = &cobra.Command{
	Use:   "get [version]",
	Short: "Acquire a .NET SDK or runtime matching the given version spec",
	Long: `Resolves version (a full version, a band like "8.0.1xx", or a
channel like "8.0"), installs it if no compatible install is already
tracked, and prints the resulting dotnet path.`,
	Example: `  $ dotnet-acquire get 8.0.1xx --mode sdk --requester my-extension`,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		comp, err := buildComponents()
		if err != nil {
			return err
		}

		mode := install.Mode(viper.GetString("mode"))
		scope := install.Scope(viper.GetString("scope"))

		req := acquire.Request{
			Version:               args[0],
			Mode:                  mode,
			Architecture:          viper.GetString("arch"),
			RequestingExtensionID: viper.GetString("requester"),
			Policy:                version.PolicyLatestPatch,
			TimeoutSec:            viper.GetInt("timeout-sec"),
			Scope:                 scope,
			RejectPreviews:        viper.GetBool("reject-previews"),
		}

		result, err := comp.worker.Acquire(context.Background(), req)
		if err != nil {
			return err
		}
		fmt.Println(result.Path)
		return nil
	},
}

func init() {
	flags := getCmd.Flags()

	flags.StringVar(&flagMode, "mode", "sdk", "sdk or runtime")
	checkNoErr(viper.BindPFlag("mode", flags.Lookup("mode")))

	flags.StringVar(&flagArch, "arch", "", "target architecture (defaults to the host's)")
	checkNoErr(viper.BindPFlag("arch", flags.Lookup("arch")))

	flags.StringVar(&flagScope, "scope", "local", "local or global")
	checkNoErr(viper.BindPFlag("scope", flags.Lookup("scope")))

	flags.StringVar(&flagRequester, "requester", "", "extension id recorded as this install's owner")
	checkNoErr(viper.BindPFlag("requester", flags.Lookup("requester")))

	flags.IntVar(&flagTimeoutSec, "timeout-sec", 300, "timeout in seconds for the underlying install")
	checkNoErr(viper.BindPFlag("timeout-sec", flags.Lookup("timeout-sec")))

	flags.BoolVar(&flagRejectPreviews, "reject-previews", false, "fail if resolution would pick a preview build")
	checkNoErr(viper.BindPFlag("reject-previews", flags.Lookup("reject-previews")))

	RootCmd.AddCommand(getCmd)
}
