package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/google/gops/agent"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dotnet-acquire/acquire-core/pkg/config"
	"github.com/dotnet-acquire/acquire-core/pkg/diagnostics"
)

var flagGops bool

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Builds the acquisition core and keeps its background workers running",
	Long: `Wires up the tracker's graveyard sweep and the read-only diagnostics
HTTP server (GET /status, GET /metrics), then blocks until SIGINT.

This command exists for operators who want the core's periodic
maintenance and metrics scrape endpoint without a request-driven
front end of their own; one-shot use goes through "get"/"list" instead.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if flagGops {
			if err := agent.Listen(agent.Options{}); err != nil {
				return err
			}
		}

		comp, err := buildComponents()
		if err != nil {
			return err
		}
		defer comp.tracker.Close()

		cfg := config.GetConfig()
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		errs := make(chan error, 1)
		if cfg.DiagnosticsAddr != "" {
			srv := diagnostics.New(comp.tracker, comp.metrics.Gatherer)
			go func() {
				if err := srv.Start(ctx, cfg.DiagnosticsAddr); err != nil {
					errs <- err
				}
			}()
			fmt.Printf("diagnostics listening on %s\n", cfg.DiagnosticsAddr)
		}

		sigs := make(chan os.Signal, 1)
		signal.Notify(sigs, os.Interrupt)

		select {
		case err := <-errs:
			return err
		case <-sigs:
			fmt.Println("\nreceived interrupt signal, shutting down")
			cancel()
			time.Sleep(200 * time.Millisecond) // let the diagnostics server finish its Shutdown
			return nil
		}
	},
}

func init() {
	flags := serveCmd.PersistentFlags()
	flags.BoolVar(&flagGops, "gops", false, "expose a gops agent for live process inspection")
	checkNoErr(viper.BindPFlag("gops", flags.Lookup("gops")))

	RootCmd.AddCommand(serveCmd)
}
