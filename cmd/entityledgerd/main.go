// Command entityledgerd runs the entityledger backend: the write
// pipeline, redirect/deletion services, reconciler sweep, change
// poller, and read path, wired over a Postgres metadata store and an
// S3-compatible snapshot store. Subcommands follow the teacher's
// cmd/bd convention: a package-level rootCmd, one file per subcommand,
// each registering itself from its own init().
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/entityledger/core/internal/telemetry"
)

var rootCmd = &cobra.Command{
	Use:   "entityledgerd",
	Short: "entityledger backend daemon",
	Long:  "entityledgerd runs the write pipeline, reconciler, change poller, and read path over a shared Postgres/S3 backend.",
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		providers, err := telemetry.Setup(cmd.Context(), telemetry.Config{
			ServiceName: "entityledgerd",
			Development: developmentLogging,
		})
		if err != nil {
			return err
		}
		cmd.SetContext(telemetry.WithLogger(cmd.Context(), providers.Logger))
		return nil
	},
}

var (
	configPath         string
	developmentLogging bool
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to entityledger.toml")
	rootCmd.PersistentFlags().BoolVar(&developmentLogging, "dev", false, "use human-readable console logging instead of JSON")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
