package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var pollCmd = &cobra.Command{
	Use:   "poll",
	Short: "Run a single change-poller pass and print how many changes were emitted",
	RunE:  runPollOnce,
}

func init() {
	rootCmd.AddCommand(pollCmd)
}

func runPollOnce(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	d, err := buildDeps(ctx, cfg)
	if err != nil {
		return err
	}

	n, err := d.poller.PollOnce(ctx)
	if err != nil {
		return fmt.Errorf("entityledgerd: poll: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "emitted %d change event(s)\n", n)
	return nil
}
