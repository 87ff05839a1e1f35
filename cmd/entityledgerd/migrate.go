package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/entityledger/core/internal/dbmigrate"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the metadata schema",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply every pending migration",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return dbmigrate.Up(cmd.Context(), cfg.MetastoreDSN)
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back the most recent migration",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return dbmigrate.Down(cmd.Context(), cfg.MetastoreDSN)
	},
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show which migrations have been applied",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		statuses, err := dbmigrate.Status(cmd.Context(), cfg.MetastoreDSN)
		if err != nil {
			return err
		}
		for _, s := range statuses {
			fmt.Fprintf(cmd.OutOrStdout(), "%s\tapplied=%v\n", s.Source.Path, !s.AppliedAt.IsZero())
		}
		return nil
	},
}

func init() {
	migrateCmd.AddCommand(migrateUpCmd, migrateDownCmd, migrateStatusCmd)
	rootCmd.AddCommand(migrateCmd)
}
