package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/wipfli/immich/internal/config"
	"github.com/wipfli/immich/internal/database/postgres"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	Long: `Apply the embedded SQL migrations to the database named by DATABASE_URL.

Examples:
  # Apply pending migrations
  immich migrate

  # List applied migrations without changing anything
  immich migrate --status`,
	RunE: runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)

	migrateCmd.Flags().Bool("status", false, "Only list applied migrations")
}

func runMigrate(cmd *cobra.Command, args []string) error {
	statusOnly := mustGetBool(cmd, "status")

	ctx := context.Background()
	cfg := config.Load()
	if cfg.Database.URL == "" {
		return errors.New("DATABASE_URL environment variable is required")
	}

	pool, err := postgres.NewPool(&cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	defer pool.Close()

	if !statusOnly {
		applied, err := pool.Migrate(ctx)
		if err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		if len(applied) == 0 {
			fmt.Println("Database is up to date")
		}
		for _, v := range applied {
			fmt.Printf("Applied %s\n", v)
		}
		return nil
	}

	versions, err := pool.MigrationsApplied(ctx)
	if err != nil {
		return err
	}
	if len(versions) == 0 {
		fmt.Println("No migrations applied")
		return nil
	}
	for _, v := range versions {
		fmt.Println(v)
	}
	return nil
}
