package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/morezero/capability-bridge/internal/config"
	"github.com/morezero/capability-bridge/pkg/db"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the call journal schema",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Run pending database migrations",
	Args:  cobra.NoArgs,
	RunE:  runMigrateUp,
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show applied and pending migrations",
	Args:  cobra.NoArgs,
	RunE:  runMigrateStatus,
}

func init() {
	migrateCmd.AddCommand(migrateUpCmd, migrateStatusCmd)
}

// openPool loads config and connects to DATABASE_URL.
func openPool(ctx context.Context) (*config.Config, *pgxpool.Pool, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.ValidateForDB(); err != nil {
		return nil, nil, err
	}
	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect database: %w", err)
	}
	return cfg, pool, nil
}

func runMigrateUp(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, pool, err := openPool(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	migrations, err := db.LoadMigrations(cfg.MigrationPath)
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	applied, err := db.RunMigrations(ctx, pool, migrations)
	if err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	if len(applied) == 0 {
		pterm.Info.Println("Schema is up to date")
		return nil
	}
	for _, name := range applied {
		pterm.Success.Printf("Applied %s\n", name)
	}
	return nil
}

func runMigrateStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, pool, err := openPool(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	report, err := db.MigrationStatus(ctx, pool, cfg.MigrationPath)
	if err != nil {
		return err
	}
	rows := [][]string{{"Migration", "State"}}
	for _, name := range report.Applied {
		rows = append(rows, []string{name, "applied"})
	}
	for _, name := range report.Pending {
		rows = append(rows, []string{name, "pending"})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(rows).Render()
}
