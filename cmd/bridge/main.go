// Package main is the entrypoint for the capability bridge (binary name "bridge").
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/morezero/capability-bridge/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "bridge",
	Short: "RPC bridge between an isolated caller and a privileged capability provider",
	Long: `bridge runs either side of the capability bridge over a shared COMMS subject.

Environment: BRIDGE_COMMS_URL, BRIDGE_SUBJECT, BRIDGE_ORIGIN, MODEL_URL, DATABASE_URL (optional), LOG_LEVEL. See README.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(serveCmd, callCmd, statusCmd, migrateCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		pterm.Error.Println(err.Error())
		os.Exit(1)
	}
}

// loadConfig loads configuration and routes logs to stderr so command output
// stays clean.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()})))
	return cfg, nil
}
