package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/morezero/capability-bridge/internal/client"
	"github.com/morezero/capability-bridge/internal/config"
	"github.com/morezero/capability-bridge/pkg/db"
	"github.com/morezero/capability-bridge/pkg/protocol"
	"github.com/morezero/capability-bridge/pkg/snapshot"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show provider capability availability",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().StringP("output", "o", "", "Output format (json)")
	statusCmd.Flags().Duration("watch", 0, "Refresh on this interval until interrupted")
	statusCmd.Flags().Bool("calls", false, "Also show per-method call statistics from the journal")
}

// Colors follow the availability status.
var statusColor = map[protocol.Status]pterm.RGB{
	protocol.StatusReady:        pterm.NewRGB(31, 163, 130),
	protocol.StatusDownloadable: pterm.NewRGB(245, 158, 11),
	protocol.StatusDownloading:  pterm.NewRGB(36, 99, 235),
	protocol.StatusUnavailable:  pterm.NewRGB(239, 68, 68),
	protocol.StatusUnknown:      pterm.NewRGB(128, 128, 128),
}

func runStatus(cmd *cobra.Command, args []string) error {
	output, _ := cmd.Flags().GetString("output")
	if output != "" && output != "json" {
		return fmt.Errorf("unsupported --output value: use 'json'")
	}
	watch, _ := cmd.Flags().GetDuration("watch")
	showCalls, _ := cmd.Flags().GetBool("calls")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	s, err := client.Open(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	if watch > 0 {
		return watchStatus(cmd.Context(), s.Snapshot, watch)
	}

	if err := s.Snapshot.Refresh(cmd.Context()); err != nil {
		pterm.Warning.Printf("Could not refresh availability: %v\n", err)
	}
	snap := s.Snapshot.ReadSync()

	if output == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	}

	pterm.Info.Printf("Provider protocol %s, methods %v\n", s.Client.ProviderVersion(), s.Client.Methods())
	if err := pterm.DefaultTable.WithHasHeader().WithData(snapshotRows(snap)).Render(); err != nil {
		return err
	}
	if showCalls {
		return printCallStats(cmd.Context(), cfg)
	}
	return nil
}

// watchStatus keeps the snapshot fresh in the background and redraws it from
// the synchronous read path on every tick.
func watchStatus(ctx context.Context, cache *snapshot.Cache, interval time.Duration) error {
	go cache.Run(ctx, interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		pterm.Println()
		pterm.Printf("Refreshed at %s\n", formatTime(cache.RefreshedAt()))
		if err := pterm.DefaultTable.WithHasHeader().WithData(snapshotRows(cache.ReadSync())).Render(); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func snapshotRows(snap snapshot.Snapshot) [][]string {
	names := make([]string, 0, len(snap))
	for name := range snap {
		names = append(names, name)
	}
	sort.Strings(names)

	rows := [][]string{{"Capability", "Status", "Available", "Requires download"}}
	for _, name := range names {
		a := snap[name]
		color, ok := statusColor[a.Status]
		if !ok {
			color = statusColor[protocol.StatusUnknown]
		}
		rows = append(rows, []string{
			name,
			color.Sprint(string(a.Status)),
			strconv.FormatBool(a.Available),
			strconv.FormatBool(a.RequiresDownload),
		})
	}
	return rows
}

func printCallStats(ctx context.Context, cfg *config.Config) error {
	if !cfg.JournalEnabled() {
		pterm.Info.Println("Call journal disabled (DATABASE_URL not set)")
		return nil
	}
	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	stats, err := db.NewJournal(pool).Stats(ctx)
	if err != nil {
		return err
	}
	rows := [][]string{{"Method", "Calls", "Failures", "Avg ms"}}
	for _, st := range stats {
		rows = append(rows, []string{
			st.Method,
			strconv.FormatInt(st.Calls, 10),
			strconv.FormatInt(st.Failures, 10),
			fmt.Sprintf("%.1f", st.AvgDurationMs),
		})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(rows).Render()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.Format(time.TimeOnly)
}
