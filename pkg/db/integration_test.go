//go:build integration

package db

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/morezero/capability-bridge/pkg/events"
)

const dbIntegrationPrefix = "db:integration_test"

// testDBEnv returns the database URL for integration tests; skips the test if not set.
func testDBEnv(t *testing.T) string {
	t.Helper()
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("db:integration_test - DATABASE_URL not set, skipping")
	}
	return url
}

// setupIntegrationPool creates a pool with migrations applied.
func setupIntegrationPool(t *testing.T) (context.Context, *pgxpool.Pool) {
	t.Helper()
	ctx := context.Background()
	url := testDBEnv(t)

	pool, err := NewPool(ctx, url)
	if err != nil {
		t.Fatalf("%s - NewPool failed: %v", dbIntegrationPrefix, err)
	}
	t.Cleanup(pool.Close)

	migrationPath := "migrations"
	if _, err := os.Stat(migrationPath); os.IsNotExist(err) {
		// When running from pkg/db, migrations are at ../../migrations
		migrationPath = filepath.Join("..", "..", "migrations")
	}
	migrations, err := LoadMigrations(migrationPath)
	if err != nil {
		t.Fatalf("%s - LoadMigrations failed: %v", dbIntegrationPrefix, err)
	}
	if _, err := RunMigrations(ctx, pool, migrations); err != nil {
		t.Fatalf("%s - RunMigrations failed: %v", dbIntegrationPrefix, err)
	}
	return ctx, pool
}

func TestIntegration_RunMigrationsIsIdempotent(t *testing.T) {
	ctx, pool := setupIntegrationPool(t)

	migrations, err := LoadMigrations(filepath.Join("..", "..", "migrations"))
	if err != nil {
		t.Fatalf("%s - LoadMigrations failed: %v", dbIntegrationPrefix, err)
	}
	applied, err := RunMigrations(ctx, pool, migrations)
	if err != nil {
		t.Fatalf("%s - second RunMigrations failed: %v", dbIntegrationPrefix, err)
	}
	if len(applied) != 0 {
		t.Errorf("%s - second run applied %v, want nothing", dbIntegrationPrefix, applied)
	}

	report, err := MigrationStatus(ctx, pool, filepath.Join("..", "..", "migrations"))
	if err != nil {
		t.Fatalf("%s - MigrationStatus failed: %v", dbIntegrationPrefix, err)
	}
	if len(report.Pending) != 0 {
		t.Errorf("%s - pending = %v, want none", dbIntegrationPrefix, report.Pending)
	}
}

func TestIntegration_JournalRecordAndQuery(t *testing.T) {
	ctx, pool := setupIntegrationPool(t)
	j := NewJournal(pool)

	method := fmt.Sprintf("it_method_%d", time.Now().UnixNano())
	ok := &events.CallEvent{RequestID: method + "-1", Method: method, Ok: true, DurationMs: 12, Origin: "app://it", Timestamp: time.Now().UTC().Format(time.RFC3339)}
	failed := &events.CallEvent{RequestID: method + "-2", Method: method, Ok: false, Code: "PROVIDER_ERROR", Message: "boom", DurationMs: 30, Origin: "app://it", Timestamp: time.Now().UTC().Format(time.RFC3339)}

	for _, e := range []*events.CallEvent{ok, failed, ok} {
		if err := j.PublishCall(ctx, e); err != nil {
			t.Fatalf("%s - PublishCall failed: %v", dbIntegrationPrefix, err)
		}
	}

	records, err := j.RecentCalls(ctx, 10, method)
	if err != nil {
		t.Fatalf("%s - RecentCalls failed: %v", dbIntegrationPrefix, err)
	}
	if len(records) != 2 {
		t.Fatalf("%s - expected 2 records (duplicate ignored), got %d", dbIntegrationPrefix, len(records))
	}
	for _, r := range records {
		if r.RequestID == failed.RequestID {
			if r.Ok || r.Code == nil || *r.Code != "PROVIDER_ERROR" {
				t.Errorf("%s - failed record = %+v", dbIntegrationPrefix, r)
			}
		} else if r.Code != nil {
			t.Errorf("%s - ok record should have no code, got %q", dbIntegrationPrefix, *r.Code)
		}
	}

	stats, err := j.Stats(ctx)
	if err != nil {
		t.Fatalf("%s - Stats failed: %v", dbIntegrationPrefix, err)
	}
	found := false
	for _, s := range stats {
		if s.Method == method {
			found = true
			if s.Calls != 2 || s.Failures != 1 {
				t.Errorf("%s - stats = %+v, want 2 calls 1 failure", dbIntegrationPrefix, s)
			}
		}
	}
	if !found {
		t.Errorf("%s - no stats for %s", dbIntegrationPrefix, method)
	}

	if err := j.Ping(ctx); err != nil {
		t.Errorf("%s - Ping failed: %v", dbIntegrationPrefix, err)
	}
}
