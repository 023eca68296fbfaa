package db

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/morezero/capability-bridge/pkg/events"
)

const journalLogPrefix = "db:journal"

// Journal records every answered bridge call. It implements events.Publisher
// so the router can write to it directly.
type Journal struct {
	pool *pgxpool.Pool
}

// NewJournal creates a Journal with the given connection pool.
func NewJournal(pool *pgxpool.Pool) *Journal {
	return &Journal{pool: pool}
}

// PublishCall records event.
func (j *Journal) PublishCall(ctx context.Context, event *events.CallEvent) error {
	return j.RecordCall(ctx, event)
}

// RecordCall inserts one call. Recording the same request id twice is a no-op.
func (j *Journal) RecordCall(ctx context.Context, event *events.CallEvent) error {
	calledAt, err := time.Parse(time.RFC3339, event.Timestamp)
	if err != nil {
		calledAt = time.Now().UTC()
	}

	_, err = j.pool.Exec(ctx,
		`INSERT INTO bridge_calls (request_id, method, ok, code, message, duration_ms, origin, called_at)
		 VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), $6, $7, $8)
		 ON CONFLICT (request_id) DO NOTHING`,
		event.RequestID, event.Method, event.Ok, event.Code, event.Message, event.DurationMs, event.Origin, calledAt)
	if err != nil {
		return fmt.Errorf("%s - failed to record call %s: %w", journalLogPrefix, event.RequestID, err)
	}
	return nil
}

// RecentCalls returns up to limit calls, newest first. A non-empty method
// restricts the result to that method.
func (j *Journal) RecentCalls(ctx context.Context, limit int, method string) ([]CallRecord, error) {
	slog.Debug(fmt.Sprintf("%s - RecentCalls limit=%d method=%s", journalLogPrefix, limit, method))
	if limit <= 0 {
		limit = 20
	}

	rows, err := j.pool.Query(ctx,
		`SELECT id, request_id, method, ok, code, message, duration_ms, origin, called_at
		 FROM bridge_calls
		 WHERE ($2 = '' OR method = $2)
		 ORDER BY called_at DESC, id DESC
		 LIMIT $1`, limit, method)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to query calls: %w", journalLogPrefix, err)
	}

	records, err := pgx.CollectRows(rows, pgx.RowToStructByPos[CallRecord])
	if err != nil {
		return nil, fmt.Errorf("%s - failed to scan calls: %w", journalLogPrefix, err)
	}
	return records, nil
}

// Stats aggregates the journal per method, ordered by call count.
func (j *Journal) Stats(ctx context.Context) ([]MethodStats, error) {
	rows, err := j.pool.Query(ctx,
		`SELECT method,
		        COUNT(*),
		        COUNT(*) FILTER (WHERE NOT ok),
		        COALESCE(AVG(duration_ms), 0)::float8
		 FROM bridge_calls
		 GROUP BY method
		 ORDER BY COUNT(*) DESC, method`)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to query stats: %w", journalLogPrefix, err)
	}

	stats, err := pgx.CollectRows(rows, pgx.RowToStructByPos[MethodStats])
	if err != nil {
		return nil, fmt.Errorf("%s - failed to scan stats: %w", journalLogPrefix, err)
	}
	return stats, nil
}

// Ping checks the database connection.
func (j *Journal) Ping(ctx context.Context) error {
	return j.pool.Ping(ctx)
}
