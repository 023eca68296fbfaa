package db

import "time"

// CallRecord represents a row in the bridge_calls table.
type CallRecord struct {
	ID         int64     `json:"id"`
	RequestID  string    `json:"request_id"`
	Method     string    `json:"method"`
	Ok         bool      `json:"ok"`
	Code       *string   `json:"code,omitempty"`
	Message    *string   `json:"message,omitempty"`
	DurationMs int64     `json:"duration_ms"`
	Origin     string    `json:"origin"`
	CalledAt   time.Time `json:"called_at"`
}

// MethodStats aggregates journal rows for one method.
type MethodStats struct {
	Method        string  `json:"method"`
	Calls         int64   `json:"calls"`
	Failures      int64   `json:"failures"`
	AvgDurationMs float64 `json:"avg_duration_ms"`
}
