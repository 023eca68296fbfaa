// Package events defines call events emitted by the request router and their publishers.
package events

// CallEvent is emitted once per request the router answers.
type CallEvent struct {
	RequestID  string `json:"requestId"`
	Method     string `json:"method"`
	Ok         bool   `json:"ok"`
	Code       string `json:"code,omitempty"`
	Message    string `json:"message,omitempty"`
	DurationMs int64  `json:"durationMs"`
	Origin     string `json:"origin"`
	Timestamp  string `json:"timestamp"`
}
