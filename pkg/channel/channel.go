// Package channel adapts shared broadcast transports for the bridge. Every
// listener attached to a channel receives every envelope posted to it,
// including the poster's own; there is no addressing.
package channel

import (
	"context"
	"fmt"
	"log/slog"
)

const logPrefix = "channel:channel"

// Envelope is one posted payload together with the environment it came from.
// Data is shared between listeners and must be treated as read-only.
type Envelope struct {
	Origin string
	Data   []byte
}

// Handler receives delivered envelopes.
type Handler func(Envelope)

// Subscription detaches a listener.
type Subscription interface {
	Close() error
}

// Channel is a shared broadcast channel.
type Channel interface {
	Post(ctx context.Context, env Envelope) error
	Listen(h Handler) (Subscription, error)
}

// FromOrigin wraps h so that only envelopes posted from origin reach it.
// Provenance is a security boundary: foreign environments may share the
// transport but must never reach the bridge.
func FromOrigin(origin string, h Handler) Handler {
	return func(env Envelope) {
		if env.Origin != origin {
			slog.Debug(fmt.Sprintf("%s - dropping envelope from origin %q (want %q)", logPrefix, env.Origin, origin))
			return
		}
		h(env)
	}
}
