// Package snapshot keeps the last known availability of the provider's
// capabilities readable without a round trip.
package snapshot

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/samber/lo"

	"github.com/morezero/capability-bridge/pkg/protocol"
)

const logPrefix = "snapshot:cache"

// Snapshot maps capability names to their availability.
type Snapshot map[string]protocol.Availability

// Source fetches the provider's availability map. rpc.Capabilities implements it.
type Source interface {
	Availability(ctx context.Context) (map[string]protocol.Availability, error)
}

type stored struct {
	entries Snapshot
	at      time.Time
	gen     uint64
}

// Cache holds the most recent availability snapshot. Reads never block on a
// refresh in progress.
type Cache struct {
	source  Source
	current atomic.Pointer[stored]
	started atomic.Uint64
}

// New creates a cache whose baseline marks every name in names as unknown.
func New(source Source, names []string) *Cache {
	c := &Cache{source: source}
	c.current.Store(&stored{
		entries: lo.SliceToMap(names, func(name string) (string, protocol.Availability) {
			return name, protocol.Unknown()
		}),
	})
	return c
}

// Refresh fetches availability once and, on success, replaces the snapshot
// with exactly the provider's map. Names the provider no longer reports are
// dropped. On failure the previous snapshot is kept. When refreshes overlap,
// the result of an earlier-started refresh never overwrites a later one.
func (c *Cache) Refresh(ctx context.Context) error {
	gen := c.started.Add(1)

	entries, err := c.source.Availability(ctx)
	if err != nil {
		slog.Warn(fmt.Sprintf("%s - refresh failed, keeping previous snapshot: %v", logPrefix, err))
		return fmt.Errorf("%s - refresh failed: %w", logPrefix, err)
	}

	next := &stored{entries: lo.Assign(entries), at: time.Now(), gen: gen}
	for {
		cur := c.current.Load()
		if cur.gen > gen {
			slog.Debug(fmt.Sprintf("%s - discarding refresh %d, snapshot already at %d", logPrefix, gen, cur.gen))
			return nil
		}
		if c.current.CompareAndSwap(cur, next) {
			slog.Debug(fmt.Sprintf("%s - snapshot %d stored with %d entries", logPrefix, gen, len(entries)))
			return nil
		}
	}
}

// ReadSync returns a copy of the current snapshot.
func (c *Cache) ReadSync() Snapshot {
	return lo.Assign(c.current.Load().entries)
}

// Get returns the current availability of one capability.
func (c *Cache) Get(name string) (protocol.Availability, bool) {
	a, ok := c.current.Load().entries[name]
	return a, ok
}

// RefreshedAt returns when the current snapshot was stored. It is zero until
// the first successful refresh.
func (c *Cache) RefreshedAt() time.Time {
	return c.current.Load().at
}

// Run refreshes immediately and then on every interval until ctx is done.
// Refresh failures are logged and do not stop the loop.
func (c *Cache) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		_ = c.Refresh(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
