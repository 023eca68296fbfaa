package snapshot

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/morezero/capability-bridge/pkg/protocol"
)

// scriptedSource returns queued answers; a non-nil gate blocks until closed.
type scriptedSource struct {
	mu      sync.Mutex
	answers []answer
	calls   int
}

type answer struct {
	entries map[string]protocol.Availability
	err     error
	gate    chan struct{}
}

func (s *scriptedSource) Availability(ctx context.Context) (map[string]protocol.Availability, error) {
	s.mu.Lock()
	a := s.answers[s.calls]
	s.calls++
	s.mu.Unlock()

	if a.gate != nil {
		select {
		case <-a.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return a.entries, a.err
}

var names = []string{"languageModel", "summarizer", "writer", "rewriter"}

func TestNew_BaselineIsUnknown(t *testing.T) {
	c := New(&scriptedSource{}, names)

	snap := c.ReadSync()
	require.Len(t, snap, len(names))
	for _, name := range names {
		assert.Equal(t, protocol.Availability{Available: false, Status: protocol.StatusUnknown, RequiresDownload: false}, snap[name])
	}
	assert.True(t, c.RefreshedAt().IsZero())
}

func TestRefresh_ReplacesSnapshotWholesale(t *testing.T) {
	src := &scriptedSource{answers: []answer{{entries: map[string]protocol.Availability{
		"summarizer": protocol.NewAvailability(protocol.StatusReady),
		"translator": protocol.NewAvailability(protocol.StatusDownloadable),
	}}}}
	c := New(src, names)

	require.NoError(t, c.Refresh(context.Background()))

	snap := c.ReadSync()
	assert.Equal(t, Snapshot{
		"summarizer": protocol.NewAvailability(protocol.StatusReady),
		"translator": protocol.NewAvailability(protocol.StatusDownloadable),
	}, snap)
	_, ok := c.Get("writer")
	assert.False(t, ok)
	assert.False(t, c.RefreshedAt().IsZero())
}

func TestRefresh_FailureKeepsPreviousSnapshot(t *testing.T) {
	ready := map[string]protocol.Availability{"writer": protocol.NewAvailability(protocol.StatusReady)}
	src := &scriptedSource{answers: []answer{
		{entries: ready},
		{err: errors.New("bridge unavailable")},
	}}
	c := New(src, names)

	require.NoError(t, c.Refresh(context.Background()))
	at := c.RefreshedAt()

	err := c.Refresh(context.Background())
	assert.ErrorContains(t, err, "bridge unavailable")
	assert.Equal(t, Snapshot(ready), c.ReadSync())
	assert.Equal(t, at, c.RefreshedAt())
}

func TestReadSync_DoesNotWaitForRefresh(t *testing.T) {
	gate := make(chan struct{})
	src := &scriptedSource{answers: []answer{{
		entries: map[string]protocol.Availability{"summarizer": protocol.NewAvailability(protocol.StatusReady)},
		gate:    gate,
	}}}
	c := New(src, names)

	done := make(chan error, 1)
	go func() { done <- c.Refresh(context.Background()) }()

	require.Eventually(t, func() bool {
		src.mu.Lock()
		defer src.mu.Unlock()
		return src.calls == 1
	}, time.Second, 5*time.Millisecond)

	// Still the baseline while the round trip is outstanding.
	assert.Equal(t, protocol.Unknown(), c.ReadSync()["summarizer"])

	close(gate)
	require.NoError(t, <-done)
	assert.Equal(t, protocol.NewAvailability(protocol.StatusReady), c.ReadSync()["summarizer"])
}

func TestRefresh_EarlierRefreshDoesNotOverwriteLater(t *testing.T) {
	slowGate := make(chan struct{})
	src := &scriptedSource{answers: []answer{
		{entries: map[string]protocol.Availability{"writer": protocol.NewAvailability(protocol.StatusUnavailable)}, gate: slowGate},
		{entries: map[string]protocol.Availability{"writer": protocol.NewAvailability(protocol.StatusReady)}},
	}}
	c := New(src, names)

	slow := make(chan error, 1)
	go func() { slow <- c.Refresh(context.Background()) }()
	require.Eventually(t, func() bool {
		src.mu.Lock()
		defer src.mu.Unlock()
		return src.calls == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, c.Refresh(context.Background()))
	close(slowGate)
	require.NoError(t, <-slow)

	got, _ := c.Get("writer")
	assert.Equal(t, protocol.StatusReady, got.Status)
}

func TestReadSync_ReturnsCopy(t *testing.T) {
	c := New(&scriptedSource{}, names)

	snap := c.ReadSync()
	snap["summarizer"] = protocol.NewAvailability(protocol.StatusReady)

	assert.Equal(t, protocol.Unknown(), c.ReadSync()["summarizer"])
}

func TestRun_RefreshesUntilCancelled(t *testing.T) {
	entries := map[string]protocol.Availability{"writer": protocol.NewAvailability(protocol.StatusReady)}
	src := &scriptedSource{answers: make([]answer, 1000)}
	for i := range src.answers {
		src.answers[i] = answer{entries: entries}
	}
	c := New(src, names)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx, 10*time.Millisecond)
		close(done)
	}()

	require.Eventually(t, func() bool {
		src.mu.Lock()
		defer src.mu.Unlock()
		return src.calls >= 3
	}, time.Second, 5*time.Millisecond)
	cancel()
	<-done

	assert.Equal(t, Snapshot(entries), c.ReadSync())
}
