package memory

import (
	"context"
	"sync"
	"time"
)

// ActivityTracker keeps per-lab session heartbeats in memory. It mirrors the
// redis tracker for redis-less runs; liveness is advisory either way.
type ActivityTracker struct {
	window time.Duration
	clock  func() time.Time

	mu   sync.Mutex
	seen map[string]map[string]time.Time
}

func NewActivityTracker(window time.Duration) *ActivityTracker {
	return &ActivityTracker{
		window: window,
		clock:  time.Now,
		seen:   make(map[string]map[string]time.Time),
	}
}

func (t *ActivityTracker) Touch(_ context.Context, labID, sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	sessions, ok := t.seen[labID]
	if !ok {
		sessions = make(map[string]time.Time)
		t.seen[labID] = sessions
	}
	sessions[sessionID] = t.clock()
}

func (t *ActivityTracker) LiveCount(_ context.Context, labID string) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := t.clock().Add(-t.window)
	count := 0
	for sessionID, last := range t.seen[labID] {
		if last.After(cutoff) {
			count++
		} else {
			delete(t.seen[labID], sessionID)
		}
	}
	return count, nil
}
