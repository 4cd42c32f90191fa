package redis

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// ActivityTracker marks session heartbeats in a per-lab sorted set scored by
// touch time: ZADD lab:live:{labID} {now} {sessionID}. LiveCount counts
// members inside the window. Markers are best-effort; a lost write only
// under-reports liveness until the next touch.
type ActivityTracker struct {
	client *redis.Client
	window time.Duration
	clock  func() time.Time
}

func NewActivityTracker(client *redis.Client, window time.Duration) *ActivityTracker {
	return &ActivityTracker{
		client: client,
		window: window,
		clock:  time.Now,
	}
}

func (t *ActivityTracker) Touch(ctx context.Context, labID, sessionID string) {
	now := t.clock()
	key := t.key(labID)
	pipe := t.client.Pipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(now.UnixMilli()), Member: sessionID})
	// Keep the set from outliving the lab's activity entirely.
	pipe.Expire(ctx, key, 2*t.window)
	_, _ = pipe.Exec(ctx)
}

func (t *ActivityTracker) LiveCount(ctx context.Context, labID string) (int, error) {
	cutoff := t.clock().Add(-t.window).UnixMilli()
	n, err := t.client.ZCount(ctx, t.key(labID), strconv.FormatInt(cutoff, 10), "+inf").Result()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (t *ActivityTracker) key(labID string) string {
	return "lab:live:" + labID
}
