// Package redis provides redis-backed caching and liveness tracking shared by
// all instances of the service.
package redis

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"quizlab-service/internal/domain"
	"quizlab-service/internal/infra/memory"
)

// CodeCache resolves normalized access codes to lab IDs through redis:
// GET labcode:{CODE} -> labID, falling back to the loader on miss.
// Only the ID is cached so a cached entry can never hide a status change;
// negative lookups are not cached.
type CodeCache struct {
	client *redis.Client
	loader memory.LabByCodeLoader
	ttl    time.Duration
	sf     singleflight.Group
	rnd    *rand.Rand
}

func NewCodeCache(client *redis.Client, loader memory.LabByCodeLoader, ttl time.Duration) *CodeCache {
	return &CodeCache{
		client: client,
		loader: loader,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (c *CodeCache) LabIDByCode(ctx context.Context, code string) (string, error) {
	key := c.key(code)

	labID, err := c.client.Get(ctx, key).Result()
	if err == nil && labID != "" {
		return labID, nil
	}

	result, err, _ := c.sf.Do(code, func() (interface{}, error) {
		// Re-check in case another goroutine filled the key.
		if labID, err := c.client.Get(ctx, key).Result(); err == nil && labID != "" {
			return labID, nil
		}

		lab, err := c.loader.GetLabByCode(ctx, code)
		if err != nil {
			return "", err
		}

		// best-effort: a failed SET only costs the next caller a reload.
		// A non-positive TTL disables caching rather than storing forever,
		// matching the memory variant.
		if c.ttl > 0 {
			_ = c.client.Set(ctx, key, lab.ID, c.ttlWithJitter()).Err()
		}
		return lab.ID, nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return "", domain.ErrNotFound
		}
		return "", err
	}
	return result.(string), nil
}

func (c *CodeCache) key(code string) string {
	return "labcode:" + code
}

func (c *CodeCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	jitterMax := int64(c.ttl) / 10
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}
