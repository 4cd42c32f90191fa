package memory

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"quizlab-service/internal/domain"
)

// LabByCodeLoader is the backing lookup a code cache falls back to on miss.
type LabByCodeLoader interface {
	GetLabByCode(ctx context.Context, code string) (domain.Lab, error)
}

// CodeCache memoizes normalized access code -> lab ID with TTL to avoid
// repeated index lookups. Only the ID is cached: callers re-read the lab by
// ID, so lab status changes are never masked by a cache hit. Negative results
// are not cached.
type CodeCache struct {
	loader LabByCodeLoader
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group
	rnd    *rand.Rand

	mu    sync.RWMutex
	cache map[string]cachedID
}

type cachedID struct {
	labID     string
	expiresAt time.Time
}

func NewCodeCache(loader LabByCodeLoader, ttl time.Duration) *CodeCache {
	return &CodeCache{
		loader: loader,
		ttl:    ttl,
		clock:  time.Now,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
		cache:  make(map[string]cachedID),
	}
}

func (c *CodeCache) LabIDByCode(ctx context.Context, code string) (string, error) {
	now := c.clock()

	c.mu.RLock()
	if entry, ok := c.cache[code]; ok && entry.expiresAt.After(now) {
		c.mu.RUnlock()
		return entry.labID, nil
	}
	c.mu.RUnlock()

	result, err, _ := c.sf.Do(code, func() (interface{}, error) {
		now := c.clock()
		c.mu.RLock()
		if entry, ok := c.cache[code]; ok && entry.expiresAt.After(now) {
			c.mu.RUnlock()
			return entry.labID, nil
		}
		c.mu.RUnlock()

		lab, err := c.loader.GetLabByCode(ctx, code)
		if err != nil {
			return "", err
		}

		c.mu.Lock()
		c.cache[code] = cachedID{
			labID:     lab.ID,
			expiresAt: now.Add(c.ttlWithJitter()),
		}
		c.mu.Unlock()
		return lab.ID, nil
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

func (c *CodeCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	// up to 10% jitter to spread expirations
	jitterMax := int64(c.ttl) / 10
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}
