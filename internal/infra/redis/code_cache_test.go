package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"quizlab-service/internal/domain"
	"quizlab-service/internal/infra/memory"
)

func newClient(mr *miniredis.Miniredis) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
}

type countingLoader struct {
	memory.LabByCodeLoader
	calls int
}

func (l *countingLoader) GetLabByCode(ctx context.Context, code string) (domain.Lab, error) {
	l.calls++
	return l.LabByCodeLoader.GetLabByCode(ctx, code)
}

func seededStore(t *testing.T) *memory.Store {
	t.Helper()
	store := memory.NewStore()
	err := store.InsertLab(context.Background(), domain.Lab{
		ID:         "lab-1",
		CreatorID:  "creator",
		Name:       "Lab",
		AccessCode: "LAB123",
		Status:     domain.LabPublished,
		CreatedAt:  time.Now(),
	})
	if err != nil {
		t.Fatalf("seed lab: %v", err)
	}
	return store
}

func TestCodeCacheCachesInRedis(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	client := newClient(mr)
	loader := &countingLoader{LabByCodeLoader: seededStore(t)}
	cache := NewCodeCache(client, loader, time.Minute)

	id, err := cache.LabIDByCode(context.Background(), "LAB123")
	if err != nil || id != "lab-1" {
		t.Fatalf("lookup: id=%q err=%v", id, err)
	}
	if loader.calls != 1 {
		t.Fatalf("expected loader called once, got %d", loader.calls)
	}

	// Second call should hit redis, loader not incremented.
	if _, err := cache.LabIDByCode(context.Background(), "LAB123"); err != nil {
		t.Fatalf("cached lookup: %v", err)
	}
	if loader.calls != 1 {
		t.Fatalf("expected cache hit, loader calls=%d", loader.calls)
	}
}

func TestCodeCacheSharedAcrossInstances(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	client := newClient(mr)
	warm := NewCodeCache(client, seededStore(t), time.Minute)
	if _, err := warm.LabIDByCode(context.Background(), "LAB123"); err != nil {
		t.Fatalf("warm lookup: %v", err)
	}

	// A second instance with a dead loader still resolves from redis.
	cold := NewCodeCache(client, failingLoader{}, time.Minute)
	id, err := cold.LabIDByCode(context.Background(), "LAB123")
	if err != nil || id != "lab-1" {
		t.Fatalf("expected shared cache hit, id=%q err=%v", id, err)
	}
}

type failingLoader struct{}

func (failingLoader) GetLabByCode(context.Context, string) (domain.Lab, error) {
	return domain.Lab{}, errors.New("loader must not be called")
}

func TestCodeCacheDoesNotCacheMisses(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	client := newClient(mr)
	store := memory.NewStore()
	cache := NewCodeCache(client, store, time.Minute)

	if _, err := cache.LabIDByCode(context.Background(), "LAB123"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	err = store.InsertLab(context.Background(), domain.Lab{
		ID: "lab-1", CreatorID: "creator", Name: "Lab",
		AccessCode: "LAB123", Status: domain.LabPublished, CreatedAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("insert lab: %v", err)
	}

	id, err := cache.LabIDByCode(context.Background(), "LAB123")
	if err != nil || id != "lab-1" {
		t.Fatalf("expected hit after insert, got %q err=%v", id, err)
	}
}

func TestCodeCacheZeroTTLDisablesCaching(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	client := newClient(mr)
	loader := &countingLoader{LabByCodeLoader: seededStore(t)}
	cache := NewCodeCache(client, loader, 0)

	for i := 0; i < 2; i++ {
		id, err := cache.LabIDByCode(context.Background(), "LAB123")
		if err != nil || id != "lab-1" {
			t.Fatalf("lookup %d: id=%q err=%v", i, id, err)
		}
	}
	if loader.calls != 2 {
		t.Fatalf("expected every lookup to hit the loader, got %d", loader.calls)
	}
	if mr.Exists("labcode:LAB123") {
		t.Fatalf("expected no key stored with caching disabled")
	}
}
