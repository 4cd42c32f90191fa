package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"quizlab-service/internal/domain"
)

type countingLoader struct {
	LabByCodeLoader
	mu    sync.Mutex
	calls int
}

func (l *countingLoader) GetLabByCode(ctx context.Context, code string) (domain.Lab, error) {
	l.mu.Lock()
	l.calls++
	l.mu.Unlock()
	return l.LabByCodeLoader.GetLabByCode(ctx, code)
}

func (l *countingLoader) loadCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}

func seedCodeStore(t *testing.T) *Store {
	t.Helper()
	store := NewStore()
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

func TestCodeCacheServesFromCache(t *testing.T) {
	ctx := context.Background()
	loader := &countingLoader{LabByCodeLoader: seedCodeStore(t)}
	cache := NewCodeCache(loader, time.Minute)

	for i := 0; i < 3; i++ {
		id, err := cache.LabIDByCode(ctx, "LAB123")
		if err != nil {
			t.Fatalf("lookup %d: %v", i, err)
		}
		if id != "lab-1" {
			t.Fatalf("lookup %d: got %q", i, id)
		}
	}
	if loader.loadCount() != 1 {
		t.Fatalf("expected a single backing load, got %d", loader.loadCount())
	}
}

func TestCodeCacheExpiry(t *testing.T) {
	ctx := context.Background()
	loader := &countingLoader{LabByCodeLoader: seedCodeStore(t)}
	cache := NewCodeCache(loader, time.Minute)

	now := time.Now()
	cache.clock = func() time.Time { return now }

	if _, err := cache.LabIDByCode(ctx, "LAB123"); err != nil {
		t.Fatalf("lookup: %v", err)
	}
	// Jitter extends the TTL by at most 10%, so two minutes is past expiry.
	now = now.Add(2 * time.Minute)
	if _, err := cache.LabIDByCode(ctx, "LAB123"); err != nil {
		t.Fatalf("lookup after expiry: %v", err)
	}
	if loader.loadCount() != 2 {
		t.Fatalf("expected reload after expiry, got %d loads", loader.loadCount())
	}
}

func TestCodeCacheDoesNotCacheMisses(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	loader := &countingLoader{LabByCodeLoader: store}
	cache := NewCodeCache(loader, time.Minute)

	if _, err := cache.LabIDByCode(ctx, "LAB123"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	err := store.InsertLab(ctx, domain.Lab{
		ID: "lab-1", CreatorID: "creator", Name: "Lab",
		AccessCode: "LAB123", Status: domain.LabPublished, CreatedAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("insert lab: %v", err)
	}

	id, err := cache.LabIDByCode(ctx, "LAB123")
	if err != nil || id != "lab-1" {
		t.Fatalf("expected hit after insert, got %q err=%v", id, err)
	}
}
