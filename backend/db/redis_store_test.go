package db

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"

	"github.com/google/uuid"
)

// newTestRedisStore needs a live Redis at REDIS_TEST_ADDR. Every test gets
// its own key prefix.
func newTestRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}
	s, err := NewRedisStore(RedisConfig{Addr: addr, KeyPrefix: "firealert-test-" + uuid.NewString()})
	if err != nil {
		t.Fatalf("NewRedisStore: %v", err)
	}
	t.Cleanup(func() {
		ctx := context.Background()
		for _, c := range []string{"alerts", "source_guards"} {
			s.client.Del(ctx, s.key(c))
		}
		s.Close()
	})
	return s
}

func TestRedisStoreCRUD(t *testing.T) {
	s := newTestRedisStore(t)
	ctx := context.Background()

	if _, err := s.Get(ctx, "alerts", "a1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get missing: expected ErrNotFound, got %v", err)
	}
	if err := s.Create(ctx, "alerts", "a1", Doc{"status": "PENDING", "created_at": 100}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.Create(ctx, "alerts", "a1", Doc{"status": "CONFIRMED"}); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("second Create: expected ErrAlreadyExists, got %v", err)
	}
	if err := s.Set(ctx, "alerts", "a1", Doc{"status": "CONFIRMED", "error": nil}, true); err != nil {
		t.Fatalf("Set merge: %v", err)
	}
	d, err := s.Get(ctx, "alerts", "a1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if d["status"] != "CONFIRMED" || d["created_at"] != float64(100) {
		t.Errorf("unexpected merged doc: %v", d)
	}

	docs, err := s.Query(ctx, "alerts", Eq("status", "CONFIRMED"), Lte("created_at", 100))
	if err != nil || len(docs) != 1 {
		t.Fatalf("Query: %v %v", docs, err)
	}

	if err := s.Update(ctx, "alerts", "a1", Doc{"status": "SENDING"}, Eq("status", "PENDING")); !errors.Is(err, ErrConflict) {
		t.Fatalf("Update with stale condition: expected ErrConflict, got %v", err)
	}
	if err := s.Update(ctx, "alerts", "a1", Doc{"status": "SENDING"}, Eq("status", "CONFIRMED")); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if err := s.Update(ctx, "alerts", "a2", Doc{"status": "SENDING"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Update missing: expected ErrNotFound, got %v", err)
	}

	if removed, err := s.Delete(ctx, "alerts", "a1"); err != nil || !removed {
		t.Fatalf("Delete: removed=%t err=%v", removed, err)
	}
	if removed, _ := s.Delete(ctx, "alerts", "a1"); removed {
		t.Errorf("second Delete must report nothing removed")
	}
	if _, err := s.Get(ctx, "alerts", "a1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestRedisStoreConcurrentCreate(t *testing.T) {
	s := newTestRedisStore(t)
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.Create(ctx, "source_guards", "cam-1", Doc{"alert_id": uuid.NewString()}); err == nil {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if winners != 1 {
		t.Errorf("expected exactly one winner, got %d", winners)
	}
}

func TestRedisStoreConcurrentMerge(t *testing.T) {
	s := newTestRedisStore(t)
	ctx := context.Background()

	fields := []string{"a", "b", "c", "d", "e"}
	var wg sync.WaitGroup
	for _, f := range fields {
		wg.Add(1)
		go func(f string) {
			defer wg.Done()
			if err := s.Set(ctx, "alerts", "a1", Doc{f: true}, true); err != nil {
				t.Errorf("merge %s: %v", f, err)
			}
		}(f)
	}
	wg.Wait()

	d, err := s.Get(ctx, "alerts", "a1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	for _, f := range fields {
		if d[f] != true {
			t.Errorf("merge lost field %s: %v", f, d)
		}
	}
}
