package budget

import (
	"context"
	"testing"
	"time"
)

func TestMemoryCounterStoreIncrDecr(t *testing.T) {
	store := NewMemoryCounterStore()
	ctx := context.Background()

	value, err := store.IncrBy(ctx, "k", 3, time.Hour)
	if err != nil || value != 3 {
		t.Fatalf("expected 3 after incr, got %d err=%v", value, err)
	}

	value, existed, err := store.DecrBy(ctx, "k", 1)
	if err != nil || !existed || value != 2 {
		t.Fatalf("expected 2 with existed=true, got %d existed=%v err=%v", value, existed, err)
	}

	value, err = store.Get(ctx, "k")
	if err != nil || value != 2 {
		t.Fatalf("expected get 2, got %d err=%v", value, err)
	}
}

func TestMemoryCounterStoreExpiry(t *testing.T) {
	store := NewMemoryCounterStore()
	current := time.Now().UTC()
	store.SetClock(func() time.Time { return current })
	ctx := context.Background()

	if _, err := store.IncrBy(ctx, "k", 5, time.Minute); err != nil {
		t.Fatalf("incr failed: %v", err)
	}

	current = current.Add(2 * time.Minute)

	if value, err := store.Get(ctx, "k"); err != nil || value != 0 {
		t.Fatalf("expected expired counter to read 0, got %d err=%v", value, err)
	}
	if _, existed, err := store.DecrBy(ctx, "k", 5); err != nil || existed {
		t.Fatalf("expected decr on expired key to report existed=false, got existed=%v err=%v", existed, err)
	}

	// Re-creation starts fresh with the new TTL.
	if value, err := store.IncrBy(ctx, "k", 1, time.Minute); err != nil || value != 1 {
		t.Fatalf("expected fresh counter at 1, got %d err=%v", value, err)
	}
}

func TestMemoryCounterStoreMissingKey(t *testing.T) {
	store := NewMemoryCounterStore()
	ctx := context.Background()

	if value, err := store.Get(ctx, "absent"); err != nil || value != 0 {
		t.Fatalf("expected 0 for absent key, got %d err=%v", value, err)
	}
	if _, existed, err := store.DecrBy(ctx, "absent", 1); err != nil || existed {
		t.Fatalf("expected decr on absent key to be a no-op, got existed=%v err=%v", existed, err)
	}
}
