package budget

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rfalcao/conceptminer/internal/domain"
)

func newTestLedger(store CounterStore, config Config) *Ledger {
	return NewLedger(store, config, nil)
}

func TestReserveConsumeRefundLifecycle(t *testing.T) {
	ledger := newTestLedger(nil, Config{
		PerDocCaps:  map[domain.Tier]int{domain.TierSmall: 5},
		DailyQuotas: map[domain.Tier]int{domain.TierSmall: 100},
	})
	ctx := context.Background()

	reservation, err := ledger.Reserve(ctx, "tenant-a", domain.TierSmall, 2, "doc-1")
	if err != nil {
		t.Fatalf("expected reserve to succeed: %v", err)
	}

	ok, remaining, reason := ledger.Check(ctx, "tenant-a", domain.TierSmall, 1, "doc-1")
	if !ok || reason != ReasonOK {
		t.Fatalf("expected budget available after partial reserve, got ok=%v reason=%s", ok, reason)
	}
	if remaining != 3 {
		t.Fatalf("expected 3 remaining at doc scope, got %d", remaining)
	}

	ledger.Consume(reservation)
	ledger.Refund(ctx, reservation)

	// Consume resolved the reservation first, so the refund returns it.
	ok, remaining, _ = ledger.Check(ctx, "tenant-a", domain.TierSmall, 1, "doc-1")
	if !ok || remaining != 5 {
		t.Fatalf("expected full doc cap back after refund, got ok=%v remaining=%d", ok, remaining)
	}
}

func TestDoubleRefundIsNoOp(t *testing.T) {
	store := NewMemoryCounterStore()
	ledger := newTestLedger(store, Config{
		DailyQuotas: map[domain.Tier]int{domain.TierBig: 10},
	})
	ctx := context.Background()

	reservation, err := ledger.Reserve(ctx, "tenant-a", domain.TierBig, 3, "doc-1")
	if err != nil {
		t.Fatalf("reserve failed: %v", err)
	}

	ledger.Refund(ctx, reservation)
	ledger.Refund(ctx, reservation)

	used, err := store.Get(ctx, ledger.dayKey("tenant-a", domain.TierBig))
	if err != nil {
		t.Fatalf("counter read failed: %v", err)
	}
	if used != 0 {
		t.Fatalf("expected counter back to 0 after single refund, got %d", used)
	}
}

func TestDocCapExhaustion(t *testing.T) {
	ledger := newTestLedger(nil, Config{
		PerDocCaps: map[domain.Tier]int{domain.TierSmall: 2},
	})
	ctx := context.Background()

	if _, err := ledger.Reserve(ctx, "tenant-a", domain.TierSmall, 2, "doc-1"); err != nil {
		t.Fatalf("first reserve failed: %v", err)
	}
	if _, err := ledger.Reserve(ctx, "tenant-a", domain.TierSmall, 1, "doc-1"); !errors.Is(err, ErrBudgetExhausted) {
		t.Fatalf("expected ErrBudgetExhausted at doc cap, got %v", err)
	}

	// Another document is unaffected.
	if _, err := ledger.Reserve(ctx, "tenant-a", domain.TierSmall, 2, "doc-2"); err != nil {
		t.Fatalf("expected independent doc scope, got %v", err)
	}

	ok, _, reason := ledger.Check(ctx, "tenant-a", domain.TierSmall, 1, "doc-1")
	if ok || reason != ReasonDocCapExhausted {
		t.Fatalf("expected doc_cap_exhausted, got ok=%v reason=%s", ok, reason)
	}
}

func TestDailyQuotaRollbackOnOverflow(t *testing.T) {
	store := NewMemoryCounterStore()
	ledger := newTestLedger(store, Config{
		DailyQuotas: map[domain.Tier]int{domain.TierSmall: 3},
	})
	ctx := context.Background()

	if _, err := ledger.Reserve(ctx, "tenant-a", domain.TierSmall, 2, "doc-1"); err != nil {
		t.Fatalf("reserve failed: %v", err)
	}
	if _, err := ledger.Reserve(ctx, "tenant-a", domain.TierSmall, 2, "doc-1"); !errors.Is(err, ErrBudgetExhausted) {
		t.Fatalf("expected ErrBudgetExhausted on quota overflow, got %v", err)
	}

	used, err := store.Get(ctx, ledger.dayKey("tenant-a", domain.TierSmall))
	if err != nil {
		t.Fatalf("counter read failed: %v", err)
	}
	if used != 2 {
		t.Fatalf("expected failed reserve rolled back to 2, got %d", used)
	}
}

func TestRefundAfterDayBoundaryIsNoOp(t *testing.T) {
	store := NewMemoryCounterStore()
	current := time.Date(2026, 3, 1, 23, 59, 0, 0, time.UTC)
	store.SetClock(func() time.Time { return current })

	ledger := newTestLedger(store, Config{
		DailyQuotas: map[domain.Tier]int{domain.TierSmall: 10},
		DailyWindow: time.Minute,
	})
	ctx := context.Background()

	reservation, err := ledger.Reserve(ctx, "tenant-a", domain.TierSmall, 4, "doc-1")
	if err != nil {
		t.Fatalf("reserve failed: %v", err)
	}

	// Counter expires before the refund lands.
	current = current.Add(2 * time.Minute)
	ledger.Refund(ctx, reservation)

	used, err := store.Get(ctx, reservation.dayKey)
	if err != nil {
		t.Fatalf("counter read failed: %v", err)
	}
	if used != 0 {
		t.Fatalf("expected expired counter to stay at 0, got %d", used)
	}

	// A fresh increment must start from zero, not a negative balance.
	value, err := store.IncrBy(ctx, reservation.dayKey, 1, time.Hour)
	if err != nil {
		t.Fatalf("incr failed: %v", err)
	}
	if value != 1 {
		t.Fatalf("expected fresh counter at 1, got %d", value)
	}
}

func TestConcurrentReservesNeverExceedQuota(t *testing.T) {
	store := NewMemoryCounterStore()
	ledger := newTestLedger(store, Config{
		DailyQuotas: map[domain.Tier]int{domain.TierSmall: 20},
	})
	ctx := context.Background()

	var wg sync.WaitGroup
	granted := make(chan *Reservation, 64)
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if r, err := ledger.Reserve(ctx, "tenant-a", domain.TierSmall, 1, "doc-1"); err == nil {
				granted <- r
			}
		}()
	}
	wg.Wait()
	close(granted)

	count := 0
	for range granted {
		count++
	}
	if count != 20 {
		t.Fatalf("expected exactly 20 grants under a quota of 20, got %d", count)
	}
}

func TestFreeTierAlwaysAvailable(t *testing.T) {
	ledger := newTestLedger(nil, Config{
		PerDocCaps:  map[domain.Tier]int{domain.TierSmall: 0},
		DailyQuotas: map[domain.Tier]int{},
	})

	ok, _, reason := ledger.Check(context.Background(), "tenant-a", domain.TierNoLLM, 1000, "doc-1")
	if !ok || reason != ReasonOK {
		t.Fatalf("expected free tier to always pass, got ok=%v reason=%s", ok, reason)
	}
	if _, err := ledger.Reserve(context.Background(), "tenant-a", domain.TierNoLLM, 1, "doc-1"); err == nil {
		t.Fatalf("expected reserve on free tier to be rejected")
	}
}

func TestReleaseDocumentRestoresDocScope(t *testing.T) {
	ledger := newTestLedger(nil, Config{
		PerDocCaps: map[domain.Tier]int{domain.TierBig: 1},
	})
	ctx := context.Background()

	if _, err := ledger.Reserve(ctx, "tenant-a", domain.TierBig, 1, "doc-1"); err != nil {
		t.Fatalf("reserve failed: %v", err)
	}
	ledger.ReleaseDocument("doc-1")
	if _, err := ledger.Reserve(ctx, "tenant-a", domain.TierBig, 1, "doc-1"); err != nil {
		t.Fatalf("expected doc scope reset after release, got %v", err)
	}
}
