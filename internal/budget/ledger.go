package budget

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rfalcao/conceptminer/internal/domain"
)

var ErrBudgetExhausted = errors.New("budget exhausted")

const (
	ReasonOK                = "ok"
	ReasonDocCapExhausted   = "doc_cap_exhausted"
	ReasonDailyQuotaReached = "daily_quota_reached"
)

const (
	reservationHeld int32 = iota
	reservationConsumed
	reservationRefunded
)

// Reservation is a provisional budget hold. It resolves exactly once:
// Consume keeps the spend, Refund returns it. A second Refund is a no-op.
type Reservation struct {
	ID       string
	TenantID string
	Tier     domain.Tier
	N        int
	DocID    string

	dayKey string
	state  atomic.Int32
}

type Config struct {
	// PerDocCaps bounds reservations per (document, tier); 0 means the
	// tier is uncapped at the document scope.
	PerDocCaps map[domain.Tier]int
	// DailyQuotas bounds reservations per (tenant, tier, UTC day).
	DailyQuotas map[domain.Tier]int
	// DailyWindow is the rolling expiry applied to daily counters.
	DailyWindow time.Duration
}

// Ledger tracks remaining call allowance at two scopes: per document
// (in process, released when the job finishes) and per tenant per UTC day
// (in the shared counter store). It is the most contended resource in the
// pipeline, so every mutation is a single atomic operation with rollback,
// never a read-modify-write.
type Ledger struct {
	store  CounterStore
	config Config
	logger *log.Logger
	now    func() time.Time

	docMu    sync.Mutex
	docUsage map[string]map[domain.Tier]int
}

func NewLedger(store CounterStore, config Config, logger *log.Logger) *Ledger {
	if config.DailyWindow <= 0 {
		config.DailyWindow = 24 * time.Hour
	}
	if store == nil {
		store = NewMemoryCounterStore()
	}
	return &Ledger{
		store:    store,
		config:   config,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
		docUsage: make(map[string]map[domain.Tier]int),
	}
}

// Check reports whether n calls are available for (tenant, tier) given
// the per-document and daily scopes; the smaller remaining value governs.
// The free tier is always available.
func (l *Ledger) Check(ctx context.Context, tenantID string, tier domain.Tier, n int, docID string) (bool, int, string) {
	if tier == domain.TierNoLLM {
		return true, 0, ReasonOK
	}

	docRemaining := l.docRemaining(docID, tier)
	if docRemaining >= 0 && docRemaining < n {
		return false, docRemaining, ReasonDocCapExhausted
	}

	dailyRemaining := -1
	if quota := l.config.DailyQuotas[tier]; quota > 0 {
		used, err := l.store.Get(ctx, l.dayKey(tenantID, tier))
		if err != nil {
			l.logf("daily counter read failed tenant=%s tier=%s: %v", tenantID, tier, err)
			return false, 0, ReasonDailyQuotaReached
		}
		dailyRemaining = quota - int(used)
		if dailyRemaining < n {
			return false, max(dailyRemaining, 0), ReasonDailyQuotaReached
		}
	}

	return true, minRemaining(docRemaining, dailyRemaining), ReasonOK
}

// Reserve decrements both scopes atomically. On quota overflow the
// partial increments are rolled back and ErrBudgetExhausted is returned.
func (l *Ledger) Reserve(ctx context.Context, tenantID string, tier domain.Tier, n int, docID string) (*Reservation, error) {
	if tier == domain.TierNoLLM {
		return nil, fmt.Errorf("tier %s needs no reservation", tier)
	}

	if !l.reserveDoc(docID, tier, n) {
		return nil, fmt.Errorf("%w: %s", ErrBudgetExhausted, ReasonDocCapExhausted)
	}

	dayKey := l.dayKey(tenantID, tier)
	if quota := l.config.DailyQuotas[tier]; quota > 0 {
		used, err := l.store.IncrBy(ctx, dayKey, int64(n), l.config.DailyWindow)
		if err != nil {
			l.releaseDoc(docID, tier, n)
			return nil, fmt.Errorf("reserve daily counter: %w", err)
		}
		if used > int64(quota) {
			if _, _, decrErr := l.store.DecrBy(ctx, dayKey, int64(n)); decrErr != nil {
				l.logf("daily counter rollback failed tenant=%s tier=%s: %v", tenantID, tier, decrErr)
			}
			l.releaseDoc(docID, tier, n)
			return nil, fmt.Errorf("%w: %s", ErrBudgetExhausted, ReasonDailyQuotaReached)
		}
	}

	return &Reservation{
		ID:       uuid.NewString(),
		TenantID: tenantID,
		Tier:     tier,
		N:        n,
		DocID:    docID,
		dayKey:   dayKey,
	}, nil
}

// Consume marks the reservation as spent. Consuming twice is harmless.
func (l *Ledger) Consume(r *Reservation) {
	if r == nil {
		return
	}
	r.state.CompareAndSwap(reservationHeld, reservationConsumed)
}

// Refund restores exactly the reserved amount, once. Refunds against a
// daily counter that has already expired are no-ops: the new day starts
// from zero and must not inherit negative balances.
func (l *Ledger) Refund(ctx context.Context, r *Reservation) {
	if r == nil {
		return
	}
	if !r.state.CompareAndSwap(reservationHeld, reservationRefunded) &&
		!r.state.CompareAndSwap(reservationConsumed, reservationRefunded) {
		l.logf("ignoring duplicate refund reservation=%s", r.ID)
		return
	}

	l.releaseDoc(r.DocID, r.Tier, r.N)

	if l.config.DailyQuotas[r.Tier] > 0 {
		_, existed, err := l.store.DecrBy(ctx, r.dayKey, int64(r.N))
		if err != nil {
			l.logf("daily refund failed reservation=%s: %v", r.ID, err)
			return
		}
		if !existed {
			l.logf("daily counter expired before refund reservation=%s day=%s", r.ID, r.dayKey)
		}
	}
}

// ReleaseDocument drops the per-document usage map once a job finishes.
func (l *Ledger) ReleaseDocument(docID string) {
	l.docMu.Lock()
	defer l.docMu.Unlock()
	delete(l.docUsage, docID)
}

func (l *Ledger) docRemaining(docID string, tier domain.Tier) int {
	limit := l.config.PerDocCaps[tier]
	if limit <= 0 {
		return -1
	}
	l.docMu.Lock()
	defer l.docMu.Unlock()
	return limit - l.docUsage[docID][tier]
}

func (l *Ledger) reserveDoc(docID string, tier domain.Tier, n int) bool {
	limit := l.config.PerDocCaps[tier]
	l.docMu.Lock()
	defer l.docMu.Unlock()

	usage, ok := l.docUsage[docID]
	if !ok {
		usage = make(map[domain.Tier]int)
		l.docUsage[docID] = usage
	}
	if limit > 0 && usage[tier]+n > limit {
		return false
	}
	usage[tier] += n
	return true
}

func (l *Ledger) releaseDoc(docID string, tier domain.Tier, n int) {
	l.docMu.Lock()
	defer l.docMu.Unlock()

	usage, ok := l.docUsage[docID]
	if !ok {
		return
	}
	usage[tier] -= n
	if usage[tier] < 0 {
		usage[tier] = 0
	}
}

func (l *Ledger) dayKey(tenantID string, tier domain.Tier) string {
	return fmt.Sprintf("budget:%s:%s:%s", tenantID, tier, l.now().Format("2006-01-02"))
}

func (l *Ledger) logf(format string, args ...any) {
	if l.logger != nil {
		l.logger.Printf(format, args...)
	}
}

func minRemaining(doc, daily int) int {
	switch {
	case doc < 0 && daily < 0:
		return -1
	case doc < 0:
		return daily
	case daily < 0:
		return doc
	case doc < daily:
		return doc
	default:
		return daily
	}
}
