package route

import (
	"context"

	"github.com/rfalcao/conceptminer/internal/domain"
)

// BudgetView is the read-only budget check the router consults while
// walking the fallback chain. The router never reserves: the caller
// reserves after the tier is chosen.
type BudgetView interface {
	Check(ctx context.Context, tier domain.Tier, n int) bool
}

type Config struct {
	// SparseEntityLimit: segments with fewer entities stay on the free
	// path unless they are long.
	SparseEntityLimit int
	// DenseEntityLimit: segments with more entities go premium.
	DenseEntityLimit int
	// LongSegmentTokens promotes a sparse-but-long segment past the free
	// path; entity density alone under-detects topic complexity there.
	LongSegmentTokens int
}

// Router picks the cheapest adequate tier for a segment. Select is pure
// given its inputs: no reservations, no mutation.
type Router struct {
	config Config
}

func NewRouter(config Config) *Router {
	if config.SparseEntityLimit <= 0 {
		config.SparseEntityLimit = 3
	}
	if config.DenseEntityLimit <= 0 {
		config.DenseEntityLimit = 8
	}
	if config.LongSegmentTokens <= 0 {
		config.LongSegmentTokens = 1200
	}
	return &Router{config: config}
}

// Select returns the tier to process segment on. The floor raises the
// minimum preference (retry escalation); budget exhaustion walks the
// chain down until the free tier, which always qualifies, so a segment
// is never dropped.
func (r *Router) Select(ctx context.Context, segment domain.Segment, floor domain.Tier, budget BudgetView) domain.Tier {
	preferred := r.preferredTier(segment)
	if domain.TierRank(floor) > domain.TierRank(preferred) {
		preferred = floor
	}

	for rank := domain.TierRank(preferred); rank > 0; rank-- {
		tier := domain.Tiers[rank]
		if budget.Check(ctx, tier, 1) {
			return tier
		}
	}
	return domain.TierNoLLM
}

func (r *Router) preferredTier(segment domain.Segment) domain.Tier {
	switch {
	case segment.EntityCount < r.config.SparseEntityLimit:
		if segment.TokenLength > r.config.LongSegmentTokens {
			return domain.TierSmall
		}
		return domain.TierNoLLM
	case segment.EntityCount <= r.config.DenseEntityLimit:
		return domain.TierSmall
	default:
		return domain.TierBig
	}
}
