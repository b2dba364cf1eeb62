package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"github.com/rfalcao/conceptminer/internal/budget"
	"github.com/rfalcao/conceptminer/internal/dispatch"
	"github.com/rfalcao/conceptminer/internal/domain"
	"github.com/rfalcao/conceptminer/internal/route"
)

// Dispatcher is the slice of the dispatch surface the extractor needs.
type Dispatcher interface {
	Dispatch(ctx context.Context, t dispatch.Ticket) (dispatch.ProviderResult, error)
}

// Request identifies the job a batch of segments belongs to.
type Request struct {
	JobID      string
	DocumentID string
	TenantID   string
	// Floor raises the minimum tier preference (retry escalation).
	Floor    domain.Tier
	Priority dispatch.Priority
}

// Stats accumulates spend and call accounting for one extraction pass.
type Stats struct {
	Cost         float64
	CallsPerTier map[domain.Tier]int
	Errors       []string
}

type Config struct {
	// MaxParallel bounds concurrent segment dispatches within one job.
	MaxParallel int
}

// Extractor turns segments into candidates: it routes each segment to a
// tier, reserves budget, dispatches the call and parses the output. The
// free path runs a local heuristic and is the unconditional fallback,
// so segments are never dropped.
type Extractor struct {
	router     *route.Router
	ledger     *budget.Ledger
	dispatcher Dispatcher
	cache      *ResultCache
	config     Config
	logger     *log.Logger
}

func NewExtractor(
	router *route.Router,
	ledger *budget.Ledger,
	dispatcher Dispatcher,
	cache *ResultCache,
	config Config,
	logger *log.Logger,
) *Extractor {
	if config.MaxParallel <= 0 {
		config.MaxParallel = 4
	}
	if cache == nil {
		cache = NewResultCache(CacheConfig{})
	}
	return &Extractor{
		router:     router,
		ledger:     ledger,
		dispatcher: dispatcher,
		cache:      cache,
		config:     config,
		logger:     logger,
	}
}

type budgetView struct {
	ledger   *budget.Ledger
	tenantID string
	docID    string
}

func (v budgetView) Check(ctx context.Context, tier domain.Tier, n int) bool {
	ok, _, _ := v.ledger.Check(ctx, v.tenantID, tier, n, v.docID)
	return ok
}

// Extract processes segments concurrently up to MaxParallel. Failures on
// individual segments degrade to cheaper tiers and are recorded in the
// stats; they never fail the batch.
func (e *Extractor) Extract(ctx context.Context, request Request, segments []domain.Segment) ([]domain.Candidate, Stats) {
	stats := Stats{CallsPerTier: make(map[domain.Tier]int)}
	candidates := make([]domain.Candidate, 0, len(segments)*4)

	var mu sync.Mutex
	var wg sync.WaitGroup
	slots := make(chan struct{}, e.config.MaxParallel)

	for index, seg := range segments {
		if ctx.Err() != nil {
			mu.Lock()
			stats.Errors = append(stats.Errors, fmt.Sprintf("segment %d: %v", index, ctx.Err()))
			mu.Unlock()
			break
		}

		slots <- struct{}{}
		wg.Add(1)
		go func(index int, seg domain.Segment) {
			defer wg.Done()
			defer func() { <-slots }()

			extracted, tier, cost, segErrs := e.extractSegment(ctx, request, index, seg)

			mu.Lock()
			defer mu.Unlock()
			candidates = append(candidates, extracted...)
			stats.Cost += cost
			stats.CallsPerTier[tier]++
			stats.Errors = append(stats.Errors, segErrs...)
		}(index, seg)
	}

	wg.Wait()
	return candidates, stats
}

// extractSegment walks the tier chain downward until one succeeds. The
// heuristic free path terminates the walk unconditionally.
func (e *Extractor) extractSegment(
	ctx context.Context,
	request Request,
	index int,
	seg domain.Segment,
) ([]domain.Candidate, domain.Tier, float64, []string) {
	view := budgetView{ledger: e.ledger, tenantID: request.TenantID, docID: request.DocumentID}
	tier := e.router.Select(ctx, seg, request.Floor, view)

	var errs []string
	for domain.TierRank(tier) > 0 {
		extracted, cost, err := e.dispatchTier(ctx, request, index, seg, tier)
		if err == nil {
			return extracted, tier, cost, errs
		}
		errs = append(errs, fmt.Sprintf("segment %d tier %s: %v", index, tier, err))

		code := dispatch.CodeOf(err)
		if code == dispatch.CodeCircuitOpen || code == dispatch.CodeRateLimited {
			// Tier-scoped outage or saturation: degrade to the next
			// cheaper tier the budget permits.
			next := domain.Tiers[domain.TierRank(tier)-1]
			if domain.TierRank(next) > 0 && !view.Check(ctx, next, 1) {
				next = domain.TierNoLLM
			}
			tier = next
			continue
		}
		break
	}

	return e.heuristicExtract(index, seg), domain.TierNoLLM, 0, errs
}

func (e *Extractor) dispatchTier(
	ctx context.Context,
	request Request,
	index int,
	seg domain.Segment,
	tier domain.Tier,
) ([]domain.Candidate, float64, error) {
	signature := e.cache.Signature(tier, seg.Text)
	if cached, hit := e.cache.Get(signature); hit {
		return retagSegment(cached, index), 0, nil
	}

	reservation, err := e.ledger.Reserve(ctx, request.TenantID, tier, 1, request.DocumentID)
	if err != nil {
		return nil, 0, err
	}

	payload, err := json.Marshal(map[string]any{
		"document_id":  request.DocumentID,
		"tenant_id":    request.TenantID,
		"segment":      seg.Text,
		"entity_count": seg.EntityCount,
	})
	if err != nil {
		e.ledger.Refund(ctx, reservation)
		return nil, 0, fmt.Errorf("marshal payload: %w", err)
	}

	result, err := e.dispatcher.Dispatch(ctx, dispatch.Ticket{
		Tier:     tier,
		Payload:  payload,
		Priority: request.Priority,
	})
	if err != nil {
		// Provider-side failures get their budget back; caller defects
		// (malformed request) keep it consumed, logged as our bug.
		if dispatch.Retriable(err) {
			e.ledger.Refund(context.WithoutCancel(ctx), reservation)
		} else {
			e.ledger.Consume(reservation)
		}
		return nil, 0, err
	}
	e.ledger.Consume(reservation)

	extracted, err := parseCandidates(result.Output, index)
	if err != nil {
		e.logf("unparseable provider output job=%s tier=%s: %v", request.JobID, tier, err)
		return nil, result.Cost, fmt.Errorf("parse provider output: %w", err)
	}

	e.cache.Set(signature, extracted)
	return extracted, result.Cost, nil
}

// heuristicExtract is the free path: capitalized-term spotting with a
// flat mid confidence so the gate still has something to judge.
func (e *Extractor) heuristicExtract(index int, seg domain.Segment) []domain.Candidate {
	terms := capitalizedRuns(seg.Text, 6)
	candidates := make([]domain.Candidate, 0, len(terms))
	for _, term := range terms {
		candidates = append(candidates, domain.Candidate{
			Name:          term,
			Type:          "Term",
			Confidence:    0.55,
			SourceSegment: index,
			Status:        domain.CandidateStatusPending,
		})
	}
	return candidates
}

func parseCandidates(output []byte, segmentIndex int) ([]domain.Candidate, error) {
	var raw []struct {
		Name       string  `json:"name"`
		Type       string  `json:"type"`
		Definition string  `json:"definition"`
		Confidence float64 `json:"confidence"`
	}
	if err := json.Unmarshal(output, &raw); err != nil {
		return nil, err
	}

	candidates := make([]domain.Candidate, 0, len(raw))
	for _, item := range raw {
		candidates = append(candidates, domain.Candidate{
			Name:          item.Name,
			Type:          item.Type,
			Definition:    item.Definition,
			Confidence:    clampConfidence(item.Confidence),
			SourceSegment: segmentIndex,
			Status:        domain.CandidateStatusPending,
		})
	}
	return candidates, nil
}

func retagSegment(candidates []domain.Candidate, segmentIndex int) []domain.Candidate {
	retagged := make([]domain.Candidate, len(candidates))
	for i, candidate := range candidates {
		candidate.SourceSegment = segmentIndex
		retagged[i] = candidate
	}
	return retagged
}

func clampConfidence(value float64) float64 {
	if value < 0 {
		return 0
	}
	if value > 1 {
		return 1
	}
	return value
}

func (e *Extractor) logf(format string, args ...any) {
	if e.logger != nil {
		e.logger.Printf(format, args...)
	}
}
