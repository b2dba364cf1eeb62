package supervisor

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/rfalcao/conceptminer/internal/dispatch"
	"github.com/rfalcao/conceptminer/internal/domain"
	"github.com/rfalcao/conceptminer/internal/extract"
	"github.com/rfalcao/conceptminer/internal/gate"
	"github.com/rfalcao/conceptminer/internal/segment"
)

const (
	reasonTimeout           = "TIMEOUT"
	reasonStepLimitExceeded = "STEP_LIMIT_EXCEEDED"
)

// PatternMiner is the external pattern-mining collaborator invoked
// between extraction and the gate. It may return extra candidates.
type PatternMiner interface {
	Mine(ctx context.Context, candidates []domain.Candidate) ([]domain.Candidate, error)
}

// NoopMiner is wired when no pattern-mining collaborator is configured.
type NoopMiner struct{}

func (NoopMiner) Mine(context.Context, []domain.Candidate) ([]domain.Candidate, error) {
	return nil, nil
}

// Promoter hands promoted candidates to the downstream storage
// collaborator.
type Promoter interface {
	Promote(ctx context.Context, jobID string, promoted []domain.Candidate) error
}

// BudgetChecker is the slice of the ledger the supervisor consults
// before segmentation starts.
type BudgetChecker interface {
	Check(ctx context.Context, tenantID string, tier domain.Tier, n int, docID string) (bool, int, string)
	ReleaseDocument(docID string)
}

// Gater abstracts the quality gate for the supervisor.
type Gater interface {
	Evaluate(ctx context.Context, candidates []domain.Candidate) gate.Evaluation
	Profile() gate.Profile
}

type Config struct {
	// TimeoutFloor and TimeoutCeiling clamp the per-job deadline
	// computed from segment count.
	TimeoutFloor   time.Duration
	TimeoutCeiling time.Duration
	// PerSegmentTimeout is the deadline contribution of one segment.
	PerSegmentTimeout time.Duration
	// MaxSteps caps FSM transitions per job, guarding against
	// transition cycling bugs.
	MaxSteps int
}

type Dependencies struct {
	Segmenter segment.Segmenter
	Extractor *extract.Extractor
	Miner     PatternMiner
	Gate      Gater
	Promoter  Promoter
	Budget    BudgetChecker
	Logger    *log.Logger
}

// Engine runs one finite-state job per document. The engine itself is
// stateless across jobs and safe to share between worker goroutines.
type Engine struct {
	config Config
	deps   Dependencies
}

func NewEngine(config Config, deps Dependencies) (*Engine, error) {
	if err := validateTransitions(); err != nil {
		return nil, fmt.Errorf("invalid transition table: %w", err)
	}
	if deps.Segmenter == nil || deps.Extractor == nil || deps.Gate == nil || deps.Budget == nil {
		return nil, fmt.Errorf("segmenter, extractor, gate and budget are required")
	}
	if deps.Miner == nil {
		deps.Miner = NoopMiner{}
	}
	if config.TimeoutFloor <= 0 {
		config.TimeoutFloor = 30 * time.Second
	}
	if config.TimeoutCeiling <= 0 {
		config.TimeoutCeiling = 10 * time.Minute
	}
	if config.TimeoutCeiling < config.TimeoutFloor {
		config.TimeoutCeiling = config.TimeoutFloor
	}
	if config.PerSegmentTimeout <= 0 {
		config.PerSegmentTimeout = 5 * time.Second
	}
	if config.MaxSteps <= 0 {
		config.MaxSteps = 24
	}
	return &Engine{config: config, deps: deps}, nil
}

// RunInput identifies one document run.
type RunInput struct {
	JobID      string
	DocumentID string
	TenantID   string
	Text       string
	Priority   dispatch.Priority
}

// job is the mutable state owned exclusively by one run.
type job struct {
	input     RunInput
	startedAt time.Time
	deadline  time.Time
	state     State
	steps     int
	retryUsed bool
	errored   bool
	errors    []string

	segments   []domain.Segment
	candidates []domain.Candidate
	evaluation gate.Evaluation
	floor      domain.Tier
	cost       float64
	calls      map[domain.Tier]int
}

// Run drives the job from INIT to DONE and always returns a well-formed
// result: there is no error return, failures surface inside the result.
func (e *Engine) Run(ctx context.Context, input RunInput) domain.JobResult {
	now := time.Now().UTC()
	j := &job{
		input:     input,
		startedAt: now,
		deadline:  now.Add(e.config.TimeoutCeiling),
		state:     StateInit,
		floor:     domain.TierNoLLM,
		calls:     make(map[domain.Tier]int),
	}

	for j.state != StateDone {
		if j.steps >= e.config.MaxSteps && j.state != StateError {
			j.fail(reasonStepLimitExceeded)
			e.transition(j, StateError)
			continue
		}
		if time.Now().UTC().After(j.deadline) && j.state != StateError {
			j.fail(reasonTimeout)
			e.transition(j, StateError)
			continue
		}

		next := e.runStage(ctx, j)
		e.transition(j, next)
	}

	e.deps.Budget.ReleaseDocument(input.DocumentID)
	return e.result(j)
}

// runStage executes the current state's work and returns the next state.
// Collaborator panics are contained here: they append to the job errors
// and route to ERROR instead of crashing the worker.
func (e *Engine) runStage(ctx context.Context, j *job) (next State) {
	defer func() {
		if recovered := recover(); recovered != nil {
			j.fail(fmt.Sprintf("panic in state %s: %v", j.state, recovered))
			next = StateError
		}
	}()

	stageCtx, cancel := context.WithDeadline(ctx, j.deadline)
	defer cancel()

	switch j.state {
	case StateInit:
		return StateBudgetCheck
	case StateBudgetCheck:
		return e.stageBudgetCheck(stageCtx, j)
	case StateSegment:
		return e.stageSegment(stageCtx, j)
	case StateExtract:
		return e.stageExtract(stageCtx, j)
	case StateMinePatterns:
		return e.stageMinePatterns(stageCtx, j)
	case StateGateCheck:
		return e.stageGateCheck(stageCtx, j)
	case StatePromote:
		return e.stagePromote(stageCtx, j)
	case StateFinalize:
		return e.stageFinalize(j)
	case StateError:
		return StateDone
	default:
		j.fail(fmt.Sprintf("no handler for state %s", j.state))
		return StateError
	}
}

// stageBudgetCheck records remaining allowance per paid tier. Exhaustion
// is not fatal because the router degrades to the free path, so only a
// broken counter store routes to ERROR.
func (e *Engine) stageBudgetCheck(ctx context.Context, j *job) State {
	for _, tier := range []domain.Tier{domain.TierSmall, domain.TierBig} {
		ok, remaining, reason := e.deps.Budget.Check(ctx, j.input.TenantID, tier, 1, j.input.DocumentID)
		e.logf("budget check job=%s tier=%s ok=%t remaining=%d reason=%s",
			j.input.JobID, tier, ok, remaining, reason)
	}
	if ctx.Err() != nil {
		j.fail(reasonTimeout)
		return StateError
	}
	return StateSegment
}

func (e *Engine) stageSegment(ctx context.Context, j *job) State {
	source, err := e.deps.Segmenter.Segment(ctx, j.input.Text)
	if err != nil {
		j.fail(fmt.Sprintf("segmentation failed: %v", err))
		return StateError
	}

	// The source is lazy and non-restartable: drain it exactly once.
	for {
		seg, ok, err := source.Next(ctx)
		if err != nil {
			j.fail(fmt.Sprintf("segment source failed: %v", err))
			return StateError
		}
		if !ok {
			break
		}
		j.segments = append(j.segments, seg)
	}

	// The real deadline depends on how much work showed up.
	budgeted := e.config.PerSegmentTimeout * time.Duration(len(j.segments))
	if budgeted < e.config.TimeoutFloor {
		budgeted = e.config.TimeoutFloor
	}
	if budgeted > e.config.TimeoutCeiling {
		budgeted = e.config.TimeoutCeiling
	}
	j.deadline = j.startedAt.Add(budgeted)

	return StateExtract
}

func (e *Engine) stageExtract(ctx context.Context, j *job) State {
	priority := j.input.Priority
	if j.retryUsed {
		priority = dispatch.PriorityRetry
	}

	candidates, stats := e.deps.Extractor.Extract(ctx, extract.Request{
		JobID:      j.input.JobID,
		DocumentID: j.input.DocumentID,
		TenantID:   j.input.TenantID,
		Floor:      j.floor,
		Priority:   priority,
	}, j.segments)

	j.candidates = candidates
	j.cost += stats.Cost
	for tier, calls := range stats.CallsPerTier {
		j.calls[tier] += calls
	}
	j.errors = append(j.errors, stats.Errors...)

	if ctx.Err() != nil {
		j.fail(reasonTimeout)
		return StateError
	}
	return StateMinePatterns
}

func (e *Engine) stageMinePatterns(ctx context.Context, j *job) State {
	mined, err := e.deps.Miner.Mine(ctx, j.candidates)
	if err != nil {
		// Pattern mining is enrichment, not a required stage.
		e.logf("pattern mining failed job=%s: %v", j.input.JobID, err)
		j.errors = append(j.errors, fmt.Sprintf("pattern mining failed: %v", err))
		return StateGateCheck
	}
	j.candidates = append(j.candidates, mined...)
	return StateGateCheck
}

func (e *Engine) stageGateCheck(ctx context.Context, j *job) State {
	j.evaluation = e.deps.Gate.Evaluate(ctx, j.candidates)

	if j.evaluation.RetryRecommended && !j.retryUsed {
		// One escalated retry per job, never more.
		j.retryUsed = true
		j.floor = domain.TierBig
		e.logf("low promotion rate %.2f job=%s, retrying at escalated tier",
			j.evaluation.PromotionRate, j.input.JobID)
		return StateExtract
	}
	return StatePromote
}

func (e *Engine) stagePromote(ctx context.Context, j *job) State {
	if e.deps.Promoter != nil && len(j.evaluation.Promoted) > 0 {
		if err := e.deps.Promoter.Promote(ctx, j.input.JobID, j.evaluation.Promoted); err != nil {
			j.fail(fmt.Sprintf("promotion failed: %v", err))
			return StateError
		}
	}
	return StateFinalize
}

func (e *Engine) stageFinalize(j *job) State {
	e.logf("job finished job=%s doc=%s tenant=%s promoted=%d rejected=%d rate=%.2f cost=%.4f steps=%d",
		j.input.JobID, j.input.DocumentID, j.input.TenantID,
		len(j.evaluation.Promoted), len(j.evaluation.Rejected),
		j.evaluation.PromotionRate, j.cost, j.steps)
	return StateDone
}

func (e *Engine) transition(j *job, to State) {
	if !canTransition(j.state, to) {
		// Illegal edges are bugs; surface them and drain through ERROR.
		j.fail(fmt.Sprintf("illegal transition %s -> %s", j.state, to))
		to = StateError
		if !canTransition(j.state, StateError) {
			to = StateDone
		}
	}
	if to == StateError {
		j.errored = true
	}
	j.state = to
	j.steps++
}

func (e *Engine) result(j *job) domain.JobResult {
	finalState := string(StateDone)
	if j.errored {
		finalState = string(StateError)
	}
	return domain.JobResult{
		Promoted:     j.evaluation.Promoted,
		Rejected:     j.evaluation.Rejected,
		CostIncurred: j.cost,
		CallsPerTier: j.calls,
		Steps:        j.steps,
		FinalState:   finalState,
		Errors:       j.errors,
	}
}

func (j *job) fail(reason string) {
	j.errors = append(j.errors, reason)
}

func (e *Engine) logf(format string, args ...any) {
	if e.deps.Logger != nil {
		e.deps.Logger.Printf(format, args...)
	}
}
