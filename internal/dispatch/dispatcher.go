package dispatch

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/rfalcao/conceptminer/internal/domain"
)

// Provider is the reasoning-service client boundary. The dispatcher is
// the only component that invokes it.
type Provider interface {
	Call(ctx context.Context, tier domain.Tier, payload []byte) (ProviderResult, error)
}

// ProviderResult is what one reasoning-service call hands back.
type ProviderResult struct {
	Output  []byte
	Cost    float64
	Latency time.Duration
}

// Ticket is one queued unit of work.
type Ticket struct {
	Tier     domain.Tier
	Payload  []byte
	Priority Priority
	// SubmittedAt is stamped on dispatch when left zero. It feeds the
	// queue-wait figure in the call logs.
	SubmittedAt time.Time
}

type outcome struct {
	result ProviderResult
	err    error
}

type ticket struct {
	tier        domain.Tier
	payload     []byte
	priority    Priority
	submittedAt time.Time
	done        chan outcome
}

type Config struct {
	// CallsPerWindow is the per-tier allowance per rolling 60s window.
	// Tiers absent from the map are not rate limited.
	CallsPerWindow map[domain.Tier]int
	// MaxInFlight bounds concurrent provider calls across all tiers.
	MaxInFlight int
	// QueueCapacity bounds waiting tickets per tier, all levels combined.
	QueueCapacity int
	// CallTimeout bounds a single provider call. It must stay shorter
	// than any job deadline so a hung call cannot pin a slot.
	CallTimeout time.Duration
	Breaker     BreakerConfig
}

// Dispatcher rate-limits, prioritizes and circuit-breaks calls to the
// reasoning service. One goroutine per tier drains that tier's priority
// queue; a shared semaphore enforces the global in-flight ceiling.
type Dispatcher struct {
	provider Provider
	config   Config
	logger   *log.Logger

	limiters map[domain.Tier]*rate.Limiter
	breakers map[domain.Tier]*Breaker
	queues   map[domain.Tier]*tierQueue
	inflight chan struct{}

	ctx     context.Context
	cancel  context.CancelFunc
	loops   sync.WaitGroup
	closeMu sync.Once
}

func NewDispatcher(provider Provider, tiers []domain.Tier, config Config, logger *log.Logger) *Dispatcher {
	if config.MaxInFlight <= 0 {
		config.MaxInFlight = 8
	}
	if config.CallTimeout <= 0 {
		config.CallTimeout = 30 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		provider: provider,
		config:   config,
		logger:   logger,
		limiters: make(map[domain.Tier]*rate.Limiter),
		breakers: make(map[domain.Tier]*Breaker),
		queues:   make(map[domain.Tier]*tierQueue),
		inflight: make(chan struct{}, config.MaxInFlight),
		ctx:      ctx,
		cancel:   cancel,
	}

	for _, tier := range tiers {
		limit := rate.Inf
		burst := 1
		if window, ok := config.CallsPerWindow[tier]; ok && window > 0 {
			limit = rate.Limit(float64(window) / 60.0)
			burst = window
		}
		d.limiters[tier] = rate.NewLimiter(limit, burst)
		d.breakers[tier] = NewBreaker(tier, config.Breaker)
		d.queues[tier] = newTierQueue(config.QueueCapacity)

		d.loops.Add(1)
		go d.run(tier)
	}

	return d
}

// Dispatch submits a ticket and blocks until its result, a typed failure
// or ctx expiry. On ctx expiry the in-flight call is left to complete on
// its own; its result is discarded.
func (d *Dispatcher) Dispatch(ctx context.Context, t Ticket) (ProviderResult, error) {
	queue, ok := d.queues[t.Tier]
	if !ok {
		return ProviderResult{}, &Error{Code: CodeMalformedRequest, Tier: t.Tier, Message: "unknown tier"}
	}

	breaker := d.breakers[t.Tier]
	if err := breaker.Allow(); err != nil {
		return ProviderResult{}, err
	}

	if t.SubmittedAt.IsZero() {
		t.SubmittedAt = time.Now().UTC()
	}
	queued := &ticket{
		tier:        t.Tier,
		payload:     t.Payload,
		priority:    t.Priority,
		submittedAt: t.SubmittedAt,
		done:        make(chan outcome, 1),
	}
	if !queue.push(queued) {
		breaker.ReleaseProbe()
		return ProviderResult{}, &Error{Code: CodeRateLimited, Tier: t.Tier, Message: "dispatch queue saturated"}
	}

	select {
	case <-ctx.Done():
		return ProviderResult{}, &Error{Code: CodeTimeout, Tier: t.Tier, Message: "abandoned by caller", Err: ctx.Err()}
	case out := <-queued.done:
		return out.result, out.err
	}
}

// BreakerState exposes the per-tier circuit state for health reporting.
func (d *Dispatcher) BreakerState(tier domain.Tier) CircuitState {
	breaker, ok := d.breakers[tier]
	if !ok {
		return CircuitClosed
	}
	return breaker.State()
}

// QueueDepth reports waiting tickets for a tier.
func (d *Dispatcher) QueueDepth(tier domain.Tier) int {
	queue, ok := d.queues[tier]
	if !ok {
		return 0
	}
	return queue.len()
}

// Close stops the tier loops. Queued tickets fail with CIRCUIT_OPEN-free
// shutdown errors via context cancellation on the caller side.
func (d *Dispatcher) Close() {
	d.closeMu.Do(func() {
		d.cancel()
	})
	d.loops.Wait()
}

func (d *Dispatcher) run(tier domain.Tier) {
	defer d.loops.Done()

	queue := d.queues[tier]
	limiter := d.limiters[tier]

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-queue.ready:
		}

		t := queue.pop()
		if t == nil {
			continue
		}

		if err := limiter.Wait(d.ctx); err != nil {
			t.done <- outcome{err: &Error{Code: CodeRateLimited, Tier: tier, Message: "dispatcher shutting down", Err: err}}
			continue
		}

		select {
		case <-d.ctx.Done():
			t.done <- outcome{err: &Error{Code: CodeRateLimited, Tier: tier, Message: "dispatcher shutting down"}}
			return
		case d.inflight <- struct{}{}:
		}

		go d.execute(t)
	}
}

func (d *Dispatcher) execute(t *ticket) {
	defer func() { <-d.inflight }()

	callCtx, cancel := context.WithTimeout(context.Background(), d.config.CallTimeout)
	defer cancel()

	started := time.Now()
	waited := started.Sub(t.submittedAt)
	result, err := d.provider.Call(callCtx, t.tier, t.payload)
	if result.Latency == 0 {
		result.Latency = time.Since(started)
	}

	err = d.classify(t.tier, err)

	// Every completed call feeds the breaker window. Malformed requests
	// are caller defects, not provider failures.
	code := CodeOf(err)
	d.breakers[t.tier].Record(err == nil || code == CodeMalformedRequest)

	if err != nil {
		d.logf("provider call failed tier=%s code=%s queue_wait=%s: %v", t.tier, code, waited.Round(time.Millisecond), err)
		t.done <- outcome{err: err}
		return
	}
	t.done <- outcome{result: result}
}

func (d *Dispatcher) classify(tier domain.Tier, err error) error {
	if err == nil {
		return nil
	}
	var typed *Error
	if errors.As(err, &typed) {
		return typed
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Code: CodeTimeout, Tier: tier, Message: "provider call timed out", Err: err}
	}
	return &Error{Code: CodeProviderError, Tier: tier, Message: "provider call failed", Err: err}
}

func (d *Dispatcher) logf(format string, args ...any) {
	if d.logger != nil {
		d.logger.Printf(format, args...)
	}
}
