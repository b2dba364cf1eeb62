package dispatch

import (
	"sync"
	"time"

	"github.com/rfalcao/conceptminer/internal/domain"
)

type CircuitState string

const (
	CircuitClosed   CircuitState = "closed"
	CircuitOpen     CircuitState = "open"
	CircuitHalfOpen CircuitState = "half_open"
)

const breakerWindowSize = 100

type BreakerConfig struct {
	// ErrorThreshold is the failure rate that opens the circuit.
	ErrorThreshold float64
	// Cooldown is how long the circuit stays open before probing.
	Cooldown time.Duration
	// MinSamples guards against opening on the first few calls.
	MinSamples int
}

// Breaker contains provider failures for a single tier. Each tier gets
// its own breaker so a big-tier outage never blocks small-tier traffic.
// The outcome window and any resulting state flip are updated under one
// lock: two concurrent failures can never both observe CLOSED and race
// the transition.
type Breaker struct {
	config BreakerConfig
	tier   domain.Tier
	now    func() time.Time

	mu       sync.Mutex
	state    CircuitState
	openedAt time.Time
	probing  bool

	window   [breakerWindowSize]bool
	index    int
	filled   int
	failures int
}

func NewBreaker(tier domain.Tier, config BreakerConfig) *Breaker {
	if config.ErrorThreshold <= 0 {
		config.ErrorThreshold = 0.30
	}
	if config.Cooldown <= 0 {
		config.Cooldown = 60 * time.Second
	}
	if config.MinSamples <= 0 {
		config.MinSamples = 10
	}
	return &Breaker{
		config: config,
		tier:   tier,
		state:  CircuitClosed,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Allow decides whether a new dispatch may proceed. While open it fails
// fast; after the cooldown it admits exactly one probe call.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case CircuitClosed:
		return nil
	case CircuitOpen:
		if b.now().Sub(b.openedAt) < b.config.Cooldown {
			return &Error{Code: CodeCircuitOpen, Tier: b.tier, Message: "circuit open, cooling down"}
		}
		b.state = CircuitHalfOpen
		b.probing = false
		fallthrough
	default:
		if b.probing {
			return &Error{Code: CodeCircuitOpen, Tier: b.tier, Message: "probe already in flight"}
		}
		b.probing = true
		return nil
	}
}

// ReleaseProbe returns an admitted probe slot without an outcome, for
// tickets that never reached the provider (e.g. queue saturation).
func (b *Breaker) ReleaseProbe() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == CircuitHalfOpen {
		b.probing = false
	}
}

// Record feeds one completed call outcome into the window and applies
// any state transition it triggers.
func (b *Breaker) Record(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == CircuitHalfOpen {
		b.probing = false
		if success {
			b.reset()
			b.push(true)
			return
		}
		b.state = CircuitOpen
		b.openedAt = b.now()
		return
	}

	b.push(success)

	if b.state == CircuitClosed && b.filled >= b.config.MinSamples {
		rate := float64(b.failures) / float64(b.filled)
		if rate >= b.config.ErrorThreshold {
			b.state = CircuitOpen
			b.openedAt = b.now()
		}
	}
}

func (b *Breaker) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) push(success bool) {
	if b.filled == breakerWindowSize {
		if !b.window[b.index] {
			b.failures--
		}
	} else {
		b.filled++
	}
	b.window[b.index] = success
	if !success {
		b.failures++
	}
	b.index = (b.index + 1) % breakerWindowSize
}

func (b *Breaker) reset() {
	b.state = CircuitClosed
	b.probing = false
	b.index = 0
	b.filled = 0
	b.failures = 0
	b.window = [breakerWindowSize]bool{}
}

// SetClock overrides the time source for cooldown tests.
func (b *Breaker) SetClock(now func() time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.now = now
}
