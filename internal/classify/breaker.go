package classify

import (
	"errors"
	"sync"
	"time"

	"github.com/fyrsmithlabs/recalld/internal/config"
)

// ErrBreakerOpen rejects calls while a provider's breaker is open.
var ErrBreakerOpen = errors.New("classify: circuit breaker open")

// breakerState is the classic three-state machine.
type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

// Breaker guards one provider. Consecutive failures open it; after the
// reset timeout a bounded number of trial calls probe the provider, and
// a single success closes it again.
type Breaker struct {
	cfg config.BreakerConfig

	mu           sync.Mutex
	state        breakerState
	failures     int
	openedAt     time.Time
	halfOpenUsed int
}

// NewBreaker creates a closed breaker.
func NewBreaker(cfg config.BreakerConfig) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 2
	}
	return &Breaker{cfg: cfg}
}

// Allow reports whether a call may proceed, claiming a half-open slot
// when probing.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case breakerClosed:
		return nil
	case breakerOpen:
		if time.Since(b.openedAt) < b.cfg.ResetTimeout {
			return ErrBreakerOpen
		}
		b.state = breakerHalfOpen
		b.halfOpenUsed = 0
		fallthrough
	default:
		if b.halfOpenUsed >= b.cfg.HalfOpenMax {
			return ErrBreakerOpen
		}
		b.halfOpenUsed++
		return nil
	}
}

// Success records a successful call and closes the breaker.
func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = breakerClosed
	b.failures = 0
}

// Failure records a failed call. In half-open it reopens immediately;
// in closed it opens once the threshold is hit.
func (b *Breaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == breakerHalfOpen {
		b.open()
		return
	}
	b.failures++
	if b.failures >= b.cfg.FailureThreshold {
		b.open()
	}
}

func (b *Breaker) open() {
	b.state = breakerOpen
	b.openedAt = time.Now()
	b.failures = 0
}

// State returns a label for logging and status output.
func (b *Breaker) State() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case breakerOpen:
		return "open"
	case breakerHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}
