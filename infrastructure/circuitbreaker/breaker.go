// Package circuitbreaker guards calls to flaky external providers.
package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrCircuitOpen is returned without calling fn while the breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the breaker position.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config configures a Breaker.
type Config struct {
	// Name identifies the breaker in errors and callbacks.
	Name string
	// FailureThreshold is the consecutive failures that open the circuit.
	FailureThreshold int
	// SuccessThreshold is the half-open successes that close it again.
	SuccessThreshold int
	// OpenTimeout is how long the circuit stays open before probing.
	OpenTimeout time.Duration
	// IsFailure classifies errors. Defaults to any non-nil error other
	// than caller cancellation.
	IsFailure     func(error) bool
	OnStateChange func(name string, from, to State)
}

// DefaultConfig returns thresholds suited to a third-party HTTP API.
func DefaultConfig(name string) Config {
	return Config{
		Name:             name,
		FailureThreshold: 5,
		SuccessThreshold: 1,
		OpenTimeout:      time.Minute,
	}
}

// Breaker implements the closed/open/half-open state machine.
type Breaker struct {
	cfg Config
	now func() time.Time

	mu        sync.Mutex
	state     State
	failures  int
	successes int
	openedAt  time.Time
}

// New creates a closed Breaker.
func New(cfg Config) *Breaker {
	d := DefaultConfig(cfg.Name)
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = d.FailureThreshold
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = d.SuccessThreshold
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = d.OpenTimeout
	}
	if cfg.IsFailure == nil {
		cfg.IsFailure = func(err error) bool {
			return err != nil && !errors.Is(err, context.Canceled)
		}
	}
	return &Breaker{cfg: cfg, now: time.Now}
}

// Execute runs fn unless the circuit is open.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := b.allow(); err != nil {
		return err
	}
	err := fn(ctx)
	b.record(err)
	return err
}

func (b *Breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != StateOpen {
		return nil
	}
	wait := b.cfg.OpenTimeout - b.now().Sub(b.openedAt)
	if wait > 0 {
		return fmt.Errorf("%w: %s retries in %s", ErrCircuitOpen, b.cfg.Name, wait.Round(time.Second))
	}
	b.transition(StateHalfOpen)
	return nil
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.cfg.IsFailure(err) {
		b.failures++
		if b.state == StateHalfOpen || b.failures >= b.cfg.FailureThreshold {
			b.openedAt = b.now()
			b.transition(StateOpen)
		}
		return
	}

	b.failures = 0
	if b.state == StateHalfOpen {
		b.successes++
		if b.successes >= b.cfg.SuccessThreshold {
			b.transition(StateClosed)
		}
	}
}

// transition must be called with mu held.
func (b *Breaker) transition(to State) {
	if b.state == to {
		return
	}
	from := b.state
	b.state = to
	b.failures = 0
	b.successes = 0
	if b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(b.cfg.Name, from, to)
	}
}

// State returns the current position.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
