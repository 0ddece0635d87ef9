// Package circuitbreaker guards the optional backends (the suggestion cache
// and the workflow store) so a failing dependency is skipped quickly instead
// of stalling every detection request.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State is the admission mode of a breaker. The numeric values are exported
// as the state gauge.
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

var stateNames = [...]string{"closed", "half-open", "open"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

var (
	ErrCircuitBreakerOpen = errors.New("circuit breaker is open")
	ErrTooManyRequests    = errors.New("too many requests in half-open state")
)

// Config tunes one breaker.
type Config struct {
	// MaxRequests caps the probes admitted while half-open.
	MaxRequests uint32
	// Interval is the closed-state window after which counts reset. Zero
	// keeps counting forever.
	Interval time.Duration
	// Timeout is how long the breaker stays open before probing.
	Timeout          time.Duration
	FailureThreshold uint32
	SuccessThreshold uint32
	// IsFailure classifies errors. Nil treats every error as a failure.
	IsFailure     func(error) bool
	OnStateChange func(name string, from State, to State)
}

// DefaultConfig is used when a caller has no Settings of its own.
func DefaultConfig() Config {
	return Config{
		MaxRequests:      3,
		Interval:         time.Minute,
		Timeout:          10 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
	}
}

// Counts describes the current window.
type Counts struct {
	Requests             uint32
	TotalSuccesses       uint32
	TotalFailures        uint32
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
}

func (c *Counts) success() {
	c.TotalSuccesses++
	c.ConsecutiveSuccesses++
	c.ConsecutiveFailures = 0
}

func (c *Counts) failure() {
	c.TotalFailures++
	c.ConsecutiveFailures++
	c.ConsecutiveSuccesses = 0
}

// Observer receives breaker events. Calls are made after the breaker lock is
// released.
type Observer interface {
	StateChanged(from, to State)
	// Request reports one call. Rejected calls are reported as failures in
	// the state that rejected them.
	Request(state State, success bool)
}

type change struct{ from, to State }

// CircuitBreaker is safe for concurrent use.
type CircuitBreaker struct {
	name   string
	cfg    Config
	logger *zap.Logger
	now    func() time.Time

	mu        sync.Mutex
	state     State
	epoch     uint64
	counts    Counts
	deadline  time.Time
	observers []Observer
	pending   []change
}

// NewCircuitBreaker returns a closed breaker.
func NewCircuitBreaker(name string, cfg Config, logger *zap.Logger) *CircuitBreaker {
	if logger == nil {
		logger = zap.NewNop()
	}
	cb := &CircuitBreaker{name: name, cfg: cfg, logger: logger, now: time.Now}
	cb.openWindow(cb.now())
	return cb
}

func (cb *CircuitBreaker) Name() string { return cb.name }

// Observe adds o to the observers notified on transitions and settled calls.
func (cb *CircuitBreaker) Observe(o Observer) {
	cb.mu.Lock()
	cb.observers = append(cb.observers, o)
	cb.mu.Unlock()
}

// Execute runs fn when the breaker admits it and records the outcome. A done
// context is returned as is and does not count. A panic in fn counts as a
// failure and keeps propagating.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	epoch, err := cb.admit()
	if err != nil {
		return err
	}

	settled := false
	defer func() {
		if !settled {
			cb.settle(epoch, false)
		}
	}()
	err = fn()
	settled = true
	cb.settle(epoch, !cb.failed(err))
	return err
}

func (cb *CircuitBreaker) failed(err error) bool {
	switch {
	case err == nil:
		return false
	case cb.cfg.IsFailure == nil:
		return true
	default:
		return cb.cfg.IsFailure(err)
	}
}

func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	cb.advance(cb.now())
	state := cb.state
	cb.unlock()
	return state
}

func (cb *CircuitBreaker) IsOpen() bool { return cb.State() == StateOpen }

func (cb *CircuitBreaker) Counts() Counts {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.counts
}

func (cb *CircuitBreaker) admit() (uint64, error) {
	cb.mu.Lock()
	cb.advance(cb.now())
	state, epoch := cb.state, cb.epoch

	var err error
	switch {
	case state == StateOpen:
		err = ErrCircuitBreakerOpen
	case state == StateHalfOpen && cb.counts.Requests >= cb.cfg.MaxRequests:
		err = ErrTooManyRequests
	default:
		cb.counts.Requests++
	}
	observers := cb.observers
	cb.unlock()

	if err != nil {
		for _, o := range observers {
			o.Request(state, false)
		}
	}
	return epoch, err
}

// settle records a call admitted in epoch. Outcomes that straddle a window
// reset or a transition are reported but do not move the counts.
func (cb *CircuitBreaker) settle(epoch uint64, success bool) {
	cb.mu.Lock()
	now := cb.now()
	cb.advance(now)
	state := cb.state
	if epoch == cb.epoch {
		if success {
			cb.counts.success()
			if state == StateHalfOpen && cb.counts.ConsecutiveSuccesses >= cb.cfg.SuccessThreshold {
				cb.transition(StateClosed, now)
			}
		} else {
			cb.counts.failure()
			if state == StateHalfOpen || cb.counts.ConsecutiveFailures >= cb.cfg.FailureThreshold {
				cb.transition(StateOpen, now)
			}
		}
	}
	observers := cb.observers
	cb.unlock()

	for _, o := range observers {
		o.Request(state, success)
	}
}

// unlock releases the lock and then delivers transitions queued while it was
// held.
func (cb *CircuitBreaker) unlock() {
	changes, observers := cb.pending, cb.observers
	cb.pending = nil
	cb.mu.Unlock()

	for _, c := range changes {
		for _, o := range observers {
			o.StateChanged(c.from, c.to)
		}
	}
}

// advance applies time-based changes: an expired closed window resets and an
// expired open period moves to half-open.
func (cb *CircuitBreaker) advance(now time.Time) {
	if cb.deadline.IsZero() || now.Before(cb.deadline) {
		return
	}
	switch cb.state {
	case StateClosed:
		cb.openWindow(now)
	case StateOpen:
		cb.transition(StateHalfOpen, now)
	}
}

func (cb *CircuitBreaker) transition(to State, now time.Time) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	cb.openWindow(now)
	cb.pending = append(cb.pending, change{from, to})

	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(cb.name, from, to)
	}
	cb.logger.Info("Circuit breaker state changed",
		zap.String("name", cb.name),
		zap.Stringer("from", from),
		zap.Stringer("to", to),
	)
}

// openWindow starts a fresh epoch with zeroed counts and the deadline that
// matches the current state.
func (cb *CircuitBreaker) openWindow(now time.Time) {
	cb.epoch++
	cb.counts = Counts{}
	cb.deadline = time.Time{}
	switch cb.state {
	case StateClosed:
		if cb.cfg.Interval > 0 {
			cb.deadline = now.Add(cb.cfg.Interval)
		}
	case StateOpen:
		cb.deadline = now.Add(cb.cfg.Timeout)
	}
}
