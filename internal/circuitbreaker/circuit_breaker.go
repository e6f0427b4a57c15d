// Package circuitbreaker guards the mesh's upstream calls (embedding
// service, vector store, Redis) so a dead dependency sheds load fast
// instead of stalling every search on its timeout.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State is the breaker's position: closed passes traffic, open sheds it,
// half-open lets a few probes through to test recovery.
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

var (
	// ErrCircuitBreakerOpen is returned without calling the upstream.
	ErrCircuitBreakerOpen = errors.New("circuit breaker is open")
	// ErrTooManyRequests caps concurrent half-open probes.
	ErrTooManyRequests = errors.New("too many requests in half-open state")
)

// Config tunes one breaker.
type Config struct {
	// MaxRequests caps in-flight probes while half-open.
	MaxRequests uint32
	// Interval rolls the closed-state counters so old failures age out.
	// Zero keeps them forever.
	Interval time.Duration
	// Timeout is how long an open breaker waits before probing again.
	Timeout time.Duration
	// FailureThreshold is the consecutive-failure count that opens a
	// closed breaker.
	FailureThreshold uint32
	// SuccessThreshold is the consecutive-success count that closes a
	// half-open breaker.
	SuccessThreshold uint32
	// OnStateChange fires on every transition.
	OnStateChange func(name string, from State, to State)
}

// DefaultConfig covers upstreams with no service-specific tuning.
func DefaultConfig() Config {
	return Config{
		MaxRequests:      3,
		Interval:         60 * time.Second,
		Timeout:          10 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
	}
}

// Counts are the statistics for the current generation. A generation ends
// on every state change and on the closed-state interval roll.
type Counts struct {
	Requests             uint32
	TotalSuccesses       uint32
	TotalFailures        uint32
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
}

// CircuitBreaker is a generation-counting breaker. Outcomes reported
// against a stale generation are discarded, so a slow call finishing after
// a transition cannot corrupt the new generation's counters.
type CircuitBreaker struct {
	name   string
	config Config
	logger *zap.Logger

	mutex      sync.RWMutex
	state      State
	generation uint64
	counts     Counts
	deadline   time.Time
}

// NewCircuitBreaker builds a closed breaker.
func NewCircuitBreaker(name string, config Config, logger *zap.Logger) *CircuitBreaker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CircuitBreaker{
		name:     name,
		config:   config,
		logger:   logger,
		state:    StateClosed,
		deadline: time.Now().Add(config.Interval),
	}
}

// Execute runs fn unless the breaker is shedding load. A panic in fn is
// counted as a failure and re-raised.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	gen, err := cb.allow()
	if err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			cb.record(gen, false)
			panic(r)
		}
	}()

	err = fn()
	cb.record(gen, err == nil)
	return err
}

// State reports the breaker's current position.
func (cb *CircuitBreaker) State() State {
	cb.mutex.RLock()
	defer cb.mutex.RUnlock()
	return cb.state
}

// Counts returns the current generation's statistics.
func (cb *CircuitBreaker) Counts() Counts {
	cb.mutex.RLock()
	defer cb.mutex.RUnlock()
	return cb.counts
}

// allow admits or rejects a request and returns the generation the caller
// must report its outcome against.
func (cb *CircuitBreaker) allow() (uint64, error) {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	state, gen := cb.advance(time.Now())
	switch {
	case state == StateOpen:
		return gen, ErrCircuitBreakerOpen
	case state == StateHalfOpen && cb.counts.Requests >= cb.config.MaxRequests:
		return gen, ErrTooManyRequests
	}

	cb.counts.Requests++
	return gen, nil
}

// record applies an outcome, ignoring it when the generation has rolled.
func (cb *CircuitBreaker) record(gen uint64, success bool) {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	now := time.Now()
	state, current := cb.advance(now)
	if current != gen {
		return
	}

	if success {
		cb.counts.TotalSuccesses++
		cb.counts.ConsecutiveFailures = 0
		if state == StateHalfOpen {
			cb.counts.ConsecutiveSuccesses++
			if cb.counts.ConsecutiveSuccesses >= cb.config.SuccessThreshold {
				cb.transition(StateClosed, now)
			}
		}
		return
	}

	switch state {
	case StateClosed:
		cb.counts.TotalFailures++
		cb.counts.ConsecutiveFailures++
		if cb.counts.ConsecutiveFailures >= cb.config.FailureThreshold {
			cb.transition(StateOpen, now)
		}
	case StateHalfOpen:
		// One failed probe is enough evidence the upstream is still down.
		cb.transition(StateOpen, now)
	}
}

// advance applies any deadline-driven transition and returns the effective
// state and generation. Callers hold the write lock.
func (cb *CircuitBreaker) advance(now time.Time) (State, uint64) {
	switch cb.state {
	case StateClosed:
		if !cb.deadline.IsZero() && cb.deadline.Before(now) {
			cb.roll(now)
		}
	case StateOpen:
		if cb.deadline.Before(now) {
			cb.transition(StateHalfOpen, now)
		}
	}
	return cb.state, cb.generation
}

func (cb *CircuitBreaker) transition(to State, now time.Time) {
	if cb.state == to {
		return
	}
	from := cb.state
	cb.state = to
	cb.roll(now)

	if cb.config.OnStateChange != nil {
		cb.config.OnStateChange(cb.name, from, to)
	}
	cb.logger.Info("Circuit breaker state changed",
		zap.String("name", cb.name),
		zap.String("from", from.String()),
		zap.String("to", to.String()))
}

// roll starts a new generation and arms the deadline for the new state.
func (cb *CircuitBreaker) roll(now time.Time) {
	cb.generation++
	cb.counts = Counts{}

	switch cb.state {
	case StateClosed:
		if cb.config.Interval > 0 {
			cb.deadline = now.Add(cb.config.Interval)
		} else {
			cb.deadline = time.Time{}
		}
	case StateOpen:
		cb.deadline = now.Add(cb.config.Timeout)
	default:
		// Half-open holds until probes decide.
		cb.deadline = time.Time{}
	}
}
