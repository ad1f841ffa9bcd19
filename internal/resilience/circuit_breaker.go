// ABOUTME: Circuit breaker guarding optional backends such as the verdict cache
// ABOUTME: Opens after consecutive failures, lets a few probes through after a cool-down

package resilience

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Breaker defaults.
const (
	DefaultMaxFailures      = 5
	DefaultResetTimeout     = 30 * time.Second
	DefaultHalfOpenMaxCalls = 3
)

// State is the breaker position.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

var stateNames = [...]string{StateClosed: "closed", StateOpen: "open", StateHalfOpen: "half-open"}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// ErrCircuitOpen is returned without calling the backend.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreakerConfig configures a breaker. Zero values use the defaults.
type CircuitBreakerConfig struct {
	Name string

	// MaxFailures consecutive failures open the circuit.
	MaxFailures int

	// ResetTimeout is the cool-down before probes are allowed.
	ResetTimeout time.Duration

	// HalfOpenMaxCalls bounds concurrent probes while half-open.
	HalfOpenMaxCalls int

	// IsFailure decides whether an error counts against the backend.
	// Nil counts every error except caller cancellation.
	IsFailure func(error) bool

	// OnStateChange runs after each transition, outside the breaker lock.
	OnStateChange func(name string, from, to State)
}

// Statistics is a snapshot for the stats endpoint.
type Statistics struct {
	Name                string    `json:"name"`
	State               State     `json:"-"`
	StateName           string    `json:"state"`
	TotalRequests       int64     `json:"total_requests"`
	Successes           int64     `json:"successes"`
	Failures            int64     `json:"failures"`
	Rejections          int64     `json:"rejections"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastFailureTime     time.Time `json:"last_failure_time,omitzero"`
}

// CircuitBreaker is safe for concurrent use.
type CircuitBreaker struct {
	config CircuitBreakerConfig
	now    func() time.Time

	mu       sync.Mutex
	state    State
	openedAt time.Time
	probes   int
	stats    Statistics
}

// NewCircuitBreaker returns a closed breaker.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	if config.MaxFailures <= 0 {
		config.MaxFailures = DefaultMaxFailures
	}
	if config.ResetTimeout <= 0 {
		config.ResetTimeout = DefaultResetTimeout
	}
	if config.HalfOpenMaxCalls <= 0 {
		config.HalfOpenMaxCalls = DefaultHalfOpenMaxCalls
	}
	if config.IsFailure == nil {
		config.IsFailure = func(err error) bool { return !errors.Is(err, context.Canceled) }
	}
	return &CircuitBreaker{
		config: config,
		now:    time.Now,
		stats:  Statistics{Name: config.Name},
	}
}

// Name returns the configured name.
func (cb *CircuitBreaker) Name() string { return cb.config.Name }

// Execute calls fn unless the circuit is open. fn's error is returned as is.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	probe, err := cb.admit()
	if err != nil {
		return err
	}
	err = fn(ctx)
	cb.record(probe, err == nil || !cb.config.IsFailure(err))
	return err
}

// State returns the current position. An open circuit whose cool-down has
// passed reports half-open.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	from, to := cb.advanceLocked()
	cb.mu.Unlock()
	cb.notify(from, to)
	return to
}

// Statistics returns a snapshot of the counters.
func (cb *CircuitBreaker) Statistics() Statistics {
	cb.mu.Lock()
	from, to := cb.advanceLocked()
	s := cb.stats
	cb.mu.Unlock()
	cb.notify(from, to)

	s.State = to
	s.StateName = to.String()
	return s
}

// advanceLocked moves open to half-open once the cool-down has elapsed.
func (cb *CircuitBreaker) advanceLocked() (from, to State) {
	from = cb.state
	if cb.state == StateOpen && cb.now().Sub(cb.openedAt) >= cb.config.ResetTimeout {
		cb.state = StateHalfOpen
		cb.probes = 0
	}
	return from, cb.state
}

func (cb *CircuitBreaker) admit() (probe bool, err error) {
	cb.mu.Lock()
	from, to := cb.advanceLocked()
	cb.stats.TotalRequests++
	switch to {
	case StateClosed:
	case StateHalfOpen:
		if cb.probes < cb.config.HalfOpenMaxCalls {
			cb.probes++
			probe = true
			break
		}
		fallthrough
	default:
		cb.stats.Rejections++
		err = ErrCircuitOpen
	}
	cb.mu.Unlock()

	cb.notify(from, to)
	return probe, err
}

func (cb *CircuitBreaker) record(probe, ok bool) {
	cb.mu.Lock()
	from := cb.state
	if probe && cb.probes > 0 {
		cb.probes--
	}

	if ok {
		cb.stats.Successes++
		cb.stats.ConsecutiveFailures = 0
		if cb.state == StateHalfOpen {
			cb.state = StateClosed
		}
	} else {
		now := cb.now()
		cb.stats.Failures++
		cb.stats.ConsecutiveFailures++
		cb.stats.LastFailureTime = now
		// A failed probe reopens at once.
		if cb.state == StateHalfOpen || cb.stats.ConsecutiveFailures >= cb.config.MaxFailures {
			cb.state = StateOpen
			cb.openedAt = now
		}
	}
	to := cb.state
	cb.mu.Unlock()

	cb.notify(from, to)
}

func (cb *CircuitBreaker) notify(from, to State) {
	if from != to && cb.config.OnStateChange != nil {
		cb.config.OnStateChange(cb.config.Name, from, to)
	}
}
