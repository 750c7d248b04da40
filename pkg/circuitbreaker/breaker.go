package circuitbreaker

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	ErrCircuitOpen     = errors.New("circuit breaker is open")
	ErrTooManyRequests = errors.New("too many requests in half-open state")
)

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

type Config struct {
	// MaxRequests is the number of probes let through while half-open.
	MaxRequests uint32
	// OpenTimeout is how long the breaker stays open before probing.
	OpenTimeout      time.Duration
	FailureThreshold uint32
	SuccessThreshold uint32
	// IsFailure decides which errors trip the breaker; nil counts every error.
	IsFailure     func(error) bool
	OnStateChange func(name string, from, to State)
	Logger        *zap.Logger
	now           func() time.Time
}

type CircuitBreaker struct {
	name string
	cfg  Config

	mu                   sync.Mutex
	state                State
	generation           uint64
	halfOpenRequests     uint32
	consecutiveFailures  uint32
	consecutiveSuccesses uint32
	openedAt             time.Time
}

func NewCircuitBreaker(name string, cfg Config) *CircuitBreaker {
	if cfg.MaxRequests == 0 {
		cfg.MaxRequests = 1
	}
	if cfg.OpenTimeout == 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold == 0 {
		cfg.SuccessThreshold = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.now == nil {
		cfg.now = time.Now
	}

	return &CircuitBreaker{name: name, cfg: cfg}
}

// Execute runs fn unless the breaker is open. The error from fn is returned
// unchanged.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	generation, err := cb.beforeRequest()
	if err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			cb.afterRequest(generation, true)
			panic(r)
		}
	}()

	err = fn()
	cb.afterRequest(generation, err != nil && cb.isFailure(err))
	return err
}

func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.currentState()
}

func (cb *CircuitBreaker) isFailure(err error) bool {
	if cb.cfg.IsFailure == nil {
		return true
	}
	return cb.cfg.IsFailure(err)
}

func (cb *CircuitBreaker) beforeRequest() (uint64, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.currentState() {
	case StateOpen:
		return cb.generation, ErrCircuitOpen
	case StateHalfOpen:
		if cb.halfOpenRequests >= cb.cfg.MaxRequests {
			return cb.generation, ErrTooManyRequests
		}
		cb.halfOpenRequests++
	}

	return cb.generation, nil
}

func (cb *CircuitBreaker) afterRequest(generation uint64, failed bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	state := cb.currentState()
	if generation != cb.generation {
		return
	}

	if failed {
		cb.consecutiveFailures++
		cb.consecutiveSuccesses = 0
		if state == StateHalfOpen || cb.consecutiveFailures >= cb.cfg.FailureThreshold {
			cb.setState(StateOpen)
		}
		return
	}

	cb.consecutiveSuccesses++
	cb.consecutiveFailures = 0
	if state == StateHalfOpen && cb.consecutiveSuccesses >= cb.cfg.SuccessThreshold {
		cb.setState(StateClosed)
	}
}

// currentState moves open to half-open once the open timeout has elapsed.
// Callers hold cb.mu.
func (cb *CircuitBreaker) currentState() State {
	if cb.state == StateOpen && cb.cfg.now().Sub(cb.openedAt) >= cb.cfg.OpenTimeout {
		cb.setState(StateHalfOpen)
	}
	return cb.state
}

func (cb *CircuitBreaker) setState(state State) {
	if cb.state == state {
		return
	}

	prev := cb.state
	cb.state = state
	cb.generation++
	cb.halfOpenRequests = 0
	cb.consecutiveSuccesses = 0
	if state != StateOpen {
		cb.consecutiveFailures = 0
	} else {
		cb.openedAt = cb.cfg.now()
	}

	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(cb.name, prev, state)
	}

	cb.cfg.Logger.Info("Circuit breaker state changed",
		zap.String("name", cb.name),
		zap.String("from", prev.String()),
		zap.String("to", state.String()),
	)
}
