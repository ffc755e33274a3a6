// Package circuitbreaker stops hammering an explorer or node that keeps
// failing. One breaker guards each upstream endpoint.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/deposit-scanner/internal/logging"
)

// State represents the circuit breaker state
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// ErrCircuitOpen is returned while the breaker rejects calls
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Config configures a circuit breaker
type Config struct {
	Name string
	// MaxConsecutiveFailures opens the breaker
	MaxConsecutiveFailures int
	// Cooldown is how long the breaker stays open before a probe
	Cooldown time.Duration
	// HalfOpenSuccesses closes the breaker again
	HalfOpenSuccesses int
	// IsFailure classifies errors. Defaults to any non-nil, non-context error.
	IsFailure func(error) bool
}

// DefaultConfig returns the settings used for explorer endpoints
func DefaultConfig(name string) *Config {
	return &Config{
		Name:                   name,
		MaxConsecutiveFailures: 5,
		Cooldown:               30 * time.Second,
		HalfOpenSuccesses:      2,
	}
}

// CircuitBreaker implements the circuit breaker pattern
type CircuitBreaker struct {
	cfg Config
	now func() time.Time

	mu               sync.Mutex
	state            State
	consecutiveFails int
	halfOpenOK       int
	probing          bool
	openedAt         time.Time
}

// NewCircuitBreaker creates a new circuit breaker
func NewCircuitBreaker(config *Config) *CircuitBreaker {
	cfg := *config
	if cfg.MaxConsecutiveFailures <= 0 {
		cfg.MaxConsecutiveFailures = 5
	}
	if cfg.HalfOpenSuccesses <= 0 {
		cfg.HalfOpenSuccesses = 1
	}
	if cfg.IsFailure == nil {
		cfg.IsFailure = defaultIsFailure
	}
	return &CircuitBreaker{cfg: cfg, now: time.Now, state: StateClosed}
}

func defaultIsFailure(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, context.Canceled)
}

// Execute runs fn unless the breaker is open
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := cb.beforeRequest(); err != nil {
		return err
	}
	err := fn(ctx)
	cb.afterRequest(err)
	return err
}

func (cb *CircuitBreaker) beforeRequest() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if cb.now().Sub(cb.openedAt) < cb.cfg.Cooldown {
			return ErrCircuitOpen
		}
		cb.state = StateHalfOpen
		cb.halfOpenOK = 0
		cb.probing = true
		logging.WithField("circuitBreaker", cb.cfg.Name).Info("Circuit breaker half-open, probing")
		return nil
	case StateHalfOpen:
		// one probe in flight at a time
		if cb.probing {
			return ErrCircuitOpen
		}
		cb.probing = true
		return nil
	default:
		return nil
	}
}

func (cb *CircuitBreaker) afterRequest(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.probing = false
	failed := cb.cfg.IsFailure(err)

	switch cb.state {
	case StateHalfOpen:
		if failed {
			cb.trip()
			return
		}
		cb.halfOpenOK++
		if cb.halfOpenOK >= cb.cfg.HalfOpenSuccesses {
			cb.state = StateClosed
			cb.consecutiveFails = 0
			logging.WithField("circuitBreaker", cb.cfg.Name).Info("Circuit breaker closed")
		}
	case StateClosed:
		if !failed {
			cb.consecutiveFails = 0
			return
		}
		cb.consecutiveFails++
		if cb.consecutiveFails >= cb.cfg.MaxConsecutiveFailures {
			cb.trip()
		}
	}
}

func (cb *CircuitBreaker) trip() {
	cb.state = StateOpen
	cb.openedAt = cb.now()
	logging.WithFields(map[string]interface{}{
		"circuitBreaker":   cb.cfg.Name,
		"consecutiveFails": cb.consecutiveFails,
		"cooldown":         cb.cfg.Cooldown.String(),
	}).Warn("Circuit breaker opened")
}

// GetState returns the current state
func (cb *CircuitBreaker) GetState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Reset closes the breaker
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = StateClosed
	cb.consecutiveFails = 0
	cb.halfOpenOK = 0
	cb.probing = false
}

// Manager hands out one breaker per upstream name
type Manager struct {
	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
	factory  func(name string) *Config
}

// NewManager creates a manager. factory may be nil for DefaultConfig.
func NewManager(factory func(name string) *Config) *Manager {
	if factory == nil {
		factory = DefaultConfig
	}
	return &Manager{breakers: make(map[string]*CircuitBreaker), factory: factory}
}

// Get returns the breaker for name, creating it on first use
func (m *Manager) Get(name string) *CircuitBreaker {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cb, ok := m.breakers[name]; ok {
		return cb
	}
	cb := NewCircuitBreaker(m.factory(name))
	m.breakers[name] = cb
	return cb
}

// States returns a snapshot of every breaker state, for the admin API
func (m *Manager) States() map[string]State {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]State, len(m.breakers))
	for name, cb := range m.breakers {
		out[name] = cb.GetState()
	}
	return out
}
