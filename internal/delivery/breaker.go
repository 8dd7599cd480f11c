package delivery

import (
	"errors"
	"sync"
	"time"
)

// Circuit breaker states
const (
	StateClosed   = "closed"    // Normal operation
	StateOpen     = "open"      // Failing, rejecting requests
	StateHalfOpen = "half-open" // Testing if the endpoint recovered
)

// ErrCircuitOpen is returned when the circuit breaker is open
var ErrCircuitOpen = errors.New("circuit breaker is open")

// BreakerConfig holds circuit breaker configuration
type BreakerConfig struct {
	FailureThreshold int           // Failures before opening the circuit
	SuccessThreshold int           // Successes to close from half-open
	Timeout          time.Duration // Time to wait before probing half-open
	OnStateChange    func(from, to string)
}

// DefaultBreakerConfig returns sensible defaults for report delivery
func DefaultBreakerConfig() *BreakerConfig {
	return &BreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Timeout:          30 * time.Second,
	}
}

// Breaker sheds delivery attempts while the analytics endpoint is failing.
// Reports are fire-and-forget, so a rejected attempt is dropped, not queued.
type Breaker struct {
	config *BreakerConfig

	mu              sync.RWMutex
	state           string
	failures        int
	successes       int
	probing         bool
	lastFailureTime time.Time

	totalRequests  int64
	totalFailures  int64
	totalSuccesses int64
	totalRejected  int64

	callbackWg sync.WaitGroup
}

// NewBreaker creates a circuit breaker
func NewBreaker(config *BreakerConfig) *Breaker {
	if config == nil {
		config = DefaultBreakerConfig()
	}
	return &Breaker{
		config: config,
		state:  StateClosed,
	}
}

// Execute runs fn with circuit breaker protection
func (cb *Breaker) Execute(fn func() error) error {
	if err := cb.beforeRequest(); err != nil {
		return err
	}

	err := fn()
	cb.afterRequest(err)
	return err
}

func (cb *Breaker) beforeRequest() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.totalRequests++

	switch cb.state {
	case StateClosed:
		return nil

	case StateOpen:
		if time.Since(cb.lastFailureTime) > cb.config.Timeout {
			cb.setState(StateHalfOpen)
			cb.probing = true
			return nil
		}
		cb.totalRejected++
		return ErrCircuitOpen

	case StateHalfOpen:
		// One probe at a time while half-open.
		if !cb.probing {
			cb.probing = true
			return nil
		}
		cb.totalRejected++
		return ErrCircuitOpen
	}

	return nil
}

func (cb *Breaker) afterRequest(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.probing = false

	if err != nil {
		cb.recordFailure()
	} else {
		cb.recordSuccess()
	}
}

func (cb *Breaker) recordFailure() {
	cb.totalFailures++
	cb.failures++
	cb.successes = 0
	cb.lastFailureTime = time.Now()

	switch cb.state {
	case StateClosed:
		if cb.failures >= cb.config.FailureThreshold {
			cb.setState(StateOpen)
		}
	case StateHalfOpen:
		cb.setState(StateOpen)
	}
}

func (cb *Breaker) recordSuccess() {
	cb.totalSuccesses++
	cb.successes++

	switch cb.state {
	case StateClosed:
		cb.failures = 0
	case StateHalfOpen:
		if cb.successes >= cb.config.SuccessThreshold {
			cb.setState(StateClosed)
			cb.failures = 0
		}
	}
}

func (cb *Breaker) setState(newState string) {
	if cb.state == newState {
		return
	}

	oldState := cb.state
	cb.state = newState
	cb.successes = 0

	if cb.config.OnStateChange != nil {
		cb.callbackWg.Add(1)
		go func(from, to string) {
			defer cb.callbackWg.Done()
			cb.config.OnStateChange(from, to)
		}(oldState, newState)
	}
}

// State returns the current circuit breaker state
func (cb *Breaker) State() string {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// BreakerStats holds circuit breaker statistics
type BreakerStats struct {
	State          string `json:"state"`
	TotalRequests  int64  `json:"total_requests"`
	TotalFailures  int64  `json:"total_failures"`
	TotalSuccesses int64  `json:"total_successes"`
	TotalRejected  int64  `json:"total_rejected"`
	Failures       int    `json:"current_failures"`
}

// Stats returns circuit breaker statistics
func (cb *Breaker) Stats() BreakerStats {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return BreakerStats{
		State:          cb.state,
		TotalRequests:  cb.totalRequests,
		TotalFailures:  cb.totalFailures,
		TotalSuccesses: cb.totalSuccesses,
		TotalRejected:  cb.totalRejected,
		Failures:       cb.failures,
	}
}

// Reset resets the circuit breaker to closed state
func (cb *Breaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.setState(StateClosed)
	cb.failures = 0
	cb.successes = 0
}

// Close waits for any pending state change callbacks to complete
func (cb *Breaker) Close() {
	cb.callbackWg.Wait()
}
