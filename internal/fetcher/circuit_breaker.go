package fetcher

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// circuitState is the current disposition of a circuitBreaker.
type circuitState int

const (
	circuitClosed circuitState = iota
	circuitOpen
	circuitHalfOpen
)

func (s circuitState) String() string {
	switch s {
	case circuitOpen:
		return "open"
	case circuitHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// circuitBreakerConfig controls how a circuitBreaker trips and recovers.
type circuitBreakerConfig struct {
	FailureThreshold int
	SuccessThreshold int
	OpenTimeout      time.Duration
	HalfOpenMax      int
}

func defaultCircuitBreakerConfig() circuitBreakerConfig {
	return circuitBreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		OpenTimeout:      60 * time.Second,
		HalfOpenMax:      3,
	}
}

// circuitBreaker gates broker calls per instrument so a persistently failing
// endpoint stops being hammered by every symbol task's retries at once.
type circuitBreaker struct {
	name   string
	cfg    circuitBreakerConfig
	log    *logrus.Logger
	clock  interface{ Now() time.Time }

	mu              sync.Mutex
	state           circuitState
	failureCount    int
	successCount    int
	halfOpenCount   int
	lastStateChange time.Time
}

func newCircuitBreaker(name string, cfg circuitBreakerConfig, log *logrus.Logger, clock interface{ Now() time.Time }) *circuitBreaker {
	return &circuitBreaker{
		name:            name,
		cfg:             cfg,
		log:             log,
		clock:           clock,
		state:           circuitClosed,
		lastStateChange: clock.Now(),
	}
}

// allow reports whether a call should proceed, transitioning open->half-open
// once the timeout elapses.
func (cb *circuitBreaker) allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case circuitClosed:
		return true
	case circuitOpen:
		if cb.clock.Now().Sub(cb.lastStateChange) >= cb.cfg.OpenTimeout {
			cb.transition(circuitHalfOpen)
			cb.halfOpenCount = 0
			return true
		}
		return false
	case circuitHalfOpen:
		if cb.halfOpenCount < cb.cfg.HalfOpenMax {
			cb.halfOpenCount++
			return true
		}
		return false
	default:
		return false
	}
}

func (cb *circuitBreaker) recordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case circuitClosed:
		cb.failureCount = 0
	case circuitHalfOpen:
		cb.successCount++
		if cb.successCount >= cb.cfg.SuccessThreshold {
			cb.transition(circuitClosed)
			cb.failureCount = 0
			cb.successCount = 0
		}
	}
}

func (cb *circuitBreaker) recordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case circuitClosed:
		cb.failureCount++
		if cb.failureCount >= cb.cfg.FailureThreshold {
			cb.transition(circuitOpen)
		}
	case circuitHalfOpen:
		cb.transition(circuitOpen)
		cb.successCount = 0
	}
}

func (cb *circuitBreaker) transition(to circuitState) {
	if cb.state == to {
		return
	}
	from := cb.state
	cb.state = to
	cb.lastStateChange = cb.clock.Now()
	cb.log.WithFields(logrus.Fields{
		"circuit":    cb.name,
		"from_state": from.String(),
		"to_state":   to.String(),
	}).Info("fetcher: circuit breaker state change")
}

func (cb *circuitBreaker) State() string {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state.String()
}
