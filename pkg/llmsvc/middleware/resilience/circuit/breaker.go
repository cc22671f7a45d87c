// Package circuit stops calling a model provider that keeps failing and lets a
// single probe through once the cool-down has passed.
package circuit

import (
	"fmt"
	"sync"
	"time"

	"writingcoach/pkg/logx"
)

// State is the breaker position.
type State int

const (
	Closed   State = iota // calls flow
	Open                  // calls rejected until the cool-down ends
	HalfOpen              // one probe call decides
)

func (s State) String() string {
	switch s {
	case Closed:
		return "CLOSED"
	case Open:
		return "OPEN"
	case HalfOpen:
		return "HALF_OPEN"
	}
	return "UNKNOWN"
}

// Config sets the thresholds.
type Config struct {
	FailureThreshold int           // consecutive failures that open the circuit
	SuccessThreshold int           // probe successes that close it again
	Timeout          time.Duration // cool-down before probing
}

// DefaultConfig trips after five straight failures and probes after 30 seconds.
//
//nolint:gochecknoglobals // default value
var DefaultConfig = Config{
	FailureThreshold: 5,
	SuccessThreshold: 1,
	Timeout:          30 * time.Second,
}

// Error is returned in place of a call the breaker refused.
type Error struct {
	State State
}

func (e *Error) Error() string {
	return fmt.Sprintf("circuit breaker is %s", e.State)
}

// Breaker decides whether a call may go to the provider.
type Breaker interface {
	// Allow reports whether a call may proceed. In HALF_OPEN only one probe is
	// admitted until it is recorded or a cool-down passes.
	Allow() bool
	// Record reports the outcome of an admitted call.
	Record(success bool)
	GetState() State
	// Reset closes the circuit and clears the counters.
	Reset()
}

type breaker struct {
	name   string
	config Config
	now    func() time.Time
	logger *logx.Logger

	mu        sync.Mutex
	state     State
	failures  int
	successes int
	openedAt  time.Time
	probing   bool
	probeAt   time.Time
}

// New creates a breaker. name identifies it in logs, usually the provider.
func New(name string, config Config) Breaker {
	return newWithClock(name, config, time.Now)
}

func newWithClock(name string, config Config, now func() time.Time) *breaker {
	if config.FailureThreshold < 1 {
		config.FailureThreshold = DefaultConfig.FailureThreshold
	}
	if config.SuccessThreshold < 1 {
		config.SuccessThreshold = DefaultConfig.SuccessThreshold
	}
	return &breaker{
		name:   name,
		config: config,
		now:    now,
		logger: logx.NewLogger("circuit"),
	}
}

func (b *breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == Open && b.now().Sub(b.openedAt) >= b.config.Timeout {
		b.moveTo(HalfOpen)
	}
	switch b.state {
	case Closed:
		return true
	case HalfOpen:
		// A probe whose outcome was never recorded (cancelled, bad prompt)
		// stops blocking once another cool-down has passed.
		if b.probing && b.now().Sub(b.probeAt) < b.config.Timeout {
			return false
		}
		b.probing = true
		b.probeAt = b.now()
		return true
	default:
		return false
	}
}

func (b *breaker) Record(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.probing = false
	switch {
	case success && b.state == HalfOpen:
		b.successes++
		if b.successes >= b.config.SuccessThreshold {
			b.moveTo(Closed)
		}
	case success:
		b.failures = 0
	case b.state == HalfOpen:
		b.moveTo(Open)
	default:
		b.failures++
		if b.state == Closed && b.failures >= b.config.FailureThreshold {
			b.moveTo(Open)
		}
	}
}

func (b *breaker) GetState() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.moveTo(Closed)
}

// moveTo changes state and clears the counters. Callers hold b.mu.
func (b *breaker) moveTo(next State) {
	if next != b.state {
		b.logger.Info("Circuit for %s: %s -> %s", b.name, b.state, next)
	}
	b.state = next
	b.failures = 0
	b.successes = 0
	b.probing = false
	if next == Open {
		b.openedAt = b.now()
	}
}
