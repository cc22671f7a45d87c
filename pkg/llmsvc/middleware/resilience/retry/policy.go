// Package retry re-sends model calls that failed for reasons likely to pass,
// such as rate limits, 5xx replies and dropped connections.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"writingcoach/pkg/llmsvc/llmerrors"
	"writingcoach/pkg/llmsvc/middleware/resilience/circuit"
)

type Config struct {
	MaxAttempts   int // first call included
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	Jitter        bool // spread each delay by up to ±10%
}

// DefaultConfig gives up after three attempts, about 1.5s of waiting.
//
//nolint:gochecknoglobals // default value
var DefaultConfig = Config{
	MaxAttempts:   3,
	InitialDelay:  500 * time.Millisecond,
	MaxDelay:      5 * time.Second,
	BackoffFactor: 2.0,
	Jitter:        true,
}

// Classifier reports whether an error is worth another attempt.
type Classifier func(error) bool

// ShouldRetry is the default Classifier. A cancelled caller, an open circuit and
// errors the provider will repeat (auth, bad prompt) are final.
func ShouldRetry(err error) bool {
	var open *circuit.Error
	switch {
	case err == nil, errors.Is(err, context.Canceled), errors.As(err, &open):
		return false
	case errors.Is(err, context.DeadlineExceeded):
		// the per-attempt timeout fired, the caller is still waiting
		return true
	}
	return llmerrors.Classify(err, 0).IsRetryable()
}

//nolint:govet // field order follows Config
type Policy struct {
	Config     Config
	Classifier Classifier
}

// NewPolicy returns a policy that makes at least one attempt. A nil classifier
// means ShouldRetry.
func NewPolicy(config Config, classifier Classifier) *Policy {
	if classifier == nil {
		classifier = ShouldRetry
	}
	config.MaxAttempts = max(config.MaxAttempts, 1)
	return &Policy{Config: config, Classifier: classifier}
}

// CalculateDelay returns how long to wait before attempt (1-based). The first
// attempt goes out immediately.
func (p *Policy) CalculateDelay(attempt int) time.Duration {
	if attempt < 2 {
		return 0
	}
	delay := float64(p.Config.InitialDelay)
	for i := 2; i < attempt; i++ {
		delay *= p.Config.BackoffFactor
	}
	if limit := float64(p.Config.MaxDelay); limit > 0 && delay > limit {
		delay = limit
	}
	if p.Config.Jitter {
		delay *= 0.9 + 0.2*rand.Float64() //nolint:gosec // jitter needs no crypto
	}
	return time.Duration(delay)
}

func (p *Policy) ShouldRetry(err error) bool {
	return p.Classifier(err)
}

// Do calls fn until it succeeds, fails with an error the classifier rejects, or
// runs out of attempts. Running out on a retryable error yields a
// ServiceUnavailable error wrapping the last failure.
func Do[T any](ctx context.Context, p *Policy, onRetry func(attempt int, err error), fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error
	for attempt := 1; attempt <= p.Config.MaxAttempts; attempt++ {
		if wait := p.CalculateDelay(attempt); wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return zero, fmt.Errorf("retry cancelled: %w", ctx.Err())
			case <-timer.C:
			}
		}

		result, err := fn()
		if err == nil {
			return result, nil
		}
		if ctx.Err() != nil || !p.ShouldRetry(err) {
			return zero, err
		}
		lastErr = err
		if attempt < p.Config.MaxAttempts && onRetry != nil {
			onRetry(attempt, err)
		}
	}
	return zero, llmerrors.NewServiceUnavailableError(lastErr, p.Config.MaxAttempts)
}
