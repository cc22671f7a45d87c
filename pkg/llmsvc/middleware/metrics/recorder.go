// Package metrics provides metrics recording for model calls.
package metrics

import (
	"time"
)

// Observation is one finished model call.
type Observation struct {
	Model            string
	SessionID        string
	Kind             string
	PromptTokens     int
	CompletionTokens int
	Cost             float64
	Success          bool
	ErrorType        string
	Duration         time.Duration
}

// Recorder defines the interface for recording model call metrics.
type Recorder interface {
	// ObserveRequest records metrics for a completed request.
	ObserveRequest(obs Observation)

	// IncThrottle increments the throttle counter for rate limiting events.
	IncThrottle(model, reason string)

	// ObserveQueueWait records time spent waiting for rate limit availability.
	ObserveQueueWait(model string, duration time.Duration)
}

// NoopRecorder implements Recorder with no-op behavior for when metrics are disabled.
type NoopRecorder struct{}

// Nop returns a no-op metrics recorder that discards all metrics.
func Nop() Recorder {
	return &NoopRecorder{}
}

func (n *NoopRecorder) ObserveRequest(_ Observation) {}

func (n *NoopRecorder) IncThrottle(_, _ string) {}

func (n *NoopRecorder) ObserveQueueWait(_ string, _ time.Duration) {}
