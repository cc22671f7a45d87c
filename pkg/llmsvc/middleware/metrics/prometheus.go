package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metric names, shared with the usage query.
const (
	RequestsTotal   = "llm_requests_total"
	TokensTotal     = "llm_tokens_total"
	CostsTotal      = "llm_costs_total"
	RequestDuration = "llm_request_duration_seconds"
	ThrottleTotal   = "llm_throttle_total"
	QueueWait       = "llm_queue_wait_duration_seconds"
)

// PrometheusRecorder implements the Recorder interface using Prometheus metrics.
type PrometheusRecorder struct {
	requestsTotal   *prometheus.CounterVec
	tokensTotal     *prometheus.CounterVec
	costsTotal      *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	throttleTotal   *prometheus.CounterVec
	queueWaitTime   *prometheus.HistogramVec
}

// NewPrometheusRecorder registers the model call metrics with reg. A nil reg means
// the default registry, which /metrics serves.
func NewPrometheusRecorder(reg prometheus.Registerer) *PrometheusRecorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &PrometheusRecorder{
		requestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: RequestsTotal,
				Help: "Total number of model requests by model, session, kind and status",
			},
			[]string{"model", "session_id", "kind", "status", "error_type"},
		),
		tokensTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: TokensTotal,
				Help: "Total number of tokens used in model requests",
			},
			[]string{"model", "session_id", "kind", "type"},
		),
		costsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: CostsTotal,
				Help: "Total cost in USD for model requests",
			},
			[]string{"model", "session_id", "kind"},
		),
		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    RequestDuration,
				Help:    "Duration of model requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"model", "kind"},
		),
		throttleTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: ThrottleTotal,
				Help: "Total number of rate limiting events",
			},
			[]string{"model", "reason"},
		),
		queueWaitTime: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    QueueWait,
				Help:    "Time spent waiting for rate limit availability",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"model"},
		),
	}
}

// ObserveRequest records metrics for a completed request.
func (p *PrometheusRecorder) ObserveRequest(obs Observation) {
	status := "success"
	if !obs.Success {
		status = "error"
	}

	p.requestsTotal.WithLabelValues(obs.Model, obs.SessionID, obs.Kind, status, obs.ErrorType).Inc()

	// Tokens and cost are only known for successful calls.
	if obs.Success {
		p.tokensTotal.WithLabelValues(obs.Model, obs.SessionID, obs.Kind, "prompt").Add(float64(obs.PromptTokens))
		p.tokensTotal.WithLabelValues(obs.Model, obs.SessionID, obs.Kind, "completion").Add(float64(obs.CompletionTokens))
		p.costsTotal.WithLabelValues(obs.Model, obs.SessionID, obs.Kind).Add(obs.Cost)
	}

	p.requestDuration.WithLabelValues(obs.Model, obs.Kind).Observe(obs.Duration.Seconds())
}

// IncThrottle increments the throttle counter for rate limiting events.
func (p *PrometheusRecorder) IncThrottle(model, reason string) {
	p.throttleTotal.WithLabelValues(model, reason).Inc()
}

// ObserveQueueWait records time spent waiting for rate limit availability.
func (p *PrometheusRecorder) ObserveQueueWait(model string, duration time.Duration) {
	p.queueWaitTime.WithLabelValues(model).Observe(duration.Seconds())
}
