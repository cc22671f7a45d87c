// Package llmsvc builds the model-service collaborator: a provider client wrapped in
// the metrics, audit and resilience middleware chain, behind the Invoker contract the
// coaching core consumes.
package llmsvc

import (
	"context"
	"fmt"
	"strings"

	"writingcoach/pkg/config"
	"writingcoach/pkg/llmsvc/internal/llmimpl/anthropic"
	"writingcoach/pkg/llmsvc/internal/llmimpl/google"
	"writingcoach/pkg/llmsvc/internal/llmimpl/ollama"
	"writingcoach/pkg/llmsvc/internal/llmimpl/openaiofficial"
	"writingcoach/pkg/llmsvc/llm"
	"writingcoach/pkg/llmsvc/middleware/audit"
	"writingcoach/pkg/llmsvc/middleware/metrics"
	"writingcoach/pkg/llmsvc/middleware/resilience/circuit"
	"writingcoach/pkg/llmsvc/middleware/resilience/ratelimit"
	"writingcoach/pkg/llmsvc/middleware/resilience/retry"
	"writingcoach/pkg/llmsvc/middleware/resilience/timeout"
	"writingcoach/pkg/logx"
)

// Factory creates model clients with the middleware chain configured.
type Factory struct {
	config          config.Config
	metricsRecorder metrics.Recorder
	exchanges       audit.Recorder
	circuitBreakers map[string]circuit.Breaker // per provider
	rateLimitMap    *ratelimit.ProviderLimiterMap
	rawClient       func(provider, model, apiKey string) (llm.LLMClient, error)
	logger          *logx.Logger
}

// FactoryOption configures a Factory.
type FactoryOption func(*Factory)

// WithRecorder sets the metrics recorder. The default is a no-op recorder.
func WithRecorder(r metrics.Recorder) FactoryOption {
	return func(f *Factory) { f.metricsRecorder = r }
}

// WithExchangeStore enables the audit middleware.
func WithExchangeStore(store audit.Recorder) FactoryOption {
	return func(f *Factory) { f.exchanges = store }
}

// WithRawClient replaces the provider client, for tests and alternative backends.
func WithRawClient(client llm.LLMClient) FactoryOption {
	return func(f *Factory) {
		f.rawClient = func(_, _, _ string) (llm.LLMClient, error) { return client, nil }
	}
}

// NewFactory creates a factory for cfg. Close stops its rate limiter timers.
func NewFactory(ctx context.Context, cfg config.Config, opts ...FactoryOption) *Factory {
	cb := cfg.Resilience.CircuitBreaker
	circuitConfig := circuit.Config{
		FailureThreshold: cb.FailureThreshold,
		SuccessThreshold: cb.SuccessThreshold,
		Timeout:          cb.Timeout,
	}
	breakers := make(map[string]circuit.Breaker)
	for _, p := range []string{config.ProviderAnthropic, config.ProviderOpenAI, config.ProviderGoogle, config.ProviderOllama} {
		breakers[p] = circuit.New(p, circuitConfig)
	}

	f := &Factory{
		config:          cfg,
		metricsRecorder: metrics.Nop(),
		circuitBreakers: breakers,
		rateLimitMap:    ratelimit.NewProviderLimiterMap(ctx, cfg.Resilience.RateLimit),
		rawClient:       newProviderClient,
		logger:          logx.NewLogger("llm"),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Close releases background resources.
func (f *Factory) Close() {
	f.rateLimitMap.Stop()
}

// RateLimitStats reports the per-provider limiter state.
func (f *Factory) RateLimitStats() map[string]ratelimit.LimiterStats {
	return f.rateLimitMap.GetAllStats()
}

// CreateClient builds the configured model's client with the middleware chain:
//
//	metrics -> audit -> circuit breaker -> retry -> rate limit -> timeout -> provider
func (f *Factory) CreateClient() (llm.LLMClient, error) {
	modelName := f.config.Model.Name

	provider, err := config.GetModelProvider(modelName)
	if err != nil {
		return nil, fmt.Errorf("failed to determine provider for model %s: %w", modelName, err)
	}

	apiKey, err := config.GetAPIKey(provider)
	if err != nil {
		return nil, fmt.Errorf("failed to get API key for provider %s: %w", provider, err)
	}

	rawClient, err := f.rawClient(provider, modelName, apiKey)
	if err != nil {
		return nil, err
	}

	breaker, exists := f.circuitBreakers[provider]
	if !exists {
		return nil, fmt.Errorf("no circuit breaker found for provider %s", provider)
	}

	r := f.config.Resilience.Retry
	retryPolicy := retry.NewPolicy(retry.Config{
		MaxAttempts:   r.MaxAttempts,
		InitialDelay:  r.InitialDelay,
		MaxDelay:      r.MaxDelay,
		BackoffFactor: r.BackoffFactor,
		Jitter:        r.Jitter,
	}, nil)

	chain := []llm.Middleware{metrics.Middleware(f.metricsRecorder, nil, f.logger)}
	if f.exchanges != nil {
		chain = append(chain, audit.Middleware(f.exchanges, nil))
	}
	chain = append(chain,
		circuit.Middleware(breaker),
		retry.Middleware(retryPolicy),
		ratelimit.Middleware(f.rateLimitMap, nil, f.metricsRecorder),
		timeout.Middleware(f.config.Resilience.Timeout),
	)

	f.logger.Info("Model client ready: %s (%s)", modelName, provider)
	return llm.Chain(rawClient, chain...), nil
}

func newProviderClient(provider, model, apiKey string) (llm.LLMClient, error) {
	switch provider {
	case config.ProviderAnthropic:
		return anthropic.NewClaudeClientWithModel(apiKey, model), nil
	case config.ProviderOpenAI:
		return openaiofficial.NewOfficialClientWithModel(apiKey, model), nil
	case config.ProviderGoogle:
		return google.NewGeminiClientWithModel(apiKey, model), nil
	case config.ProviderOllama:
		// For Ollama the "key" is the host URL.
		return ollama.NewClient(apiKey, strings.TrimPrefix(model, "ollama:")), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", provider)
	}
}
