package ratelimit

import (
	"context"
	"time"

	"writingcoach/pkg/llmsvc/llm"
	"writingcoach/pkg/llmsvc/middleware/metrics"
)

// Middleware estimates each request's token usage and acquires it from the
// provider's limiter before the call.
func Middleware(limiterMap *ProviderLimiterMap, estimator TokenEstimator, recorder metrics.Recorder) llm.Middleware {
	if estimator == nil {
		estimator = NewDefaultTokenEstimator()
	}
	if recorder == nil {
		recorder = metrics.Nop()
	}

	return func(next llm.LLMClient) llm.LLMClient {
		return llm.WrapClient(
			func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
				model := next.GetModelName()

				limiter, err := limiterMap.GetLimiter(model)
				if err != nil {
					recorder.IncThrottle(model, "no_limiter")
					return llm.CompletionResponse{}, err
				}

				total := estimator.EstimatePrompt(req) + req.MaxTokens

				start := time.Now()
				release, err := limiter.Acquire(ctx, total)
				recorder.ObserveQueueWait(model, time.Since(start))
				if err != nil {
					recorder.IncThrottle(model, "rate_limit")
					return llm.CompletionResponse{}, err //nolint:wrapcheck // Middleware should pass through errors unchanged
				}
				defer release()

				return next.Complete(ctx, req)
			},
			next.GetModelName,
		)
	}
}
