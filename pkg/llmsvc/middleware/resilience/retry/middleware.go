package retry

import (
	"context"

	"writingcoach/pkg/llmsvc/llm"
	"writingcoach/pkg/logx"
)

// Middleware retries failed completions under policy.
func Middleware(policy *Policy) llm.Middleware {
	return func(next llm.LLMClient) llm.LLMClient {
		return llm.WrapClient(
			func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
				logRetry := func(attempt int, err error) {
					logx.Debug(ctx, "llm", "attempt %d/%d failed, retrying: %v", attempt, policy.Config.MaxAttempts, err)
				}
				return Do(ctx, policy, logRetry, func() (llm.CompletionResponse, error) {
					return next.Complete(ctx, req)
				})
			},
			next.GetModelName,
		)
	}
}
