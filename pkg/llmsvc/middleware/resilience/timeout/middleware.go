// Package timeout bounds each model call.
package timeout

import (
	"context"
	"time"

	"writingcoach/pkg/llmsvc/llm"
)

// Middleware gives every call its own deadline so a hung provider cannot hold a
// session's loading state forever. A non-positive duration disables it.
func Middleware(duration time.Duration) llm.Middleware {
	return func(next llm.LLMClient) llm.LLMClient {
		if duration <= 0 {
			return next
		}
		return llm.WrapClient(
			func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
				ctx, cancel := context.WithTimeout(ctx, duration)
				defer cancel()
				return next.Complete(ctx, req)
			},
			next.GetModelName,
		)
	}
}
