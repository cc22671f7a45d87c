package circuit

import (
	"context"
	"errors"

	"writingcoach/pkg/llmsvc/llm"
	"writingcoach/pkg/llmsvc/llmerrors"
)

// Middleware rejects requests while the circuit is open, without calling the
// provider, so a failing service gets time to recover.
//
// Failures the student caused (bad prompt) or a cancelled request do not count
// against the provider.
func Middleware(breaker Breaker) llm.Middleware {
	return func(next llm.LLMClient) llm.LLMClient {
		return llm.WrapClient(
			func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
				if !breaker.Allow() {
					return llm.CompletionResponse{}, llmerrors.NewErrorWithCause(
						llmerrors.ErrorTypeServiceUnavailable, &Error{State: breaker.GetState()}, "circuit open")
				}

				resp, err := next.Complete(ctx, req)
				if countsAsFailure(err) {
					breaker.Record(false)
				} else if err == nil {
					breaker.Record(true)
				}

				return resp, err //nolint:wrapcheck // Middleware should pass through errors unchanged
			},
			next.GetModelName,
		)
	}
}

func countsAsFailure(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	return !llmerrors.Is(err, llmerrors.ErrorTypeBadPrompt)
}
