package metrics

import (
	"context"
	"errors"
	"strings"
	"time"

	"writingcoach/pkg/config"
	"writingcoach/pkg/llmsvc/llm"
	"writingcoach/pkg/llmsvc/llmerrors"
	"writingcoach/pkg/llmsvc/middleware/resilience/circuit"
	"writingcoach/pkg/logx"
	"writingcoach/pkg/utils"
)

// UsageExtractor reports the token usage of a finished call.
type UsageExtractor func(req llm.CompletionRequest, resp llm.CompletionResponse) (promptTokens, completionTokens int)

// DefaultUsageExtractor uses the provider's counts and falls back to counting with
// tiktoken when the provider reported none.
func DefaultUsageExtractor(req llm.CompletionRequest, resp llm.CompletionResponse) (promptTokens, completionTokens int) {
	promptTokens, completionTokens = resp.InputTokens, resp.OutputTokens
	if promptTokens == 0 {
		var sb strings.Builder
		for i := range req.Messages {
			sb.WriteString(req.Messages[i].Content)
			sb.WriteString("\n")
		}
		promptTokens = utils.CountTokensSimple(sb.String())
	}
	if completionTokens == 0 {
		completionTokens = utils.CountTokensSimple(resp.Content)
	}
	return promptTokens, completionTokens
}

// Middleware records latency, token usage, cost and outcome of every call, labelled
// by the session and kind carried in the context.
func Middleware(recorder Recorder, usageExtractor UsageExtractor, logger *logx.Logger) llm.Middleware {
	if usageExtractor == nil {
		usageExtractor = DefaultUsageExtractor
	}

	return func(next llm.LLMClient) llm.LLMClient {
		return llm.WrapClient(
			func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
				start := time.Now()
				model := next.GetModelName()
				info := llm.CallInfoFrom(ctx)

				resp, err := next.Complete(ctx, req)
				duration := time.Since(start)

				obs := Observation{
					Model:     model,
					SessionID: info.SessionID,
					Kind:      string(info.Kind),
					Success:   err == nil,
					ErrorType: errorType(err),
					Duration:  duration,
				}
				if err == nil {
					obs.PromptTokens, obs.CompletionTokens = usageExtractor(req, resp)
					obs.Cost = config.CalculateCost(model, obs.PromptTokens, obs.CompletionTokens)
				}
				recorder.ObserveRequest(obs)

				if logger != nil {
					status := "success"
					if err != nil {
						status = "error"
					}
					logger.Info("Model call: model=%s session=%s kind=%s tokens=%d+%d status=%s duration=%dms",
						model, info.SessionID, info.Kind, obs.PromptTokens, obs.CompletionTokens, status, duration.Milliseconds())
				}

				return resp, err //nolint:wrapcheck // Middleware should pass through errors unchanged
			},
			next.GetModelName,
		)
	}
}

// errorType labels an error for metrics.
func errorType(err error) string {
	if err == nil {
		return ""
	}
	var circuitErr *circuit.Error
	switch {
	case errors.As(err, &circuitErr):
		return "circuit_breaker"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	}
	var llmErr *llmerrors.Error
	if errors.As(err, &llmErr) {
		return llmErr.Type.String()
	}
	return "unknown"
}
