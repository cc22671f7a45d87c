// Package audit records every model call in the transcript store.
package audit

import (
	"context"
	"strings"
	"time"

	"writingcoach/pkg/llmsvc/llm"
	"writingcoach/pkg/llmsvc/llmerrors"
	"writingcoach/pkg/logx"
	"writingcoach/pkg/persistence"
)

// Recorder stores one exchange.
type Recorder interface {
	RecordExchange(ctx context.Context, ex persistence.Exchange) (persistence.Exchange, error)
}

// Middleware writes an exchange for each call, failed or not. A failed write is
// logged and never fails the call itself.
func Middleware(store Recorder, logger *logx.Logger) llm.Middleware {
	if logger == nil {
		logger = logx.NewLogger("audit")
	}

	return func(next llm.LLMClient) llm.LLMClient {
		return llm.WrapClient(
			func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
				start := time.Now()
				resp, err := next.Complete(ctx, req)

				info := llm.CallInfoFrom(ctx)
				system, user := splitPrompt(req.Messages)
				ex := persistence.Exchange{
					SessionID:    info.SessionID,
					Kind:         string(info.Kind),
					Model:        next.GetModelName(),
					SystemPrompt: system,
					UserPrompt:   user,
					Response:     resp.Content,
					Duration:     time.Since(start),
					InputTokens:  resp.InputTokens,
					OutputTokens: resp.OutputTokens,
					CreatedAt:    start,
				}
				if err != nil {
					ex.Error = err.Error()
					logger.Debug("%s call for session %s failed (%v), prompt: %s",
						ex.Kind, ex.SessionID, err, llmerrors.SanitizePrompt(user, 400))
				}

				// The caller may already be gone; the record is still wanted.
				if _, recErr := store.RecordExchange(context.WithoutCancel(ctx), ex); recErr != nil {
					logger.Warn("Failed to record %s exchange for session %s: %v", ex.Kind, ex.SessionID, recErr)
				}

				return resp, err //nolint:wrapcheck // Middleware should pass through errors unchanged
			},
			next.GetModelName,
		)
	}
}

// splitPrompt returns the system text and the rest of the conversation as
// "role: content" lines.
func splitPrompt(msgs []llm.CompletionMessage) (system, rest string) {
	var sys []string
	var sb strings.Builder
	for _, m := range msgs {
		if m.Role == llm.RoleSystem {
			sys = append(sys, m.Content)
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(string(m.Role))
		sb.WriteString(": ")
		sb.WriteString(m.Content)
	}
	return strings.Join(sys, "\n\n"), sb.String()
}
