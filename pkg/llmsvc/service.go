package llmsvc

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"writingcoach/pkg/config"
	"writingcoach/pkg/llmsvc/llm"
	"writingcoach/pkg/llmsvc/llmerrors"
	"writingcoach/pkg/logx"
)

// GenericErrorMessage is shown to the student for every model-service failure.
const GenericErrorMessage = "Something went wrong talking to the writing coach. Please try again."

// ServiceError wraps any failure of a model call. The classified cause is kept for
// logs; the student only ever sees UserMessage.
type ServiceError struct {
	Kind llm.CallKind
	Err  *llmerrors.Error
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("model service %s call failed: %v", e.Kind, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// UserMessage is the text safe to show the student.
func (e *ServiceError) UserMessage() string {
	return GenericErrorMessage
}

// Service implements llm.Invoker on top of a model client.
type Service struct {
	client llm.LLMClient
	model  config.ModelConfig
	logger *logx.Logger
}

// NewService wraps client. Token budgets and temperature come from cfg.
func NewService(client llm.LLMClient, cfg config.ModelConfig) *Service {
	return &Service{
		client: client,
		model:  cfg,
		logger: logx.NewLogger("llm"),
	}
}

// New builds the configured client through f and wraps it in a Service.
func New(f *Factory) (*Service, error) {
	client, err := f.CreateClient()
	if err != nil {
		return nil, err
	}
	return NewService(client, f.config.Model), nil
}

// ModelName returns the model behind the service.
func (s *Service) ModelName() string {
	return s.client.GetModelName()
}

// Invoke sends the system prompt and history to the model and returns its reply.
// Every failure, including an empty reply, comes back as *ServiceError.
func (s *Service) Invoke(ctx context.Context, req llm.Request) (string, error) {
	info := llm.CallInfoFrom(ctx)
	if info.SessionID == "" {
		info.SessionID = logx.SessionFrom(ctx)
	}
	info.Kind = req.Kind
	ctx = llm.WithCallInfo(ctx, info)

	messages := make([]llm.CompletionMessage, 0, len(req.History)+1)
	if strings.TrimSpace(req.System) != "" {
		messages = append(messages, llm.NewSystemMessage(req.System))
	}
	messages = append(messages, req.History...)

	creq := llm.NewCompletionRequest(messages)
	creq.MaxTokens = s.maxTokens(req)
	creq.Temperature = s.model.Temperature

	start := time.Now()
	resp, err := s.client.Complete(ctx, creq)
	if err == nil && strings.TrimSpace(resp.Content) == "" {
		err = llmerrors.NewError(llmerrors.ErrorTypeEmptyResponse, "model returned no text")
	}
	if err != nil {
		classified := llmerrors.Classify(err, 0)
		s.logger.Error("%s call for session %s failed after %s: %v", req.Kind, info.SessionID, time.Since(start).Round(time.Millisecond), classified)
		return "", &ServiceError{Kind: req.Kind, Err: classified}
	}

	logx.Debug(ctx, "llm", "%s reply in %s (%d chars, stop=%s)", req.Kind, time.Since(start).Round(time.Millisecond), len(resp.Content), resp.StopReason)
	return resp.Content, nil
}

func (s *Service) maxTokens(req llm.Request) int {
	if req.MaxTokens > 0 {
		return req.MaxTokens
	}
	if req.Kind == llm.KindFeedback && s.model.FeedbackMaxTokens > 0 {
		return s.model.FeedbackMaxTokens
	}
	if req.Kind != llm.KindFeedback && s.model.ReplyMaxTokens > 0 {
		return s.model.ReplyMaxTokens
	}
	return llm.MaxTokensFor(req.Kind)
}

// IsServiceError reports whether err came from a model call.
func IsServiceError(err error) bool {
	var se *ServiceError
	return errors.As(err, &se)
}
