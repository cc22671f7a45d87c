// Package ollama runs coaching prompts against a local Ollama server.
package ollama

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"

	"writingcoach/pkg/llmsvc/llm"
	"writingcoach/pkg/llmsvc/llmerrors"
)

// DefaultHost is used when the configured host is missing or unparsable.
const DefaultHost = "http://localhost:11434"

type Client struct {
	api   *api.Client
	host  *url.URL
	model string
}

// NewClient returns a client for model on host. Middleware is added by the factory.
func NewClient(host, model string) *Client {
	u, err := url.Parse(host)
	if err != nil || u.Scheme == "" || u.Host == "" {
		u, _ = url.Parse(DefaultHost)
	}
	return &Client{api: api.NewClient(u, http.DefaultClient), host: u, model: model}
}

//nolint:gocritic // request passed by value to match llm.LLMClient
func (c *Client) Complete(ctx context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
	messages, err := chatMessages(in.Messages)
	if err != nil {
		return llm.CompletionResponse{}, llmerrors.NewErrorWithCause(llmerrors.ErrorTypeBadPrompt, err, "cannot build Ollama chat")
	}

	noStream := false
	var last api.ChatResponse
	err = c.api.Chat(ctx, &api.ChatRequest{
		Model:    c.model,
		Messages: messages,
		Stream:   &noStream,
		Options:  map[string]any{"temperature": in.Temperature, "num_predict": in.MaxTokens},
	}, func(r api.ChatResponse) error {
		last = r
		return nil
	})
	if err != nil {
		return llm.CompletionResponse{}, wrapError(err)
	}
	if strings.TrimSpace(last.Message.Content) == "" {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeEmptyResponse, "Ollama returned no text")
	}

	return llm.CompletionResponse{
		Content:      last.Message.Content,
		StopReason:   stopReason(&last),
		InputTokens:  last.PromptEvalCount,
		OutputTokens: last.EvalCount,
	}, nil
}

func (c *Client) GetModelName() string { return c.model }

// Host is the server URL in use, after falling back to DefaultHost.
func (c *Client) Host() string { return c.host.String() }

func chatMessages(in []llm.CompletionMessage) ([]api.Message, error) {
	if len(in) == 0 {
		return nil, errors.New("no messages")
	}
	out := make([]api.Message, len(in))
	for i, m := range in {
		if m.Role != llm.RoleSystem && m.Role != llm.RoleUser && m.Role != llm.RoleAssistant {
			return nil, errors.New("unsupported message role: " + string(m.Role))
		}
		out[i] = api.Message{Role: string(m.Role), Content: m.Content}
	}
	return out, nil
}

// stopReason maps Ollama's done_reason onto the names the Anthropic adapter uses.
func stopReason(r *api.ChatResponse) string {
	switch {
	case !r.Done:
		return "incomplete"
	case r.DoneReason == "" || r.DoneReason == "stop":
		return "end_turn"
	case r.DoneReason == "length":
		return "max_tokens"
	}
	return r.DoneReason
}

func wrapError(err error) error {
	if err == nil {
		return nil
	}
	var status api.StatusError
	if errors.As(err, &status) {
		return llmerrors.Classify(err, status.StatusCode)
	}

	msg := err.Error()
	if strings.Contains(msg, "connection refused") {
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeTransient, err, "Ollama server not reachable")
	}
	if strings.Contains(msg, "model") && strings.Contains(msg, "not found") {
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeBadPrompt, err, "model not pulled in Ollama")
	}
	return llmerrors.Classify(err, 0)
}
