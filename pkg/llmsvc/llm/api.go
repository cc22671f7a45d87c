// Package llm defines the provider-neutral completion client the coach talks
// to, and the middleware chain wrapped around it.
package llm

import "context"

// CompletionRole is who said a message.
type CompletionRole string

const (
	RoleSystem    CompletionRole = "system"
	RoleUser      CompletionRole = "user"      // the student
	RoleAssistant CompletionRole = "assistant" // the coach
)

const (
	// FeedbackMaxTokens bounds stage feedback replies.
	FeedbackMaxTokens = 300
	// ReplyMaxTokens bounds Socratic, resolution and general replies.
	ReplyMaxTokens = 200

	// TemperatureDefault is the sampling temperature for coaching replies.
	TemperatureDefault = 0.7
)

// CompletionMessage is one turn of the conversation sent to the model.
type CompletionMessage struct {
	Role    CompletionRole `json:"role"`
	Content string         `json:"content"`
}

type CompletionRequest struct {
	Messages    []CompletionMessage
	MaxTokens   int
	Temperature float32
}

type CompletionResponse struct {
	Content      string
	StopReason   string // provider specific, e.g. "end_turn" or "stop"
	InputTokens  int
	OutputTokens int
}

// LLMClient is implemented by each provider adapter and by every middleware.
// Coaching replies are short and parsed whole, so there is no streaming call.
type LLMClient interface { //nolint:revive // name mirrors the provider adapters
	Complete(ctx context.Context, in CompletionRequest) (CompletionResponse, error)
	GetModelName() string
}

// NewCompletionRequest builds a request with the reply budget and default temperature.
func NewCompletionRequest(messages []CompletionMessage) CompletionRequest {
	return CompletionRequest{
		Messages:    messages,
		MaxTokens:   ReplyMaxTokens,
		Temperature: TemperatureDefault,
	}
}

func NewSystemMessage(content string) CompletionMessage {
	return CompletionMessage{Role: RoleSystem, Content: content}
}

func NewUserMessage(content string) CompletionMessage {
	return CompletionMessage{Role: RoleUser, Content: content}
}

func NewAssistantMessage(content string) CompletionMessage {
	return CompletionMessage{Role: RoleAssistant, Content: content}
}
