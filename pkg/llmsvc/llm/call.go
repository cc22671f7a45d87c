package llm

import (
	"context"
)

// CallKind names which of the coaching payloads a model call carries.
type CallKind string

const (
	KindFeedback         CallKind = "feedback"
	KindSocraticProbe    CallKind = "socratic_probe"
	KindSocraticContinue CallKind = "socratic_continue"
	KindResolutionCheck  CallKind = "resolution_check"
	KindGeneralQuestion  CallKind = "general_question"
)

// MaxTokensFor returns the reply budget for a kind of call.
func MaxTokensFor(kind CallKind) int {
	if kind == KindFeedback {
		return FeedbackMaxTokens
	}
	return ReplyMaxTokens
}

// CallInfo describes the call in flight for middleware that labels or records it.
type CallInfo struct {
	SessionID string
	Kind      CallKind
}

type callInfoKey struct{}

// WithCallInfo attaches call metadata to ctx.
func WithCallInfo(ctx context.Context, info CallInfo) context.Context {
	return context.WithValue(ctx, callInfoKey{}, info)
}

// CallInfoFrom returns the call metadata in ctx, or a zero CallInfo.
func CallInfoFrom(ctx context.Context) CallInfo {
	if info, ok := ctx.Value(callInfoKey{}).(CallInfo); ok {
		return info
	}
	return CallInfo{}
}

// Request is one invocation of the model service: a system prompt, the message
// history ending with the user turn to answer, and a reply budget.
type Request struct {
	Kind      CallKind
	System    string
	History   []CompletionMessage
	MaxTokens int
}

// Invoker is the model-service contract the coaching core consumes.
type Invoker interface {
	Invoke(ctx context.Context, req Request) (string, error)
}

// InvokerFunc adapts a function to Invoker.
type InvokerFunc func(ctx context.Context, req Request) (string, error)

// Invoke calls f.
func (f InvokerFunc) Invoke(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}
