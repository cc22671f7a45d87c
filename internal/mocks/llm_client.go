package mocks

import (
	"context"
	"sync"

	"writingcoach/pkg/llmsvc/llm"
)

// CompleteHandler answers one MockLLMClient call.
type CompleteHandler func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error)

// MockLLMClient is a provider stand-in for middleware and factory tests. It
// records every request it receives.
type MockLLMClient struct {
	mu      sync.Mutex
	model   string
	handler CompleteHandler
	calls   []llm.CompletionRequest
}

// NewMockLLMClient returns a client named "mock-model" that replies "Mock response".
func NewMockLLMClient() *MockLLMClient {
	m := &MockLLMClient{model: "mock-model"}
	m.RespondWith("Mock response")
	return m
}

func (m *MockLLMClient) Complete(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
	m.mu.Lock()
	m.calls = append(m.calls, req)
	handle := m.handler
	m.mu.Unlock()
	return handle(ctx, req)
}

func (m *MockLLMClient) GetModelName() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.model
}

func (m *MockLLMClient) SetModelName(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.model = name
}

// Calls returns the requests seen so far.
func (m *MockLLMClient) Calls() []llm.CompletionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]llm.CompletionRequest(nil), m.calls...)
}

// OnComplete replaces the reply logic.
func (m *MockLLMClient) OnComplete(h CompleteHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = h
}

func (m *MockLLMClient) RespondWith(content string) {
	m.OnComplete(func(context.Context, llm.CompletionRequest) (llm.CompletionResponse, error) {
		return llm.CompletionResponse{Content: content, StopReason: "end_turn"}, nil
	})
}

func (m *MockLLMClient) FailCompleteWith(err error) {
	m.OnComplete(func(context.Context, llm.CompletionRequest) (llm.CompletionResponse, error) {
		return llm.CompletionResponse{}, err
	})
}
