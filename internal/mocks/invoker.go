package mocks

import (
	"context"
	"sync"

	"writingcoach/pkg/llmsvc/llm"
)

// MockInvoker implements llm.Invoker for tests of the coaching core.
type MockInvoker struct {
	// InvokeFunc is called for every Invoke. Override to customize behavior.
	InvokeFunc func(ctx context.Context, req llm.Request) (string, error)

	calls   []llm.Request
	started chan llm.Request
	mu      sync.Mutex
}

// NewMockInvoker creates an invoker that answers every call with "Mock response".
func NewMockInvoker() *MockInvoker {
	m := &MockInvoker{started: make(chan llm.Request, 128)}
	m.RespondWith("Mock response")
	return m
}

// Invoke implements llm.Invoker.
func (m *MockInvoker) Invoke(ctx context.Context, req llm.Request) (string, error) {
	m.mu.Lock()
	m.calls = append(m.calls, req)
	fn := m.InvokeFunc
	m.mu.Unlock()

	select {
	case m.started <- req:
	default:
	}
	return fn(ctx, req)
}

// Calls returns a copy of the recorded requests.
func (m *MockInvoker) Calls() []llm.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]llm.Request(nil), m.calls...)
}

// CallCount returns how many times Invoke ran.
func (m *MockInvoker) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// Started receives each request as its Invoke begins.
func (m *MockInvoker) Started() <-chan llm.Request {
	return m.started
}

// OnInvoke sets a custom handler.
func (m *MockInvoker) OnInvoke(fn func(ctx context.Context, req llm.Request) (string, error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.InvokeFunc = fn
}

// RespondWith answers every call with content.
func (m *MockInvoker) RespondWith(content string) {
	m.OnInvoke(func(_ context.Context, _ llm.Request) (string, error) {
		return content, nil
	})
}

// RespondWithSequence answers calls in order, repeating the last reply.
func (m *MockInvoker) RespondWithSequence(replies ...string) {
	var idx int
	var seqMu sync.Mutex
	m.OnInvoke(func(_ context.Context, _ llm.Request) (string, error) {
		seqMu.Lock()
		defer seqMu.Unlock()
		if idx < len(replies) {
			r := replies[idx]
			idx++
			return r, nil
		}
		return replies[len(replies)-1], nil
	})
}

// FailWith makes every call fail with err.
func (m *MockInvoker) FailWith(err error) {
	m.OnInvoke(func(_ context.Context, _ llm.Request) (string, error) {
		return "", err
	})
}

// Gate holds blocked calls until Release.
type Gate struct {
	release chan struct{}
	once    sync.Once
}

// Release lets every held call, and every later call, proceed.
func (g *Gate) Release() {
	g.once.Do(func() { close(g.release) })
}

// Block makes calls wait for the returned gate before running the current handler.
func (m *MockInvoker) Block() *Gate {
	g := &Gate{release: make(chan struct{})}
	m.mu.Lock()
	inner := m.InvokeFunc
	m.InvokeFunc = func(ctx context.Context, req llm.Request) (string, error) {
		select {
		case <-g.release:
		case <-ctx.Done():
			return "", ctx.Err()
		}
		return inner(ctx, req)
	}
	m.mu.Unlock()
	return g
}
