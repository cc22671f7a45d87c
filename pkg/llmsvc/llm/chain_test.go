package llm

import (
	"context"
	"fmt"
	"testing"
)

type mockLLMClient struct {
	completeFunc     func(context.Context, CompletionRequest) (CompletionResponse, error)
	getModelNameFunc func() string
}

func (m *mockLLMClient) Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
	return m.completeFunc(ctx, req)
}

func (m *mockLLMClient) GetModelName() string {
	return m.getModelNameFunc()
}

// TestWrapClient tests the WrapClient helper function.
func TestWrapClient(t *testing.T) {
	completeCalled := false
	modelNameCalled := false

	client := WrapClient(
		func(_ context.Context, _ CompletionRequest) (CompletionResponse, error) {
			completeCalled = true
			return CompletionResponse{Content: "wrapped"}, nil
		},
		func() string {
			modelNameCalled = true
			return "wrapped-model"
		},
	)

	resp, err := client.Complete(context.Background(), NewCompletionRequest([]CompletionMessage{NewUserMessage("test")}))
	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if !completeCalled {
		t.Error("Complete function was not called")
	}
	if resp.Content != "wrapped" {
		t.Errorf("expected 'wrapped', got %q", resp.Content)
	}

	if name := client.GetModelName(); name != "wrapped-model" || !modelNameCalled {
		t.Errorf("expected 'wrapped-model', got %q", name)
	}
}

// TestChainOrder verifies that earlier middlewares run outermost.
func TestChainOrder(t *testing.T) {
	var order []string
	base := &mockLLMClient{
		completeFunc: func(_ context.Context, _ CompletionRequest) (CompletionResponse, error) {
			order = append(order, "base")
			return CompletionResponse{Content: "base"}, nil
		},
		getModelNameFunc: func() string { return "base-model" },
	}

	tag := func(name string) Middleware {
		return func(next LLMClient) LLMClient {
			return WrapClient(
				func(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
					order = append(order, name)
					resp, err := next.Complete(ctx, req)
					resp.Content = fmt.Sprintf("%s(%s)", name, resp.Content)
					return resp, err
				},
				next.GetModelName,
			)
		}
	}

	client := Chain(base, tag("mw1"), tag("mw2"))
	resp, err := client.Complete(context.Background(), CompletionRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := fmt.Sprint(order); got != "[mw1 mw2 base]" {
		t.Errorf("unexpected call order %s", got)
	}
	if resp.Content != "mw1(mw2(base))" {
		t.Errorf("unexpected content %q", resp.Content)
	}
	if client.GetModelName() != "base-model" {
		t.Errorf("model name not delegated")
	}
}

// TestChainNoMiddleware returns the base client unchanged.
func TestChainNoMiddleware(t *testing.T) {
	base := &mockLLMClient{getModelNameFunc: func() string { return "m" }}
	if Chain(base) != LLMClient(base) {
		t.Error("expected base client back")
	}
}

func TestCallInfoRoundTrip(t *testing.T) {
	ctx := WithCallInfo(context.Background(), CallInfo{SessionID: "s1", Kind: KindFeedback})
	info := CallInfoFrom(ctx)
	if info.SessionID != "s1" || info.Kind != KindFeedback {
		t.Errorf("unexpected call info %+v", info)
	}
	if got := CallInfoFrom(context.Background()); got != (CallInfo{}) {
		t.Errorf("expected zero call info, got %+v", got)
	}
}

func TestMaxTokensFor(t *testing.T) {
	if MaxTokensFor(KindFeedback) != 300 {
		t.Errorf("feedback budget should be 300")
	}
	for _, k := range []CallKind{KindSocraticProbe, KindSocraticContinue, KindResolutionCheck, KindGeneralQuestion} {
		if MaxTokensFor(k) != 200 {
			t.Errorf("%s budget should be 200", k)
		}
	}
}
