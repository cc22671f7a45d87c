package timeout

import (
	"context"
	"errors"
	"testing"
	"time"

	"writingcoach/internal/mocks"
	"writingcoach/pkg/llmsvc/llm"
)

func TestMiddlewareAppliesDeadline(t *testing.T) {
	client := mocks.NewMockLLMClient()
	client.OnComplete(func(ctx context.Context, _ llm.CompletionRequest) (llm.CompletionResponse, error) {
		<-ctx.Done()
		return llm.CompletionResponse{}, ctx.Err()
	})

	start := time.Now()
	_, err := llm.Chain(client, Middleware(20*time.Millisecond)).Complete(context.Background(), llm.CompletionRequest{})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Expected deadline exceeded, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Error("Expected the call to be cut short")
	}
}

func TestMiddlewareDisabled(t *testing.T) {
	client := mocks.NewMockLLMClient()
	client.OnComplete(func(ctx context.Context, _ llm.CompletionRequest) (llm.CompletionResponse, error) {
		if _, ok := ctx.Deadline(); ok {
			t.Error("Expected no deadline when timeout is disabled")
		}
		return llm.CompletionResponse{Content: "ok"}, nil
	})

	resp, err := llm.Chain(client, Middleware(0)).Complete(context.Background(), llm.CompletionRequest{})
	if err != nil || resp.Content != "ok" {
		t.Fatalf("Unexpected result %q, %v", resp.Content, err)
	}
}
