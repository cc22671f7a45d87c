package circuit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"writingcoach/internal/mocks"
	"writingcoach/pkg/llmsvc/llm"
	"writingcoach/pkg/llmsvc/llmerrors"
)

func TestBreakerOpensAfterThreshold(t *testing.T) {
	now := time.Unix(0, 0)
	b := newWithClock("test", Config{FailureThreshold: 2, SuccessThreshold: 1, Timeout: 10 * time.Second}, func() time.Time { return now })

	assert.True(t, b.Allow())
	b.Record(false)
	assert.Equal(t, Closed, b.GetState())
	b.Record(false)
	assert.Equal(t, Open, b.GetState())
	assert.False(t, b.Allow(), "open circuit should reject")

	now = now.Add(10 * time.Second)
	assert.True(t, b.Allow(), "timeout elapsed should allow a probe")
	assert.Equal(t, HalfOpen, b.GetState())

	b.Record(true)
	assert.Equal(t, Closed, b.GetState())
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	now := time.Unix(0, 0)
	b := newWithClock("test", Config{FailureThreshold: 1, SuccessThreshold: 2, Timeout: time.Second}, func() time.Time { return now })

	b.Record(false)
	now = now.Add(time.Second)
	require.True(t, b.Allow())
	b.Record(false)
	assert.Equal(t, Open, b.GetState())

	b.Reset()
	assert.Equal(t, Closed, b.GetState())
	assert.True(t, b.Allow())
}

func TestSuccessResetsFailureCount(t *testing.T) {
	b := New("test", Config{FailureThreshold: 2, SuccessThreshold: 1, Timeout: time.Minute})
	b.Record(false)
	b.Record(true)
	b.Record(false)
	if b.GetState() != Closed {
		t.Errorf("Expected CLOSED after interleaved success, got %s", b.GetState())
	}
}

func TestMiddlewareRejectsWhenOpen(t *testing.T) {
	client := mocks.NewMockLLMClient()
	client.FailCompleteWith(llmerrors.NewError(llmerrors.ErrorTypeTransient, "503"))

	b := New("test", Config{FailureThreshold: 1, SuccessThreshold: 1, Timeout: time.Hour})
	wrapped := llm.Chain(client, Middleware(b))

	_, err := wrapped.Complete(context.Background(), llm.CompletionRequest{})
	require.Error(t, err)
	assert.Equal(t, Open, b.GetState())

	_, err = wrapped.Complete(context.Background(), llm.CompletionRequest{})
	require.Error(t, err)
	var circuitErr *Error
	assert.True(t, errors.As(err, &circuitErr), "expected circuit error, got %v", err)
	assert.True(t, llmerrors.IsServiceUnavailable(err))
	assert.Len(t, client.Calls(), 1, "open circuit must not reach the provider")
	assert.Equal(t, "mock-model", wrapped.GetModelName())
}

func TestMiddlewareIgnoresBadPromptAndCancel(t *testing.T) {
	client := mocks.NewMockLLMClient()
	b := New("test", Config{FailureThreshold: 1, SuccessThreshold: 1, Timeout: time.Hour})
	wrapped := llm.Chain(client, Middleware(b))

	client.FailCompleteWith(llmerrors.NewError(llmerrors.ErrorTypeBadPrompt, "too long"))
	_, _ = wrapped.Complete(context.Background(), llm.CompletionRequest{})
	client.FailCompleteWith(context.Canceled)
	_, _ = wrapped.Complete(context.Background(), llm.CompletionRequest{})

	assert.Equal(t, Closed, b.GetState())
}

func TestHalfOpenAdmitsOneProbe(t *testing.T) {
	now := time.Unix(0, 0)
	b := newWithClock("test", Config{FailureThreshold: 1, SuccessThreshold: 1, Timeout: time.Second}, func() time.Time { return now })

	b.Record(false)
	now = now.Add(2 * time.Second)
	require.True(t, b.Allow())
	assert.False(t, b.Allow(), "second call during a probe should be rejected")

	b.Record(true)
	assert.Equal(t, Closed, b.GetState())
	assert.True(t, b.Allow())
}
