// Package utils provides tiktoken-based token counting.
package utils

import (
	"fmt"
	"sync"

	"github.com/tiktoken-go/tokenizer"
)

// TokenCounter counts tokens with a tiktoken codec.
type TokenCounter struct {
	codec tokenizer.Codec
}

// NewTokenCounter creates a counter. Every provider is approximated with the GPT-4 encoding;
// the counts are used for metrics, not for billing.
func NewTokenCounter(model string) (*TokenCounter, error) {
	codec, err := tokenizer.ForModel(tokenizer.GPT4)
	if err != nil {
		return nil, fmt.Errorf("failed to create tokenizer codec for model %s: %w", model, err)
	}
	return &TokenCounter{codec: codec}, nil
}

// CountTokens returns the number of tokens in text, falling back to 4 characters per token.
func (tc *TokenCounter) CountTokens(text string) int {
	if tc == nil || tc.codec == nil {
		return len(text) / 4
	}
	count, err := tc.codec.Count(text)
	if err != nil {
		return len(text) / 4
	}
	return count
}

//nolint:gochecknoglobals // shared codec, built once
var (
	simpleOnce    sync.Once
	simpleCounter *TokenCounter
)

// CountTokensSimple counts tokens with a shared GPT-4 counter.
func CountTokensSimple(text string) int {
	simpleOnce.Do(func() {
		simpleCounter, _ = NewTokenCounter("gpt-4")
	})
	return simpleCounter.CountTokens(text)
}
