// Package ratelimit provides per-provider rate limiting for model clients.
package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"writingcoach/pkg/config"
	"writingcoach/pkg/llmsvc/llm"
	"writingcoach/pkg/logx"
	"writingcoach/pkg/utils"
)

// BufferFactor keeps the bucket below the provider's published limit, since token
// estimates are approximate.
const BufferFactor = 0.9

const (
	refillInterval = 6 * time.Second // ten refills per minute
	pollInterval   = 100 * time.Millisecond
)

// Limiter defines the interface for rate limiting implementations.
type Limiter interface {
	// Acquire takes tokens and a concurrency slot, blocking until both are available
	// or ctx is done. The returned release func gives the slot back.
	Acquire(ctx context.Context, tokens int) (release func(), err error)

	// GetStats returns current limiter statistics.
	GetStats() LimiterStats
}

// TokenEstimator estimates the number of tokens needed for a request.
type TokenEstimator interface {
	EstimatePrompt(req llm.CompletionRequest) int
}

// DefaultTokenEstimator counts prompt tokens with tiktoken.
type DefaultTokenEstimator struct{}

// NewDefaultTokenEstimator creates a new default token estimator.
func NewDefaultTokenEstimator() TokenEstimator {
	return &DefaultTokenEstimator{}
}

// EstimatePrompt estimates prompt tokens using tiktoken-based counting.
func (e *DefaultTokenEstimator) EstimatePrompt(req llm.CompletionRequest) int {
	var sb strings.Builder
	for i := range req.Messages {
		sb.WriteString(req.Messages[i].Content)
		sb.WriteString("\n")
	}
	return utils.CountTokensSimple(sb.String())
}

// TokenBucketLimiter meters one provider: a token bucket refilled ten times a
// minute, plus a cap on calls in flight.
//
//nolint:govet // grouped by concern
type TokenBucketLimiter struct {
	mu       sync.Mutex
	provider string

	availableTokens int
	tokensPerRefill int
	maxCapacity     int

	activeRequests int
	maxConcurrency int

	tokenLimitHits  int64
	concurrencyHits int64
}

// LimiterStats represents current rate limiter statistics.
type LimiterStats struct {
	Provider        string `json:"provider"`
	AvailableTokens int    `json:"available_tokens"`
	MaxCapacity     int    `json:"max_capacity"`
	ActiveRequests  int    `json:"active_requests"`
	MaxConcurrency  int    `json:"max_concurrency"`
	TokenLimitHits  int64  `json:"token_limit_hits"`
	ConcurrencyHits int64  `json:"concurrency_hits"`
}

// NewTokenBucketLimiter creates a full bucket for a provider.
func NewTokenBucketLimiter(provider string, limits config.ProviderLimits) *TokenBucketLimiter {
	maxCapacity := int(float64(limits.TokensPerMinute) * BufferFactor)
	concurrency := max(limits.MaxConcurrency, 1)
	return &TokenBucketLimiter{
		provider:        provider,
		availableTokens: maxCapacity,
		tokensPerRefill: limits.TokensPerMinute / 10,
		maxCapacity:     maxCapacity,
		maxConcurrency:  concurrency,
	}
}

// Acquire takes tokens and a concurrency slot, polling until both are free. A
// request larger than the whole bucket fails at once since it could never fit.
func (l *TokenBucketLimiter) Acquire(ctx context.Context, tokens int) (func(), error) {
	if tokens > l.maxCapacity {
		return nil, fmt.Errorf("request needs %d tokens, more than the %s bucket holds (%d)", tokens, l.provider, l.maxCapacity)
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for waited := false; ; waited = true {
		if l.tryAcquire(tokens, !waited) {
			var once sync.Once
			return func() { once.Do(l.release) }, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err() //nolint:wrapcheck // caller checks for cancellation
		case <-ticker.C:
		}
	}
}

// tryAcquire takes what the request needs if both are available. The first
// miss of a request is counted and logged.
func (l *TokenBucketLimiter) tryAcquire(tokens int, first bool) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	tokensOK := l.availableTokens >= tokens
	slotOK := l.activeRequests < l.maxConcurrency
	if tokensOK && slotOK {
		l.availableTokens -= tokens
		l.activeRequests++
		return true
	}
	if !first {
		return false
	}
	if !tokensOK {
		l.tokenLimitHits++
		logx.Infof("RATELIMIT: %s waiting for refill (need %d tokens, have %d)", l.provider, tokens, l.availableTokens)
	}
	if !slotOK {
		l.concurrencyHits++
		logx.Infof("RATELIMIT: %s waiting for a slot (%d/%d busy)", l.provider, l.activeRequests, l.maxConcurrency)
	}
	return false
}

// release returns a concurrency slot. Tokens are consumed, not refunded.
func (l *TokenBucketLimiter) release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.activeRequests--
}

func (l *TokenBucketLimiter) startRefillTimer(ctx context.Context) {
	ticker := time.NewTicker(refillInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				l.refill()
			}
		}
	}()
}

func (l *TokenBucketLimiter) refill() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.availableTokens = min(l.availableTokens+l.tokensPerRefill, l.maxCapacity)
}

// GetStats returns current limiter statistics.
func (l *TokenBucketLimiter) GetStats() LimiterStats {
	l.mu.Lock()
	defer l.mu.Unlock()

	return LimiterStats{
		Provider:        l.provider,
		AvailableTokens: l.availableTokens,
		MaxCapacity:     l.maxCapacity,
		ActiveRequests:  l.activeRequests,
		MaxConcurrency:  l.maxConcurrency,
		TokenLimitHits:  l.tokenLimitHits,
		ConcurrencyHits: l.concurrencyHits,
	}
}

// ProviderLimiterMap holds one limiter per API provider.
type ProviderLimiterMap struct {
	limiters map[string]*TokenBucketLimiter
	cancel   context.CancelFunc
}

// NewProviderLimiterMap creates limiters for every provider in cfg and starts their
// refill timers. Stop ends the timers.
func NewProviderLimiterMap(ctx context.Context, cfg config.RateLimitConfig) *ProviderLimiterMap {
	ctx, cancel := context.WithCancel(ctx)

	limiters := make(map[string]*TokenBucketLimiter)
	for _, provider := range []string{config.ProviderAnthropic, config.ProviderOpenAI, config.ProviderGoogle, config.ProviderOllama} {
		limits := cfg.ForProvider(provider)
		if limits.TokensPerMinute <= 0 {
			continue
		}
		limiter := NewTokenBucketLimiter(provider, limits)
		limiter.startRefillTimer(ctx)
		limiters[provider] = limiter
	}

	return &ProviderLimiterMap{limiters: limiters, cancel: cancel}
}

// Stop cancels all refill timers.
func (p *ProviderLimiterMap) Stop() {
	p.cancel()
}

// GetLimiter returns the limiter for the provider serving modelName.
func (p *ProviderLimiterMap) GetLimiter(modelName string) (Limiter, error) {
	provider, err := config.GetModelProvider(modelName)
	if err != nil {
		return nil, fmt.Errorf("cannot determine provider for model %s: %w", modelName, err)
	}

	limiter, exists := p.limiters[provider]
	if !exists {
		return nil, fmt.Errorf("no rate limiter configured for provider %s", provider)
	}
	return limiter, nil
}

// GetAllStats returns statistics for all provider limiters.
func (p *ProviderLimiterMap) GetAllStats() map[string]LimiterStats {
	stats := make(map[string]LimiterStats, len(p.limiters))
	for provider, limiter := range p.limiters {
		stats[provider] = limiter.GetStats()
	}
	return stats
}
