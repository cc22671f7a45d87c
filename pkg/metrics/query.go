// Package metrics reads model usage back out of Prometheus.
package metrics

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"

	llmmetrics "writingcoach/pkg/llmsvc/middleware/metrics"
	"writingcoach/pkg/logx"
)

// Usage is the token and cost total for one session, optionally narrowed to one call kind.
type Usage struct {
	SessionID        string  `json:"session_id"`
	Kind             string  `json:"kind,omitempty"`
	Requests         int64   `json:"requests"`
	PromptTokens     int64   `json:"prompt_tokens"`
	CompletionTokens int64   `json:"completion_tokens"`
	TotalTokens      int64   `json:"total_tokens"`
	TotalCost        float64 `json:"total_cost_usd"`
}

// QueryService runs usage queries against a Prometheus server.
type QueryService struct {
	queryAPI v1.API
	logger   *logx.Logger
}

// NewQueryService creates a query service for the Prometheus server at prometheusURL.
func NewQueryService(prometheusURL string) (*QueryService, error) {
	client, err := api.NewClient(api.Config{
		Address: prometheusURL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Prometheus client: %w", err)
	}

	return &QueryService{
		queryAPI: v1.NewAPI(client),
		logger:   logx.NewLogger("metrics"),
	}, nil
}

// GetSessionUsage sums every model call made for sessionID.
func (q *QueryService) GetSessionUsage(ctx context.Context, sessionID string) (*Usage, error) {
	return q.usage(ctx, &Usage{SessionID: sessionID}, fmt.Sprintf(`session_id=%q`, sessionID))
}

// GetSessionUsageByKind breaks the session's usage down by call kind
// (feedback, socratic_probe, resolution_check and so on).
func (q *QueryService) GetSessionUsageByKind(ctx context.Context, sessionID string) ([]*Usage, error) {
	kindsQuery := fmt.Sprintf(`group by (kind) (%s{session_id=%q})`, llmmetrics.RequestsTotal, sessionID)
	result, err := q.query(ctx, kindsQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to query call kinds: %w", err)
	}

	var kinds []string
	if vector, ok := result.(model.Vector); ok {
		for _, sample := range vector {
			if kind, ok := sample.Metric["kind"]; ok {
				kinds = append(kinds, string(kind))
			}
		}
	}
	sort.Strings(kinds)

	out := make([]*Usage, 0, len(kinds))
	for _, kind := range kinds {
		selector := fmt.Sprintf(`session_id=%q, kind=%q`, sessionID, kind)
		u, err := q.usage(ctx, &Usage{SessionID: sessionID, Kind: kind}, selector)
		if err != nil {
			return nil, fmt.Errorf("kind %s: %w", kind, err)
		}
		out = append(out, u)
	}
	return out, nil
}

func (q *QueryService) usage(ctx context.Context, u *Usage, selector string) (*Usage, error) {
	requests, err := q.sum(ctx, fmt.Sprintf(`sum(%s{%s})`, llmmetrics.RequestsTotal, selector))
	if err != nil {
		return nil, fmt.Errorf("failed to query requests: %w", err)
	}
	prompt, err := q.sum(ctx, fmt.Sprintf(`sum(%s{%s, type="prompt"})`, llmmetrics.TokensTotal, selector))
	if err != nil {
		return nil, fmt.Errorf("failed to query prompt tokens: %w", err)
	}
	completion, err := q.sum(ctx, fmt.Sprintf(`sum(%s{%s, type="completion"})`, llmmetrics.TokensTotal, selector))
	if err != nil {
		return nil, fmt.Errorf("failed to query completion tokens: %w", err)
	}
	cost, err := q.sum(ctx, fmt.Sprintf(`sum(%s{%s})`, llmmetrics.CostsTotal, selector))
	if err != nil {
		return nil, fmt.Errorf("failed to query total cost: %w", err)
	}

	u.Requests = int64(requests)
	u.PromptTokens = int64(prompt)
	u.CompletionTokens = int64(completion)
	u.TotalTokens = u.PromptTokens + u.CompletionTokens
	u.TotalCost = cost
	return u, nil
}

// sum runs an aggregating query and returns its single value, or 0 for an empty result.
func (q *QueryService) sum(ctx context.Context, query string) (float64, error) {
	result, err := q.query(ctx, query)
	if err != nil {
		return 0, err
	}
	if vector, ok := result.(model.Vector); ok && len(vector) > 0 {
		return float64(vector[0].Value), nil
	}
	return 0, nil
}

func (q *QueryService) query(ctx context.Context, query string) (model.Value, error) {
	result, warnings, err := q.queryAPI.Query(ctx, query, time.Now())
	if err != nil {
		return nil, err
	}
	for _, w := range warnings {
		q.logger.Warn("Prometheus warning for %s: %s", query, w)
	}
	return result, nil
}
