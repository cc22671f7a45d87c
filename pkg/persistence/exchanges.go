package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const timeLayout = "2006-01-02T15:04:05.000Z"

// Exchange is one model call as seen by the service: the prompt that went out and
// what came back.
type Exchange struct {
	ID           string        `json:"id"`
	SessionID    string        `json:"session_id"`
	Kind         string        `json:"kind"`
	Model        string        `json:"model"`
	SystemPrompt string        `json:"system_prompt"`
	UserPrompt   string        `json:"user_prompt"`
	Response     string        `json:"response"`
	Error        string        `json:"error,omitempty"`
	Duration     time.Duration `json:"duration_ms"`
	InputTokens  int           `json:"input_tokens"`
	OutputTokens int           `json:"output_tokens"`
	CreatedAt    time.Time     `json:"created_at"`
}

// SessionSummary counts the exchanges recorded for one session.
type SessionSummary struct {
	SessionID string    `json:"session_id"`
	Exchanges int       `json:"exchanges"`
	LastAt    time.Time `json:"last_at"`
}

// ExchangeStore reads and writes exchanges.
type ExchangeStore struct {
	db *sql.DB
}

// NewExchangeStore creates a store on db. The schema must already exist.
func NewExchangeStore(db *sql.DB) *ExchangeStore {
	return &ExchangeStore{db: db}
}

// RecordExchange inserts ex, filling in ID and CreatedAt when unset.
func (s *ExchangeStore) RecordExchange(ctx context.Context, ex Exchange) (Exchange, error) {
	if ex.ID == "" {
		ex.ID = uuid.NewString()
	}
	if ex.CreatedAt.IsZero() {
		ex.CreatedAt = time.Now()
	}
	ex.CreatedAt = ex.CreatedAt.UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO exchanges (id, session_id, kind, model, system_prompt, user_prompt,
			response, error, duration_ms, input_tokens, output_tokens, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ex.ID, ex.SessionID, ex.Kind, ex.Model, ex.SystemPrompt, ex.UserPrompt,
		ex.Response, ex.Error, ex.Duration.Milliseconds(), ex.InputTokens, ex.OutputTokens,
		ex.CreatedAt.Format(timeLayout))
	if err != nil {
		return Exchange{}, fmt.Errorf("failed to record exchange: %w", err)
	}
	return ex, nil
}

// ListExchanges returns a session's exchanges oldest first. A limit of zero or less
// returns all of them; otherwise the most recent limit exchanges are returned.
func (s *ExchangeStore) ListExchanges(ctx context.Context, sessionID string, limit int) ([]Exchange, error) {
	query := `
		SELECT id, session_id, kind, model, system_prompt, user_prompt, response, error,
			duration_ms, input_tokens, output_tokens, created_at
		FROM exchanges WHERE session_id = ?
		ORDER BY created_at DESC, rowid DESC`
	args := []any{sessionID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query exchanges: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Exchange
	for rows.Next() {
		var (
			ex         Exchange
			durationMs int64
			createdAt  string
		)
		if err := rows.Scan(&ex.ID, &ex.SessionID, &ex.Kind, &ex.Model, &ex.SystemPrompt,
			&ex.UserPrompt, &ex.Response, &ex.Error, &durationMs, &ex.InputTokens,
			&ex.OutputTokens, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan exchange: %w", err)
		}
		ex.Duration = time.Duration(durationMs) * time.Millisecond
		ex.CreatedAt = parseTime(createdAt)
		out = append(out, ex)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate exchanges: %w", err)
	}

	// Reverse into chronological order.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// ListSessions returns every session with recorded exchanges, most recent first.
func (s *ExchangeStore) ListSessions(ctx context.Context) ([]SessionSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, COUNT(*), MAX(created_at)
		FROM exchanges
		GROUP BY session_id
		ORDER BY MAX(created_at) DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []SessionSummary
	for rows.Next() {
		var (
			sum  SessionSummary
			last string
		)
		if err := rows.Scan(&sum.SessionID, &sum.Exchanges, &last); err != nil {
			return nil, fmt.Errorf("failed to scan session summary: %w", err)
		}
		sum.LastAt = parseTime(last)
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sessions: %w", err)
	}
	return out, nil
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		dbLogger.Warn("Unparseable timestamp %q: %v", s, err)
		return time.Time{}
	}
	return t
}
