package persistence

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "coach.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestOpenCreatesSchema(t *testing.T) {
	db := openTestDB(t)

	version, err := GetSchemaVersion(db)
	require.NoError(t, err)
	assert.Equal(t, CurrentSchemaVersion, version)

	// Migrating an up-to-date database is a no-op.
	require.NoError(t, migrate(db))
}

func TestMigrateFromVersion1(t *testing.T) {
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "old.db"))
	require.NoError(t, err)
	defer db.Close()

	_, err = GetSchemaVersion(db)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE exchanges (
		id TEXT PRIMARY KEY, session_id TEXT NOT NULL, kind TEXT NOT NULL,
		model TEXT NOT NULL DEFAULT '', system_prompt TEXT NOT NULL DEFAULT '',
		user_prompt TEXT NOT NULL DEFAULT '', response TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT '', duration_ms INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')))`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO schema_version (version) VALUES (1)`)
	require.NoError(t, err)

	require.NoError(t, migrate(db))

	version, err := GetSchemaVersion(db)
	require.NoError(t, err)
	assert.Equal(t, 2, version)

	store := NewExchangeStore(db)
	_, err = store.RecordExchange(context.Background(), Exchange{SessionID: "s", Kind: "feedback", InputTokens: 5})
	require.NoError(t, err)
}

func TestRecordAndListExchanges(t *testing.T) {
	store := NewExchangeStore(openTestDB(t))
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	first, err := store.RecordExchange(ctx, Exchange{
		SessionID:    "sess-1",
		Kind:         "feedback",
		Model:        "claude-3-5-sonnet-20241022",
		SystemPrompt: "You are a writing coach.",
		UserPrompt:   "My thesis is...",
		Response:     "ISSUES:\n1. vague",
		Duration:     1500 * time.Millisecond,
		InputTokens:  40,
		OutputTokens: 12,
		CreatedAt:    base,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, first.ID, "ID should be generated")

	_, err = store.RecordExchange(ctx, Exchange{SessionID: "sess-1", Kind: "socratic_probe", Error: "rate limited", CreatedAt: base.Add(time.Second)})
	require.NoError(t, err)
	_, err = store.RecordExchange(ctx, Exchange{SessionID: "sess-2", Kind: "general_question", CreatedAt: base.Add(2 * time.Second)})
	require.NoError(t, err)

	all, err := store.ListExchanges(ctx, "sess-1", 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, first.ID, all[0].ID)
	assert.Equal(t, "feedback", all[0].Kind)
	assert.Equal(t, 1500*time.Millisecond, all[0].Duration)
	assert.Equal(t, 40, all[0].InputTokens)
	assert.True(t, all[0].CreatedAt.Equal(base), "got %v", all[0].CreatedAt)
	assert.Equal(t, "rate limited", all[1].Error)

	latest, err := store.ListExchanges(ctx, "sess-1", 1)
	require.NoError(t, err)
	require.Len(t, latest, 1)
	assert.Equal(t, "socratic_probe", latest[0].Kind)

	none, err := store.ListExchanges(ctx, "missing", 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestListSessions(t *testing.T) {
	store := NewExchangeStore(openTestDB(t))
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	for i, sid := range []string{"a", "b", "a", "a"} {
		_, err := store.RecordExchange(ctx, Exchange{SessionID: sid, Kind: "feedback", CreatedAt: base.Add(time.Duration(i) * time.Minute)})
		require.NoError(t, err)
	}

	sessions, err := store.ListSessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, "a", sessions[0].SessionID)
	assert.Equal(t, 3, sessions[0].Exchanges)
	assert.True(t, sessions[0].LastAt.Equal(base.Add(3*time.Minute)))
	assert.Equal(t, "b", sessions[1].SessionID)
	assert.Equal(t, 1, sessions[1].Exchanges)
}

func TestSingletonLifecycle(t *testing.T) {
	require.NoError(t, Close())
	defer func() { _ = Close() }()

	if IsInitialized() {
		t.Fatal("Expected database to be uninitialized after Close")
	}
	assert.Panics(t, func() { GetDB() })

	path := filepath.Join(t.TempDir(), "singleton.db")
	require.NoError(t, Initialize(path))
	require.NoError(t, Initialize(path), "second Initialize should be a no-op")
	assert.True(t, IsInitialized())

	_, err := Store().RecordExchange(context.Background(), Exchange{SessionID: "s", Kind: "feedback"})
	require.NoError(t, err)

	require.NoError(t, Close())
	assert.False(t, IsInitialized())
}
