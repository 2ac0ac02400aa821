package auditlog

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"replyguard/config"
)

func createTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestSQLiteStore_WriteBatch(t *testing.T) {
	db := createTestDB(t)
	store, err := NewSQLiteStore(db, 0)
	require.NoError(t, err)
	defer store.Close()

	ts := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	entries := []*Entry{
		{ID: "a", Timestamp: ts, Action: ActionGenerate, Identity: "alice", Outcome: OutcomeOK, MaskedSpans: 3, Model: "gemini-2.0-flash"},
		{ID: "b", Timestamp: ts, Action: ActionGenerate, Identity: "alice", Outcome: OutcomeRateLimited, RetryAfterMs: 40000},
		{ID: "c", Timestamp: ts, Action: ActionLogin, Identity: "mallory", Outcome: OutcomeInvalidCredentials},
	}
	require.NoError(t, store.WriteBatch(context.Background(), entries))
	// Duplicate IDs are ignored.
	require.NoError(t, store.WriteBatch(context.Background(), entries[:1]))

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM audit_logs").Scan(&count))
	assert.Equal(t, 3, count)

	var outcome string
	var retryAfter int64
	require.NoError(t, db.QueryRow("SELECT outcome, retry_after_ms FROM audit_logs WHERE id = 'b'").Scan(&outcome, &retryAfter))
	assert.Equal(t, "rate_limited", outcome)
	assert.Equal(t, int64(40000), retryAfter)
}

func TestSQLiteStore_WriteBatchChunks(t *testing.T) {
	db := createTestDB(t)
	store, err := NewSQLiteStore(db, 0)
	require.NoError(t, err)
	defer store.Close()

	entries := make([]*Entry, maxEntriesPerBatch*2+5)
	for i := range entries {
		entries[i] = &Entry{ID: fmt.Sprintf("e-%d", i), Timestamp: time.Now(), Action: ActionGenerate, Outcome: OutcomeOK}
	}
	require.NoError(t, store.WriteBatch(context.Background(), entries))

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM audit_logs").Scan(&count))
	assert.Equal(t, len(entries), count)
}

func TestSQLiteStore_Cleanup(t *testing.T) {
	db := createTestDB(t)
	store, err := NewSQLiteStore(db, 7)
	require.NoError(t, err)
	defer store.Close()

	entries := []*Entry{
		{ID: "old", Timestamp: time.Now().AddDate(0, 0, -30), Action: ActionLogin, Outcome: OutcomeOK},
		{ID: "new", Timestamp: time.Now(), Action: ActionLogin, Outcome: OutcomeOK},
	}
	require.NoError(t, store.WriteBatch(context.Background(), entries))

	store.cleanup()

	var ids []string
	rows, err := db.Query("SELECT id FROM audit_logs")
	require.NoError(t, err)
	defer rows.Close()
	for rows.Next() {
		var id string
		require.NoError(t, rows.Scan(&id))
		ids = append(ids, id)
	}
	require.NoError(t, rows.Err())
	assert.Equal(t, []string{"new"}, ids)
}

func TestNew_Disabled(t *testing.T) {
	result, err := New(context.Background(), config.AuditConfig{Enabled: false})
	require.NoError(t, err)
	assert.IsType(t, NoopLogger{}, result.Logger)
	assert.Nil(t, result.Storage)
	assert.NoError(t, result.Close())
}

func TestNew_SQLiteEndToEnd(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.db")
	result, err := New(context.Background(), config.AuditConfig{
		Enabled:       true,
		StorageType:   "sqlite",
		SQLitePath:    path,
		BufferSize:    10,
		FlushInterval: time.Hour,
	})
	require.NoError(t, err)

	result.Logger.Write(&Entry{ID: "x", Timestamp: time.Now(), Action: ActionGenerate, Identity: "alice", Outcome: OutcomeOK})
	require.NoError(t, result.Close())

	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()

	var identity string
	require.NoError(t, db.QueryRow("SELECT identity FROM audit_logs WHERE id = 'x'").Scan(&identity))
	assert.Equal(t, "alice", identity)
}
