//go:build integration

package auditlog

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/mongodb"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// Run with: go test -tags=integration ./internal/auditlog/...

func sampleEntries() []*Entry {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return []*Entry{
		{
			ID:          uuid.NewString(),
			Timestamp:   now,
			DurationNs:  1500,
			Action:      ActionGenerate,
			Identity:    "anonymous",
			Outcome:     OutcomeOK,
			RequestID:   "req-1",
			MaskedSpans: 2,
			Model:       "gemini-2.0-flash",
		},
		{
			ID:           uuid.NewString(),
			Timestamp:    now,
			Action:       ActionLogin,
			Identity:     "alice",
			Outcome:      OutcomeRateLimited,
			RetryAfterMs: 60000,
		},
	}
}

func TestPostgreSQLStore(t *testing.T) {
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("replyguard_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err, "failed to start PostgreSQL container")
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	url, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, url)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	store, err := NewPostgreSQLStore(ctx, pool, 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	entries := sampleEntries()
	require.NoError(t, store.WriteBatch(ctx, entries))
	// Duplicate IDs are ignored.
	require.NoError(t, store.WriteBatch(ctx, entries[:1]))

	var total int
	require.NoError(t, pool.QueryRow(ctx, "SELECT COUNT(*) FROM audit_logs").Scan(&total))
	assert.Equal(t, 2, total)

	var (
		outcome    string
		retryAfter int64
	)
	require.NoError(t, pool.QueryRow(ctx,
		"SELECT outcome, retry_after_ms FROM audit_logs WHERE identity = $1", "alice",
	).Scan(&outcome, &retryAfter))
	assert.Equal(t, string(OutcomeRateLimited), outcome)
	assert.Equal(t, int64(60000), retryAfter)
}

func TestMongoDBStore(t *testing.T) {
	ctx := context.Background()

	container, err := mongodb.Run(ctx, "mongo:7")
	require.NoError(t, err, "failed to start MongoDB container")
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	url, err := container.ConnectionString(ctx)
	require.NoError(t, err)

	client, err := mongo.Connect(options.Client().ApplyURI(url))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Disconnect(context.Background()) })

	db := client.Database("replyguard_test")
	store, err := NewMongoDBStore(ctx, db, 7)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	entries := sampleEntries()
	require.NoError(t, store.WriteBatch(ctx, entries))
	// Duplicate _id values are reported as a partial failure, not an error.
	require.NoError(t, store.WriteBatch(ctx, entries[:1]))

	coll := db.Collection("audit_logs")
	total, err := coll.CountDocuments(ctx, bson.D{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)

	var got Entry
	require.NoError(t, coll.FindOne(ctx, bson.D{{Key: "identity", Value: "anonymous"}}).Decode(&got))
	assert.Equal(t, ActionGenerate, got.Action)
	assert.Equal(t, 2, got.MaskedSpans)
	assert.Equal(t, "req-1", got.RequestID)
}
