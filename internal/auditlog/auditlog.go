// Package auditlog records who did what and how it ended for login and
// generation requests. Entries are buffered and written to storage in
// batches. Email content, prompts, replies and replacement maps are never
// recorded; only counts and outcomes.
package auditlog

import (
	"context"
	"time"
)

// Action is the operation being audited.
type Action string

const (
	ActionLogin    Action = "login"
	ActionGenerate Action = "generate"
)

// Outcome is how an audited operation ended.
type Outcome string

const (
	OutcomeOK                 Outcome = "ok"
	OutcomeRateLimited        Outcome = "rate_limited"
	OutcomeInvalidCredentials Outcome = "invalid_credentials"
	// OutcomeProviderError means the reply carried diagnostic text instead of a generated reply.
	OutcomeProviderError Outcome = "provider_error"
)

// LogStore is a storage backend for entries.
// Implementations must be safe for concurrent use.
type LogStore interface {
	// WriteBatch writes entries. Called by Logger when flushing.
	WriteBatch(ctx context.Context, entries []*Entry) error

	// Flush forces pending writes to complete.
	Flush(ctx context.Context) error

	// Close stops background work. The underlying connection is owned by
	// the storage package.
	Close() error
}

// Entry is one audited request.
type Entry struct {
	// ID is a UUID
	ID string `json:"id" bson:"_id"`

	// Timestamp is when the request started
	Timestamp time.Time `json:"timestamp" bson:"timestamp"`

	// DurationNs is the request duration in nanoseconds
	DurationNs int64 `json:"duration_ns" bson:"duration_ns"`

	Action    Action  `json:"action" bson:"action"`
	Identity  string  `json:"identity" bson:"identity"`
	Outcome   Outcome `json:"outcome" bson:"outcome"`
	RequestID string  `json:"request_id,omitempty" bson:"request_id,omitempty"`

	// RetryAfterMs is set for rate limited requests.
	RetryAfterMs int64 `json:"retry_after_ms,omitempty" bson:"retry_after_ms,omitempty"`

	// MaskedSpans is the number of sensitive spans replaced before the provider call.
	MaskedSpans int `json:"masked_spans,omitempty" bson:"masked_spans,omitempty"`

	// Model is the provider model used for generation.
	Model string `json:"model,omitempty" bson:"model,omitempty"`
}

// Config holds audit logging configuration
type Config struct {
	// Enabled controls whether audit logging is active
	Enabled bool

	// BufferSize is the number of entries queued before new ones are dropped
	BufferSize int

	// FlushInterval is how often buffered entries are written
	FlushInterval time.Duration

	// RetentionDays is how long to keep entries (0 = forever)
	RetentionDays int
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		Enabled:       false,
		BufferSize:    1000,
		FlushInterval: 5 * time.Second,
		RetentionDays: 30,
	}
}

// Writer is what request handlers use to record entries.
type Writer interface {
	Write(entry *Entry)
	Close() error
}
