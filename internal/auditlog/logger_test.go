package auditlog

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockStore struct {
	mu      sync.Mutex
	entries []*Entry
	flushed bool
	closed  bool
}

func (m *mockStore) WriteBatch(_ context.Context, entries []*Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entries...)
	return nil
}

func (m *mockStore) Flush(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flushed = true
	return nil
}

func (m *mockStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *mockStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func TestLogger_FlushesOnInterval(t *testing.T) {
	store := &mockStore{}
	logger := NewLogger(store, Config{Enabled: true, BufferSize: 10, FlushInterval: 20 * time.Millisecond})
	defer logger.Close()

	for i := 0; i < 5; i++ {
		logger.Write(&Entry{
			ID:       fmt.Sprintf("entry-%d", i),
			Action:   ActionGenerate,
			Identity: "alice",
			Outcome:  OutcomeOK,
		})
	}

	assert.Eventually(t, func() bool { return store.count() == 5 }, time.Second, 10*time.Millisecond)
}

func TestLogger_CloseFlushes(t *testing.T) {
	store := &mockStore{}
	logger := NewLogger(store, Config{Enabled: true, BufferSize: 100, FlushInterval: time.Hour})

	logger.Write(&Entry{ID: "test-entry", Action: ActionLogin, Outcome: OutcomeInvalidCredentials})
	require.NoError(t, logger.Close())

	assert.Equal(t, 1, store.count())
	assert.True(t, store.flushed)
	assert.True(t, store.closed)

	// Writes after close are dropped, and a second Close is harmless.
	logger.Write(&Entry{ID: "late"})
	assert.NoError(t, logger.Close())
	assert.Equal(t, 1, store.count())
}

func TestLogger_DropsWhenFull(t *testing.T) {
	// No flush goroutine, so the buffer only drains when the test says so.
	logger := &Logger{
		store:  &mockStore{},
		buffer: make(chan *Entry, 1),
		done:   make(chan struct{}),
	}

	logger.Write(&Entry{ID: "kept"})
	logger.Write(&Entry{ID: "dropped"})
	logger.Write(nil)

	assert.Equal(t, int64(1), logger.Dropped())
	assert.Equal(t, "kept", (<-logger.buffer).ID)
}

func TestLogger_ConcurrentWriteAndClose(t *testing.T) {
	store := &mockStore{}
	logger := NewLogger(store, Config{Enabled: true, BufferSize: 10000, FlushInterval: time.Hour})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				logger.Write(&Entry{ID: "x"})
			}
		}()
	}
	require.NoError(t, logger.Close())
	wg.Wait()
}

func TestNoopLogger(t *testing.T) {
	var w Writer = NoopLogger{}
	w.Write(&Entry{ID: "test"})
	assert.NoError(t, w.Close())
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.False(t, cfg.Enabled)
	assert.Equal(t, 1000, cfg.BufferSize)
	assert.Equal(t, 5*time.Second, cfg.FlushInterval)
}
