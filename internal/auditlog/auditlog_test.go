package auditlog

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatgate/config"
	"chatgate/internal/storage"
)

// mockStore records every batch it receives.
type mockStore struct {
	mu      sync.Mutex
	batches [][]*LogEntry
	flushed int
	closed  int
}

func (m *mockStore) WriteBatch(_ context.Context, entries []*LogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	batch := make([]*LogEntry, len(entries))
	copy(batch, entries)
	m.batches = append(m.batches, batch)
	return nil
}

func (m *mockStore) Flush(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flushed++
	return nil
}

func (m *mockStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed++
	return nil
}

func (m *mockStore) entries() []*LogEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*LogEntry
	for _, b := range m.batches {
		out = append(out, b...)
	}
	return out
}

func TestNewEntry(t *testing.T) {
	before := time.Now().UTC()
	e := NewEntry("req-42")

	_, err := uuid.Parse(e.ID)
	assert.NoError(t, err)
	assert.Equal(t, "req-42", e.RequestID)
	assert.False(t, e.Timestamp.Before(before))
	assert.Equal(t, time.UTC, e.Timestamp.Location())
	require.NotNil(t, e.Data)

	assert.NotEqual(t, e.ID, NewEntry("req-42").ID)
}

func TestHashMessage(t *testing.T) {
	h := HashMessage("What is the capital of France?")
	assert.Len(t, h, 16)
	assert.Equal(t, h, HashMessage("What is the capital of France?"))
	assert.NotEqual(t, h, HashMessage("what is the capital of france?"))
	assert.Len(t, HashMessage(""), 16)
}

func TestSetBodies(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		e := NewEntry("r")
		e.SetBodies(Config{}, "hello", "world")
		assert.Empty(t, e.Data.Message)
		assert.Empty(t, e.Data.Reply)
	})

	t.Run("enabled", func(t *testing.T) {
		e := &LogEntry{}
		e.SetBodies(Config{LogBodies: true}, "hello", "world")
		require.NotNil(t, e.Data)
		assert.Equal(t, "hello", e.Data.Message)
		assert.Equal(t, "world", e.Data.Reply)
	})

	t.Run("truncated", func(t *testing.T) {
		e := NewEntry("r")
		e.SetBodies(Config{LogBodies: true}, strings.Repeat("a", MaxBodyCapture+10), "ok")
		assert.Len(t, e.Data.Message, MaxBodyCapture)
	})
}

func TestLogger_FlushesOnClose(t *testing.T) {
	store := &mockStore{}
	logger := NewLogger(store, Config{BufferSize: 10, FlushInterval: time.Hour})

	logger.Write(NewEntry("a"))
	logger.Write(NewEntry("b"))
	logger.Write(nil)
	require.NoError(t, logger.Close())

	got := store.entries()
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].RequestID)
	assert.Equal(t, "b", got[1].RequestID)
	assert.Equal(t, 1, store.flushed)
	assert.Equal(t, 1, store.closed)
}

func TestLogger_FlushesAtBatchThreshold(t *testing.T) {
	store := &mockStore{}
	logger := NewLogger(store, Config{BufferSize: 2 * BatchFlushThreshold, FlushInterval: time.Hour})
	defer logger.Close()

	for range BatchFlushThreshold {
		logger.Write(NewEntry("r"))
	}

	assert.Eventually(t, func() bool {
		return len(store.entries()) == BatchFlushThreshold
	}, 2*time.Second, 10*time.Millisecond)
}

func TestLogger_FlushesOnInterval(t *testing.T) {
	store := &mockStore{}
	logger := NewLogger(store, Config{BufferSize: 10, FlushInterval: 20 * time.Millisecond})
	defer logger.Close()

	logger.Write(NewEntry("tick"))

	assert.Eventually(t, func() bool {
		return len(store.entries()) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestLogger_WriteAfterCloseIsDropped(t *testing.T) {
	store := &mockStore{}
	logger := NewLogger(store, Config{BufferSize: 10, FlushInterval: time.Hour})
	require.NoError(t, logger.Close())

	assert.NotPanics(t, func() { logger.Write(NewEntry("late")) })
	assert.Empty(t, store.entries())

	assert.NoError(t, logger.Close())
	assert.Equal(t, 1, store.closed)
}

func TestLogger_FullBufferDropsWithoutBlocking(t *testing.T) {
	store := &mockStore{}
	logger := NewLogger(store, Config{BufferSize: 1, FlushInterval: time.Hour})

	done := make(chan struct{})
	go func() {
		for range 1000 {
			logger.Write(NewEntry("burst"))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Write blocked on a full buffer")
	}

	require.NoError(t, logger.Close())
	assert.LessOrEqual(t, len(store.entries()), 1000)
}

func TestNoopLogger(t *testing.T) {
	var l LoggerInterface = &NoopLogger{}
	l.Write(NewEntry("x"))
	assert.False(t, l.Config().Enabled)
	assert.NoError(t, l.Close())
}

func TestNew_Disabled(t *testing.T) {
	cfg := &config.Config{}
	res, err := New(context.Background(), cfg)
	require.NoError(t, err)

	assert.IsType(t, &NoopLogger{}, res.Logger)
	assert.Nil(t, res.Storage)
	assert.NoError(t, res.Close())
}

func TestNew_SQLite(t *testing.T) {
	cfg := &config.Config{
		Logging: config.LogConfig{Enabled: true, LogBodies: true, BufferSize: 5, FlushInterval: 1},
		Storage: config.StorageConfig{
			Type:   config.StorageSQLite,
			SQLite: config.SQLiteConfig{Path: t.TempDir() + "/audit.db"},
		},
	}

	res, err := New(context.Background(), cfg)
	require.NoError(t, err)
	require.NotNil(t, res.Storage)
	assert.Equal(t, storage.TypeSQLite, res.Storage.Type())

	logCfg := res.Logger.Config()
	assert.True(t, logCfg.LogBodies)
	assert.Equal(t, 5, logCfg.BufferSize)
	assert.Equal(t, time.Second, logCfg.FlushInterval)

	entry := NewEntry("req-sqlite")
	entry.Provider = "Bing"
	res.Logger.Write(entry)

	db := res.Storage.SQLiteDB()
	require.NoError(t, res.Logger.Close())

	var provider string
	require.NoError(t, db.QueryRow("SELECT provider FROM audit_logs WHERE request_id = ?", "req-sqlite").Scan(&provider))
	assert.Equal(t, "Bing", provider)

	assert.NoError(t, res.Close())
}

func TestNew_UnknownStorage(t *testing.T) {
	cfg := &config.Config{
		Logging: config.LogConfig{Enabled: true},
		Storage: config.StorageConfig{Type: "cassandra"},
	}
	_, err := New(context.Background(), cfg)
	assert.ErrorContains(t, err, "unknown storage type")
}

func TestBuildLoggerConfig_Defaults(t *testing.T) {
	cfg := buildLoggerConfig(config.LogConfig{Enabled: true, RetentionDays: 3})
	def := DefaultConfig()
	assert.Equal(t, def.BufferSize, cfg.BufferSize)
	assert.Equal(t, def.FlushInterval, cfg.FlushInterval)
	assert.Equal(t, 3, cfg.RetentionDays)
	assert.True(t, cfg.Enabled)
}

func TestRetentionCutoff(t *testing.T) {
	cutoff := retentionCutoff(7)
	expected := time.Now().UTC().AddDate(0, 0, -7)
	assert.WithinDuration(t, expected, cutoff, time.Second)
}
