package auditlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// SQLite has a default limit of 999 bindable parameters per query (SQLITE_MAX_VARIABLE_NUMBER).
// Larger batches are chunked to stay below it.
const (
	maxSQLiteParams    = 999
	columnsPerEntry    = 10
	maxEntriesPerBatch = maxSQLiteParams / columnsPerEntry
)

// SQLiteStore implements LogStore for SQLite databases.
type SQLiteStore struct {
	db            *sql.DB
	retentionDays int
	stopCleanup   chan struct{}
	closeOnce     sync.Once
}

// NewSQLiteStore creates a new SQLite audit log store.
// It creates the audit_logs table if it doesn't exist and starts
// a background cleanup goroutine if retention is configured.
func NewSQLiteStore(db *sql.DB, retentionDays int) (*SQLiteStore, error) {
	if db == nil {
		return nil, errors.New("database connection is required")
	}

	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS audit_logs (
			id TEXT PRIMARY KEY,
			timestamp DATETIME NOT NULL,
			duration_ns INTEGER DEFAULT 0,
			provider TEXT,
			model TEXT,
			status_code INTEGER DEFAULT 0,
			request_id TEXT,
			message_hash TEXT,
			error_type TEXT,
			data JSON
		)
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to create audit_logs table: %w", err)
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_audit_timestamp ON audit_logs(timestamp)",
		"CREATE INDEX IF NOT EXISTS idx_audit_provider ON audit_logs(provider)",
		"CREATE INDEX IF NOT EXISTS idx_audit_status ON audit_logs(status_code)",
		"CREATE INDEX IF NOT EXISTS idx_audit_request_id ON audit_logs(request_id)",
		"CREATE INDEX IF NOT EXISTS idx_audit_message_hash ON audit_logs(message_hash)",
	}
	for _, idx := range indexes {
		if _, err := db.Exec(idx); err != nil {
			slog.Warn("failed to create index", "error", err)
		}
	}

	store := &SQLiteStore{
		db:            db,
		retentionDays: retentionDays,
		stopCleanup:   make(chan struct{}),
	}

	if retentionDays > 0 {
		go RunCleanupLoop(store.stopCleanup, store.cleanup)
	}

	return store, nil
}

// WriteBatch writes multiple log entries to SQLite using batch insert.
// Entries are chunked to stay within SQLite's parameter limit.
func (s *SQLiteStore) WriteBatch(ctx context.Context, entries []*LogEntry) error {
	for i := 0; i < len(entries); i += maxEntriesPerBatch {
		chunk := entries[i:min(i+maxEntriesPerBatch, len(entries))]

		placeholders := make([]string, len(chunk))
		values := make([]any, 0, len(chunk)*columnsPerEntry)

		for j, e := range chunk {
			placeholders[j] = "(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)"

			// nil Data becomes SQL NULL
			var data any
			if raw := marshalLogData(e.Data, e.ID); raw != nil {
				data = string(raw)
			}

			values = append(values,
				e.ID,
				e.Timestamp.UTC().Format(time.RFC3339Nano),
				e.DurationNs,
				e.Provider,
				e.Model,
				e.StatusCode,
				e.RequestID,
				e.MessageHash,
				errorType(e),
				data,
			)
		}

		query := `INSERT OR IGNORE INTO audit_logs (id, timestamp, duration_ns, provider, model, status_code,
			request_id, message_hash, error_type, data) VALUES ` + strings.Join(placeholders, ",")

		if _, err := s.db.ExecContext(ctx, query, values...); err != nil {
			return fmt.Errorf("failed to insert audit logs batch %d: %w", i/maxEntriesPerBatch, err)
		}
	}

	return nil
}

// Flush is a no-op for SQLite as writes are synchronous.
func (s *SQLiteStore) Flush(_ context.Context) error {
	return nil
}

// Close stops the cleanup goroutine.
// The DB is owned by the storage layer. Safe to call multiple times.
func (s *SQLiteStore) Close() error {
	if s.retentionDays > 0 {
		s.closeOnce.Do(func() {
			close(s.stopCleanup)
		})
	}
	return nil
}

// cleanup deletes log entries older than the retention period.
func (s *SQLiteStore) cleanup() {
	if s.retentionDays <= 0 {
		return
	}

	cutoff := retentionCutoff(s.retentionDays).Format(time.RFC3339Nano)
	result, err := s.db.Exec("DELETE FROM audit_logs WHERE timestamp < ?", cutoff)
	if err != nil {
		slog.Error("failed to cleanup old audit logs", "error", err)
		return
	}

	if rowsAffected, err := result.RowsAffected(); err == nil && rowsAffected > 0 {
		slog.Info("cleaned up old audit logs", "deleted", rowsAffected)
	}
}

// marshalLogData encodes Data for SQL backends; nil stays nil.
func marshalLogData(data *LogData, id string) []byte {
	if data == nil {
		return nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		slog.Warn("failed to marshal log data", "error", err, "id", id)
		return []byte("{}")
	}
	return raw
}

func errorType(e *LogEntry) string {
	if e.Data == nil {
		return ""
	}
	return e.Data.ErrorType
}
