package auditlog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const insertAuditLogSQL = `
	INSERT INTO audit_logs (id, timestamp, duration_ns, provider, model, status_code, request_id, message_hash, data)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	ON CONFLICT (id) DO NOTHING`

// PostgreSQLStore implements LogStore for PostgreSQL databases.
type PostgreSQLStore struct {
	pool          *pgxpool.Pool
	retentionDays int
	stopCleanup   chan struct{}
	closeOnce     sync.Once
}

// NewPostgreSQLStore creates a new PostgreSQL audit log store.
// It creates the audit_logs table if it doesn't exist and starts
// a background cleanup goroutine if retention is configured.
func NewPostgreSQLStore(ctx context.Context, pool *pgxpool.Pool, retentionDays int) (*PostgreSQLStore, error) {
	if pool == nil {
		return nil, errors.New("connection pool is required")
	}

	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS audit_logs (
			id UUID PRIMARY KEY,
			timestamp TIMESTAMPTZ NOT NULL,
			duration_ns BIGINT DEFAULT 0,
			provider TEXT,
			model TEXT,
			status_code INTEGER DEFAULT 0,
			request_id TEXT,
			message_hash TEXT,
			data JSONB
		)
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to create audit_logs table: %w", err)
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_audit_timestamp ON audit_logs(timestamp)",
		"CREATE INDEX IF NOT EXISTS idx_audit_provider ON audit_logs(provider)",
		"CREATE INDEX IF NOT EXISTS idx_audit_status ON audit_logs(status_code)",
		"CREATE INDEX IF NOT EXISTS idx_audit_data_gin ON audit_logs USING GIN (data)",
	}
	for _, idx := range indexes {
		if _, err := pool.Exec(ctx, idx); err != nil {
			slog.Warn("failed to create index", "error", err)
		}
	}

	store := &PostgreSQLStore{
		pool:          pool,
		retentionDays: retentionDays,
		stopCleanup:   make(chan struct{}),
	}

	if retentionDays > 0 {
		go RunCleanupLoop(store.stopCleanup, store.cleanup)
	}

	return store, nil
}

// WriteBatch queues every insert on one pgx.Batch and sends it in a single
// round trip.
func (s *PostgreSQLStore) WriteBatch(ctx context.Context, entries []*LogEntry) error {
	if len(entries) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, e := range entries {
		batch.Queue(insertAuditLogSQL,
			e.ID, e.Timestamp, e.DurationNs, e.Provider, e.Model, e.StatusCode,
			e.RequestID, e.MessageHash, marshalLogData(e.Data, e.ID),
		)
	}

	results := s.pool.SendBatch(ctx, batch)
	var errs []error
	for _, e := range entries {
		if _, err := results.Exec(); err != nil {
			errs = append(errs, fmt.Errorf("insert %s: %w", e.ID, err))
		}
	}
	if err := results.Close(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("failed to insert audit logs: %w", errors.Join(errs...))
	}
	return nil
}

// Flush is a no-op for PostgreSQL as writes are synchronous.
func (s *PostgreSQLStore) Flush(_ context.Context) error {
	return nil
}

// Close stops the cleanup goroutine.
// The pool is owned by the storage layer. Safe to call multiple times.
func (s *PostgreSQLStore) Close() error {
	if s.retentionDays > 0 {
		s.closeOnce.Do(func() {
			close(s.stopCleanup)
		})
	}
	return nil
}

// cleanup deletes log entries older than the retention period.
func (s *PostgreSQLStore) cleanup() {
	if s.retentionDays <= 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	result, err := s.pool.Exec(ctx, "DELETE FROM audit_logs WHERE timestamp < $1", retentionCutoff(s.retentionDays))
	if err != nil {
		slog.Error("failed to cleanup old audit logs", "error", err)
		return
	}

	if result.RowsAffected() > 0 {
		slog.Info("cleaned up old audit logs", "deleted", result.RowsAffected())
	}
}
