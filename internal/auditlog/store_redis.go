package auditlog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisMaxEntries caps the audit list when no limit is configured.
const DefaultRedisMaxEntries = 10000

// RedisStore implements LogStore as a capped Redis list, newest first.
type RedisStore struct {
	client     *redis.Client
	key        string
	maxEntries int64
}

// NewRedisStore creates a Redis audit log store writing to key.
func NewRedisStore(client *redis.Client, key string, maxEntries int64) (*RedisStore, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if key == "" {
		key = "chatgate:audit_logs"
	}
	if maxEntries <= 0 {
		maxEntries = DefaultRedisMaxEntries
	}
	return &RedisStore{client: client, key: key, maxEntries: maxEntries}, nil
}

// WriteBatch pushes the entries and trims the list in one pipeline.
func (s *RedisStore) WriteBatch(ctx context.Context, entries []*LogEntry) error {
	if len(entries) == 0 {
		return nil
	}

	values := make([]any, 0, len(entries))
	for _, e := range entries {
		raw, err := json.Marshal(e)
		if err != nil {
			slog.Warn("failed to marshal audit log entry", "error", err, "id", e.ID)
			continue
		}
		values = append(values, raw)
	}
	if len(values) == 0 {
		return nil
	}

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, s.key, values...)
		pipe.LTrim(ctx, s.key, 0, s.maxEntries-1)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to push audit logs: %w", err)
	}
	return nil
}

// Recent returns up to n entries, newest first.
func (s *RedisStore) Recent(ctx context.Context, n int64) ([]*LogEntry, error) {
	if n <= 0 {
		return nil, nil
	}
	raws, err := s.client.LRange(ctx, s.key, 0, n-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read audit logs: %w", err)
	}
	entries := make([]*LogEntry, 0, len(raws))
	for _, raw := range raws {
		var e LogEntry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			continue
		}
		entries = append(entries, &e)
	}
	return entries, nil
}

// Flush is a no-op for Redis as writes are synchronous.
func (s *RedisStore) Flush(_ context.Context) error {
	return nil
}

// Close is a no-op; the client is owned by the storage layer.
func (s *RedisStore) Close() error {
	return nil
}
