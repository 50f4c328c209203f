// Package auditlog records one entry per chat request and stores it in a
// configurable backend.
package auditlog

import (
	"context"
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"

	"chatgate/internal/core"
)

// LogStore defines the interface for audit log storage backends.
// Implementations must be safe for concurrent use.
type LogStore interface {
	// WriteBatch writes multiple log entries to storage.
	// This is called by the Logger when flushing buffered entries.
	WriteBatch(ctx context.Context, entries []*LogEntry) error

	// Flush forces any pending writes to complete.
	// Called during graceful shutdown.
	Flush(ctx context.Context) error

	// Close releases resources and flushes pending writes.
	Close() error
}

// LogEntry represents a single audit log entry.
// Core fields are indexed for efficient queries.
type LogEntry struct {
	// ID is a unique identifier for this log entry (UUID)
	ID string `json:"id" bson:"_id"`

	// Timestamp is when the request started
	Timestamp time.Time `json:"timestamp" bson:"timestamp"`

	// DurationNs is the request duration in nanoseconds
	DurationNs int64 `json:"duration_ns" bson:"duration_ns"`

	// Provider and Model identify the winning attempt; empty when none won
	Provider   string `json:"provider" bson:"provider"`
	Model      string `json:"model" bson:"model"`
	StatusCode int    `json:"status_code" bson:"status_code"`
	RequestID  string `json:"request_id" bson:"request_id"`

	// MessageHash fingerprints the user message without storing it
	MessageHash string `json:"message_hash" bson:"message_hash"`

	// Data contains flexible request/response information as JSON
	Data *LogData `json:"data" bson:"data"`
}

// LogData contains flexible request/response information.
// Fields are omitted when empty to save storage space.
type LogData struct {
	ClientIP  string `json:"client_ip,omitempty" bson:"client_ip,omitempty"`
	UserAgent string `json:"user_agent,omitempty" bson:"user_agent,omitempty"`

	Attempts     core.AttemptLog `json:"attempts,omitempty" bson:"attempts,omitempty"`
	ErrorType    string          `json:"error_type,omitempty" bson:"error_type,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty" bson:"error_message,omitempty"`

	// Bodies are only captured when LOGGING_LOG_BODIES=true
	Message string `json:"message,omitempty" bson:"message,omitempty"`
	Reply   string `json:"reply,omitempty" bson:"reply,omitempty"`
}

// Config holds audit logging configuration
type Config struct {
	// Enabled controls whether audit logging is active
	Enabled bool

	// LogBodies enables logging of the user message and the reply
	LogBodies bool

	// BufferSize is the number of log entries to buffer before dropping
	BufferSize int

	// FlushInterval is how often to flush buffered logs
	FlushInterval time.Duration

	// RetentionDays is how long to keep logs (0 = forever)
	RetentionDays int
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		BufferSize:    1000,
		FlushInterval: 5 * time.Second,
		RetentionDays: 30,
	}
}

// NewEntry starts an entry for a request received now.
func NewEntry(requestID string) *LogEntry {
	return &LogEntry{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		RequestID: requestID,
		Data:      &LogData{},
	}
}

// HashMessage returns the hex xxhash64 of a user message.
func HashMessage(message string) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(message))
}

// truncate caps captured bodies at MaxBodyCapture bytes.
func truncate(s string) string {
	if len(s) <= MaxBodyCapture {
		return s
	}
	return s[:MaxBodyCapture]
}

// SetBodies stores the message and reply when body logging is enabled.
func (e *LogEntry) SetBodies(cfg Config, message, reply string) {
	if !cfg.LogBodies {
		return
	}
	if e.Data == nil {
		e.Data = &LogData{}
	}
	e.Data.Message = truncate(message)
	e.Data.Reply = truncate(reply)
}
