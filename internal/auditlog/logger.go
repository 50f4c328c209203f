package auditlog

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Logger provides async buffered logging with batch writes.
// It collects log entries in a channel and flushes them to storage
// either when the batch is full or at regular intervals.
type Logger struct {
	store         LogStore
	config        Config
	buffer        chan *LogEntry
	done          chan struct{}
	closeOnce     sync.Once
	wg            sync.WaitGroup
	flushInterval time.Duration
}

// NewLogger creates a new async buffered Logger.
// The logger starts a background goroutine for flushing entries.
func NewLogger(store LogStore, cfg Config) *Logger {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1000
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}

	l := &Logger{
		store:         store,
		config:        cfg,
		buffer:        make(chan *LogEntry, cfg.BufferSize),
		done:          make(chan struct{}),
		flushInterval: cfg.FlushInterval,
	}

	l.wg.Add(1)
	go l.flushLoop()

	return l
}

// Write queues a log entry for async writing.
// This method is non-blocking. If the buffer is full or the logger is
// closed, the entry is dropped and a warning is logged.
func (l *Logger) Write(entry *LogEntry) {
	if entry == nil {
		return
	}

	select {
	case <-l.done:
		return
	default:
	}

	select {
	case l.buffer <- entry:
	default:
		slog.Warn("audit log buffer full, dropping entry",
			"request_id", entry.RequestID,
			"provider", entry.Provider,
			"model", entry.Model,
		)
	}
}

// Config returns the logger configuration
func (l *Logger) Config() Config {
	return l.config
}

// Close stops the logger, flushes remaining entries and closes the store.
// Safe to call multiple times.
func (l *Logger) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.done)
		l.wg.Wait()
		err = l.store.Close()
	})
	return err
}

// flushLoop runs in the background and periodically flushes the buffer.
func (l *Logger) flushLoop() {
	defer l.wg.Done()

	ticker := time.NewTicker(l.flushInterval)
	defer ticker.Stop()

	batch := make([]*LogEntry, 0, BatchFlushThreshold)

	for {
		select {
		case entry := <-l.buffer:
			batch = append(batch, entry)
			if len(batch) >= BatchFlushThreshold {
				l.flushBatch(batch)
				batch = make([]*LogEntry, 0, BatchFlushThreshold)
			}

		case <-ticker.C:
			if len(batch) > 0 {
				l.flushBatch(batch)
				batch = make([]*LogEntry, 0, BatchFlushThreshold)
			}

		case <-l.done:
			// The buffer is never closed; Write may still race with shutdown.
		drain:
			for {
				select {
				case entry := <-l.buffer:
					batch = append(batch, entry)
				default:
					break drain
				}
			}
			if len(batch) > 0 {
				l.flushBatch(batch)
			}
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := l.store.Flush(ctx); err != nil {
				slog.Error("failed to flush audit log store", "error", err)
			}
			cancel()
			return
		}
	}
}

// flushBatch writes a batch of entries to the store.
func (l *Logger) flushBatch(batch []*LogEntry) {
	if len(batch) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := l.store.WriteBatch(ctx, batch); err != nil {
		slog.Error("failed to write audit log batch",
			"error", err,
			"count", len(batch),
		)
	}
}

// NoopLogger is a logger that does nothing (used when logging is disabled)
type NoopLogger struct{}

// Write does nothing
func (l *NoopLogger) Write(_ *LogEntry) {}

// Config returns an empty config
func (l *NoopLogger) Config() Config {
	return Config{Enabled: false}
}

// Close does nothing
func (l *NoopLogger) Close() error {
	return nil
}

// LoggerInterface defines the interface for loggers (both real and noop)
type LoggerInterface interface {
	Write(entry *LogEntry)
	Config() Config
	Close() error
}
