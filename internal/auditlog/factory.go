package auditlog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"chatgate/config"
	"chatgate/internal/storage"
)

// Result holds the initialized audit logger and its dependencies.
// The caller is responsible for calling Close() to release resources.
type Result struct {
	Logger  LoggerInterface
	Storage storage.Storage
}

// Close releases all resources held by the audit logger.
// Safe to call multiple times.
func (r *Result) Close() error {
	var errs []error
	if r.Logger != nil {
		if err := r.Logger.Close(); err != nil {
			errs = append(errs, fmt.Errorf("logger close: %w", err))
		}
	}
	if r.Storage != nil {
		if err := r.Storage.Close(); err != nil {
			errs = append(errs, fmt.Errorf("storage close: %w", err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %w", errors.Join(errs...))
	}
	return nil
}

// New creates an audit logger from configuration.
// The caller must call Result.Close() during shutdown.
//
// If logging is disabled in the config, returns a NoopLogger with nil storage.
func New(ctx context.Context, cfg *config.Config) (*Result, error) {
	if !cfg.Logging.Enabled {
		return &Result{Logger: &NoopLogger{}}, nil
	}

	store, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage: %w", err)
	}

	logStore, err := createLogStore(ctx, store, cfg.Storage, cfg.Logging.RetentionDays)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	return &Result{
		Logger:  NewLogger(logStore, buildLoggerConfig(cfg.Logging)),
		Storage: store,
	}, nil
}

// createLogStore creates the appropriate LogStore for the given storage backend.
func createLogStore(ctx context.Context, store storage.Storage, cfg config.StorageConfig, retentionDays int) (LogStore, error) {
	switch store.Type() {
	case storage.TypeSQLite:
		return NewSQLiteStore(store.SQLiteDB(), retentionDays)

	case storage.TypePostgreSQL:
		pool := store.PostgreSQLPool()
		if pool == nil {
			return nil, errors.New("PostgreSQL pool is nil")
		}
		return NewPostgreSQLStore(ctx, pool, retentionDays)

	case storage.TypeMongoDB:
		db := store.MongoDatabase()
		if db == nil {
			return nil, errors.New("MongoDB database is nil")
		}
		return NewMongoDBStore(db, retentionDays)

	case storage.TypeRedis:
		return NewRedisStore(store.RedisClient(), cfg.Redis.Key, cfg.Redis.MaxEntries)

	default:
		return nil, fmt.Errorf("unknown storage type: %s", store.Type())
	}
}

// buildLoggerConfig creates an auditlog.Config from config.LogConfig.
func buildLoggerConfig(logCfg config.LogConfig) Config {
	cfg := Config{
		Enabled:       logCfg.Enabled,
		LogBodies:     logCfg.LogBodies,
		BufferSize:    logCfg.BufferSize,
		FlushInterval: time.Duration(logCfg.FlushInterval) * time.Second,
		RetentionDays: logCfg.RetentionDays,
	}

	def := DefaultConfig()
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}

	return cfg
}
