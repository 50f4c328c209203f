// Package storage opens the database connection backing the audit log.
package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"chatgate/config"
)

// Type constants for storage backends
const (
	TypeSQLite     = config.StorageSQLite
	TypePostgreSQL = config.StoragePostgreSQL
	TypeMongoDB    = config.StorageMongoDB
	TypeRedis      = config.StorageRedis
)

// Storage provides a unified interface for database connections.
// Exactly one accessor returns a non-nil handle, matching Type.
// Implementations must be safe for concurrent use.
type Storage interface {
	Type() string

	SQLiteDB() *sql.DB
	PostgreSQLPool() *pgxpool.Pool
	MongoDatabase() *mongo.Database
	RedisClient() *redis.Client

	// Close releases all resources held by the storage.
	Close() error
}

// New opens the backend selected by cfg.Type.
func New(ctx context.Context, cfg config.StorageConfig) (Storage, error) {
	switch cfg.Type {
	case TypeSQLite:
		return NewSQLite(cfg.SQLite)
	case TypePostgreSQL:
		return NewPostgreSQL(ctx, cfg.PostgreSQL)
	case TypeMongoDB:
		return NewMongoDB(ctx, cfg.MongoDB)
	case TypeRedis:
		return NewRedis(ctx, cfg.Redis)
	default:
		return nil, fmt.Errorf("unknown storage type: %s (valid: sqlite, postgresql, mongodb, redis)", cfg.Type)
	}
}

// base provides nil accessors so each backend only overrides its own.
type base struct{}

func (base) SQLiteDB() *sql.DB              { return nil }
func (base) PostgreSQLPool() *pgxpool.Pool  { return nil }
func (base) MongoDatabase() *mongo.Database { return nil }
func (base) RedisClient() *redis.Client     { return nil }
