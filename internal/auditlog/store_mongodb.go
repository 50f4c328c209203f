package auditlog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// MongoDBStore implements LogStore for MongoDB.
type MongoDBStore struct {
	collection    *mongo.Collection
	retentionDays int
}

// NewMongoDBStore creates a new MongoDB audit log store.
// It creates the collection and indexes if they don't exist.
// MongoDB handles retention itself via a TTL index.
func NewMongoDBStore(database *mongo.Database, retentionDays int) (*MongoDBStore, error) {
	if database == nil {
		return nil, errors.New("database is required")
	}

	collection := database.Collection("audit_logs")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	indexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "provider", Value: 1}}},
		{Keys: bson.D{{Key: "status_code", Value: 1}}},
		{Keys: bson.D{{Key: "request_id", Value: 1}}},
		{Keys: bson.D{{Key: "message_hash", Value: 1}}},
	}

	// A single ascending timestamp index doubles as the TTL index.
	timestampIndex := mongo.IndexModel{Keys: bson.D{{Key: "timestamp", Value: 1}}}
	if retentionDays > 0 {
		ttlSeconds := int32(retentionDays * 24 * 60 * 60)
		timestampIndex.Options = options.Index().SetExpireAfterSeconds(ttlSeconds)
	}
	indexes = append(indexes, timestampIndex)

	if _, err := collection.Indexes().CreateMany(ctx, indexes); err != nil {
		// Indexes may already exist with other options
		slog.Warn("failed to create some MongoDB indexes", "error", err)
	}

	return &MongoDBStore{
		collection:    collection,
		retentionDays: retentionDays,
	}, nil
}

// WriteBatch writes multiple log entries to MongoDB using InsertMany.
func (s *MongoDBStore) WriteBatch(ctx context.Context, entries []*LogEntry) error {
	if len(entries) == 0 {
		return nil
	}

	docs := make([]any, len(entries))
	for i, e := range entries {
		docs[i] = e
	}

	// Unordered inserts keep going past duplicate keys.
	_, err := s.collection.InsertMany(ctx, docs, options.InsertMany().SetOrdered(false))
	if err != nil {
		var bulkErr mongo.BulkWriteException
		if errors.As(err, &bulkErr) {
			slog.Warn("partial audit log insert failure",
				"total", len(entries),
				"errors", len(bulkErr.WriteErrors),
			)
			return nil
		}
		return fmt.Errorf("failed to insert audit logs: %w", err)
	}

	return nil
}

// Flush is a no-op for MongoDB as writes are synchronous.
func (s *MongoDBStore) Flush(_ context.Context) error {
	return nil
}

// Close is a no-op for MongoDB as the client is managed by the storage layer.
func (s *MongoDBStore) Close() error {
	return nil
}
