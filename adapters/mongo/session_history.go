package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/satriahrh/livescribe/domain/entities"
	"github.com/satriahrh/livescribe/domain/repositories"
)

const sessionsCollection = "sessions"

// SessionHistory implements SessionHistory using MongoDB
type SessionHistory struct {
	collection *mongo.Collection
	logger     *zap.Logger
}

var _ repositories.SessionHistory = (*SessionHistory)(nil)

// NewSessionHistory creates the history and ensures its indexes
func NewSessionHistory(ctx context.Context, db *mongo.Database, logger *zap.Logger) (*SessionHistory, error) {
	collection := db.Collection(sessionsCollection)

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	_, err := collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "session_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{
				{Key: "client_id", Value: 1},
				{Key: "ended_at", Value: -1},
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create session indexes: %w", err)
	}

	return &SessionHistory{
		collection: collection,
		logger:     logger,
	}, nil
}

// Save implements SessionHistory interface
func (h *SessionHistory) Save(ctx context.Context, record entities.SessionRecord) error {
	if err := record.Validate(); err != nil {
		return err
	}

	_, err := h.collection.ReplaceOne(ctx,
		bson.M{"session_id": record.SessionID},
		record,
		options.Replace().SetUpsert(true))
	if err != nil {
		h.logger.Error("Failed to save session record", zap.Error(err), zap.String("sessionID", record.SessionID))
		return fmt.Errorf("failed to save session record: %w", err)
	}

	h.logger.Debug("Session record saved", zap.String("sessionID", record.SessionID))
	return nil
}

// ListByClient implements SessionHistory interface
func (h *SessionHistory) ListByClient(ctx context.Context, clientID string, limit int) ([]entities.SessionRecord, error) {
	if limit <= 0 {
		limit = repositories.DefaultHistoryListLimit
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "ended_at", Value: -1}}).
		SetLimit(int64(limit))

	cursor, err := h.collection.Find(ctx, bson.M{"client_id": clientID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list session records: %w", err)
	}
	defer cursor.Close(ctx)

	var records []entities.SessionRecord
	if err := cursor.All(ctx, &records); err != nil {
		return nil, fmt.Errorf("failed to decode session records: %w", err)
	}
	return records, nil
}
