package repositories

import (
	"context"

	"github.com/satriahrh/livescribe/domain/entities"
)

// DefaultHistoryListLimit caps ListByClient when no limit is given
const DefaultHistoryListLimit = 50

// SessionHistory stores the outcome of finished sessions
type SessionHistory interface {
	// Save stores a record. Saving the same session twice replaces it.
	Save(ctx context.Context, record entities.SessionRecord) error
	// ListByClient returns up to limit records of a client, newest first
	ListByClient(ctx context.Context, clientID string, limit int) ([]entities.SessionRecord, error)
}

// EventPublisher fans session events out to other services
type EventPublisher interface {
	Publish(ctx context.Context, clientID string, event entities.Event) error
}
