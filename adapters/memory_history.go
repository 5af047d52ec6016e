package adapters

import (
	"context"
	"sort"
	"sync"

	"github.com/satriahrh/livescribe/domain/entities"
	"github.com/satriahrh/livescribe/domain/repositories"
)

// MemorySessionHistory keeps finished sessions in process memory
type MemorySessionHistory struct {
	mu      sync.RWMutex
	records map[string]entities.SessionRecord // session_id -> record
}

var _ repositories.SessionHistory = (*MemorySessionHistory)(nil)

func NewMemorySessionHistory() *MemorySessionHistory {
	return &MemorySessionHistory{records: make(map[string]entities.SessionRecord)}
}

// Save implements SessionHistory interface
func (m *MemorySessionHistory) Save(ctx context.Context, record entities.SessionRecord) error {
	if err := record.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[record.SessionID] = record
	return nil
}

// ListByClient implements SessionHistory interface
func (m *MemorySessionHistory) ListByClient(ctx context.Context, clientID string, limit int) ([]entities.SessionRecord, error) {
	if limit <= 0 {
		limit = repositories.DefaultHistoryListLimit
	}

	m.mu.RLock()
	var records []entities.SessionRecord
	for _, record := range m.records {
		if record.ClientID == clientID {
			records = append(records, record)
		}
	}
	m.mu.RUnlock()

	sort.Slice(records, func(i, j int) bool {
		return records[i].EndedAt.After(records[j].EndedAt)
	})
	if len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}
