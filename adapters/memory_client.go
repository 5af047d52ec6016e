package adapters

import (
	"context"
	"crypto/subtle"
	"errors"
	"sync"

	"github.com/satriahrh/livescribe/domain/repositories"
)

// MemoryClientRepository is an in-memory registry of relay client secrets
type MemoryClientRepository struct {
	mu      sync.RWMutex
	secrets map[string]string // client_id -> secret mapping
}

// Ensure MemoryClientRepository implements the ClientRepository interface
var _ repositories.ClientRepository = (*MemoryClientRepository)(nil)

// NewMemoryClientRepository creates a registry seeded with clients
func NewMemoryClientRepository(clients map[string]string) *MemoryClientRepository {
	secrets := make(map[string]string, len(clients))
	for clientID, secret := range clients {
		secrets[clientID] = secret
	}
	return &MemoryClientRepository{secrets: secrets}
}

// Register adds or replaces a client secret
func (m *MemoryClientRepository) Register(clientID, secret string) error {
	if clientID == "" {
		return errors.New("client ID cannot be empty")
	}
	if secret == "" {
		return errors.New("client secret cannot be empty")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.secrets[clientID] = secret
	return nil
}

// ValidateClient implements ClientRepository interface
func (m *MemoryClientRepository) ValidateClient(ctx context.Context, clientID, secret string) error {
	m.mu.RLock()
	stored, exists := m.secrets[clientID]
	m.mu.RUnlock()

	if !exists || subtle.ConstantTimeCompare([]byte(stored), []byte(secret)) != 1 {
		return repositories.ErrInvalidClientCredentials
	}
	return nil
}

// Count returns the number of registered clients
func (m *MemoryClientRepository) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.secrets)
}
