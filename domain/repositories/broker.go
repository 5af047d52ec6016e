package repositories

import (
	"context"

	"github.com/satriahrh/livescribe/domain/entities"
)

// CredentialBroker exchanges an API token for short-lived service credentials
type CredentialBroker interface {
	FetchCredentials(ctx context.Context, apiToken string) (entities.Credentials, error)
}
