package repositories

import (
	"context"
	"errors"
)

// ErrInvalidClientCredentials is returned for an unknown client or a wrong secret
var ErrInvalidClientCredentials = errors.New("invalid client credentials")

// ClientRepository authenticates relay clients before a token is issued
type ClientRepository interface {
	// ValidateClient checks a client's secret
	ValidateClient(ctx context.Context, clientID, secret string) error
}
