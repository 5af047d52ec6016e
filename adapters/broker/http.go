package broker

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/livescribe/domain/entities"
	"github.com/satriahrh/livescribe/domain/repositories"
)

const (
	defaultTimeout     = 10 * time.Second
	credentialsPath    = "/credentials"
	authorizationTitle = "v1"
	maxResponseBytes   = 64 * 1024
)

// HTTPCredentialBrokerConfig holds configuration for the HTTP credential broker
// Required fields:
// - Endpoint: base URL of the broker, "/credentials" is appended
// Optional fields with defaults:
// - Timeout: round trip timeout (default: 10s)
type HTTPCredentialBrokerConfig struct {
	Endpoint string        // Required: broker base URL
	Timeout  time.Duration // Optional: request timeout
}

// ValidateHTTPCredentialBrokerConfig validates the HTTPCredentialBrokerConfig
func ValidateHTTPCredentialBrokerConfig(config HTTPCredentialBrokerConfig) error {
	if config.Endpoint == "" {
		return errors.New("credential broker endpoint is required")
	}

	u, err := url.Parse(config.Endpoint)
	if err != nil {
		return fmt.Errorf("invalid credential broker endpoint: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("credential broker endpoint must be http or https, got %q", u.Scheme)
	}

	if config.Timeout < 0 {
		return fmt.Errorf("timeout must be positive, got %s", config.Timeout)
	}

	return nil
}

// HTTPCredentialBroker implements CredentialBroker against the broker's REST endpoint
type HTTPCredentialBroker struct {
	endpoint string
	client   *http.Client
	logger   *zap.Logger
}

// Ensure HTTPCredentialBroker implements the CredentialBroker interface
var _ repositories.CredentialBroker = (*HTTPCredentialBroker)(nil)

// rawCredentialsResponse is the broker's envelope. Credentials is
// base64(JSON(entities.Credentials)).
type rawCredentialsResponse struct {
	Credentials string `json:"credentials"`
}

// NewHTTPCredentialBroker creates a new HTTP credential broker client
func NewHTTPCredentialBroker(config HTTPCredentialBrokerConfig, logger *zap.Logger) (*HTTPCredentialBroker, error) {
	if err := ValidateHTTPCredentialBrokerConfig(config); err != nil {
		return nil, err
	}

	timeout := config.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
		logger.Info("Using default credential broker timeout", zap.Duration("timeout", timeout))
	}

	return &HTTPCredentialBroker{
		endpoint: strings.TrimRight(config.Endpoint, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger,
	}, nil
}

// AuthorizationHeader builds the Basic authorization value for apiToken
func AuthorizationHeader(apiToken string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(authorizationTitle+":"+apiToken))
}

// FetchCredentials exchanges apiToken for short-lived credentials. It makes a
// single attempt and every failure is reported as INTERNAL.
func (b *HTTPCredentialBroker) FetchCredentials(ctx context.Context, apiToken string) (entities.Credentials, error) {
	creds, err := b.fetch(ctx, apiToken)
	if err != nil {
		b.logger.Error("Failed to fetch credentials", zap.String("endpoint", b.endpoint), zap.Error(err))
		return entities.Credentials{}, entities.NewSessionError(entities.ErrorKindInternal, err)
	}

	b.logger.Info("Fetched credentials", zap.String("region", creds.Region))
	return creds, nil
}

func (b *HTTPCredentialBroker) fetch(ctx context.Context, apiToken string) (entities.Credentials, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, b.endpoint+credentialsPath, nil)
	if err != nil {
		return entities.Credentials{}, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	httpReq.Header.Set("Authorization", AuthorizationHeader(apiToken))
	httpReq.Header.Set("Accept", "application/json")

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return entities.Credentials{}, fmt.Errorf("failed to execute HTTP request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return entities.Credentials{}, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return entities.Credentials{}, fmt.Errorf("broker returned error %d: %s", resp.StatusCode, string(body))
	}

	var raw rawCredentialsResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		return entities.Credentials{}, fmt.Errorf("failed to decode response: %w", err)
	}

	return DecodeCredentials(raw.Credentials)
}

// DecodeCredentials parses the base64-encoded JSON credentials payload
func DecodeCredentials(payload string) (entities.Credentials, error) {
	decoded, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return entities.Credentials{}, fmt.Errorf("failed to decode credentials payload: %w", err)
	}

	var creds entities.Credentials
	if err := json.Unmarshal(decoded, &creds); err != nil {
		return entities.Credentials{}, fmt.Errorf("failed to parse credentials payload: %w", err)
	}

	if err := creds.Validate(); err != nil {
		return entities.Credentials{}, fmt.Errorf("incomplete credentials: %w", err)
	}

	return creds, nil
}

// EncodeCredentials produces the payload DecodeCredentials accepts
func EncodeCredentials(creds entities.Credentials) (string, error) {
	data, err := json.Marshal(creds)
	if err != nil {
		return "", fmt.Errorf("failed to marshal credentials: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}
