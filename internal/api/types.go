package api

import (
	"time"

	"github.com/satriahrh/livescribe/domain/entities"
)

// ClientAuthRequest represents the request payload for relay client authentication
type ClientAuthRequest struct {
	ClientID string `json:"client_id" validate:"required"`
	Secret   string `json:"secret" validate:"required"`
}

// ClientAuthResponse represents the response payload for relay client authentication
type ClientAuthResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	ClientID  string    `json:"client_id"`
}

// HealthResponse represents the health check payload
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Clients int    `json:"clients"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// SessionListResponse lists the recorded sessions of a client, newest first
type SessionListResponse struct {
	ClientID string                    `json:"client_id"`
	Sessions []entities.SessionRecord `json:"sessions"`
}
