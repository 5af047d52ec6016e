package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/satriahrh/livescribe/domain/repositories"
	"github.com/satriahrh/livescribe/internal/auth"
	"github.com/satriahrh/livescribe/internal/websocket"
)

// ServiceName is reported by the health check
const ServiceName = "livescribe-relay"

// InitRoutes initializes all API routes
func InitRoutes(
	e *echo.Echo,
	hub *websocket.Hub,
	clients repositories.ClientRepository,
	history repositories.SessionHistory,
	tokens *auth.TokenManager,
	gatherer prometheus.Gatherer,
	logger *zap.Logger,
) {
	// Health check
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, HealthResponse{
			Status:  "ok",
			Service: ServiceName,
			Clients: hub.ClientCount(),
		})
	})

	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	// API v1 routes
	v1 := e.Group("/api/v1")
	v1.POST("/clients/auth", func(c echo.Context) error {
		return clientAuth(c, clients, tokens, logger)
	})
	v1.GET("/sessions", func(c echo.Context) error {
		return listSessions(c, history, tokens, logger)
	})

	// WebSocket endpoint with JWT validation
	e.GET("/ws", func(c echo.Context) error {
		return websocketWithAuth(hub, tokens, c, logger)
	})
}

func clientAuth(c echo.Context, clients repositories.ClientRepository, tokens *auth.TokenManager, logger *zap.Logger) error {
	if !tokens.Enabled() {
		return c.JSON(http.StatusNotFound, ErrorResponse{
			Error:   "auth_disabled",
			Message: "Client authentication is not enabled on this relay",
		})
	}

	var req ClientAuthRequest
	if err := c.Bind(&req); err != nil {
		logger.Error("Failed to bind client auth request", zap.Error(err))
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Invalid request format",
		})
	}

	if req.ClientID == "" || req.Secret == "" {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "missing_fields",
			Message: "Client ID and secret are required",
		})
	}

	if err := clients.ValidateClient(c.Request().Context(), req.ClientID, req.Secret); err != nil {
		logger.Warn("Client authentication failed",
			zap.String("clientID", req.ClientID),
			zap.Error(err))
		if errors.Is(err, repositories.ErrInvalidClientCredentials) {
			return c.JSON(http.StatusUnauthorized, ErrorResponse{
				Error:   "authentication_failed",
				Message: "Invalid client credentials",
			})
		}
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "Failed to validate client",
		})
	}

	token, err := tokens.GenerateClientToken(req.ClientID)
	if err != nil {
		logger.Error("Failed to generate client token",
			zap.String("clientID", req.ClientID),
			zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "token_generation_failed",
			Message: "Failed to generate authentication token",
		})
	}

	logger.Info("Client authenticated successfully", zap.String("clientID", req.ClientID))

	return c.JSON(http.StatusOK, ClientAuthResponse{
		Token:     token,
		ExpiresAt: time.Now().Add(tokens.TTL()),
		ClientID:  req.ClientID,
	})
}

// listSessions returns the recorded sessions of the authenticated client
func listSessions(c echo.Context, history repositories.SessionHistory, tokens *auth.TokenManager, logger *zap.Logger) error {
	if history == nil || !tokens.Enabled() {
		return c.JSON(http.StatusNotFound, ErrorResponse{
			Error:   "history_disabled",
			Message: "Session history is not enabled on this relay",
		})
	}

	clientID, status, errResp := authorizeClient(c, tokens, logger)
	if status != 0 {
		return c.JSON(status, errResp)
	}

	limit := repositories.DefaultHistoryListLimit
	if raw := c.QueryParam("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			return c.JSON(http.StatusBadRequest, ErrorResponse{
				Error:   "invalid_limit",
				Message: "limit must be a positive integer",
			})
		}
		limit = parsed
	}

	records, err := history.ListByClient(c.Request().Context(), clientID, limit)
	if err != nil {
		logger.Error("Failed to list sessions", zap.String("clientID", clientID), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "Failed to list sessions",
		})
	}

	return c.JSON(http.StatusOK, SessionListResponse{
		ClientID: clientID,
		Sessions: records,
	})
}

// authorizeClient validates the client token of the request. A non-zero
// status means the request is rejected with the returned error body.
func authorizeClient(c echo.Context, tokens *auth.TokenManager, logger *zap.Logger) (string, int, ErrorResponse) {
	token := auth.ExtractToken(c.Request())
	if token == "" {
		logger.Warn("Request rejected: missing token", zap.String("path", c.Path()))
		return "", http.StatusUnauthorized, ErrorResponse{
			Error:   "missing_token",
			Message: "JWT token is required in Authorization header or token query parameter",
		}
	}

	claims, err := tokens.ValidateToken(token)
	if err != nil {
		logger.Warn("Request rejected: invalid token", zap.String("path", c.Path()), zap.Error(err))
		return "", http.StatusUnauthorized, ErrorResponse{
			Error:   "invalid_token",
			Message: "Invalid or expired JWT token",
		}
	}

	if claims.Role != auth.RoleClient {
		logger.Warn("Request rejected: invalid role", zap.String("role", claims.Role))
		return "", http.StatusForbidden, ErrorResponse{
			Error:   "invalid_role",
			Message: "Only client tokens are allowed",
		}
	}

	if claims.ClientID == "" {
		logger.Error("Request rejected: missing client ID in token")
		return "", http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_token_claims",
			Message: "Client ID not found in token",
		}
	}

	return claims.ClientID, 0, ErrorResponse{}
}

// websocketWithAuth handles WebSocket connections, requiring a client token
// whenever the relay has a signing secret
func websocketWithAuth(hub *websocket.Hub, tokens *auth.TokenManager, c echo.Context, logger *zap.Logger) error {
	if !tokens.Enabled() {
		clientID := "anonymous-" + uuid.NewString()
		logger.Debug("WebSocket connection accepted without authentication", zap.String("clientID", clientID))
		return websocket.HandleWebSocketWithAuth(hub, c, clientID)
	}

	clientID, status, errResp := authorizeClient(c, tokens, logger)
	if status != 0 {
		return c.JSON(status, errResp)
	}

	logger.Info("WebSocket connection authenticated", zap.String("clientID", clientID))

	return websocket.HandleWebSocketWithAuth(hub, c, clientID)
}
