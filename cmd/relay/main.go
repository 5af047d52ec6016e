package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/satriahrh/livescribe/adapters"
	"github.com/satriahrh/livescribe/internal/api"
	"github.com/satriahrh/livescribe/internal/auth"
	"github.com/satriahrh/livescribe/internal/bootstrap"
	"github.com/satriahrh/livescribe/internal/config"
	"github.com/satriahrh/livescribe/internal/metrics"
	"github.com/satriahrh/livescribe/internal/tracing"
	"github.com/satriahrh/livescribe/internal/websocket"
)

func main() {
	var (
		configPath string
		issueToken string
	)
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.StringVar(&issueToken, "issue-token", "", "Print a client token for this client ID and exit")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger, err := cfg.Log.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	tokens := auth.NewTokenManager(cfg.Server.JWTSecret, time.Duration(cfg.Server.TokenTTLMS)*time.Millisecond)
	if issueToken != "" {
		token, err := tokens.GenerateClientToken(issueToken)
		if err != nil {
			logger.Fatal("Failed to issue client token", zap.Error(err))
		}
		fmt.Println(token)
		return
	}
	if !tokens.Enabled() {
		logger.Warn("No JWT secret configured, relay accepts unauthenticated clients")
	}

	shutdownTracing, err := tracing.Setup(context.Background(), tracing.Config{
		Enabled:      cfg.Tracing.Enabled,
		ServiceName:  api.ServiceName,
		Environment:  cfg.Tracing.Environment,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
		OTLPInsecure: cfg.Tracing.OTLPInsecure,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to set up tracing", zap.Error(err))
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	relayMetrics := metrics.NewMetrics(registry)

	// Initialize usecase services
	transcriber, err := bootstrap.NewTranscriber(cfg, relayMetrics, logger)
	if err != nil {
		logger.Fatal("Failed to configure transcriber", zap.Error(err))
	}

	history, closeHistory, err := bootstrap.NewSessionHistory(context.Background(), cfg.History, logger)
	if err != nil {
		logger.Fatal("Failed to open session history", zap.Error(err))
	}
	defer closeHistory()

	publisher, closePublisher, err := bootstrap.NewEventPublisher(cfg.Bus, logger)
	if err != nil {
		logger.Fatal("Failed to connect event bus", zap.Error(err))
	}
	defer closePublisher()

	// Initialize WebSocket hub
	hubCtx, stopHub := context.WithCancel(context.Background())
	hub := websocket.NewHub(transcriber, relayMetrics, cfg.Server.AllowedOrigins, logger,
		websocket.WithHistory(history),
		websocket.WithPublisher(publisher))
	go hub.Run(hubCtx)

	// Create Echo instance
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{AllowOrigins: cfg.Server.AllowedOrigins}))

	// Initialize API routes
	clients := adapters.NewMemoryClientRepository(cfg.Server.Clients)
	api.InitRoutes(e, hub, clients, history, tokens, registry, logger)

	port := strconv.Itoa(cfg.Server.Port)

	// Graceful shutdown
	go func() {
		if err := e.Start(":" + port); err != nil && err != http.ErrServerClosed {
			logger.Fatal("shutting down the server", zap.Error(err))
		}
	}()

	logger.Info("Relay started",
		zap.String("port", port),
		zap.String("provider", cfg.Transcription.Provider),
		zap.String("history", cfg.History.Backend),
		zap.Int("clients", clients.Count()))

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("Relay is shutting down...")

	stopHub()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(ctx); err != nil {
		logger.Fatal("Server forced to shutdown", zap.Error(err))
	}
	if err := shutdownTracing(ctx); err != nil {
		logger.Warn("Failed to flush traces", zap.Error(err))
	}

	logger.Info("Relay exited")
}
