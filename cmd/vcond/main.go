// Package main implements the entry point for the vCon registry service.
// It initializes all components and starts the HTTP server.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/RegistryAccord/registryaccord-vcon-go/internal/archive"
	"github.com/RegistryAccord/registryaccord-vcon-go/internal/config"
	"github.com/RegistryAccord/registryaccord-vcon-go/internal/event"
	"github.com/RegistryAccord/registryaccord-vcon-go/internal/jwks"
	"github.com/RegistryAccord/registryaccord-vcon-go/internal/schema"
	"github.com/RegistryAccord/registryaccord-vcon-go/internal/server"
	"github.com/RegistryAccord/registryaccord-vcon-go/internal/storage"
	"github.com/RegistryAccord/registryaccord-vcon-go/internal/telemetry"
)

// main initializes all components, starts the HTTP server, and handles graceful shutdown.
func main() {
	// Load configuration from environment variables
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	// Configure structured logging for the application
	logLevel := slog.LevelInfo
	if cfg.Env == "dev" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	// Spans go to stdout in dev only
	var spanOut io.Writer
	if cfg.Env == "dev" {
		spanOut = os.Stdout
	}
	if _, err := telemetry.InitTracer(telemetry.ServiceName, spanOut); err != nil {
		logger.Error("failed to initialize OpenTelemetry tracer", "error", err)
		os.Exit(1)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		telemetry.ShutdownTracer(ctx)
	}()

	startCtx, cancelStart := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelStart()

	// Initialize storage backend (PostgreSQL or in-memory)
	var store storage.Store
	if cfg.DatabaseDSN != "" {
		store, err = storage.NewPostgres(cfg.DatabaseDSN)
		if err != nil {
			logger.Error("failed to initialize postgres storage", "error", err)
			os.Exit(1)
		}
	} else {
		logger.Warn("VCON_DATABASE_DSN not set, using in-memory storage")
		store = storage.NewMemory()
	}
	store = storage.Instrument(store)

	// Optional redis read cache in front of the store
	rdb, err := storage.NewRedisClient(startCtx, cfg.RedisURL)
	if err != nil {
		logger.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	if rdb != nil {
		store = storage.NewCached(store, rdb, cfg.CacheTTL)
	}

	// Initialize event publisher (NATS JetStream, RabbitMQ or no-op)
	pub := event.NewPublisher(event.Options{
		Backend:      cfg.EventBackend,
		NATSURL:      cfg.NATSURL,
		AMQPURL:      cfg.AMQPURL,
		AMQPExchange: cfg.AMQPExchange,
	})
	defer pub.Close()

	// Archive is optional; a nil interface disables it
	var arch archive.Archive
	if cfg.S3Bucket != "" {
		s3c, err := archive.NewS3Client(startCtx, cfg.S3Endpoint, cfg.S3Region, cfg.S3Bucket, cfg.S3AccessKey, cfg.S3SecretKey)
		if err != nil {
			logger.Error("failed to initialize S3 archive", "error", err)
			os.Exit(1)
		}
		arch = s3c
	}

	// JWT verification
	var jwksClient *jwks.Client
	switch {
	case cfg.JWKSURL != "":
		jwksClient = jwks.NewClient(cfg.JWKSURL)
	case cfg.Env == "dev":
		logger.Warn("VCON_JWKS_URL not set, JWT signatures are not verified")
		jwksClient = jwks.NewTestClient()
	default:
		jwksClient = jwks.NewClient(strings.TrimSuffix(cfg.JWTIssuer, "/") + "/.well-known/jwks.json")
	}

	validator, err := schema.NewValidator()
	if err != nil {
		logger.Error("failed to initialize schema validator", "error", err)
		os.Exit(1)
	}

	// Create HTTP mux with all handlers and middleware
	mux := server.NewMux(store, pub, arch, jwksClient, validator, server.Options{
		JWTIssuer:          cfg.JWTIssuer,
		JWTAudience:        cfg.JWTAudience,
		MaxDocumentSize:    cfg.MaxDocumentSize,
		DefaultListLimit:   cfg.DefaultListLimit,
		MaxListLimit:       cfg.MaxListLimit,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
	})

	addr := fmt.Sprintf(":%s", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	go func() {
		logger.Info("server starting", "addr", addr, "env", cfg.Env, "events", cfg.EventBackend, "archive", arch != nil, "cache", rdb != nil)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", "error", err)
	}

	// Closes redis and postgres, whichever are in use
	if closer, ok := store.(interface{ Close() }); ok {
		closer.Close()
	}

	logger.Info("server exited")
}
