package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/alvesdmateus/deploy-engine/internal/api"
	"github.com/alvesdmateus/deploy-engine/internal/observability"
	"github.com/alvesdmateus/deploy-engine/internal/orchestrator"
	"github.com/alvesdmateus/deploy-engine/internal/queue"
	"github.com/alvesdmateus/deploy-engine/internal/state"
	"github.com/alvesdmateus/deploy-engine/pkg/config"
	"github.com/alvesdmateus/deploy-engine/pkg/database"
)

func main() {
	// Initialize logger
	log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Set log level
	setLogLevel(cfg.Server.LogLevel)

	log.Info().
		Str("app", "deploy-engine").
		Str("port", cfg.Server.Port).
		Msg("Starting API server")

	// Initialize tracing
	ctx := context.Background()
	tracingConfig := tracingFromConfig(cfg)
	if err := observability.InitGlobalTracer(ctx, tracingConfig); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize tracing")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := observability.ShutdownGlobalTracer(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Failed to shut down tracer")
		}
	}()

	// Connect to database
	db, err := database.New(databaseFromConfig(cfg))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer func() {
		if err := database.Close(db); err != nil {
			log.Error().Err(err).Msg("Failed to close database")
		}
	}()

	// Run migrations
	if err := state.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("Failed to run migrations")
	}

	// Perform health check
	if err := database.HealthCheck(db); err != nil {
		log.Fatal().Err(err).Msg("Database health check failed")
	}

	log.Info().Msg("Database is healthy")

	// Connect to the run queue
	runQueue, err := queue.NewRedisQueue(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer runQueue.Close()

	repo := state.NewRepository(db)
	engine := orchestrator.NewEngine(runQueue, repo, log.Logger)
	metrics := observability.NewMetrics("")

	rateLimit := api.DefaultRateLimitConfig()
	rateLimit.Enabled = cfg.Server.RateLimit

	// Initialize HTTP server
	apiServer := api.NewServer(api.ServerOptions{
		DB:        db,
		Engine:    engine,
		Queue:     runQueue,
		Metrics:   metrics,
		Tracer:    observability.GetGlobalTracer(),
		RateLimit: rateLimit,
	})
	httpServer := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      apiServer.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start HTTP server in a goroutine
	go func() {
		log.Info().
			Str("port", cfg.Server.Port).
			Msg("Starting HTTP server")

		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	log.Info().
		Str("port", cfg.Server.Port).
		Msg("API server ready")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down API server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	log.Info().Msg("API server stopped")
}

// databaseFromConfig maps the loaded configuration onto a database config
func databaseFromConfig(cfg *config.Config) database.Config {
	return database.Config{
		Driver:          cfg.Database.Driver,
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		User:            cfg.Database.User,
		Password:        cfg.Database.Password,
		DBName:          cfg.Database.DBName,
		SSLMode:         cfg.Database.SSLMode,
		Path:            cfg.Database.Path,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}
}

// tracingFromConfig maps the loaded configuration onto a tracing config
func tracingFromConfig(cfg *config.Config) observability.TracingConfig {
	return observability.TracingConfig{
		Enabled:        cfg.Tracing.Enabled,
		ServiceName:    cfg.Tracing.ServiceName,
		ServiceVersion: cfg.Tracing.ServiceVersion,
		Environment:    cfg.Tracing.Environment,
		OTLPEndpoint:   cfg.Tracing.OTLPEndpoint,
		SampleRate:     cfg.Tracing.SampleRate,
		Insecure:       cfg.Tracing.Insecure,
	}
}

// setLogLevel sets the global log level based on configuration
func setLogLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
