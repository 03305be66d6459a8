package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/alvesdmateus/deploy-engine/internal/builder"
	"github.com/alvesdmateus/deploy-engine/internal/command"
	"github.com/alvesdmateus/deploy-engine/internal/credentials"
	"github.com/alvesdmateus/deploy-engine/internal/observability"
	"github.com/alvesdmateus/deploy-engine/internal/orchestrator"
	"github.com/alvesdmateus/deploy-engine/internal/pipeline"
	"github.com/alvesdmateus/deploy-engine/internal/provision"
	"github.com/alvesdmateus/deploy-engine/internal/queue"
	"github.com/alvesdmateus/deploy-engine/internal/registry"
	"github.com/alvesdmateus/deploy-engine/internal/state"
	"github.com/alvesdmateus/deploy-engine/pkg/config"
	"github.com/alvesdmateus/deploy-engine/pkg/database"
)

func main() {
	// Initialize logger
	zlog := zerolog.New(os.Stdout).With().Timestamp().Logger()
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	zlog.Info().Msg("Starting deploy-engine worker")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to load configuration")
	}
	setLogLevel(cfg.Server.LogLevel)

	zlog.Info().
		Str("provisioner_binary", cfg.Provisioner.Binary).
		Int("worker_concurrency", cfg.Worker.Concurrency).
		Msg("Configuration loaded")

	// Initialize tracing
	ctx := context.Background()
	if err := observability.InitGlobalTracer(ctx, tracingFromConfig(cfg)); err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize tracing")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := observability.ShutdownGlobalTracer(shutdownCtx); err != nil {
			zlog.Error().Err(err).Msg("Failed to shutdown tracer")
		}
	}()

	// Connect to database
	zlog.Info().Msg("Connecting to database...")
	db, err := database.New(databaseFromConfig(cfg))
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer database.Close(db)

	zlog.Info().Msg("Database connected successfully")

	// Run migrations
	zlog.Info().Msg("Running database migrations...")
	if err := state.AutoMigrate(db); err != nil {
		zlog.Fatal().Err(err).Msg("Failed to run database migrations")
	}
	zlog.Info().Msg("Database migrations completed")

	// Create repository
	repo := state.NewRepository(db)

	// Connect to Redis queue
	zlog.Info().
		Str("redis_addr", cfg.Redis.Addr).
		Int("redis_db", cfg.Redis.DB).
		Msg("Connecting to Redis...")

	runQueue, err := queue.NewRedisQueue(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer runQueue.Close()

	if err := runQueue.Ping(ctx); err != nil {
		zlog.Fatal().Err(err).Msg("Redis ping failed")
	}
	zlog.Info().Msg("Redis connected successfully")

	// Initialize credential provider
	credsProvider, err := credentials.NewFactory(zlog).Create(
		ctx,
		credentials.Kind(cfg.Credentials.Source),
		cfg.Credentials.Region,
		cfg.Credentials.EnvPrefix,
	)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to create credential provider")
	}

	// Initialize provisioning engine
	zlog.Info().Str("binary", cfg.Provisioner.Binary).Msg("Verifying provisioner binary...")

	runner := command.NewExecRunner(zlog, cfg.Pipeline.MaxOutputBytes)
	provisionEngine := provision.NewEngine(runner, provision.Config{
		Binary:         cfg.Provisioner.Binary,
		InitTimeout:    cfg.Provisioner.InitTimeout,
		PlanTimeout:    cfg.Provisioner.PlanTimeout,
		ApplyTimeout:   cfg.Provisioner.ApplyTimeout,
		DestroyTimeout: cfg.Provisioner.DestroyTimeout,
	}, zlog)

	if err := provisionEngine.Verify(ctx); err != nil {
		zlog.Fatal().Err(err).Msg("Provisioner verification failed - ensure the binary is installed and on PATH")
	}
	zlog.Info().Msg("Provisioner verified successfully")

	// Initialize image builder and registry publishers
	zlog.Info().Msg("Connecting to docker daemon...")

	imageBuilder, err := builder.NewDockerBuilder(zlog)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to create image builder")
	}

	publishers, err := registry.NewDockerFactory(zlog)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to create registry publisher factory")
	}

	zlog.Info().Msg("Docker daemon connected successfully")

	// Assemble the pipeline
	recorder := pipeline.NewStateRecorder(repo)
	pipe := pipeline.NewPipeline(imageBuilder, publishers, provisionEngine, credsProvider, recorder, zlog)

	// Create orchestrator engine and worker
	engine := orchestrator.NewEngine(runQueue, repo, zlog)
	metrics := observability.NewMetrics("")
	worker := orchestrator.NewWorker(engine, pipe, metrics, cfg.Worker.Concurrency, cfg.Worker.RunTimeout, zlog)

	// Create context that listens for interrupt signals
	workerCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	zlog.Info().
		Int("concurrency", cfg.Worker.Concurrency).
		Dur("run_timeout", cfg.Worker.RunTimeout).
		Msg("Starting run worker...")

	// Start worker in goroutine
	workerErrChan := make(chan error, 1)
	go func() {
		if err := worker.Start(workerCtx); err != nil {
			workerErrChan <- err
		}
	}()

	zlog.Info().Msg("Worker started successfully, processing runs...")

	// Wait for interrupt signal or worker error
	select {
	case <-workerCtx.Done():
		zlog.Info().Msg("Received shutdown signal, stopping worker gracefully...")
	case err := <-workerErrChan:
		zlog.Error().Err(err).Msg("Worker encountered an error")
	}

	zlog.Info().Msg("Worker shutdown complete")
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
	}
}
