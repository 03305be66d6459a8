package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/alvesdmateus/deploy-engine/internal/observability"
	"github.com/alvesdmateus/deploy-engine/internal/orchestrator"
	"github.com/alvesdmateus/deploy-engine/internal/state"
	"github.com/alvesdmateus/deploy-engine/pkg/database"
)

// QueuePinger reports queue connectivity for health checks.
// Implemented by queue.RedisQueue.
type QueuePinger interface {
	Ping(ctx context.Context) error
}

// ServerOptions holds the dependencies for the API server
type ServerOptions struct {
	DB        *gorm.DB
	Engine    *orchestrator.Engine
	Queue     QueuePinger
	Metrics   *observability.Metrics
	Tracer    *observability.Tracer
	RateLimit RateLimitConfig
}

// Server represents the HTTP API server
type Server struct {
	router     *chi.Mux
	db         *gorm.DB
	queue      QueuePinger
	rateLimit  RateLimitConfig
	runHandler *RunHandler
}

// NewServer creates a new API server
func NewServer(opts ServerOptions) *Server {
	repo := state.NewRepository(opts.DB)

	s := &Server{
		router:     chi.NewRouter(),
		db:         opts.DB,
		queue:      opts.Queue,
		rateLimit:  opts.RateLimit,
		runHandler: NewRunHandler(opts.Engine, repo),
	}

	s.setupRoutes(opts.Metrics, opts.Tracer)
	return s
}

// setupRoutes configures all routes
func (s *Server) setupRoutes(metrics *observability.Metrics, tracer *observability.Tracer) {
	// Middleware
	s.router.Use(middleware.RequestID)
	s.router.Use(RecoveryMiddleware)
	s.router.Use(RequestLogger)
	s.router.Use(CORSMiddleware())
	s.router.Use(middleware.RealIP)
	if metrics != nil {
		s.router.Use(MetricsMiddleware(metrics))
	}
	if tracer != nil {
		s.router.Use(TracingMiddleware(tracer))
	}
	s.router.Use(RateLimitMiddleware(s.rateLimit))

	// Health check and metrics
	s.router.Get("/health", s.healthCheck)
	s.router.Handle("/metrics", promhttp.Handler())

	// API v1 routes
	s.router.Route("/api/v1", func(r chi.Router) {
		r.Route("/runs", func(r chi.Router) {
			r.Get("/", s.runHandler.ListRuns)
			r.Get("/{id}", s.runHandler.GetRun)

			// Submission gets a tighter limit than the read endpoints
			submitLimit := SubmitRateLimitConfig()
			submitLimit.Enabled = s.rateLimit.Enabled
			r.With(RateLimitMiddleware(submitLimit)).Post("/", s.runHandler.SubmitRun)
		})

		r.Get("/apps/{app}/image", s.runHandler.GetLatestImage)
	})
}

// healthCheck handles GET /health
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	dbStatus := "ok"
	if err := database.HealthCheck(s.db); err != nil {
		dbStatus = "error"
	}

	queueStatus := "ok"
	if s.queue == nil {
		queueStatus = "disabled"
	} else if err := s.queue.Ping(r.Context()); err != nil {
		queueStatus = "error"
	}

	status := "ok"
	if dbStatus != "ok" || queueStatus == "error" {
		status = "degraded"
	}

	RespondWithJSON(w, http.StatusOK, HealthResponse{
		Status:   status,
		Database: dbStatus,
		Queue:    queueStatus,
		Version:  "1.0.0",
	})
}

// Handler returns the http.Handler for the server
func (s *Server) Handler() http.Handler {
	return s.router
}
