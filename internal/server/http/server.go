// Package httpserver provides the HTTP job API of the pipeline: enqueueing,
// polling and cancelling jobs, streaming project progress and reading the
// processing log.
package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/helixir/slr-pipeline/internal/domain"
	"github.com/helixir/slr-pipeline/internal/repository"
	slrtemporal "github.com/helixir/slr-pipeline/internal/temporal"
)

// JobService is the job client the handlers drive. *temporal.JobClient
// satisfies it.
type JobService interface {
	Enqueue(ctx context.Context, req slrtemporal.JobRequest) (slrtemporal.JobHandle, error)
	Status(ctx context.Context, jobID string) (*domain.Job, error)
	Cancel(ctx context.Context, jobID string) (slrtemporal.CancelOutcome, error)
	Health(ctx context.Context) error
}

// ProjectReader loads projects.
type ProjectReader interface {
	Get(ctx context.Context, id uuid.UUID) (*domain.Project, error)
}

// ProgressStreamer delivers a project's notifications. *notify.Subscriber
// satisfies it.
type ProgressStreamer interface {
	Stream(ctx context.Context, projectID string, fn func(domain.Notification) error) error
}

// Pinger checks database connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators of the server. Progress may be nil when the
// notification bus is disabled; the progress endpoint then answers 503.
type Deps struct {
	Jobs     JobService
	Projects ProjectReader
	Logs     repository.ProcessingLogRepository
	Progress ProgressStreamer
	DB       Pinger
}

// Server is the HTTP REST API server.
type Server struct {
	router     chi.Router
	httpServer *http.Server
	deps       Deps
	validate   *validator.Validate
	logger     zerolog.Logger
}

// Config holds HTTP server configuration.
type Config struct {
	Address         string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	// MetricsPath mounts the Prometheus handler when non-empty.
	MetricsPath string
}

// NewServer creates a new HTTP server with all dependencies.
func NewServer(cfg Config, deps Deps, logger zerolog.Logger) *Server {
	s := &Server{
		deps:     deps,
		validate: newValidator(),
		logger:   logger.With().Str("component", "http-server").Logger(),
	}

	s.router = s.buildRouter(cfg.MetricsPath)

	s.httpServer = &http.Server{
		Addr:         cfg.Address,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return s
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter(metricsPath string) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(correlationIDMiddleware)
	r.Use(requestLogger(s.logger))

	r.Get("/healthz", s.healthHandler)
	r.Get("/readyz", s.readinessHandler)
	if metricsPath != "" {
		r.Handle(metricsPath, promhttp.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(jsonContentTypeMiddleware)
			r.Post("/projects/{projectID}/jobs", s.enqueueJob)
			r.Get("/projects/{projectID}/logs", s.listLogs)
			r.Get("/jobs/{jobID}", s.getJob)
			r.Delete("/jobs/{jobID}", s.cancelJob)
		})
		r.Get("/projects/{projectID}/progress", s.streamProgress)
	})

	return r
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Info().Str("address", s.httpServer.Addr).Msg("HTTP server starting")
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen on HTTP address: %w", err)
	}
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// healthHandler reports liveness only.
func (s *Server) healthHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// readinessHandler checks the database and the queue backend.
func (s *Server) readinessHandler(w http.ResponseWriter, r *http.Request) {
	status := map[string]string{"database": "healthy", "temporal": "healthy"}
	ready := true

	if s.deps.DB != nil {
		if err := s.deps.DB.Ping(r.Context()); err != nil {
			s.logger.Warn().Err(err).Msg("database not ready")
			status["database"] = "unhealthy"
			ready = false
		}
	}
	if err := s.deps.Jobs.Health(r.Context()); err != nil {
		s.logger.Warn().Err(err).Msg("temporal not ready")
		status["temporal"] = "unhealthy"
		ready = false
	}

	if !ready {
		status["status"] = "not_ready"
		writeJSON(w, http.StatusServiceUnavailable, status)
		return
	}
	status["status"] = "ready"
	writeJSON(w, http.StatusOK, status)
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	// Headers are already sent; an encode failure cannot be reported.
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{
		"error": message,
	})
}
