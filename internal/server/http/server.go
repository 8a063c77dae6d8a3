// Package httpserver provides the administrative HTTP API of the search
// indexing agent: health probes, on-demand reindexing and checkpoint
// inspection.
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
	"github.com/rs/zerolog"

	"github.com/helixir/search-agent/internal/agent"
	"github.com/helixir/search-agent/internal/checkpoint"
	"github.com/helixir/search-agent/internal/database"
)

// Indexer reindexes papers on demand. *agent.Processor satisfies it.
type Indexer interface {
	IndexPaper(ctx context.Context, paperID string) error
	IndexPapers(ctx context.Context, paperIDs []string) (agent.BatchReport, error)
}

// CheckpointReader exposes stream progress. *checkpoint.PgStore satisfies it.
type CheckpointReader interface {
	Stream() string
	List(ctx context.Context) ([]checkpoint.Checkpoint, error)
	ListFailures(ctx context.Context, limit int) ([]checkpoint.Failure, error)
}

// HealthChecker reports database health. *database.DB satisfies it.
type HealthChecker interface {
	Health(ctx context.Context) database.HealthStatus
}

// Pinger checks that the search engine is reachable. *index.Client satisfies it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server is the admin HTTP API server.
type Server struct {
	router      chi.Router
	httpServer  *http.Server
	indexer     Indexer
	checkpoints CheckpointReader
	db          HealthChecker
	index       Pinger
	validate    *validator.Validate
	logger      zerolog.Logger
}

// Config holds HTTP server configuration.
type Config struct {
	Address         string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// NewServer creates a new HTTP server with all dependencies.
func NewServer(
	cfg Config,
	indexer Indexer,
	checkpoints CheckpointReader,
	db HealthChecker,
	index Pinger,
	logger zerolog.Logger,
) *Server {
	s := &Server{
		indexer:     indexer,
		checkpoints: checkpoints,
		db:          db,
		index:       index,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
		logger:      logger.With().Str("component", "http-server").Logger(),
	}

	s.router = s.buildRouter()

	s.httpServer = &http.Server{
		Addr:         cfg.Address,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// buildRouter creates the chi router with all middleware and routes.
func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(correlationIDMiddleware)
	r.Use(jsonContentTypeMiddleware)

	// Health endpoints
	r.Get("/healthz", s.healthHandler)
	r.Get("/readyz", s.readinessHandler)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/papers/{paperID}/reindex", s.reindexPaper)
		r.Post("/reindex", s.reindexPapers)
		r.Get("/checkpoints", s.listCheckpoints)
		r.Get("/failures", s.listFailures)
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

// healthHandler returns basic liveness status.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// readinessHandler reports whether the checkpoint database and the search
// engine are reachable.
func (s *Server) readinessHandler(w http.ResponseWriter, r *http.Request) {
	resp := readinessResponse{Status: "ready", Database: "healthy", Index: "healthy"}
	ready := true

	if s.db != nil {
		health := s.db.Health(r.Context())
		if health.Status != "healthy" {
			ready = false
			resp.Database = health.Status
			resp.Errors = append(resp.Errors, health.Error)
		}
	}
	if s.index != nil {
		if err := s.index.Ping(r.Context()); err != nil {
			ready = false
			resp.Index = "unhealthy"
			resp.Errors = append(resp.Errors, err.Error())
		}
	}

	if !ready {
		resp.Status = "not_ready"
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Best-effort log; headers already sent.
		_ = err
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{
		"error": message,
	})
}
