// Package api exposes the ingestion pipeline and alert lifecycle over
// HTTP.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/opensource-finance/harrier/internal/alerting"
	"github.com/opensource-finance/harrier/internal/detect"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/ingest"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(
	cfg *domain.Config,
	store domain.Store,
	cache domain.Cache,
	bus domain.EventBus,
	orchestrator *ingest.Orchestrator,
	lifecycle *alerting.Lifecycle,
	rules *detect.RuleSet,
	version string,
) *Server {
	handler := NewHandler(store, cache, bus, orchestrator, lifecycle, rules, cfg.Ingest.MaxFileBytes, version)
	router := chi.NewRouter()

	// Global middleware stack
	router.Use(CORSMiddleware)         // CORS for browser clients
	router.Use(RecoverMiddleware)      // Recover from panics
	router.Use(TracingMiddleware)      // OpenTelemetry tracing
	router.Use(LoggingMiddleware)      // Request logging
	router.Use(middleware.RealIP)      // Extract real IP
	router.Use(middleware.Compress(5)) // Gzip compression

	// Health endpoints
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)

	// File ingestion
	router.Post("/uploads", handler.Upload)
	router.Get("/uploads/{id}", handler.GetUpload)
	router.Delete("/uploads/{id}", handler.CancelUpload)

	// Transactions
	router.Get("/transactions/export", handler.ExportTransactions)
	router.Get("/transactions/{id}", handler.GetTransaction)
	router.Delete("/transactions", handler.DeleteTransactions)

	// Alerts
	router.Get("/alerts", handler.ListAlerts)
	router.Get("/alerts/summary", handler.AlertSummary)
	router.Get("/alerts/{id}", handler.GetAlert)
	router.Post("/alerts/{id}/transition", handler.TransitionAlert)

	// Custom rule management
	router.Get("/rules", handler.ListRules)
	router.Post("/rules", handler.CreateRule)
	router.Post("/rules/reload", handler.ReloadRules)

	return &Server{
		router:  router,
		handler: handler,
		config:  cfg.Server,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Handler returns the handler for testing.
func (s *Server) Handler() *Handler {
	return s.handler
}
