// Package api is the campaign control HTTP API.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/tealmail/drip/internal/config"
	"github.com/tealmail/drip/internal/metrics"
	"github.com/tealmail/drip/internal/orchestrator"
	"github.com/tealmail/drip/internal/reputation"
	"github.com/tealmail/drip/internal/repository"
	"github.com/tealmail/drip/internal/template"
)

// Server is the HTTP control API server
type Server struct {
	router     *chi.Mux
	httpServer *http.Server
	config     *config.ServerConfig
	campaigns  *repository.CampaignRepository
	leads      *repository.LeadRepository
	orch       *orchestrator.Orchestrator
	monitor    *reputation.Monitor
	templates  *template.Engine
	metrics    *metrics.Metrics
	logger     *slog.Logger
	startTime  time.Time
}

// NewServer creates a new control API server
func NewServer(
	cfg *config.ServerConfig,
	campaigns *repository.CampaignRepository,
	leads *repository.LeadRepository,
	orch *orchestrator.Orchestrator,
	monitor *reputation.Monitor,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		config:    cfg,
		campaigns: campaigns,
		leads:     leads,
		orch:      orch,
		monitor:   monitor,
		templates: template.NewEngine(),
		metrics:   m,
		logger:    logger.With("component", "api"),
		startTime: time.Now(),
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures the HTTP routes
func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Recoverer)

	// No auth required
	s.router.Get("/health", s.handleHealth)
	s.router.Handle("/metrics", s.metrics.Handler())

	// API v1 routes (auth required)
	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Post("/campaigns", s.handleCreateCampaign)
		r.Get("/campaigns/{id}", s.handleGetCampaign)
		r.Get("/campaigns/{id}/plan", s.handlePlan)
		r.Post("/campaigns/{id}/leads", s.handleAddLeads)
		r.Post("/campaigns/{id}/start", s.handleStart)
		r.Post("/campaigns/{id}/pause", s.handlePause)
		r.Post("/campaigns/{id}/resume", s.handleResume)
		r.Post("/campaigns/{id}/abort", s.handleAbort)
		r.Post("/recover", s.handleRecover)
		r.Post("/events", s.handleEvents)
	})
}

// Handler returns the router, used directly by tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe starts the HTTP server
func (s *Server) ListenAndServe() error {
	s.httpServer = &http.Server{
		Addr:         s.config.ListenAddr,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting control API server", "addr", s.config.ListenAddr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down control API server")
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
