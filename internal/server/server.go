// Package server provides the HTTP decision API: one endpoint that runs the
// guardrail pipeline and a read surface over the audit trail.
package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/txsentry/txsentry/internal/evidence"
	txotel "github.com/txsentry/txsentry/internal/otel"
	"github.com/txsentry/txsentry/internal/owner"
	"github.com/txsentry/txsentry/internal/pipeline"
)

const defaultTimeout = 15 * time.Second

// Server holds all dependencies for the HTTP API.
type Server struct {
	router       *chi.Mux
	pipeline     *pipeline.Pipeline
	auditStore   *evidence.Store
	ownerManager *owner.Manager
	apiKeys      map[string]string
	corsOrigins  []string
	startTime    time.Time
	routesOnce   sync.Once
}

// Option configures the Server.
type Option func(*Server)

// WithOwnerManager sets the owner manager for rate limiting and budgets.
func WithOwnerManager(m *owner.Manager) Option {
	return func(s *Server) { s.ownerManager = m }
}

// WithCORSOrigins sets allowed CORS origins (e.g. ["*"]).
func WithCORSOrigins(origins []string) Option {
	return func(s *Server) { s.corsOrigins = origins }
}

// NewServer builds a Server. apiKeys maps API key -> owner id.
func NewServer(p *pipeline.Pipeline, auditStore *evidence.Store, apiKeys map[string]string, opts ...Option) *Server {
	s := &Server{
		router:      chi.NewRouter(),
		pipeline:    p,
		auditStore:  auditStore,
		apiKeys:     apiKeys,
		corsOrigins: []string{"*"},
		startTime:   time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.apiKeys == nil {
		s.apiKeys = make(map[string]string)
	}
	return s
}

// Routes returns the configured http.Handler. Safe to call more than once;
// the route table is built on first use.
func (s *Server) Routes() http.Handler {
	s.routesOnce.Do(s.buildRoutes)
	return s.router
}

func (s *Server) buildRoutes() {
	r := s.router
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(txotel.Middleware())
	r.Use(CORSMiddleware(s.corsOrigins))

	// Unauthenticated
	r.Get("/healthz", s.handleHealth)
	r.Get("/v1/health", s.handleHealth)

	// Authenticated API group
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(s.apiKeys))
		r.Use(RateLimitMiddleware(s.ownerManager))
		r.Use(middleware.Timeout(defaultTimeout))

		r.Post("/v1/decisions", s.handleDecision)

		r.Get("/v1/audit", s.handleAuditList)
		r.Get("/v1/audit/{id}", s.handleAuditGet)
		r.Get("/v1/audit/{id}/verify", s.handleAuditVerify)

		r.Get("/v1/status", s.handleStatus)
	})
}
