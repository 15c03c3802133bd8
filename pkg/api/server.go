package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/cuemby/hutch/pkg/agents"
	"github.com/cuemby/hutch/pkg/events"
	"github.com/cuemby/hutch/pkg/ingress"
	"github.com/cuemby/hutch/pkg/log"
	"github.com/cuemby/hutch/pkg/metrics"
	"github.com/cuemby/hutch/pkg/storage"
	"github.com/cuemby/hutch/pkg/supervisor"
	"github.com/cuemby/hutch/pkg/users"
)

// Config carries the server's listener address and the cookie lifetime,
// which tracks the session TTL.
type Config struct {
	Addr       string
	SessionTTL time.Duration
}

// Server is the control plane's HTTP surface: the JSON API, the reverse
// proxy mount, and the ops endpoints.
type Server struct {
	cfg          Config
	store        storage.Store
	users        *users.Manager
	supervisor   *supervisor.Supervisor
	agents       *agents.Manager
	broker       *events.Broker
	proxy        *ingress.Proxy
	loginLimiter *ingress.RateLimiter
	httpServer   *http.Server
	logger       zerolog.Logger
}

// New wires the router. The proxy handles its own authentication, so it is
// mounted outside the auth middleware chains.
func New(cfg Config, store storage.Store, userMgr *users.Manager, sup *supervisor.Supervisor, agentMgr *agents.Manager, broker *events.Broker, proxy *ingress.Proxy) *Server {
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 24 * time.Hour
	}

	s := &Server{
		cfg:          cfg,
		store:        store,
		users:        userMgr,
		supervisor:   sup,
		agents:       agentMgr,
		broker:       broker,
		proxy:        proxy,
		loginLimiter: ingress.NewRateLimiter(1, 10),
		logger:       log.WithComponent("api"),
	}

	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Use(s.observe)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: false,
	}))

	r.Get("/healthz", metrics.LivenessHandler())
	r.Get("/readyz", metrics.ReadyHandler())
	r.Get("/health", metrics.HealthHandler())
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		// Public, rate limited per client IP.
		r.Group(func(r chi.Router) {
			r.Use(s.limitAuthAttempts)
			r.Post("/auth/register", s.handleRegister)
			r.Post("/auth/login", s.handleLogin)
		})

		// Logout never fails: revocation is best effort and the cookie is
		// cleared even when the session is already gone.
		r.Post("/auth/logout", s.handleLogout)

		// Authenticated.
		r.Group(func(r chi.Router) {
			r.Use(s.requireAuth)

			r.Get("/auth/me", s.handleMe)
			r.Put("/auth/password", s.handleChangePassword)

			r.Get("/my-instances", s.handleMyInstances)
			r.Get("/my-instances/current", s.handleMyCurrentInstance)
			r.Put("/my-instances/current", s.handleSwitchInstance)
			r.Get("/my-instances/current/health", s.handleMyInstanceHealth)

			// Self-or-admin checks live in the handlers.
			r.Get("/users/{id}", s.handleGetUser)
			r.Put("/users/{id}", s.handleUpdateUser)
			r.Get("/users/{id}/instances", s.handleUserInstances)

			// Usage is recorded by any user assigned to the instance.
			r.Post("/instances/{id}/stats", s.handleRecordUsage)
		})

		// Admin only.
		r.Group(func(r chi.Router) {
			r.Use(s.requireAuth, s.requireAdmin)

			r.Get("/users", s.handleListUsers)
			r.Post("/users", s.handleCreateUser)
			r.Delete("/users/{id}", s.handleDeleteUser)
			r.Post("/users/{id}/instances", s.handleAssignInstances)
			r.Delete("/users/{id}/instances/{instanceID}", s.handleUnassignInstance)
			r.Put("/users/{id}/activate", s.handleSetUserActive)
			r.Put("/users/{id}/password", s.handleResetPassword)

			r.Get("/instances", s.handleListInstances)
			r.Post("/instances", s.handleCreateInstance)
			r.Get("/instances/{id}", s.handleGetInstance)
			r.Put("/instances/{id}", s.handleUpdateInstance)
			r.Delete("/instances/{id}", s.handleDeleteInstance)
			r.Post("/instances/{id}/start", s.handleStartInstance)
			r.Post("/instances/{id}/stop", s.handleStopInstance)
			r.Post("/instances/{id}/restart", s.handleRestartInstance)
			r.Get("/instances/{id}/health", s.handleInstanceHealth)
			r.Get("/instances/{id}/users", s.handleInstanceUsers)
			r.Get("/instances/{id}/agents", s.handleListAgents)
			r.Put("/instances/{id}/agents/{agentType}", s.handleSetAgentConfig)
			r.Post("/instances/{id}/agents/{agentType}/test", s.handleTestAgent)
			r.Get("/instances/{id}/stats", s.handleUsageSummary)

			r.Get("/repo-mappings", s.handleListRepoMappings)
			r.Post("/repo-mappings", s.handleCreateRepoMapping)
			r.Get("/repo-mappings/{id}", s.handleGetRepoMapping)
			r.Put("/repo-mappings/{id}", s.handleUpdateRepoMapping)
			r.Delete("/repo-mappings/{id}", s.handleDeleteRepoMapping)
			r.Get("/webhooks/audits", s.handleListWebhookAudits)

			r.Get("/events", s.handleEvents)
		})

		// The proxy authenticates on its own and answers with
		// proxy-specific envelopes.
		r.Handle("/proxy/*", s.proxy)
	})

	return r
}

// Handler exposes the routed handler for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start serves until Stop is called. A clean shutdown returns nil.
func (s *Server) Start() error {
	s.loginLimiter.StartCleanupJob()
	metrics.UpdateComponent("api", true, "serving")
	s.logger.Info().Str("addr", s.cfg.Addr).Msg("api server listening")

	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop drains in-flight requests until the context expires.
func (s *Server) Stop(ctx context.Context) error {
	s.loginLimiter.Stop()
	metrics.UpdateComponent("api", false, "shutting down")
	s.logger.Info().Msg("api server stopping")
	return s.httpServer.Shutdown(ctx)
}
