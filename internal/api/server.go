// Package api provides the HTTP REST API for Deckvault Core.
//
// It exposes login, registration, token refresh and session management to
// clients, and user, maintenance and audit administration to admins. Every
// protected route runs through an access.Pipeline built by guard().
//
// The server follows the same lifecycle pattern as other infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/deckvault/deckvault-core/internal/access"
	"github.com/deckvault/deckvault-core/internal/audit"
	"github.com/deckvault/deckvault-core/internal/auth"
	"github.com/deckvault/deckvault-core/internal/events"
	"github.com/deckvault/deckvault-core/internal/infrastructure/config"
	"github.com/deckvault/deckvault-core/internal/infrastructure/logging"
	"github.com/deckvault/deckvault-core/internal/ratelimit"
	"github.com/deckvault/deckvault-core/internal/session"
	"github.com/deckvault/deckvault-core/internal/settings"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// HealthChecker reports whether a backing store is reachable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// SettingsStore reads and writes runtime settings.
type SettingsStore interface {
	MaintenanceMode(ctx context.Context) (bool, error)
	Maintenance(ctx context.Context) (*settings.Maintenance, error)
	SetMaintenanceMode(ctx context.Context, enabled bool, updatedBy string) (*settings.Maintenance, error)
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	Auth     config.AuthConfig
	Logger   *logging.Logger
	DB       HealthChecker
	Users    auth.UserRepository
	Tokens   *auth.TokenService
	Sessions session.Store
	Gate     *access.Gate
	Limiter  ratelimit.Limiter // nil disables rate limiting
	Settings SettingsStore
	Audit    audit.Repository
	Events   *events.Bus // nil discards events
	Version  string
}

// Server is the HTTP API server for Deckvault Core.
//
// The server is created with New() and started with Start().
type Server struct {
	cfg       config.APIConfig
	authCfg   config.AuthConfig
	logger    *logging.Logger
	db        HealthChecker
	users     auth.UserRepository
	tokens    *auth.TokenService
	sessions  session.Store
	gate      *access.Gate
	limiter   ratelimit.Limiter
	settings  SettingsStore
	audit     audit.Repository
	events    *events.Bus
	validator *requestValidator
	version   string
	server    *http.Server
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	switch {
	case deps.Logger == nil:
		return nil, fmt.Errorf("logger is required")
	case deps.Users == nil:
		return nil, fmt.Errorf("user repository is required")
	case deps.Tokens == nil:
		return nil, fmt.Errorf("token service is required")
	case deps.Sessions == nil:
		return nil, fmt.Errorf("session store is required")
	case deps.Gate == nil:
		return nil, fmt.Errorf("access gate is required")
	case deps.Settings == nil:
		return nil, fmt.Errorf("settings store is required")
	case deps.Audit == nil:
		return nil, fmt.Errorf("audit repository is required")
	}

	return &Server{
		cfg:       deps.Config,
		authCfg:   deps.Auth,
		logger:    deps.Logger,
		db:        deps.DB,
		users:     deps.Users,
		tokens:    deps.Tokens,
		sessions:  deps.Sessions,
		gate:      deps.Gate,
		limiter:   deps.Limiter,
		settings:  deps.Settings,
		audit:     deps.Audit,
		events:    deps.Events,
		validator: newRequestValidator(),
		version:   deps.Version,
	}, nil
}

// Handler returns the fully wired router. Start uses it; tests serve it
// through httptest.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Start begins listening for HTTP connections in a background goroutine.
// The server can be stopped with Close().
func (s *Server) Start(_ context.Context) error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.Handler(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", s.server.Addr,
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", s.server.Addr)
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}
