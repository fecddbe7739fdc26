package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"lendpool/core"
	"lendpool/gateway/audit"
	"lendpool/gateway/config"
	"lendpool/gateway/middleware"
	"lendpool/gateway/routes"
)

// Server fronts a node with the REST gateway: routing, authentication,
// rate limits, and the mutation audit journal.
type Server struct {
	cfg     config.Config
	logger  *slog.Logger
	journal *audit.Journal
	handler http.Handler

	serverMu   sync.Mutex
	httpServer *http.Server
}

// New assembles the gateway around an in-process node. rpcHandler, when
// non-nil, is mounted at /rpc so JSON-RPC clients can share the port.
func New(cfg config.Config, node *core.Node, rpcHandler http.Handler, logger *slog.Logger) (*Server, error) {
	if node == nil {
		return nil, fmt.Errorf("nil node")
	}
	if logger == nil {
		logger = slog.Default()
	}

	var journal *audit.Journal
	if cfg.Audit.Enabled {
		opened, err := audit.Open(cfg.Audit.Path)
		if err != nil {
			return nil, fmt.Errorf("open audit journal: %w", err)
		}
		journal = opened
	}

	limits := make(map[string]middleware.RateLimit, len(cfg.RateLimits))
	for _, entry := range cfg.RateLimits {
		limits[entry.ID] = middleware.RateLimit{
			RequestsPerMinute: entry.RequestsPerMinute,
			Burst:             entry.Burst,
		}
	}

	var authenticator *middleware.Authenticator
	if cfg.Auth.Enabled {
		authenticator = middleware.NewAuthenticator(middleware.AuthConfig{
			Enabled:        true,
			HMACSecret:     cfg.Auth.HMACSecret,
			Issuer:         cfg.Auth.Issuer,
			Audience:       cfg.Auth.Audience,
			ScopeClaim:     cfg.Auth.ScopeClaim,
			OptionalPaths:  cfg.Auth.OptionalPaths,
			AllowAnonymous: cfg.Auth.AllowAnonymous,
			ClockSkew:      cfg.Auth.ClockSkew,
		}, logger)
	}

	obs := middleware.NewObservability(middleware.ObservabilityConfig{
		ServiceName:   cfg.Observability.ServiceName,
		MetricsPrefix: cfg.Observability.MetricsPrefix,
		LogRequests:   cfg.Observability.LogRequests,
		Enabled:       cfg.Observability.Metrics,
	}, logger)

	handler, err := routes.New(routes.Config{
		Node:          node,
		RPCHandler:    rpcHandler,
		Authenticator: authenticator,
		RateLimiter:   middleware.NewRateLimiter(limits),
		Observability: obs,
		Journal:       journal,
		Logger:        logger,
		CORS: middleware.CORSConfig{
			AllowedOrigins:   cfg.CORS.AllowedOrigins,
			AllowedMethods:   cfg.CORS.AllowedMethods,
			AllowedHeaders:   cfg.CORS.AllowedHeaders,
			AllowCredentials: cfg.CORS.AllowCredentials,
		},
	})
	if err != nil {
		if journal != nil {
			_ = journal.Close()
		}
		return nil, err
	}

	return &Server{cfg: cfg, logger: logger, journal: journal, handler: handler}, nil
}

// Handler exposes the assembled router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.handler }

// Journal returns the audit journal, or nil when auditing is disabled.
func (s *Server) Journal() *audit.Journal { return s.journal }

func (s *Server) Start() error {
	server := &http.Server{
		Addr:              s.cfg.ListenAddress,
		Handler:           s.handler,
		ReadTimeout:       s.cfg.ReadTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
		IdleTimeout:       s.cfg.IdleTimeout,
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.serverMu.Lock()
	s.httpServer = server
	s.serverMu.Unlock()
	s.logger.Info("gateway listening", "address", s.cfg.ListenAddress)
	err := server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.serverMu.Lock()
	server := s.httpServer
	s.serverMu.Unlock()
	var err error
	if server != nil {
		err = server.Shutdown(ctx)
	}
	if s.journal != nil {
		if closeErr := s.journal.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}
	return err
}
