package routes

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"lendpool/core"
	"lendpool/gateway/audit"
	"lendpool/gateway/middleware"
)

// Rate-limit bucket IDs the router consults. Deployments opt in by
// configuring a limit under the matching ID.
const (
	RateLimitReads  = "reads"
	RateLimitWrites = "writes"
)

// ScopeLendingWrite guards every state-changing endpoint.
const ScopeLendingWrite = "lending:write"

type Config struct {
	Node          *core.Node
	RPCHandler    http.Handler
	Authenticator *middleware.Authenticator
	RateLimiter   *middleware.RateLimiter
	Observability *middleware.Observability
	Journal       *audit.Journal
	Logger        *slog.Logger
	CORS          middleware.CORSConfig
}

// New assembles the gateway router. Reads stay public; writes pass
// through rate limiting, authentication, and the audit journal before
// they reach the node.
func New(cfg Config) (http.Handler, error) {
	if cfg.Node == nil {
		return nil, fmt.Errorf("nil node")
	}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	if cfg.CORS.AllowedOrigins != nil || cfg.CORS.AllowedMethods != nil {
		r.Use(middleware.CORS(cfg.CORS))
	} else {
		r.Use(middleware.CORS(middleware.CORSConfig{}))
	}

	obs := cfg.Observability
	if obs != nil {
		r.Use(obs.Middleware("root"))
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	if cfg.RPCHandler != nil {
		r.Handle("/rpc", cfg.RPCHandler)
	}

	lendingAPI := newLendingRoutes(cfg.Node)
	lendbookAPI := newLendbookRoutes(cfg.Node)
	oracleAPI := newOracleRoutes(cfg.Node)

	r.Route("/v1", func(api chi.Router) {
		api.Group(func(reads chi.Router) {
			if cfg.RateLimiter != nil {
				reads.Use(cfg.RateLimiter.Middleware(RateLimitReads))
			}
			if obs != nil {
				reads.Use(obs.Middleware("reads"))
			}
			lendingAPI.mountReads(reads)
			lendbookAPI.mountReads(reads)
			oracleAPI.mountReads(reads)
		})
		api.Group(func(writes chi.Router) {
			if cfg.RateLimiter != nil {
				writes.Use(cfg.RateLimiter.Middleware(RateLimitWrites))
			}
			if cfg.Authenticator != nil {
				writes.Use(cfg.Authenticator.Middleware(ScopeLendingWrite))
			}
			if obs != nil {
				writes.Use(obs.Middleware("writes"))
			}
			writes.Use(middleware.Audit(cfg.Journal, cfg.Logger))
			lendingAPI.mountWrites(writes)
			lendbookAPI.mountWrites(writes)
		})
	})

	if obs != nil {
		r.Handle("/metrics", obs.MetricsHandler())
	}

	return r, nil
}
