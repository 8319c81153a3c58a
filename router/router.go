// Package router wires ledgercored's middleware chain and HTTP routes.
package router

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/ledgerflow/ledgercore/classifier"
	"github.com/ledgerflow/ledgercore/config"
	"github.com/ledgerflow/ledgercore/entity"
	"github.com/ledgerflow/ledgercore/handler"
	"github.com/ledgerflow/ledgercore/metrics"
	gwmw "github.com/ledgerflow/ledgercore/middleware"
	"github.com/ledgerflow/ledgercore/redisclient"
	"github.com/ledgerflow/ledgercore/sync"
)

// Deps bundles the constructed subsystems the router wires into
// handlers; cmd/ledgercored/main.go builds this during startup.
type Deps struct {
	Store      *entity.Store
	Orch       *sync.Orchestrator
	Classifier *classifier.Classifier
	Pending    *entity.PendingQueue
	Metrics    *metrics.Metrics
	Redis      *redis.Client
}

// New returns a configured chi Router with the full middleware chain and
// all API routes mounted.
func New(cfg *config.Config, logger zerolog.Logger, deps Deps) http.Handler {
	r := chi.NewRouter()

	// --- Middleware chain (order matters) ---
	r.Use(gwmw.CORSMiddleware([]string{"*"}))
	r.Use(gwmw.SecurityHeadersMiddleware)
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(requestLogger(logger))
	if deps.Metrics != nil {
		r.Use(requestMetrics(deps.Metrics))
	}
	r.Use(maxBodySize(cfg.MaxBodyBytes))

	// --- Health + metrics (no auth) ---
	r.Get("/healthz", handler.Healthz)
	var pingRedis func() error
	if deps.Redis != nil {
		pingRedis = func() error { return redisclient.Ping(deps.Redis) }
	}
	r.Get("/ready", handler.Ready(pingRedis))
	if deps.Metrics != nil {
		r.Handle("/metrics", deps.Metrics.Handler())
	}

	// --- Authenticated API ---
	booksH := handler.NewBooksHandler(deps.Store, logger)
	entriesH := handler.NewEntriesHandler(deps.Store, logger)
	categoriesH := handler.NewCategoriesHandler(deps.Store, logger)
	syncH := handler.NewSyncHandler(deps.Orch, logger)
	ingestH := handler.NewIngestHandler(deps.Classifier, deps.Pending, logger)

	authMW := gwmw.NewAuthMiddleware(logger, cfg.JWTSigningKey)
	rateLimiter := gwmw.NewRateLimiter(logger, cfg.RateLimitEnabled, cfg.RateLimitRPM, cfg.RateLimitBurst)
	headerNorm := gwmw.NewHeaderNormalization(logger)
	timeoutMW := gwmw.NewTimeoutMiddleware(logger, cfg)

	r.Route("/v1", func(r chi.Router) {
		r.Use(authMW.Handler)
		r.Use(rateLimiter.Handler)
		r.Use(headerNorm.Handler)
		r.Use(timeoutMW.Handler)

		r.Route("/books", func(r chi.Router) {
			r.Post("/", booksH.Create)
			r.Get("/", booksH.List)
			r.Get("/{id}", booksH.Get)
			r.Patch("/{id}", booksH.Update)
			r.Delete("/{id}", booksH.Delete)
			r.Post("/{id}/archive", booksH.Archive)
			r.Post("/{id}/unarchive", booksH.Unarchive)
		})

		r.Route("/entries", func(r chi.Router) {
			r.Post("/", entriesH.Create)
			r.Get("/", entriesH.List)
			r.Get("/{id}", entriesH.Get)
			r.Patch("/{id}", entriesH.Update)
			r.Delete("/{id}", entriesH.Delete)
			r.Post("/{id}/move", entriesH.Move)
		})

		r.Route("/categories", func(r chi.Router) {
			r.Post("/", categoriesH.Create)
			r.Get("/", categoriesH.List)
			r.Get("/{id}", categoriesH.Get)
			r.Delete("/{id}", categoriesH.Delete)
		})

		r.Route("/sync", func(r chi.Router) {
			r.Post("/", syncH.Trigger)
			r.Get("/conflicts", syncH.Conflicts)
			r.Delete("/conflicts", syncH.ClearConflicts)
		})

		r.Route("/ingest", func(r chi.Router) {
			r.Post("/", ingestH.Classify)
			r.Get("/pending", ingestH.List)
			r.Post("/pending/{id}/approve", ingestH.Approve)
			r.Post("/pending/{id}/reject", ingestH.Reject)
		})
	})

	return r
}

func maxBodySize(maxBytes int64) func(http.Handler) http.Handler {
	if maxBytes <= 0 {
		maxBytes = 2 * 1024 * 1024
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > 0 && r.ContentLength > maxBytes {
				http.Error(w, `{"error":"request_too_large","message":"request body too large"}`, http.StatusRequestEntityTooLarge)
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}

func requestMetrics(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(rw, r)

			route := chi.RouteContext(r.Context()).RoutePattern()
			if route == "" {
				route = r.URL.Path
			}
			statusClass := fmt.Sprintf("%dxx", rw.Status()/100)
			m.HTTPRequests.WithLabelValues(route, statusClass).Inc()
			m.HTTPDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
		})
	}
}

func requestLogger(appLogger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rw := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(rw, r)
			appLogger.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("req_id", chimw.GetReqID(r.Context())).
				Int("status", rw.Status()).
				Msg("request completed")
		})
	}
}
