// Package handler provides the HTTP API for blobvault.
package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/prn-tf/blobvault/internal/metrics"
)

// rootMessage is returned by GET /.
const rootMessage = "blobvault: data storage service is running"

// RouterConfig contains configuration for the router.
type RouterConfig struct {
	BlobHandler   *BlobHandler
	HealthHandler *HealthHandler

	// AuthMiddleware guards the /v1 API. Nil leaves it open.
	AuthMiddleware func(http.Handler) http.Handler

	// MaxBodySize caps request bodies in bytes. Zero disables the cap.
	MaxBodySize int64

	Metrics *metrics.Metrics

	// MetricsHandler is mounted at MetricsPath when set, outside authentication.
	MetricsHandler http.Handler
	MetricsPath    string

	Logger zerolog.Logger
}

// NewRouter builds the HTTP handler for the API.
func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger.With().Str("component", "router").Logger()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(requestMetrics(cfg.Metrics))
	r.Use(middleware.Recoverer)
	if cfg.MaxBodySize > 0 {
		r.Use(maxBodySize(cfg.MaxBodySize))
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeDetail(w, http.StatusNotFound, "Not Found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeDetail(w, http.StatusMethodNotAllowed, "Method Not Allowed")
	})

	// Public endpoints
	r.Get("/", handleRoot)
	if cfg.HealthHandler != nil {
		r.Get("/health", cfg.HealthHandler.Health)
	}
	if cfg.MetricsHandler != nil && cfg.MetricsPath != "" {
		r.Method(http.MethodGet, cfg.MetricsPath, cfg.MetricsHandler)
	}

	// Blob API
	r.Route("/v1", func(r chi.Router) {
		if cfg.AuthMiddleware != nil {
			r.Use(cfg.AuthMiddleware)
		}
		cfg.BlobHandler.RegisterRoutes(r)
	})

	return r
}

func handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, messageResponse{Message: rootMessage})
}
