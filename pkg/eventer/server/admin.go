package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/tsarna/eventer/pkg/eventer/session"
)

const DefaultWebsocketPath = "/ws"

// AdminConfig configures the admin router.
type AdminConfig struct {
	Listener *Listener
	Registry *session.Registry
	Logger   *zap.Logger

	// WebsocketPath mounts Listener.ServeWebsocket. Empty selects
	// DefaultWebsocketPath; "-" disables it.
	WebsocketPath string

	// MetricsHandler is mounted at /metrics when set.
	MetricsHandler http.Handler
}

// Health is the /healthz response body.
type Health struct {
	Status      string `json:"status"`
	Sessions    int    `json:"sessions"`
	Connections int    `json:"connections"`
	Uptime      string `json:"uptime"`
}

// NewAdminRouter builds the admin HTTP handler.
func NewAdminRouter(config AdminConfig) http.Handler {
	started := time.Now()
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		health := Health{
			Status:      "ok",
			Sessions:    config.Registry.Len(),
			Connections: config.Listener.ConnectionCount(),
			Uptime:      time.Since(started).Round(time.Second).String(),
		}
		w.Header().Set("Content-Type", "application/json")
		if config.Listener.isShuttingDown() {
			health.Status = "shutting_down"
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		if err := json.NewEncoder(w).Encode(health); err != nil {
			logger.Debug("Failed to write health response", zap.Error(err))
		}
	})

	if config.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", config.MetricsHandler)
	}

	path := config.WebsocketPath
	if path == "" {
		path = DefaultWebsocketPath
	}
	if path != "-" {
		r.Get(path, config.Listener.ServeWebsocket)
	}

	return r
}

// requestLogger logs each admin request at debug level.
func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			logger.Debug("Admin request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("latency", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.String("remote_addr", r.RemoteAddr),
			)
		})
	}
}
