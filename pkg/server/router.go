package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/marmos91/objectloader/internal/logger"
	"github.com/marmos91/objectloader/pkg/metrics"
	"github.com/marmos91/objectloader/pkg/store"
)

// NewRouter builds the object API over st.
//
// Routes:
//   - GET /health - Store type and object count
//   - GET /metrics - Prometheus metrics, 404 when disabled
//   - GET /objects/{id} - One object as JSON
//   - POST /objects/batch - Requested objects as id<TAB>json lines
//   - POST /objects - Store uploaded object lines
//
// The /objects routes require a bearer token when cfg.JWTSecret is set.
func NewRouter(cfg Config, st store.Store) http.Handler {
	cfg.ApplyDefaults()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", (&healthHandler{store: st}).Health)
	r.Handle("/metrics", metrics.Handler())

	objects := &objectHandler{
		store:       st,
		maxBatchIDs: cfg.MaxBatchIDs,
		maxBody:     cfg.MaxBodySize.Int64(),
	}
	r.Route("/objects", func(r chi.Router) {
		if cfg.JWTSecret != "" {
			r.Use(jwtAuth(cfg.JWTSecret))
		}
		r.Post("/", objects.Upload)
		r.Post("/batch", objects.Batch)
		r.Get("/{id}", objects.Get)
	})

	return r
}

func isQuietPath(path string) bool {
	return path == "/metrics" || path == "/health" || strings.HasPrefix(path, "/health/")
}

// requestLogger logs every request through the package logger. Probe and
// scrape requests are logged at DEBUG.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		args := []any{
			logger.KeyRequestID, middleware.GetReqID(r.Context()),
			logger.KeyMethod, r.Method,
			logger.KeyPath, r.URL.Path,
			logger.KeyStatus, ww.Status(),
			logger.KeyBytes, ww.BytesWritten(),
			logger.KeyRemoteAddr, r.RemoteAddr,
			logger.KeyDurationMs, logger.Duration(start),
		}
		if isQuietPath(r.URL.Path) {
			logger.DebugCtx(r.Context(), "Request completed", args...)
		} else {
			logger.InfoCtx(r.Context(), "Request completed", args...)
		}
	})
}
