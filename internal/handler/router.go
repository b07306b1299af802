package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"grant-gateway/internal/metrics"
	"grant-gateway/internal/policy"
	"grant-gateway/internal/util"
)

// NewRouter wires the route table. Preflight is answered globally before any
// route matching, and CORS headers are attached to every response, errors and
// 404s included, so the browser can always read the body.
func NewRouter(gateway *GatewayHandler, origins *policy.OriginPolicy, maxBodyBytes int64, logger *zap.Logger) chi.Router {
	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(LoggerMiddleware(logger))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))
	router.Use(corsMiddleware(origins))
	router.Use(limitBodySize(maxBodyBytes))

	router.Post("/recommend", gateway.Recommend)
	router.Post("/feedback", gateway.SubmitFeedback)
	router.Get("/feedback/stats", gateway.FeedbackStats)

	router.Get("/healthz", gateway.Healthz)
	router.Method(http.MethodGet, "/metrics", metrics.Handler())

	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		metrics.ObserveRequest("not_found", http.StatusNotFound)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"endpoint not found"}`))
	})

	router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"endpoint not found"}`))
	})

	return router
}

// corsMiddleware attaches CORS headers to every response and short-circuits
// preflight requests with an empty 204 before routing.
func corsMiddleware(origins *policy.OriginPolicy) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origins.ApplyHeaders(w.Header(), r.Header.Get("Origin"))

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// limitBodySize caps request bodies so an oversized payload fails the JSON
// decode instead of exhausting memory.
func limitBodySize(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if maxBytes > 0 && r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// LoggerMiddleware logs one line per request.
func LoggerMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			defer func() {
				logger.Info("HTTP request",
					util.String("method", r.Method),
					util.String("path", r.URL.Path),
					util.String("remote_addr", r.RemoteAddr),
					util.Int("status", ww.Status()),
					util.Duration("duration", time.Since(start)),
					util.String("user_agent", r.UserAgent()),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
