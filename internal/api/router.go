package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"fnol-observability-api/internal/observability/metrics"
)

func NewRouter(apiHandler *APIHandler, logger *slog.Logger, corsOrigins []string) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)    // Recover from panics
	r.Use(middleware.StripSlashes) // Ensure consistent path handling
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "Authorization"},
		AllowCredentials: true,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"status":  "healthy",
			"service": "fnol-observability-api",
		})
	})
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	// All API routes live under /api
	r.Route("/api", func(r chi.Router) {
		r.Get("/fnols", apiHandler.ListFNOLsHandler)
		r.Get("/fnols/{fnolID}", apiHandler.GetFNOLDetailHandler)
		r.Get("/metrics/llm", apiHandler.LLMMetricsHandler)
		r.Get("/analytics/failures", apiHandler.FailureAnalyticsHandler)
		r.Get("/dashboard/stats", apiHandler.DashboardStatsHandler)
		r.Post("/fnol-ingest", apiHandler.IngestFNOLHandler)
	})

	return r
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}
