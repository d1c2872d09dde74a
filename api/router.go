package api

import (
	"net/http"

	"curator/api/router/handlers"
	"curator/logger"
	"curator/models"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter creates the capture-service API. dedup is the default
// configuration for /curate/deduplicate when a request carries none.
func NewRouter(dedup models.DeduplicationConfig) http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)

	handlers.RegisterHealthRoutes(router)
	handlers.RegisterCaptureRoutes(router)
	handlers.RegisterCurationRoutes(router, dedup)
	router.Method(http.MethodGet, "/metrics", promhttp.Handler())

	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		logger.Error("API CATCH-ALL: Unhandled route: %s %s", r.Method, r.URL.Path)
		http.NotFound(w, r)
	})

	return router
}
