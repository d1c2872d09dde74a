package handlers

import (
	"net/http"

	"curator/database"
	"curator/logger"

	"github.com/go-chi/chi/v5"
)

func RegisterHealthRoutes(r chi.Router) {
	r.Get("/health", healthCheckHandler)
}

// healthCheckHandler godoc
// @Summary Service health
// @Description Reports whether the service is up and how many records are stored.
// @Tags Health
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /health [get]
func healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	count, err := database.CountCapturedRecords(r.Context())
	if err != nil {
		logger.Error("healthCheckHandler: counting records: %v", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{"ok": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "records": count})
}
