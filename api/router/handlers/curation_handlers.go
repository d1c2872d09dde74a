package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"curator/core"
	"curator/database"
	"curator/logger"
	"curator/models"
)

// DeduplicateRequest selects stored records and optionally overrides the
// configured deduplication settings.
type DeduplicateRequest struct {
	Endpoint            string                      `json:"endpoint"`
	Method              string                      `json:"method,omitempty"`
	MaxTestsPerEndpoint *int                        `json:"maxTestsPerEndpoint,omitempty"`
	Config              *models.DeduplicationConfig `json:"config,omitempty"`
}

// deduplicateHandler godoc
// @Summary Deduplicate stored records
// @Description Runs deduplication over the stored records of one endpoint (or all records when endpoint is empty) and returns the representatives.
// @Tags Curation
// @Accept json
// @Produce json
// @Param request body DeduplicateRequest true "Selection and overrides"
// @Success 200 {object} core.DeduplicationResult
// @Failure 400 {object} models.ErrorResponse
// @Failure 500 {object} models.ErrorResponse
// @Router /curate/deduplicate [post]
func deduplicateHandler(defaults models.DeduplicationConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req DeduplicateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			logger.Error("deduplicateHandler: invalid JSON payload: %v", err)
			writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
			return
		}

		cfg := defaults
		if req.Config != nil {
			cfg = *req.Config
		}
		if req.MaxTestsPerEndpoint != nil {
			cfg.MaxTestsPerEndpoint = *req.MaxTestsPerEndpoint
		}

		records, err := database.QueryCapturedRecords(r.Context(), models.RecordFilters{
			Endpoint: req.Endpoint,
			Method:   strings.ToUpper(req.Method),
		})
		if err != nil {
			logger.Error("deduplicateHandler: querying records for %q: %v", req.Endpoint, err)
			writeError(w, http.StatusInternalServerError, "failed to query records")
			return
		}

		result := core.Deduplicate(records, cfg)
		if result.Records == nil {
			result.Records = []models.CuratedRecord{}
		}
		logger.Info("deduplicateHandler: %d records for %q reduced to %d", len(records), req.Endpoint, len(result.Records))
		writeJSON(w, http.StatusOK, result)
	}
}
