package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"

	"curator/core"
	"curator/database"
	"curator/logger"
	"curator/models"

	"github.com/go-chi/chi/v5"
)

const maxCollectBodyBytes = 32 << 20

// decodeCollectBody accepts either a bare array of records or {"records": [...]}.
func decodeCollectBody(body []byte) ([]models.CapturedRecord, error) {
	trimmed := bytes.TrimSpace(body)
	var records []models.CapturedRecord
	if len(trimmed) > 0 && trimmed[0] == '[' {
		err := json.Unmarshal(trimmed, &records)
		return records, err
	}
	var envelope struct {
		Records []models.CapturedRecord `json:"records"`
	}
	err := json.Unmarshal(trimmed, &envelope)
	return envelope.Records, err
}

// CollectRecordsHandler godoc
// @Summary Collect captured records
// @Description Stores a batch of request/response records reported by a test run. Records without an endpoint or with an unsupported method are rejected; the rest are stored.
// @Tags Capture
// @Accept json
// @Produce json
// @Param records body []models.CapturedRecord true "Records to store"
// @Success 200 {object} models.CollectResponse
// @Failure 400 {object} models.ErrorResponse
// @Failure 500 {object} models.ErrorResponse
// @Router /collect [post]
func CollectRecordsHandler(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxCollectBodyBytes))
	if err != nil {
		logger.Error("CollectRecordsHandler: reading body: %v", err)
		writeError(w, http.StatusBadRequest, "could not read request body")
		return
	}
	records, err := decodeCollectBody(body)
	if err != nil {
		logger.Error("CollectRecordsHandler: invalid JSON payload: %v", err)
		writeError(w, http.StatusBadRequest, "Invalid request body: expected an array of records or {\"records\": [...]}")
		return
	}

	accepted := make([]models.CapturedRecord, 0, len(records))
	for _, rec := range records {
		if rec.Endpoint == "" && rec.RequestPath != "" {
			rec.Endpoint = core.TemplatePath(rec.RequestPath)
		}
		if rec.Endpoint == "" || !models.IsSupportedMethod(rec.Method) {
			logger.Debug("CollectRecordsHandler: rejecting record %q %q", rec.Method, rec.Endpoint)
			continue
		}
		rec.Method = strings.ToUpper(rec.Method)
		accepted = append(accepted, rec)
	}

	stored, err := database.InsertCapturedRecords(r.Context(), accepted)
	if err != nil {
		logger.Error("CollectRecordsHandler: storing %d records: %v", len(accepted), err)
		core.ObserveCapture(0, len(records))
		writeError(w, http.StatusInternalServerError, "failed to store records")
		return
	}
	resp := models.CollectResponse{Received: len(records), Stored: stored, Rejected: len(records) - len(accepted)}
	core.ObserveCapture(resp.Stored, resp.Rejected)
	logger.Info("CollectRecordsHandler: received %d, stored %d, rejected %d", resp.Received, resp.Stored, resp.Rejected)
	writeJSON(w, http.StatusOK, resp)
}

// ListEndpointsHandler godoc
// @Summary List captured endpoints
// @Description Returns each distinct endpoint and method with its record count.
// @Tags Capture
// @Produce json
// @Success 200 {array} models.EndpointSummary
// @Failure 500 {object} models.ErrorResponse
// @Router /endpoints [get]
func ListEndpointsHandler(w http.ResponseWriter, r *http.Request) {
	summaries, err := database.GetEndpointSummaries(r.Context())
	if err != nil {
		logger.Error("ListEndpointsHandler: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to list endpoints")
		return
	}
	if summaries == nil {
		summaries = []models.EndpointSummary{}
	}
	writeJSON(w, http.StatusOK, summaries)
}

// endpointFromWildcard reads the endpoint template from the trailing path.
// Clients may send it escaped (%2Fapi%2Fusers%2F%7Bid%7D) or as plain segments.
func endpointFromWildcard(r *http.Request) (string, error) {
	raw := chi.URLParam(r, "*")
	endpoint, err := url.PathUnescape(raw)
	if err != nil {
		return "", err
	}
	if endpoint != "" && !strings.HasPrefix(endpoint, "/") {
		endpoint = "/" + endpoint
	}
	return endpoint, nil
}

// GetEndpointDataHandler godoc
// @Summary Records for one endpoint
// @Description Returns the stored records for an endpoint template, optionally filtered by method and status range.
// @Tags Capture
// @Produce json
// @Param endpoint path string true "Endpoint template, URL-escaped"
// @Param method query string false "HTTP method"
// @Param status_min query int false "Lowest response status"
// @Param status_max query int false "Highest response status"
// @Param limit query int false "Maximum records"
// @Param offset query int false "Records to skip"
// @Success 200 {array} models.CapturedRecord
// @Failure 400 {object} models.ErrorResponse
// @Failure 500 {object} models.ErrorResponse
// @Router /endpoint-data/{endpoint} [get]
func GetEndpointDataHandler(w http.ResponseWriter, r *http.Request) {
	endpoint, err := endpointFromWildcard(r)
	if err != nil || endpoint == "" {
		logger.Error("GetEndpointDataHandler: invalid endpoint %q: %v", chi.URLParam(r, "*"), err)
		writeError(w, http.StatusBadRequest, "endpoint is required")
		return
	}

	filters := models.RecordFilters{Endpoint: endpoint, Method: strings.ToUpper(r.URL.Query().Get("method"))}
	for key, dst := range map[string]*int{
		"status_min": &filters.StatusMin,
		"status_max": &filters.StatusMax,
		"limit":      &filters.Limit,
		"offset":     &filters.Offset,
	} {
		v, err := queryInt(r, key)
		if err != nil || v < 0 {
			logger.Error("GetEndpointDataHandler: invalid %s parameter: %v", key, err)
			writeError(w, http.StatusBadRequest, "Invalid "+key+" parameter, must be a non-negative integer")
			return
		}
		*dst = v
	}

	records, err := database.QueryCapturedRecords(r.Context(), filters)
	if err != nil {
		logger.Error("GetEndpointDataHandler: querying %s: %v", endpoint, err)
		writeError(w, http.StatusInternalServerError, "failed to query records")
		return
	}
	if records == nil {
		records = []models.CapturedRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

// GetUniqueRequestsHandler godoc
// @Summary Distinct requests
// @Description Returns the earliest record for every distinct endpoint, method and request body.
// @Tags Capture
// @Produce json
// @Success 200 {array} models.CapturedRecord
// @Failure 500 {object} models.ErrorResponse
// @Router /unique-requests [get]
func GetUniqueRequestsHandler(w http.ResponseWriter, r *http.Request) {
	records, err := database.GetUniqueRequests(r.Context())
	if err != nil {
		logger.Error("GetUniqueRequestsHandler: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to query unique requests")
		return
	}
	if records == nil {
		records = []models.CapturedRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}
