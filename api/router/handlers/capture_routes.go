package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterCaptureRoutes wires the ingestion and browse endpoints.
func RegisterCaptureRoutes(r chi.Router) {
	r.Post("/collect", CollectRecordsHandler)
	r.Get("/endpoints", ListEndpointsHandler)
	r.Get("/endpoint-data/*", GetEndpointDataHandler)
	r.Get("/unique-requests", GetUniqueRequestsHandler)
}
