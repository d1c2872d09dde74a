package handlers

import (
	"curator/models"

	"github.com/go-chi/chi/v5"
)

// RegisterCurationRoutes wires on-demand deduplication. defaults applies when
// a request does not carry its own configuration.
func RegisterCurationRoutes(r chi.Router, defaults models.DeduplicationConfig) {
	r.Post("/curate/deduplicate", deduplicateHandler(defaults))
}
