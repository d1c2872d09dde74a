package models

// ErrorResponse is a generic error response structure for API
type ErrorResponse struct {
	Message string `json:"message" example:"Error message describing the issue"`
}

// CollectResponse reports how many records a /collect batch stored.
type CollectResponse struct {
	Received int `json:"received"`
	Stored   int `json:"stored"`
	Rejected int `json:"rejected"`
}
