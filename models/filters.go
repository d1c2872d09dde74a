package models

// RecordFilters defines parameters for filtering captured record queries.
type RecordFilters struct {
	Endpoint  string `json:"endpoint,omitempty"`
	Method    string `json:"method,omitempty"`
	StatusMin int    `json:"status_min,omitempty"`
	StatusMax int    `json:"status_max,omitempty"`
	TestName  string `json:"test_name,omitempty"`
	Limit     int    `json:"limit,omitempty"`
	Offset    int    `json:"offset,omitempty"`
}
