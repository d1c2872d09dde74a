package models

// EdgeCaseKind classifies a structural anomaly found in a response.
type EdgeCaseKind string

const (
	EdgeCaseEmptyArray EdgeCaseKind = "empty_array"
	EdgeCaseNullField  EdgeCaseKind = "null_field"
	EdgeCaseRareValue  EdgeCaseKind = "rare_value"
)

// EdgeCaseFinding is attached to the record that exhibits it.
type EdgeCaseFinding struct {
	Kind  EdgeCaseKind `json:"kind" yaml:"kind"`
	Path  string       `json:"path" yaml:"path"`
	Value interface{}  `json:"value,omitempty" yaml:"value,omitempty"`
}

// SelectionReason records why deduplication kept a record.
type SelectionReason string

const (
	SelectedBaseline  SelectionReason = "baseline"
	SelectedEdgeCase  SelectionReason = "edge_case"
	SelectedRareValue SelectionReason = "rare_value"
	SelectedFill      SelectionReason = "fill"
	SelectedPreserved SelectionReason = "preserved"
	SelectedAll       SelectionReason = "dedup_disabled"
)

// CuratedRecord is a record selected as the representative of an equivalence class.
type CuratedRecord struct {
	Record    CapturedRecord    `json:"record" yaml:"record"`
	Signature string            `json:"signature" yaml:"signature"`
	Reason    SelectionReason   `json:"reason" yaml:"reason"`
	Findings  []EdgeCaseFinding `json:"findings,omitempty" yaml:"findings,omitempty"`
}

// DeduplicationStats summarizes one deduplication pass.
type DeduplicationStats struct {
	InputRecords    int `json:"input_records" yaml:"input_records"`
	AfterBodyDedup  int `json:"after_body_dedup" yaml:"after_body_dedup"`
	SignatureGroups int `json:"signature_groups" yaml:"signature_groups"`
	Selected        int `json:"selected" yaml:"selected"`
	Preserved       int `json:"preserved" yaml:"preserved"`
}

// ValidationAction is the per-record decision of a validation pass.
type ValidationAction string

const (
	ActionKeep   ValidationAction = "keep"
	ActionUpdate ValidationAction = "update"
	ActionDelete ValidationAction = "delete"
	ActionSkip   ValidationAction = "skip"
)

// FieldChange is one difference between a stored and a live response.
type FieldChange struct {
	Path          string      `json:"path" yaml:"path"`
	OldValue      interface{} `json:"old_value" yaml:"old_value"`
	NewValue      interface{} `json:"new_value" yaml:"new_value"`
	IsSignificant bool        `json:"is_significant" yaml:"is_significant"`
	Rule          string      `json:"rule,omitempty" yaml:"rule,omitempty"`
}

// ValidationOutcome is the result of re-validating one record.
type ValidationOutcome struct {
	RecordID          int64            `json:"record_id" yaml:"record_id"`
	Endpoint          string           `json:"endpoint" yaml:"endpoint"`
	Method            string           `json:"method" yaml:"method"`
	IsValid           bool             `json:"is_valid" yaml:"is_valid"`
	IsStale           bool             `json:"is_stale" yaml:"is_stale"`
	Changes           []FieldChange    `json:"changes,omitempty" yaml:"changes,omitempty"`
	UpdatedResponse   interface{}      `json:"updated_response,omitempty" yaml:"updated_response,omitempty"`
	LiveStatus        int              `json:"live_status,omitempty" yaml:"live_status,omitempty"`
	Action            ValidationAction `json:"action" yaml:"action"`
	Is422Error        bool             `json:"is_422_error,omitempty" yaml:"is_422_error,omitempty"`
	Is400Error        bool             `json:"is_400_error,omitempty" yaml:"is_400_error,omitempty"`
	ErrorResponseData interface{}      `json:"error_response_data,omitempty" yaml:"error_response_data,omitempty"`
	Error             string           `json:"error,omitempty" yaml:"error,omitempty"`
}

// Validation422Error seeds a negative "rejects invalid input" test.
type Validation422Error struct {
	Endpoint      string      `json:"endpoint" yaml:"endpoint"`
	Method        string      `json:"method" yaml:"method"`
	RequestBody   interface{} `json:"request_body" yaml:"request_body"`
	Status        int         `json:"status" yaml:"status"`
	ResponseData  interface{} `json:"response_data" yaml:"response_data"`
	DetailMessage string      `json:"detail_message" yaml:"detail_message"`
	TestName      string      `json:"test_name,omitempty" yaml:"test_name,omitempty"`
}

// Duplicate400Error seeds a matched pair: the duplicate submission is rejected
// and the uniquified submission succeeds.
type Duplicate400Error struct {
	Endpoint          string      `json:"endpoint" yaml:"endpoint"`
	Method            string      `json:"method" yaml:"method"`
	RequestBody       interface{} `json:"request_body" yaml:"request_body"`
	ExpectedStatus    int         `json:"expected_status" yaml:"expected_status"`
	ResponseData      interface{} `json:"response_data" yaml:"response_data"`
	DetailMessage     string      `json:"detail_message" yaml:"detail_message"`
	ConflictingFields []string    `json:"conflicting_fields" yaml:"conflicting_fields"`
	UniquifiedBody    interface{} `json:"uniquified_body,omitempty" yaml:"uniquified_body,omitempty"`
	SuccessStatus     int         `json:"success_status,omitempty" yaml:"success_status,omitempty"`
	TestName          string      `json:"test_name,omitempty" yaml:"test_name,omitempty"`
}

// ValidationResult collects everything one validation pass produced.
type ValidationResult struct {
	ValidRecords              []CapturedRecord     `json:"valid_records" yaml:"valid_records"`
	Outcomes                  []ValidationOutcome  `json:"outcomes" yaml:"outcomes"`
	KeptCount                 int                  `json:"kept_count" yaml:"kept_count"`
	DeletedCount              int                  `json:"deleted_count" yaml:"deleted_count"`
	UpdatedCount              int                  `json:"updated_count" yaml:"updated_count"`
	SkippedCount              int                  `json:"skipped_count" yaml:"skipped_count"`
	FailedCount               int                  `json:"failed_count" yaml:"failed_count"`
	Validation422Errors       []Validation422Error `json:"validation_422_errors" yaml:"validation_422_errors"`
	BadRequestSkippedCount    int                  `json:"bad_request_skipped_count" yaml:"bad_request_skipped_count"`
	Duplicate400Errors        []Duplicate400Error  `json:"duplicate_400_errors" yaml:"duplicate_400_errors"`
	BadRequest400SkippedCount int                  `json:"bad_request_400_skipped_count" yaml:"bad_request_400_skipped_count"`
	// CollapsedSeedCount counts 422/400 seeds dropped because an earlier seed
	// had the same endpoint, method and detail message.
	CollapsedSeedCount int `json:"collapsed_seed_count" yaml:"collapsed_seed_count"`
}
