package models

// DeduplicationConfig controls the deduplication engine.
type DeduplicationConfig struct {
	Enabled             bool     `mapstructure:"enabled" json:"enabled" yaml:"enabled"`
	MaxTestsPerEndpoint int      `mapstructure:"maxTestsPerEndpoint" json:"maxTestsPerEndpoint" yaml:"maxTestsPerEndpoint"`
	IgnoreFields        []string `mapstructure:"ignoreFields" json:"ignoreFields" yaml:"ignoreFields"`
	SignificantFields   []string `mapstructure:"significantFields" json:"significantFields" yaml:"significantFields"`
	DetectEdgeCases     bool     `mapstructure:"detectEdgeCases" json:"detectEdgeCases" yaml:"detectEdgeCases"`
	PreserveTaggedTests bool     `mapstructure:"preserveTaggedTests" json:"preserveTaggedTests" yaml:"preserveTaggedTests"`
	PreserveTags        []string `mapstructure:"preserveTags" json:"preserveTags" yaml:"preserveTags"`
}

// DefaultDeduplicationConfig returns the settings used when nothing is configured.
func DefaultDeduplicationConfig() DeduplicationConfig {
	return DeduplicationConfig{
		Enabled:             true,
		MaxTestsPerEndpoint: 5,
		IgnoreFields:        []string{"id", "*Id", "*_id", "uuid", "*At", "*_at", "timestamp", "created", "updated"},
		SignificantFields:   []string{"status", "type", "role", "state", "kind"},
		DetectEdgeCases:     true,
		PreserveTaggedTests: true,
		PreserveTags:        []string{"@preserve"},
	}
}

// StaleDataPolicy is the action applied to records with significant changes.
type StaleDataPolicy string

const (
	StaleUpdate StaleDataPolicy = "update"
	StaleSkip   StaleDataPolicy = "skip"
	StaleDelete StaleDataPolicy = "delete"
)

// UniqueFieldConfig names a request field that must be regenerated before a
// mutating call is replayed.
type UniqueFieldConfig struct {
	Field         string `mapstructure:"field" json:"field" yaml:"field"`
	Endpoint      string `mapstructure:"endpoint" json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	CustomPattern string `mapstructure:"customPattern" json:"customPattern,omitempty" yaml:"customPattern,omitempty"`
	Prefix        string `mapstructure:"prefix" json:"prefix,omitempty" yaml:"prefix,omitempty"`
	Suffix        string `mapstructure:"suffix" json:"suffix,omitempty" yaml:"suffix,omitempty"`
	Length        int    `mapstructure:"length" json:"length,omitempty" yaml:"length,omitempty"`
}

// ValidationConfig controls the staleness validator.
type ValidationConfig struct {
	Enabled                  bool                `mapstructure:"enabled" json:"enabled" yaml:"enabled"`
	ValidateBeforeGeneration bool                `mapstructure:"validateBeforeGeneration" json:"validateBeforeGeneration" yaml:"validateBeforeGeneration"`
	OnStaleData              StaleDataPolicy     `mapstructure:"onStaleData" json:"onStaleData" yaml:"onStaleData"`
	StaleIfChanged           []string            `mapstructure:"staleIfChanged" json:"staleIfChanged" yaml:"staleIfChanged"`
	AllowChanges             []string            `mapstructure:"allowChanges" json:"allowChanges" yaml:"allowChanges"`
	Collect422Errors         bool                `mapstructure:"collect422Errors" json:"collect422Errors" yaml:"collect422Errors"`
	SkipMessagePatterns      []string            `mapstructure:"skipMessagePatterns" json:"skipMessagePatterns" yaml:"skipMessagePatterns"`
	Collect400Errors         bool                `mapstructure:"collect400Errors" json:"collect400Errors" yaml:"collect400Errors"`
	Skip400MessagePatterns   []string            `mapstructure:"skip400MessagePatterns" json:"skip400MessagePatterns" yaml:"skip400MessagePatterns"`
	DuplicateMessagePatterns []string            `mapstructure:"duplicateMessagePatterns" json:"duplicateMessagePatterns" yaml:"duplicateMessagePatterns"`
	UniqueFields             []UniqueFieldConfig `mapstructure:"uniqueFields" json:"uniqueFields" yaml:"uniqueFields"`
	PathParams               map[string]string   `mapstructure:"pathParams" json:"pathParams" yaml:"pathParams"`
	Concurrency              int                 `mapstructure:"concurrency" json:"concurrency" yaml:"concurrency"`
	RequestsPerSecond        float64             `mapstructure:"requestsPerSecond" json:"requestsPerSecond" yaml:"requestsPerSecond"`
}

// DefaultValidationConfig returns the settings used when nothing is configured.
func DefaultValidationConfig() ValidationConfig {
	return ValidationConfig{
		Enabled:                  true,
		ValidateBeforeGeneration: true,
		OnStaleData:              StaleUpdate,
		StaleIfChanged:           []string{"status", "type", "role", "state"},
		AllowChanges:             []string{"*At", "*_at", "timestamp", "created", "updated", "lastModified"},
		Collect422Errors:         true,
		SkipMessagePatterns:      []string{`(?i)^\s*bad request\s*$`, `(?i)^\s*unprocessable entity\s*$`},
		Collect400Errors:         true,
		Skip400MessagePatterns:   []string{`(?i)^\s*bad request\s*$`},
		DuplicateMessagePatterns: []string{`(?i)already exists`, `(?i)duplicate`, `(?i)must be unique`, `(?i)already (taken|in use|registered)`},
		Concurrency:              1,
	}
}
