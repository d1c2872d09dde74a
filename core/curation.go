package core

import (
	"context"
	"fmt"
	"time"

	"curator/logger"
	"curator/models"

	"github.com/google/uuid"
)

// CurationReport is everything one curation run produced. It is the hand-off
// document for test generation.
type CurationReport struct {
	RunID         string                   `json:"run_id" yaml:"run_id"`
	StartedAt     time.Time                `json:"started_at" yaml:"started_at"`
	FinishedAt    time.Time                `json:"finished_at" yaml:"finished_at"`
	Deduplication DeduplicationResult      `json:"deduplication" yaml:"deduplication"`
	Validation    *models.ValidationResult `json:"validation,omitempty" yaml:"validation,omitempty"`
	Records       []models.CapturedRecord  `json:"records" yaml:"records"`
}

// RunCuration deduplicates records and, when validation is enabled and set to
// run before generation, revalidates the representatives against caller.
// Configuration problems are reported before any record is processed.
func RunCuration(ctx context.Context, records []models.CapturedRecord, dedupCfg models.DeduplicationConfig,
	valCfg models.ValidationConfig, caller LiveCaller, opts ...ValidatorOption) (*CurationReport, error) {
	report := &CurationReport{RunID: uuid.NewString(), StartedAt: time.Now().UTC()}
	runValidation := valCfg.Enabled && valCfg.ValidateBeforeGeneration

	var validator *StalenessValidator
	if runValidation {
		var err error
		if validator, err = NewStalenessValidator(valCfg, caller, opts...); err != nil {
			curationRunDuration.WithLabelValues("config_error").Observe(0)
			return nil, fmt.Errorf("curation run %s: %w", report.RunID, err)
		}
	}

	logger.Info("RunCuration %s: starting with %d records (validation: %t)", report.RunID, len(records), runValidation)
	report.Deduplication = Deduplicate(records, dedupCfg)
	observeDeduplication(report.Deduplication.Stats)

	report.Records = make([]models.CapturedRecord, 0, len(report.Deduplication.Records))
	for _, c := range report.Deduplication.Records {
		report.Records = append(report.Records, c.Record)
	}

	result := "ok"
	var runErr error
	if validator != nil {
		validation, err := validator.Validate(ctx, report.Records)
		observeValidation(validation)
		report.Validation = &validation
		report.Records = validation.ValidRecords
		if err != nil {
			result = "cancelled"
			runErr = fmt.Errorf("curation run %s: %w", report.RunID, err)
		}
	}

	report.FinishedAt = time.Now().UTC()
	curationRunDuration.WithLabelValues(result).Observe(report.FinishedAt.Sub(report.StartedAt).Seconds())
	logger.Info("RunCuration %s: %d curated records in %s", report.RunID, len(report.Records), report.FinishedAt.Sub(report.StartedAt))
	return report, runErr
}
