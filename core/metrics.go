package core

import (
	"curator/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// dedupRecordsTotal counts records entering and leaving deduplication
	dedupRecordsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "curator_dedup_records_total",
		Help: "Records seen by deduplication, by stage",
	}, []string{"stage"})

	// validationOutcomesTotal counts per-record validation actions
	validationOutcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "curator_validation_outcomes_total",
		Help: "Validation outcomes by action",
	}, []string{"action"})

	liveCallFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "curator_live_call_failures_total",
		Help: "Records left unchanged because their live call failed",
	})

	// seedsHarvestedTotal counts negative-test seeds by kind
	seedsHarvestedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "curator_seeds_harvested_total",
		Help: "Negative-test seeds harvested from live 4xx responses",
	}, []string{"kind"})

	curationRunDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "curator_run_duration_seconds",
		Help:    "Curation run duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
	}, []string{"result"})

	// capturedRecordsTotal counts records ingested through the capture path
	capturedRecordsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "curator_captured_records_total",
		Help: "Captured records by ingestion result",
	}, []string{"result"})
)

func observeDeduplication(stats models.DeduplicationStats) {
	dedupRecordsTotal.WithLabelValues("input").Add(float64(stats.InputRecords))
	dedupRecordsTotal.WithLabelValues("after_body_dedup").Add(float64(stats.AfterBodyDedup))
	dedupRecordsTotal.WithLabelValues("selected").Add(float64(stats.Selected))
	dedupRecordsTotal.WithLabelValues("preserved").Add(float64(stats.Preserved))
}

func observeValidation(result models.ValidationResult) {
	validationOutcomesTotal.WithLabelValues(string(models.ActionKeep)).Add(float64(result.KeptCount))
	validationOutcomesTotal.WithLabelValues(string(models.ActionUpdate)).Add(float64(result.UpdatedCount))
	validationOutcomesTotal.WithLabelValues(string(models.ActionDelete)).Add(float64(result.DeletedCount))
	validationOutcomesTotal.WithLabelValues(string(models.ActionSkip)).Add(float64(result.SkippedCount))
	liveCallFailuresTotal.Add(float64(result.FailedCount))
	seedsHarvestedTotal.WithLabelValues("validation_422").Add(float64(len(result.Validation422Errors)))
	seedsHarvestedTotal.WithLabelValues("duplicate_400").Add(float64(len(result.Duplicate400Errors)))
}

// ObserveCapture records the outcome of one ingestion batch.
func ObserveCapture(stored, rejected int) {
	capturedRecordsTotal.WithLabelValues("stored").Add(float64(stored))
	capturedRecordsTotal.WithLabelValues("rejected").Add(float64(rejected))
}
