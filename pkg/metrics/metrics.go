// Package metrics defines the Prometheus instrumentation surface for
// the ingestion pipeline: one counter/gauge/histogram per subsystem,
// plus a small Timer helper so call sites don't hand-roll
// time.Since(start) everywhere.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// InvoicesIngestedTotal counts every upload task file that reached
	// the processing phase (spec §4.8.2), regardless of outcome.
	InvoicesIngestedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "invoices_ingested_total",
		Help: "Total number of invoice files that entered the processing phase.",
	})

	// PipelineStagesCompletedTotal counts completed runs of a single
	// ingestion-pipeline stage (optimize, hash, extract, persist).
	PipelineStagesCompletedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_stages_completed_total",
		Help: "Total number of ingestion pipeline stages completed, by stage.",
	}, []string{"stage"})

	// PipelineStageDuration observes how long each stage took.
	PipelineStageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pipeline_stage_duration_seconds",
		Help:    "Duration of ingestion pipeline stages in seconds, by stage.",
		Buckets: prometheus.DefBuckets,
	}, []string{"stage"})

	// VisionExtractionDuration observes the wall-clock time of a single
	// vision-model extraction call (primary or fallback).
	VisionExtractionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "vision_extraction_duration_seconds",
		Help:    "Duration of vision model extraction calls in seconds.",
		Buckets: prometheus.DefBuckets,
	})

	// DuplicatesDetectedTotal counts content-hash duplicates the
	// pre-scan gate (spec §4.8.2) found, by detection reason.
	DuplicatesDetectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "duplicates_detected_total",
		Help: "Total number of content-hash duplicates detected, by reason.",
	}, []string{"reason"})

	// PipelineStageErrorsTotal counts terminal failures within a
	// pipeline stage, by stage and error type.
	PipelineStageErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_stage_errors_total",
		Help: "Total number of terminal ingestion pipeline stage errors, by stage and error type.",
	}, []string{"stage", "error_type"})

	// VisionAPICallsTotal counts vision-model API calls, by provider
	// (anthropic / bedrock).
	VisionAPICallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vision_api_calls_total",
		Help: "Total number of vision model API calls, by provider.",
	}, []string{"provider"})

	// VisionAPIErrorsTotal counts vision-model API errors, by provider
	// and error type.
	VisionAPIErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vision_api_errors_total",
		Help: "Total number of vision model API errors, by provider and error type.",
	}, []string{"provider", "error_type"})

	// ObjectStoreAPICallsTotal counts object-store API calls, by
	// operation (get / put / delete).
	ObjectStoreAPICallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "object_store_api_calls_total",
		Help: "Total number of object store API calls, by operation.",
	}, []string{"operation"})

	// RecalculationsInCooldownTotal is the current number of tenants
	// whose stock recalculation is suppressed by the cooldown period.
	RecalculationsInCooldownTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "recalculations_in_cooldown_total",
		Help: "Current number of tenants whose stock recalculation is in cooldown.",
	})

	// ConcurrentIngestionWorkers is the current number of in-flight
	// ingestion pipeline workers across all tenants.
	ConcurrentIngestionWorkers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "concurrent_ingestion_workers",
		Help: "Current number of concurrently running ingestion pipeline workers.",
	})

	// HTTPRequestsTotal counts API requests by outcome.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP API requests, by outcome.",
	}, []string{"outcome"})
)

// RecordInvoiceIngested increments the ingested-invoice counter.
func RecordInvoiceIngested() {
	InvoicesIngestedTotal.Inc()
}

// RecordPipelineStage records one completed run of stage, including
// its duration.
func RecordPipelineStage(stage string, duration time.Duration) {
	PipelineStagesCompletedTotal.WithLabelValues(stage).Inc()
	PipelineStageDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

// RecordVisionExtraction records the duration of one vision model
// extraction call.
func RecordVisionExtraction(duration time.Duration) {
	VisionExtractionDuration.Observe(duration.Seconds())
}

// RecordDuplicateDetected increments the duplicate-detection counter
// for reason.
func RecordDuplicateDetected(reason string) {
	DuplicatesDetectedTotal.WithLabelValues(reason).Inc()
}

// RecordPipelineStageError increments the stage error counter.
func RecordPipelineStageError(stage, errorType string) {
	PipelineStageErrorsTotal.WithLabelValues(stage, errorType).Inc()
}

// RecordVisionAPICall increments the vision API call counter for
// provider.
func RecordVisionAPICall(provider string) {
	VisionAPICallsTotal.WithLabelValues(provider).Inc()
}

// RecordVisionAPIError increments the vision API error counter.
func RecordVisionAPIError(provider, errorType string) {
	VisionAPIErrorsTotal.WithLabelValues(provider, errorType).Inc()
}

// RecordObjectStoreAPICall increments the object store API call
// counter for operation.
func RecordObjectStoreAPICall(operation string) {
	ObjectStoreAPICallsTotal.WithLabelValues(operation).Inc()
}

// SetRecalculationsInCooldown sets the current cooldown gauge value.
func SetRecalculationsInCooldown(value float64) {
	RecalculationsInCooldownTotal.Set(value)
}

// IncrementConcurrentWorkers increments the concurrent-worker gauge.
func IncrementConcurrentWorkers() {
	ConcurrentIngestionWorkers.Inc()
}

// DecrementConcurrentWorkers decrements the concurrent-worker gauge.
func DecrementConcurrentWorkers() {
	ConcurrentIngestionWorkers.Dec()
}

// RecordHTTPRequest increments the HTTP request counter for outcome
// ("success" or "error").
func RecordHTTPRequest(outcome string) {
	HTTPRequestsTotal.WithLabelValues(outcome).Inc()
}

// Timer measures elapsed wall-clock time from its creation and
// records it against the relevant histogram when the caller is done.
type Timer struct {
	start time.Time
}

// NewTimer starts a new Timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Elapsed returns the time elapsed since the timer was created.
func (t *Timer) Elapsed() time.Duration {
	return time.Since(t.start)
}

// RecordPipelineStage records the elapsed time against stage.
func (t *Timer) RecordPipelineStage(stage string) {
	RecordPipelineStage(stage, t.Elapsed())
}

// RecordVisionExtraction records the elapsed time as a vision
// extraction call duration.
func (t *Timer) RecordVisionExtraction() {
	RecordVisionExtraction(t.Elapsed())
}
