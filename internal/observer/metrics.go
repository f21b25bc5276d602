package observer

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricsEnabled = true // Flag to control metric collection

	// Labels for webhook intake metrics
	webhookLabels = []string{"event_type"}
	// Labels for tracking specific processing outcomes
	eventActionLabels = []string{"event_type", "action", "error_type"}

	// Webhook intake counters
	WebhooksReceivedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "credit_webhook_events_received_total",
			Help: "Total number of webhook events received with a valid signature.",
		},
		webhookLabels,
	)
	WebhookSignatureFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "credit_webhook_signature_failures_total",
			Help: "Total number of webhook requests rejected for a missing or invalid signature.",
		},
	)
	WebhooksEnqueuedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "credit_webhook_events_enqueued_total",
			Help: "Total number of webhook events staged in the retry queue after a failed inline attempt.",
		},
		[]string{"webhook_type"},
	)

	// Histogram for processing duration
	EventProcessingDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "credit_webhook_event_processing_duration_seconds",
			Help:    "Histogram of event processing durations.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~20s
		},
		webhookLabels,
	)

	// Counter for specific processing outcomes
	EventProcessingActionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "credit_webhook_event_processing_actions_total",
			Help: "Total count of specific actions taken after event processing, labeled by error type.",
		},
		eventActionLabels,
	)

	// Global metrics instance
	Metrics *metricsStore
)

// Metrics related to retry batch processing
var (
	retryBatchFetchRequestsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "retry_queue_fetch_requests_total",
		Help: "Total number of pending-item fetches issued against the retry queue.",
	})
	retryBatchFetchErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "retry_queue_fetch_errors_total",
		Help: "Total number of errors encountered fetching pending retry items.",
	})
	retryQueuePendingGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "retry_queue_pending_items",
		Help: "Current number of unprocessed items in the retry queue.",
	})
	retryWorkersActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "retry_queue_workers_active",
		Help: "Current number of active worker goroutines in the retry pool.",
	})
	retryTasksSubmittedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "retry_queue_tasks_submitted_total",
		Help: "Total number of retry items submitted to the worker pool.",
	})
	retryProcessingDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "retry_queue_processing_duration_seconds",
		Help:    "Histogram of processing durations for retried webhook items.",
		Buckets: prometheus.DefBuckets,
	})
	retriesExhaustedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retry_queue_items_exhausted_total",
			Help: "Total number of retry items that reached terminal failure.",
		},
		[]string{"webhook_type"},
	)
	retryRowsCleanedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "retry_queue_rows_cleaned_total",
		Help: "Total number of processed retry rows removed by cleanup.",
	})
)

// Labels for database operations
var (
	dbOperationLabels = []string{"operation", "entity", "status"}

	// Histogram for database operation duration
	DatabaseOperationDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "credit_webhook_db_operation_duration_seconds",
			Help:    "Histogram of database operation durations.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms to ~16s
		},
		dbOperationLabels,
	)
)

// Ledger metrics
var (
	creditsGrantedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "credit_ledger_credits_applied_total",
			Help: "Total credits applied to the ledger, labeled by transaction type.",
		},
		[]string{"transaction_type"},
	)
)

// metricsStore holds references to all Prometheus metrics.
type metricsStore struct{}

// InitMetrics initializes and registers the Prometheus metrics if enabled.
// Call this function during application startup.
func InitMetrics(enabled bool) {
	if !enabled {
		return
	}

	metricsEnabled = true

	// Metrics are already auto-registered via promauto, so no explicit
	// registration is needed here.
	Metrics = &metricsStore{}
}

// IncWebhooksReceived increments the verified-webhook counter.
func IncWebhooksReceived(eventType string) {
	if !metricsEnabled {
		return
	}
	WebhooksReceivedTotal.WithLabelValues(sanitizeLabel(eventType)).Inc()
}

// IncWebhookSignatureFailure increments the rejected-signature counter.
func IncWebhookSignatureFailure() {
	if !metricsEnabled {
		return
	}
	WebhookSignatureFailuresTotal.Inc()
}

// IncWebhooksEnqueued increments the counter for events staged for retry.
func IncWebhooksEnqueued(webhookType string) {
	if !metricsEnabled {
		return
	}
	WebhooksEnqueuedTotal.WithLabelValues(sanitizeLabel(webhookType)).Inc()
}

// sanitizeLabel ensures the label value is valid or returns a default value.
func sanitizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}

// --- Retry Queue Metric Helpers ---

// IncRetryFetchRequest increments the retry queue fetch request counter.
func IncRetryFetchRequest() {
	if Metrics != nil {
		retryBatchFetchRequestsTotal.Inc()
	}
}

// IncRetryFetchError increments the retry queue fetch error counter.
func IncRetryFetchError() {
	if Metrics != nil {
		retryBatchFetchErrorsTotal.Inc()
	}
}

// SetRetryQueuePending sets the current pending retry queue depth.
func SetRetryQueuePending(count int64) {
	if Metrics != nil {
		retryQueuePendingGauge.Set(float64(count))
	}
}

// SetRetryWorkersActive sets the current number of active retry workers.
func SetRetryWorkersActive(count int) {
	if Metrics != nil {
		retryWorkersActive.Set(float64(count))
	}
}

// IncRetryTasksSubmitted increments the counter for tasks submitted to the pool.
func IncRetryTasksSubmitted() {
	if Metrics != nil {
		retryTasksSubmittedTotal.Inc()
	}
}

// ObserveRetryProcessingDuration records the processing time for a retry item.
func ObserveRetryProcessingDuration(duration time.Duration) {
	if Metrics != nil {
		retryProcessingDurationSeconds.Observe(duration.Seconds())
	}
}

// IncRetriesExhausted increments the counter for items that hit terminal failure.
func IncRetriesExhausted(webhookType string) {
	if Metrics != nil {
		retriesExhaustedTotal.WithLabelValues(sanitizeLabel(webhookType)).Inc()
	}
}

// AddRetryRowsCleaned adds to the counter of purged processed rows.
func AddRetryRowsCleaned(count int64) {
	if Metrics != nil && count > 0 {
		retryRowsCleanedTotal.Add(float64(count))
	}
}

// --- Processing Metric Helpers ---

// ObserveEventProcessingDuration records the processing time for a specific event.
func ObserveEventProcessingDuration(eventType string, duration time.Duration) {
	if !metricsEnabled {
		return
	}
	EventProcessingDurationSeconds.WithLabelValues(sanitizeLabel(eventType)).Observe(duration.Seconds())
}

// ObserveDbOperationDuration records the duration for a database operation.
func ObserveDbOperationDuration(operation, entity string, duration time.Duration, err error) {
	if !metricsEnabled {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	DatabaseOperationDurationSeconds.WithLabelValues(operation, entity, status).Observe(duration.Seconds())
}

// IncEventProcessingAction increments the counter for a specific processing outcome.
func IncEventProcessingAction(eventType, action, errorType string) {
	if !metricsEnabled {
		return
	}
	// Sanitize errorType, ensure it's not overly granular
	sanitizedErrorType := SanitizeErrorType(errorType)
	EventProcessingActionsTotal.WithLabelValues(sanitizeLabel(eventType), action, sanitizedErrorType).Inc()
}

// AddCreditsApplied adds a ledger mutation's magnitude to the credits counter.
func AddCreditsApplied(transactionType string, amount int64) {
	if !metricsEnabled {
		return
	}
	if amount < 0 {
		amount = -amount
	}
	creditsGrantedTotal.WithLabelValues(sanitizeLabel(transactionType)).Add(float64(amount))
}

// SanitizeErrorType maps specific errors or provides a default category.
// Keep this simple to avoid high cardinality.
func SanitizeErrorType(errStr string) string {
	// If no error (e.g., for success actions), return "none"
	if errStr == "" || errStr == "none" {
		return "none"
	}

	// Simple categorization based on common patterns or known error types
	switch {
	case strings.Contains(errStr, "database"), strings.Contains(errStr, "SQL"), strings.Contains(errStr, "duplicate key"), strings.Contains(errStr, "constraint"), strings.Contains(errStr, "connection"):
		return "database"
	case strings.Contains(errStr, "validation failed"), strings.Contains(errStr, "bad request"), strings.Contains(errStr, "invalid"), strings.Contains(errStr, "missing field"):
		return "validation"
	case strings.Contains(errStr, "not found"), strings.Contains(errStr, "no rows"):
		return "not_found"
	case strings.Contains(errStr, "signature"):
		return "signature"
	case strings.Contains(errStr, "timeout"), strings.Contains(errStr, "deadline exceeded"):
		return "timeout"
	case strings.Contains(errStr, "unmarshal"), strings.Contains(errStr, "json"):
		return "unmarshal"
	case strings.Contains(errStr, "panic"):
		return "panic"
	default:
		return "unknown"
	}
}
