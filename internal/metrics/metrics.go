// Package metrics provides Prometheus metrics for depot connections and syncs.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"
)

var (
	// Connection metrics
	connectAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "depotsync_connect_attempts_total",
			Help: "Total depot connection attempts",
		},
		[]string{"result"},
	)

	loginAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "depotsync_login_attempts_total",
			Help: "Total depot login attempts",
		},
		[]string{"result"},
	)

	trustDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "depotsync_trust_decisions_total",
			Help: "Trust decisions made for encrypted depot servers",
		},
		[]string{"decision"},
	)

	workspacesCreatedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "depotsync_workspaces_created_total",
			Help: "Workspaces cloned from a template",
		},
	)

	// Depot command metrics
	commandDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "depotsync_command_duration_seconds",
			Help:    "Depot command duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"command"},
	)

	commandErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "depotsync_command_errors_total",
			Help: "Depot commands that failed",
		},
		[]string{"command", "kind"},
	)

	// Sync metrics
	entityStatusTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "depotsync_entity_status_total",
			Help: "Entity classifications produced by status gathering",
		},
		[]string{"status"},
	)

	itemsDiscoveredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "depotsync_items_discovered_total",
			Help: "Files discovered as needing a sync",
		},
	)

	transfersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "depotsync_transfers_total",
			Help: "Transfer jobs by result",
		},
		[]string{"result"},
	)

	transferDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "depotsync_transfer_duration_seconds",
			Help:    "Single file transfer duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		},
	)

	transferBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "depotsync_transfer_bytes_total",
			Help: "Bytes reported by transfer progress callbacks",
		},
	)

	poolQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "depotsync_pool_queue_depth",
			Help: "Jobs waiting for a worker",
		},
	)

	poolBusyWorkers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "depotsync_pool_busy_workers",
			Help: "Workers currently running a job",
		},
	)

	// Metadata metrics
	metadataQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "depotsync_metadata_query_duration_seconds",
			Help:    "Publish metadata query duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"query"},
	)

	// Event metrics
	eventsPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "depotsync_events_published_total",
			Help: "Sync events fanned out to observers",
		},
		[]string{"type"},
	)

	eventsDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "depotsync_events_dropped_total",
			Help: "Sync events dropped for slow observers",
		},
	)

	observersActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "depotsync_observers_active",
			Help: "Number of subscribed event observers",
		},
	)

	// Preferences metrics
	prefsOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "depotsync_prefs_operations_total",
			Help: "Preference store reads and writes",
		},
		[]string{"backend", "operation", "status"},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Push sends the default registry to a Pushgateway. Metric reporting never
// affects the operation being measured, so failures are dropped.
func Push(url, job string) {
	if url == "" {
		return
	}
	_ = push.New(url, job).Gatherer(prometheus.DefaultGatherer).Push()
}

func status(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// RecordConnectAttempt records the outcome of a full connect sequence.
func RecordConnectAttempt(result string) {
	connectAttemptsTotal.WithLabelValues(result).Inc()
}

// RecordLoginAttempt records a single login command.
func RecordLoginAttempt(success bool) {
	loginAttemptsTotal.WithLabelValues(status(success)).Inc()
}

// RecordTrustDecision records accepted, rejected or automatic trust.
func RecordTrustDecision(decision string) {
	trustDecisionsTotal.WithLabelValues(decision).Inc()
}

// RecordWorkspaceCreated records a workspace cloned from a template.
func RecordWorkspaceCreated() {
	workspacesCreatedTotal.Inc()
}

// RecordCommand records a depot command duration.
func RecordCommand(command string, duration time.Duration) {
	commandDuration.WithLabelValues(command).Observe(duration.Seconds())
}

// RecordCommandError records a failed depot command by error kind.
func RecordCommandError(command, kind string) {
	commandErrorsTotal.WithLabelValues(command, kind).Inc()
}

// RecordEntityStatus records an entity classification.
func RecordEntityStatus(status string) {
	entityStatusTotal.WithLabelValues(status).Inc()
}

// RecordItemsDiscovered records files found needing a sync.
func RecordItemsDiscovered(n int) {
	itemsDiscoveredTotal.Add(float64(n))
}

// RecordTransfer records a finished transfer job.
func RecordTransfer(success bool, duration time.Duration) {
	transfersTotal.WithLabelValues(status(success)).Inc()
	transferDuration.Observe(duration.Seconds())
}

// AddTransferBytes adds bytes reported by progress callbacks.
func AddTransferBytes(n int64) {
	if n > 0 {
		transferBytesTotal.Add(float64(n))
	}
}

// SetPoolQueueDepth sets the number of queued pool jobs.
func SetPoolQueueDepth(n int) {
	poolQueueDepth.Set(float64(n))
}

// AddPoolBusy adjusts the busy worker gauge.
func AddPoolBusy(delta int) {
	poolBusyWorkers.Add(float64(delta))
}

// RecordMetadataQuery records a metadata query duration.
func RecordMetadataQuery(query string, duration time.Duration) {
	metadataQueryDuration.WithLabelValues(query).Observe(duration.Seconds())
}

// RecordEventPublished records an event fanned out to observers.
func RecordEventPublished(eventType string) {
	eventsPublishedTotal.WithLabelValues(eventType).Inc()
}

// RecordEventDropped records an event dropped for a slow observer.
func RecordEventDropped() {
	eventsDroppedTotal.Inc()
}

// SetObserversActive sets the number of subscribed observers.
func SetObserversActive(count int) {
	observersActive.Set(float64(count))
}

// RecordPrefsOperation records a preference store operation.
func RecordPrefsOperation(backend, operation string, success bool) {
	prefsOperationsTotal.WithLabelValues(backend, operation, status(success)).Inc()
}
