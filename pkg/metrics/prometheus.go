// Package metrics provides Prometheus metrics for the derby race service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Default metrics configuration constants.
const (
	defaultRefreshInterval = 10 * time.Second
)

// Manager manages all Prometheus metrics for the derby service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	enabled          bool
	refreshInterval  time.Duration
	registry         prometheus.Registerer

	// Race lifecycle metrics
	racesStarted  prometheus.Counter
	racesFinished prometheus.Counter
	racesFailed   prometheus.Counter
	raceDuration  prometheus.Histogram

	// Commentary pipeline metrics
	commentaryGenerated     prometheus.Counter
	commentaryFallback      prometheus.Counter
	commentaryDropped       prometheus.Counter
	commentaryPersistErrors prometheus.Counter
	narrationLatency        prometheus.Histogram
	activeChains            prometheus.Gauge

	// Broker metrics
	brokerPublished   *prometheus.CounterVec
	brokerDelivered   prometheus.Counter
	brokerDropped     prometheus.Counter
	brokerSubscribers *prometheus.GaugeVec

	// Live stream metrics
	liveStreamsOpen prometheus.Gauge
	liveHeartbeats  prometheus.Counter

	// Automation metrics
	snapshotsCaptured   prometheus.Counter
	snapshotErrors      prometheus.Counter
	extractionFallbacks prometheus.Counter
	simulatorFallbacks  prometheus.Counter

	// HTTP performance metrics
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Error tracking
	errorsByComponent *prometheus.CounterVec

	// System metrics
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

// Initialize global metrics.
func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "derby",
		subsystem:        "race",
		histogramBuckets: prometheus.DefBuckets,
		enabled:          true,
		refreshInterval:  defaultRefreshInterval,
		registry:         prometheus.DefaultRegisterer,
	}

	// Apply all options
	for _, opt := range opts {
		opt(m)
	}

	// Initialize metrics
	m.initializeMetrics()

	return m
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() { //nolint:funlen // long function required for metrics initialization
	// Ensure metrics are registered on the configured registry (custom by default)
	auto := promauto.With(m.registry)

	m.racesStarted = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "started_total",
		Help:      "Total number of races transitioned to running",
	})

	m.racesFinished = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "finished_total",
		Help:      "Total number of races finalized successfully",
	})

	m.racesFailed = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "failed_total",
		Help:      "Total number of races that ended in the failed state",
	})

	m.raceDuration = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "duration_seconds",
		Help:      "Wall-clock duration of a race from start to finalization",
		Buckets:   []float64{5, 10, 20, 30, 45, 60, 90, 120, 300},
	})

	m.commentaryGenerated = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "commentary",
		Name:      "generated_total",
		Help:      "Total number of commentary entries generated",
	})

	m.commentaryFallback = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "commentary",
		Name:      "fallback_total",
		Help:      "Total number of canned fallback lines used after provider failures",
	})

	m.commentaryDropped = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "commentary",
		Name:      "dropped_total",
		Help:      "Total number of commentary jobs dropped because a race chain was full",
	})

	m.commentaryPersistErrors = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "commentary",
		Name:      "persist_errors_total",
		Help:      "Total number of commentary entries lost to store write failures",
	})

	m.narrationLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: "commentary",
		Name:      "narration_latency_milliseconds",
		Help:      "Latency of narration provider calls in milliseconds",
		Buckets:   []float64{10, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
	})

	m.activeChains = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: "commentary",
		Name:      "active_chains",
		Help:      "Number of per-race commentary chains currently alive",
	})

	m.brokerPublished = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "broker",
		Name:      "published_total",
		Help:      "Total number of events published per topic",
	}, []string{"topic"})

	m.brokerDelivered = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "broker",
		Name:      "delivered_total",
		Help:      "Total number of events delivered to subscribers",
	})

	m.brokerDropped = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "broker",
		Name:      "dropped_total",
		Help:      "Total number of events dropped for slow subscribers",
	})

	m.brokerSubscribers = auto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: "broker",
		Name:      "subscribers",
		Help:      "Current number of subscribers per topic",
	}, []string{"topic"})

	m.liveStreamsOpen = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: "live",
		Name:      "streams_open",
		Help:      "Number of currently open live stream connections",
	})

	m.liveHeartbeats = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "live",
		Name:      "heartbeats_total",
		Help:      "Total number of heartbeat pings sent to live viewers",
	})

	m.snapshotsCaptured = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "automation",
		Name:      "snapshots_total",
		Help:      "Total number of snapshots captured from the race target",
	})

	m.snapshotErrors = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "automation",
		Name:      "snapshot_errors_total",
		Help:      "Total number of failed snapshot captures (skipped, never fatal)",
	})

	m.extractionFallbacks = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "automation",
		Name:      "extraction_fallback_total",
		Help:      "Total number of rankings produced by the randomized fallback",
	})

	m.simulatorFallbacks = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "automation",
		Name:      "simulator_fallback_total",
		Help:      "Total number of races delegated to the simulator",
	})

	m.httpRequests = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total number of HTTP requests",
	}, []string{"endpoint", "method", "status_code"})

	m.httpRequestDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: "http",
		Name:      "request_duration_milliseconds",
		Help:      "HTTP request duration in milliseconds",
		Buckets:   m.histogramBuckets,
	}, []string{"endpoint", "method", "status_code"})

	m.errorsByComponent = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "errors",
		Name:      "by_component_total",
		Help:      "Total errors by component and error type",
	}, []string{"component", "error_type"})

	m.systemMemoryUsage = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: "system",
		Name:      "memory_usage_bytes",
		Help:      "System memory usage in bytes",
	})

	m.systemGoroutineCount = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: "system",
		Name:      "goroutine_count",
		Help:      "Number of goroutines",
	})
}

// RecordRaceStarted increments the races started counter.
func RecordRaceStarted() {
	globalManager.racesStarted.Inc()
}

// RecordRaceFinished increments the races finished counter.
func RecordRaceFinished() {
	globalManager.racesFinished.Inc()
}

// RecordRaceFailed increments the races failed counter.
func RecordRaceFailed() {
	globalManager.racesFailed.Inc()
}

// RecordRaceDuration records a race duration in seconds.
func RecordRaceDuration(seconds float64) {
	globalManager.raceDuration.Observe(seconds)
}

// RecordCommentaryGenerated increments the generated commentary counter.
func RecordCommentaryGenerated() {
	globalManager.commentaryGenerated.Inc()
}

// RecordCommentaryFallback increments the fallback line counter.
func RecordCommentaryFallback() {
	globalManager.commentaryFallback.Inc()
}

// RecordCommentaryDropped increments the dropped commentary job counter.
func RecordCommentaryDropped() {
	globalManager.commentaryDropped.Inc()
}

// RecordCommentaryPersistError increments the commentary persistence error counter.
func RecordCommentaryPersistError() {
	globalManager.commentaryPersistErrors.Inc()
}

// RecordNarrationLatency records narration provider latency in milliseconds.
func RecordNarrationLatency(latencyMs float64) {
	globalManager.narrationLatency.Observe(latencyMs)
}

// UpdateActiveChains sets the number of live commentary chains.
func UpdateActiveChains(count int) {
	globalManager.activeChains.Set(float64(count))
}

// RecordBrokerPublished increments the published counter for a topic.
func RecordBrokerPublished(topic string) {
	globalManager.brokerPublished.WithLabelValues(topic).Inc()
}

// RecordBrokerDelivered increments the delivered events counter.
func RecordBrokerDelivered() {
	globalManager.brokerDelivered.Inc()
}

// RecordBrokerDropped increments the dropped events counter.
func RecordBrokerDropped() {
	globalManager.brokerDropped.Inc()
}

// UpdateBrokerSubscribers sets the subscriber count for a topic.
func UpdateBrokerSubscribers(topic string, count int) {
	globalManager.brokerSubscribers.WithLabelValues(topic).Set(float64(count))
}

// UpdateLiveStreamsOpen sets the number of open live streams.
func UpdateLiveStreamsOpen(count int) {
	globalManager.liveStreamsOpen.Set(float64(count))
}

// RecordLiveHeartbeat increments the heartbeat counter.
func RecordLiveHeartbeat() {
	globalManager.liveHeartbeats.Inc()
}

// RecordSnapshotCaptured increments the captured snapshot counter.
func RecordSnapshotCaptured() {
	globalManager.snapshotsCaptured.Inc()
}

// RecordSnapshotError increments the snapshot error counter.
func RecordSnapshotError() {
	globalManager.snapshotErrors.Inc()
}

// RecordExtractionFallback increments the randomized ranking fallback counter.
func RecordExtractionFallback() {
	globalManager.extractionFallbacks.Inc()
}

// RecordSimulatorFallback increments the simulator fallback counter.
func RecordSimulatorFallback() {
	globalManager.simulatorFallbacks.Inc()
}

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// RecordErrorByComponent records an error for a specific component.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorsByComponent.WithLabelValues(component, errorType).Inc()
}

// UpdateSystemMemoryUsage sets the system memory usage.
func UpdateSystemMemoryUsage(bytes uint64) {
	globalManager.systemMemoryUsage.Set(float64(bytes))
}

// UpdateSystemGoroutineCount sets the goroutine count.
func UpdateSystemGoroutineCount(count int) {
	globalManager.systemGoroutineCount.Set(float64(count))
}

// GetRegistry returns the custom registry used for scraping.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
