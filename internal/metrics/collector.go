// internal/metrics/collector.go
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Container metrics
	handlesOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "corkboard_store_handles_open",
			Help: "Number of live container handles",
		},
	)

	opensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "corkboard_store_opens_total",
			Help: "Container open attempts by outcome",
		},
		[]string{"result"},
	)

	migrationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "corkboard_store_migration_steps_total",
			Help: "Migration steps applied by outcome",
		},
		[]string{"result"},
	)

	writeAttempts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "corkboard_store_write_attempts_total",
			Help: "Individual write transaction attempts",
		},
	)

	writesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "corkboard_store_writes_total",
			Help: "Scene writes by outcome",
		},
		[]string{"result"},
	)

	writeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "corkboard_store_write_duration_seconds",
			Help:    "Scene write duration including retries",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Network import metrics
	guardRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "corkboard_import_guard_rejections_total",
			Help: "URLs rejected by the outbound URL guard",
		},
		[]string{"reason"},
	)

	fetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "corkboard_import_fetches_total",
			Help: "Image fetches by outcome",
		},
		[]string{"result"},
	)

	fetchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "corkboard_import_fetch_duration_seconds",
			Help:    "Image fetch duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	fetchBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "corkboard_import_fetch_size_bytes",
			Help:    "Size of fetched image bodies",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 8),
		},
	)
)

// Outcome labels
const (
	ResultOK        = "ok"
	ResultError     = "error"
	ResultExhausted = "exhausted"
	ResultTimeout   = "timeout"
	ResultStatus    = "http_status"
)

// Collector records store and import metrics. The zero value is ready to use
// and a nil *Collector discards everything.
type Collector struct{}

// NewCollector creates a metrics collector
func NewCollector() *Collector {
	return &Collector{}
}

// HandleOpened records a handle entering the open registry
func (c *Collector) HandleOpened() {
	if c == nil {
		return
	}
	handlesOpen.Inc()
	opensTotal.WithLabelValues(ResultOK).Inc()
}

// HandleClosed records a handle leaving the open registry
func (c *Collector) HandleClosed() {
	if c == nil {
		return
	}
	handlesOpen.Dec()
}

// OpenFailed records an open attempt that did not produce a handle
func (c *Collector) OpenFailed() {
	if c == nil {
		return
	}
	opensTotal.WithLabelValues(ResultError).Inc()
}

// MigrationStep records one applied or failed migration step
func (c *Collector) MigrationStep(ok bool) {
	if c == nil {
		return
	}
	if ok {
		migrationsTotal.WithLabelValues(ResultOK).Inc()
		return
	}
	migrationsTotal.WithLabelValues(ResultError).Inc()
}

// WriteAttempt records a single transaction attempt
func (c *Collector) WriteAttempt() {
	if c == nil {
		return
	}
	writeAttempts.Inc()
}

// WriteFinished records the outcome of a whole write
func (c *Collector) WriteFinished(result string, d time.Duration) {
	if c == nil {
		return
	}
	writesTotal.WithLabelValues(result).Inc()
	writeDuration.Observe(d.Seconds())
}

// GuardRejected records a rejected URL
func (c *Collector) GuardRejected(reason string) {
	if c == nil {
		return
	}
	guardRejections.WithLabelValues(reason).Inc()
}

// FetchFinished records a fetch outcome. size is only observed on success.
func (c *Collector) FetchFinished(result string, d time.Duration, size int) {
	if c == nil {
		return
	}
	fetchesTotal.WithLabelValues(result).Inc()
	fetchDuration.Observe(d.Seconds())
	if result == ResultOK {
		fetchBytes.Observe(float64(size))
	}
}
