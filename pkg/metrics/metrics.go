package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Parser metrics
	ObjectsParsedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rpki_objects_parsed_total",
			Help: "Total number of objects parsed by type and outcome",
		},
		[]string{"type", "outcome"},
	)

	ParseDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rpki_parse_duration_seconds",
			Help:    "Time taken to parse one object, by type",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"type"},
	)

	// Validator metrics
	ValidObjectsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rpki_valid_objects_total",
			Help: "Number of objects that passed validation, by type",
		},
		[]string{"type"},
	)

	InvalidObjectsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rpki_invalid_objects_total",
			Help: "Total number of objects rejected by validation, by type and reason",
		},
		[]string{"type", "reason"},
	)

	StaleManifestsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rpki_stale_manifests_total",
			Help: "Total number of manifests found past their nextUpdate time",
		},
	)

	VRPsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "rpki_vrps_total",
			Help: "Total number of distinct Validated ROA Payloads produced",
		},
	)

	ValidationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "rpki_validation_duration_seconds",
			Help:    "Time taken for a full validation run in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
		},
	)

	// Fetch metrics
	RepositoriesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rpki_repositories_total",
			Help: "Total number of tracked repositories by protocol and state",
		},
		[]string{"protocol", "state"},
	)

	FetchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rpki_fetch_duration_seconds",
			Help:    "Time taken to synchronize one repository, by protocol",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"protocol"},
	)

	FetchFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rpki_fetch_failures_total",
			Help: "Total number of failed repository synchronizations by protocol",
		},
		[]string{"protocol"},
	)

	FetchCircuitOpenTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rpki_fetch_circuit_open_total",
			Help: "Total number of times a repository's circuit breaker tripped open",
		},
		[]string{"protocol"},
	)

	// RRDP metrics
	RRDPDeltaAppliedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rpki_rrdp_delta_applied_total",
			Help: "Total number of RRDP deltas applied",
		},
	)

	RRDPFallbackToSnapshotTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rpki_rrdp_fallback_to_snapshot_total",
			Help: "Total number of times RRDP delta application failed and a full snapshot was fetched instead",
		},
	)

	// Cleanup metrics
	FilesDeletedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rpki_cache_files_deleted_total",
			Help: "Total number of cache files removed as unreferenced after the walk",
		},
	)

	DirsDeletedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rpki_cache_dirs_deleted_total",
			Help: "Total number of cache directories removed as unreferenced after the walk",
		},
	)
)

func init() {
	prometheus.MustRegister(ObjectsParsedTotal)
	prometheus.MustRegister(ParseDuration)
	prometheus.MustRegister(ValidObjectsTotal)
	prometheus.MustRegister(InvalidObjectsTotal)
	prometheus.MustRegister(StaleManifestsTotal)
	prometheus.MustRegister(VRPsTotal)
	prometheus.MustRegister(ValidationDuration)
	prometheus.MustRegister(RepositoriesTotal)
	prometheus.MustRegister(FetchDuration)
	prometheus.MustRegister(FetchFailuresTotal)
	prometheus.MustRegister(FetchCircuitOpenTotal)
	prometheus.MustRegister(RRDPDeltaAppliedTotal)
	prometheus.MustRegister(RRDPFallbackToSnapshotTotal)
	prometheus.MustRegister(FilesDeletedTotal)
	prometheus.MustRegister(DirsDeletedTotal)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
