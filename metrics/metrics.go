// Package metrics defines the narrow telemetry surface consumed by every
// cachewarm component. The core never owns an exposition format (see
// spec.md §1) — it only calls these three methods; how they're scraped or
// shipped is the caller's concern.
package metrics

// Metrics is the dependency-injected observation surface. All methods must
// be safe for concurrent use and must never block the caller for long
// (hot-path callers depend on this).
type Metrics interface {
	// CounterInc increments a monotonic counter identified by name and
	// labels by delta.
	CounterInc(name string, labels map[string]string, delta uint64)
	// GaugeSet sets a point-in-time gauge identified by name and labels.
	GaugeSet(name string, labels map[string]string, value float64)
	// HistogramObserve records a single observation into a histogram
	// identified by name and labels.
	HistogramObserve(name string, labels map[string]string, value float64)
}

// Metric names emitted by this subsystem, per spec.md §6.
const (
	WarmingOperationsTotal      = "warming_operations_total"
	WarmingPairsWarmedTotal     = "warming_pairs_warmed_total"
	WarmingDebouncedTotal       = "warming_debounced_total"
	WarmingHungTotal            = "warming_hung_total"
	WarmingPendingOperations    = "warming_pending_operations"
	WarmingDurationMs           = "warming_duration_ms"
	WarmingErrorTotal           = "warm_error_total"
	CorrelationTrackingDuration = "correlation_tracking_duration_us"
	CorrelationPairsTracked     = "correlation_pairs_tracked"
	CorrelationTrackingError    = "tracking_error_total"
	CacheHitsTotal              = "cache_hits_total"
	CacheMissesTotal            = "cache_misses_total"
	CacheSizeBytes              = "cache_size_bytes"
)

// Recommended histogram buckets, per spec.md §6.
var (
	WarmingDurationMsBuckets          = []float64{1, 2, 5, 10, 15, 20, 50, 100}
	CorrelationTrackingDurationBucket = []float64{10, 25, 50, 75, 100, 250, 500}
)
