package metrics

import (
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus adapts the narrow Metrics interface onto the
// github.com/prometheus/client_golang registry. Vectors are created lazily,
// keyed by metric name plus the sorted label key set of the first
// observation — mirroring how ad hoc label sets are handled in
// ethereum-go-ethereum's metrics/prometheus collector, which likewise
// derives Prometheus vectors from a generically-shaped internal registry
// rather than requiring metrics to be declared up front.
type Prometheus struct {
	registerer prometheus.Registerer

	mu         sync.Mutex
	counters   map[vecKey]*prometheus.CounterVec
	gauges     map[vecKey]*prometheus.GaugeVec
	histograms map[vecKey]*prometheus.HistogramVec
}

type vecKey struct {
	name string
	keys string // sorted, comma-joined label keys
}

// NewPrometheus returns a Prometheus adapter registering into reg. If reg is
// nil, prometheus.DefaultRegisterer is used.
func NewPrometheus(reg prometheus.Registerer) *Prometheus {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	return &Prometheus{
		registerer: reg,
		counters:   make(map[vecKey]*prometheus.CounterVec),
		gauges:     make(map[vecKey]*prometheus.GaugeVec),
		histograms: make(map[vecKey]*prometheus.HistogramVec),
	}
}

func labelKeys(labels map[string]string) []string {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func joinKeys(keys []string) (joined string) {
	for i, k := range keys {
		if i > 0 {
			joined += ","
		}
		joined += k
	}
	return joined
}

// CounterInc implements Metrics.
func (p *Prometheus) CounterInc(name string, labels map[string]string, delta uint64) {
	keys := labelKeys(labels)
	p.mu.Lock()
	key := vecKey{name, joinKeys(keys)}
	vec, ok := p.counters[key]
	if !ok {
		vec = prometheus.NewCounterVec(prometheus.CounterOpts{Name: name}, keys)
		p.registerer.MustRegister(vec)
		p.counters[key] = vec
	}
	p.mu.Unlock()
	vec.With(prometheus.Labels(labels)).Add(float64(delta))
}

// GaugeSet implements Metrics.
func (p *Prometheus) GaugeSet(name string, labels map[string]string, value float64) {
	keys := labelKeys(labels)
	p.mu.Lock()
	key := vecKey{name, joinKeys(keys)}
	vec, ok := p.gauges[key]
	if !ok {
		vec = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: name}, keys)
		p.registerer.MustRegister(vec)
		p.gauges[key] = vec
	}
	p.mu.Unlock()
	vec.With(prometheus.Labels(labels)).Set(value)
}

// HistogramObserve implements Metrics.
func (p *Prometheus) HistogramObserve(name string, labels map[string]string, value float64) {
	keys := labelKeys(labels)
	p.mu.Lock()
	key := vecKey{name, joinKeys(keys)}
	vec, ok := p.histograms[key]
	if !ok {
		vec = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    name,
			Buckets: bucketsFor(name),
		}, keys)
		p.registerer.MustRegister(vec)
		p.histograms[key] = vec
	}
	p.mu.Unlock()
	vec.With(prometheus.Labels(labels)).Observe(value)
}

func bucketsFor(name string) []float64 {
	switch name {
	case WarmingDurationMs:
		return WarmingDurationMsBuckets
	case CorrelationTrackingDuration:
		return CorrelationTrackingDurationBucket
	default:
		return prometheus.DefBuckets
	}
}

var _ Metrics = (*Prometheus)(nil)
