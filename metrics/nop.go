package metrics

// Nop is a Metrics implementation that discards every observation. It's the
// default for tests and for callers that don't care about telemetry.
type Nop struct{}

// CounterInc implements Metrics.
func (Nop) CounterInc(string, map[string]string, uint64) {}

// GaugeSet implements Metrics.
func (Nop) GaugeSet(string, map[string]string, float64) {}

// HistogramObserve implements Metrics.
func (Nop) HistogramObserve(string, map[string]string, float64) {}

var _ Metrics = Nop{}
