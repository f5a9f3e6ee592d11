package warming

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/sonicx222/cachewarm/clock"
	"github.com/sonicx222/cachewarm/correlation"
	"github.com/sonicx222/cachewarm/hierarchicalcache"
	"github.com/sonicx222/cachewarm/metrics"
	"github.com/sonicx222/cachewarm/pairid"
	"github.com/sonicx222/cachewarm/pricematrix"
)

// Config configures a Warmer, per the table in spec.md §6.
type Config struct {
	TopN             uint32
	MinScore         float64
	MaxPairsPerWarm  uint32
	TimeoutMs        uint32
	PerPairTimeoutMs uint32
	Enabled          bool
	// L1FractionCap bounds the candidate set to this fraction of L1SlotCount
	// (e.g. 0.5 means never try to warm more than half of L1 in one call).
	L1FractionCap float64
	Chain         string
}

func (c Config) withDefaults() Config {
	if c.TopN == 0 {
		c.TopN = 5
	}
	if c.MinScore == 0 {
		c.MinScore = 0.3
	}
	if c.MaxPairsPerWarm == 0 {
		c.MaxPairsPerWarm = 10
	}
	if c.TimeoutMs == 0 {
		c.TimeoutMs = 50
	}
	if c.PerPairTimeoutMs == 0 {
		c.PerPairTimeoutMs = 10
	}
	if c.L1FractionCap <= 0 {
		c.L1FractionCap = 0.5
	}
	return c
}

// WarmResult is returned by WarmFor, per spec.md §4.6.
type WarmResult struct {
	Success          bool
	DurationMs       uint32
	PairsConsidered  int
	PairsAlreadyInL1 int
	PairsWarmed      int
	PairsNotFound    int
	Errors           int
}

// Warmer is the CacheWarmer of spec.md §4.6: queries the tracker, runs a
// strategy, and single-fetches each candidate into L1 under per-candidate
// and total-call deadlines.
type Warmer struct {
	cache    *hierarchicalcache.Cache
	tracker  *correlation.Tracker
	strategy Strategy
	cfg      Config
	clock    clock.Clock
	m        metrics.Metrics
	log      zerolog.Logger

	adaptiveN atomic.Int64

	recentMu    sync.Mutex
	recentTotal uint64
	recentHits  uint64

	warmedMu sync.Mutex
	warmed   map[pairid.PairID]int64 // pair -> last-warmed timestamp, trimmed opportunistically
}

// New constructs a Warmer. clk and m may be nil. log defaults to a
// disabled logger if left zero-valued.
func New(cache *hierarchicalcache.Cache, tracker *correlation.Tracker, strategy Strategy, cfg Config, clk clock.Clock, m metrics.Metrics, log ...zerolog.Logger) *Warmer {
	cfg = cfg.withDefaults()
	if clk == nil {
		clk = clock.System{}
	}
	if m == nil {
		m = metrics.Nop{}
	}
	lg := zerolog.Nop()
	if len(log) > 0 {
		lg = log[0]
	}
	return &Warmer{
		cache:    cache,
		tracker:  tracker,
		strategy: strategy,
		cfg:      cfg,
		clock:    clk,
		m:        m,
		log:      lg,
		warmed:   make(map[pairid.PairID]int64),
	}
}

// WarmFor implements the algorithm of spec.md §4.6.
func (w *Warmer) WarmFor(ctx context.Context, trigger pairid.PairID) WarmResult {
	start := time.Now()

	if !w.cfg.Enabled {
		return WarmResult{Success: true}
	}

	ranked := w.tracker.Rank(trigger, int(w.cfg.TopN), w.cfg.MinScore)
	if len(ranked) == 0 {
		return WarmResult{Success: true, DurationMs: elapsedMs(start)}
	}

	stratCtx := w.buildStrategyContext()
	candidates := w.strategy.Select(ranked, stratCtx)
	w.adaptiveN.Store(int64(len(candidates)))

	candidates = w.truncateForCapacity(candidates)
	if len(candidates) > int(w.cfg.MaxPairsPerWarm) {
		candidates = candidates[:w.cfg.MaxPairsPerWarm]
	}

	callCtx, cancel := context.WithTimeout(ctx, time.Duration(w.cfg.TimeoutMs)*time.Millisecond)
	defer cancel()

	result := WarmResult{Success: true, PairsConsidered: len(candidates)}

	for _, cand := range candidates {
		if callCtx.Err() != nil {
			// total-call deadline expired: remaining candidates are skipped,
			// per spec.md §4.6's must-not-block-indefinitely requirement.
			break
		}
		w.warmOne(callCtx, cand.Pair, &result)
	}

	result.DurationMs = elapsedMs(start)
	w.recordOutcome(result)

	w.m.CounterInc(metrics.WarmingOperationsTotal, map[string]string{"chain": w.cfg.Chain, "status": "success"}, 1)
	w.m.CounterInc(metrics.WarmingPairsWarmedTotal, map[string]string{"chain": w.cfg.Chain}, uint64(result.PairsWarmed))
	w.m.HistogramObserve(metrics.WarmingDurationMs, map[string]string{"chain": w.cfg.Chain}, float64(result.DurationMs))

	return result
}

func (w *Warmer) warmOne(callCtx context.Context, pair pairid.PairID, result *WarmResult) {
	candCtx, cancel := context.WithTimeout(callCtx, time.Duration(w.cfg.PerPairTimeoutMs)*time.Millisecond)
	defer cancel()

	res, err := w.cache.Get(candCtx, pair)
	if candCtx.Err() != nil {
		// deadline expired mid-fetch: counted as an error, never as
		// pairsNotFound, per spec.md §4.6's must-nots.
		result.Errors++
		w.m.CounterInc(metrics.WarmingErrorTotal, map[string]string{"chain": w.cfg.Chain, "reason": "timeout"}, 1)
		w.log.Error().Str("pair", string(pair)).Str("chain", w.cfg.Chain).Msg("warm candidate deadline exceeded")
		return
	}
	if err != nil {
		result.Errors++
		w.m.CounterInc(metrics.WarmingErrorTotal, map[string]string{"chain": w.cfg.Chain, "reason": "cache_read"}, 1)
		w.log.Error().Err(err).Str("pair", string(pair)).Str("chain", w.cfg.Chain).Msg("warm candidate cache read failed")
		return
	}

	if res.InL1 {
		result.PairsAlreadyInL1++
		return
	}
	if res.Value == nil {
		result.PairsNotFound++
		return
	}
	rec, ok := res.Value.(pricematrix.Record)
	if !ok {
		result.Errors++
		w.m.CounterInc(metrics.WarmingErrorTotal, map[string]string{"chain": w.cfg.Chain, "reason": "decode"}, 1)
		return
	}
	if err := w.cache.PutL1Only(pair, rec); err != nil {
		result.Errors++
		w.m.CounterInc(metrics.WarmingErrorTotal, map[string]string{"chain": w.cfg.Chain, "reason": "promote"}, 1)
		return
	}
	result.PairsWarmed++
	w.markWarmed(pair)
}

// truncateForCapacity caps candidates at cfg.L1FractionCap of the cache's
// total slot count, per spec.md §4.6's capacity-awareness requirement.
func (w *Warmer) truncateForCapacity(candidates []correlation.Pair) []correlation.Pair {
	limit := int(float64(w.cache.L1SlotCount()) * w.cfg.L1FractionCap)
	if limit <= 0 || len(candidates) <= limit {
		return candidates
	}
	return candidates[:limit]
}

func (w *Warmer) buildStrategyContext() StrategyContext {
	return StrategyContext{
		L1Capacity:     w.cache.L1SlotCount(),
		CurrentL1Used:  w.cache.L1UsedSlots(),
		RecentHitRate:  w.recentHitRate(),
		NowNs:          int64(w.clock.NowNs()),
		RecentlyWarmed: w.snapshotRecentlyWarmed(),
		CurrentTopN:    int(w.adaptiveN.Load()),
	}
}

func (w *Warmer) recordOutcome(r WarmResult) {
	w.recentMu.Lock()
	defer w.recentMu.Unlock()
	w.recentTotal += uint64(r.PairsConsidered)
	w.recentHits += uint64(r.PairsAlreadyInL1)
	// bound the running counters so the ratio reflects recent behavior
	// rather than the lifetime of the process.
	const decayThreshold = 100000
	if w.recentTotal > decayThreshold {
		w.recentTotal /= 2
		w.recentHits /= 2
	}
}

func (w *Warmer) recentHitRate() float64 {
	w.recentMu.Lock()
	defer w.recentMu.Unlock()
	if w.recentTotal == 0 {
		return 0
	}
	return float64(w.recentHits) / float64(w.recentTotal)
}

func (w *Warmer) markWarmed(pair pairid.PairID) {
	nowNs := int64(w.clock.NowNs())
	w.warmedMu.Lock()
	defer w.warmedMu.Unlock()
	w.warmed[pair] = nowNs
	const maxTracked = 4096
	if len(w.warmed) > maxTracked {
		for p, ts := range w.warmed {
			if nowNs-ts > int64(time.Minute) {
				delete(w.warmed, p)
			}
		}
	}
}

func (w *Warmer) snapshotRecentlyWarmed() map[pairid.PairID]struct{} {
	w.warmedMu.Lock()
	defer w.warmedMu.Unlock()
	out := make(map[pairid.PairID]struct{}, len(w.warmed))
	for p := range w.warmed {
		out[p] = struct{}{}
	}
	return out
}

func elapsedMs(start time.Time) uint32 {
	d := time.Since(start)
	if d <= 0 {
		return 0
	}
	ms := d.Milliseconds()
	if ms > int64(^uint32(0)) {
		return ^uint32(0)
	}
	return uint32(ms)
}
