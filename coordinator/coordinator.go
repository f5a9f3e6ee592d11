// Package coordinator wires the correlation tracker and the warmer
// together behind the single hot-path entry point upstream price feeds
// call: OnPriceUpdate. It is the Integration component of spec.md §4.7,
// modeled on the teacher's background-task idioms: catrate.Limiter's
// sync.Map check-and-set plus ticker-driven cleanup worker for the
// debounce/sweep mechanics, and microbatch.Batcher's ctx-bounded
// drain-then-force-cancel for graceful Shutdown.
package coordinator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/sonicx222/cachewarm/cacherr"
	"github.com/sonicx222/cachewarm/clock"
	"github.com/sonicx222/cachewarm/correlation"
	"github.com/sonicx222/cachewarm/metrics"
	"github.com/sonicx222/cachewarm/pairid"
	"github.com/sonicx222/cachewarm/warming"
)

// minSweepInterval is the floor below which a misconfigured
// integration.sweepIntervalMs would otherwise spin the sweep loop.
const minSweepInterval = 100 * time.Millisecond

// Config configures a Coordinator, per the table in spec.md §6.
type Config struct {
	StaleAgeMs      uint32
	SweepIntervalMs uint32
	ShutdownGraceMs uint32
	Chain           string
}

func (c Config) withDefaults() Config {
	if c.StaleAgeMs == 0 {
		c.StaleAgeMs = 5000
	}
	if c.SweepIntervalMs == 0 {
		c.SweepIntervalMs = 30000
	}
	if c.ShutdownGraceMs == 0 {
		c.ShutdownGraceMs = 10000
	}
	return c
}

// pendingEntry is the value stored in Coordinator.pending, per spec.md
// §3's WarmingRequest: {triggerPair, startedAt}. triggerPair is the map
// key itself, so only startedAt needs to be carried.
type pendingEntry struct {
	startedAtNs int64
}

// Coordinator is the WarmingCoordinator of spec.md §4.7: the sole
// hot-path entry point, a pendingWarmings debounce registry, a
// background stale sweeper, and graceful shutdown.
type Coordinator struct {
	tracker *correlation.Tracker
	warmer  *warming.Warmer
	cfg     Config
	clock   clock.Clock
	m       metrics.Metrics
	log     zerolog.Logger

	pending      sync.Map // pairid.PairID -> *pendingEntry
	pendingCount atomic.Int64
	flight       singleflight.Group

	skewLogLimiter   *rate.Limiter
	sweepRateLimiter *rate.Limiter

	// warmCtx is the parent context for every scheduled warmFor call. It is
	// only canceled when the shutdown grace period expires, forcing
	// lingering warming tasks to abandon their remaining candidates.
	warmCtx    context.Context
	warmCancel context.CancelFunc

	// sweepCtx governs the background sweep loop's lifetime; it is
	// canceled as soon as Shutdown is called, since sweeping a registry
	// that no longer accepts new entries serves no purpose.
	sweepCtx    context.Context
	sweepCancel context.CancelFunc

	wg           sync.WaitGroup
	shuttingDown atomic.Bool
	stopOnce     sync.Once
}

// New constructs a Coordinator and starts its background sweep loop. clk,
// m, and log may be left zero-valued; clk defaults to clock.System{}, m to
// metrics.Nop{}, and log to a disabled logger.
func New(tracker *correlation.Tracker, warmer *warming.Warmer, cfg Config, clk clock.Clock, m metrics.Metrics, log zerolog.Logger) *Coordinator {
	cfg = cfg.withDefaults()
	if clk == nil {
		clk = clock.System{}
	}
	if m == nil {
		m = metrics.Nop{}
	}

	warmCtx, warmCancel := context.WithCancel(context.Background())
	sweepCtx, sweepCancel := context.WithCancel(context.Background())

	sweepPeriod := time.Duration(cfg.SweepIntervalMs) * time.Millisecond
	rateLimit := rate.Every(sweepPeriod)
	if sweepPeriod < minSweepInterval {
		rateLimit = rate.Every(minSweepInterval)
	}

	c := &Coordinator{
		tracker:          tracker,
		warmer:           warmer,
		cfg:              cfg,
		clock:            clk,
		m:                m,
		log:              log,
		skewLogLimiter:   rate.NewLimiter(rate.Every(time.Second), 1),
		sweepRateLimiter: rate.NewLimiter(rateLimit, 1),
		warmCtx:          warmCtx,
		warmCancel:       warmCancel,
		sweepCtx:         sweepCtx,
		sweepCancel:      sweepCancel,
	}

	c.wg.Add(1)
	go c.sweepLoop(sweepPeriod)

	return c
}

// OnPriceUpdate is the sole hot-path entry point, per spec.md §4.7. pair is
// normalized (case-folding 0x-prefixed addresses) before it enters any
// tracker, cache, or registry state, so callers that pass a raw upstream
// string straight through as a PairID still get stable identity across
// feeds that disagree on hex casing. OnPriceUpdate never raises: tracker
// and cache errors are recorded via metrics/logs and the call returns.
func (c *Coordinator) OnPriceUpdate(rawPair pairid.PairID, timestampNs int64, chain string) {
	if c.shuttingDown.Load() {
		return
	}

	pair := pairid.Normalize(string(rawPair))

	_, err := c.tracker.Record(pair, timestampNs)
	if err != nil {
		if errors.Is(err, cacherr.ErrClockSkew) {
			if c.skewLogLimiter.Allow() {
				c.log.Warn().Str("pair", string(pair)).Str("chain", chain).Msg("timestamp beyond clock skew tolerance")
			}
		} else {
			c.log.Error().Err(err).Str("pair", string(pair)).Str("chain", chain).Msg("correlation record failed")
			return
		}
	}

	now := int64(c.clock.NowNs())
	entry := &pendingEntry{startedAtNs: now}
	if _, loaded := c.pending.LoadOrStore(pair, entry); loaded {
		c.m.CounterInc(metrics.WarmingDebouncedTotal, map[string]string{"chain": chain}, 1)
		return
	}
	c.pendingCount.Add(1)
	c.m.GaugeSet(metrics.WarmingPendingOperations, map[string]string{"chain": chain}, float64(c.pendingCount.Load()))

	c.wg.Add(1)
	warmingID := uuid.NewString()
	c.flight.DoChan(string(pair), func() (any, error) {
		defer c.wg.Done()
		defer c.clearPending(pair, chain)

		c.log.Debug().Str("pair", string(pair)).Str("chain", chain).Str("warming_id", warmingID).Msg("warming cycle started")
		result := c.warmer.WarmFor(c.warmCtx, pair)
		c.log.Debug().
			Str("pair", string(pair)).
			Str("chain", chain).
			Str("warming_id", warmingID).
			Int("pairs_warmed", result.PairsWarmed).
			Int("errors", result.Errors).
			Msg("warming cycle finished")
		return result, nil
	})
}

// clearPending removes pair from the pending registry and updates the
// gauge, used both by a completed warming task and by the stale sweeper.
func (c *Coordinator) clearPending(pair pairid.PairID, chain string) {
	if _, ok := c.pending.LoadAndDelete(pair); ok {
		c.pendingCount.Add(-1)
		c.m.GaugeSet(metrics.WarmingPendingOperations, map[string]string{"chain": chain}, float64(c.pendingCount.Load()))
	}
}

// PendingWarmings reports the number of pairs currently registered as
// in-flight, for tests and introspection.
func (c *Coordinator) PendingWarmings() int {
	return int(c.pendingCount.Load())
}

// sweepLoop runs the periodic stale-entry sweep described in spec.md
// §4.7 step 5, grounded on catrate.Limiter.worker's ticker-driven cleanup
// loop.
func (c *Coordinator) sweepLoop(period time.Duration) {
	defer c.wg.Done()

	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-c.sweepCtx.Done():
			return
		case <-ticker.C:
			if c.sweepRateLimiter.Allow() {
				c.sweep()
			}
		}
	}
}

// sweep removes pendingWarmings entries older than cfg.StaleAgeMs,
// incrementing warming_hung_total for each, per spec.md §4.7 step 5.
func (c *Coordinator) sweep() {
	staleBeforeNs := int64(c.clock.NowNs()) - int64(c.cfg.StaleAgeMs)*int64(time.Millisecond)

	var stale []pairid.PairID
	c.pending.Range(func(key, value any) bool {
		pair := key.(pairid.PairID)
		entry := value.(*pendingEntry)
		if entry.startedAtNs < staleBeforeNs {
			stale = append(stale, pair)
		}
		return true
	})

	for _, pair := range stale {
		if _, ok := c.pending.LoadAndDelete(pair); ok {
			c.pendingCount.Add(-1)
			c.m.CounterInc(metrics.WarmingHungTotal, map[string]string{"chain": c.cfg.Chain}, 1)
			c.log.Warn().Str("pair", string(pair)).Msg("swept stale pending warming")
		}
	}
	c.m.GaugeSet(metrics.WarmingPendingOperations, map[string]string{"chain": c.cfg.Chain}, float64(c.pendingCount.Load()))
}

// Shutdown ceases accepting new updates, waits up to cfg.ShutdownGraceMs
// for pending warmings to drain, then force-cancels any stragglers and
// clears the pending registry, per spec.md §4.7's Shutdown contract and
// grounded on microbatch.Batcher.Shutdown's drain-then-force-cancel idiom.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.stopOnce.Do(func() {
		c.shuttingDown.Store(true)
		c.sweepCancel()
	})

	drained := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(drained)
	}()

	graceCtx, cancelGrace := context.WithTimeout(ctx, time.Duration(c.cfg.ShutdownGraceMs)*time.Millisecond)
	defer cancelGrace()

	var err error
	select {
	case <-drained:
	case <-graceCtx.Done():
		c.warmCancel()
		<-drained
		err = cacherr.ErrTimeout
	}

	c.pending.Range(func(key, value any) bool {
		c.pending.Delete(key)
		return true
	})
	c.pendingCount.Store(0)

	return err
}
