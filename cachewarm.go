// Package cachewarm wires the component packages (pricematrix,
// backingstore, hierarchicalcache, correlation, warming, coordinator) into
// the single System described in spec.md §2's dataflow and §6's external
// interfaces table, so a caller can construct the whole subsystem from one
// Config rather than hand-assembling each package.
package cachewarm

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/sonicx222/cachewarm/backingstore"
	"github.com/sonicx222/cachewarm/clock"
	"github.com/sonicx222/cachewarm/coordinator"
	"github.com/sonicx222/cachewarm/correlation"
	"github.com/sonicx222/cachewarm/hierarchicalcache"
	"github.com/sonicx222/cachewarm/metrics"
	"github.com/sonicx222/cachewarm/pairid"
	"github.com/sonicx222/cachewarm/pricematrix"
	"github.com/sonicx222/cachewarm/warming"
)

// BackingStoreKind selects which backingstore.Store implementation New
// constructs.
type BackingStoreKind string

const (
	BackingStoreMemory    BackingStoreKind = "memory"
	BackingStoreFastcache BackingStoreKind = "fastcache"
)

// BackingStoreConfig configures the L2 tier New constructs.
type BackingStoreConfig struct {
	Kind BackingStoreKind
	// MemorySweepIntervalMs is used when Kind == BackingStoreMemory.
	MemorySweepIntervalMs uint32
	// FastcacheMaxBytes is used when Kind == BackingStoreFastcache.
	FastcacheMaxBytes int
}

// StrategyKind selects which warming.Strategy New constructs.
type StrategyKind string

const (
	StrategyTopN         StrategyKind = "top_n"
	StrategyThreshold    StrategyKind = "threshold"
	StrategyTimeWeighted StrategyKind = "time_weighted"
	StrategyAdaptive     StrategyKind = "adaptive"
)

// StrategyConfig configures the warming.Strategy New constructs. Only the
// struct matching Kind is consulted.
type StrategyConfig struct {
	Kind         StrategyKind
	TopN         warming.TopN
	Threshold    warming.Threshold
	TimeWeighted warming.TimeWeighted
	Adaptive     warming.Adaptive
}

func (c StrategyConfig) build() (warming.Strategy, error) {
	switch c.Kind {
	case "", StrategyTopN:
		s := c.TopN
		if s.N <= 0 {
			s.N = 5
		}
		return s, nil
	case StrategyThreshold:
		return c.Threshold, nil
	case StrategyTimeWeighted:
		return c.TimeWeighted, nil
	case StrategyAdaptive:
		return c.Adaptive, nil
	default:
		return nil, fmt.Errorf("cachewarm: unknown strategy kind %q", c.Kind)
	}
}

// Config assembles every component's Config under one top-level struct,
// per spec.md §6. Chain is propagated into every sub-config's Chain field
// so label values stay consistent across cache, correlation, warming, and
// coordinator metrics.
type Config struct {
	Chain             string
	PriceMatrix       pricematrix.Config
	BackingStore      BackingStoreConfig
	HierarchicalCache hierarchicalcache.Config
	Correlation       correlation.Config
	Strategy          StrategyConfig
	Warming           warming.Config
	Coordinator       coordinator.Config
}

// System bundles the wired components a caller interacts with: Cache for
// direct reads, Coordinator.OnPriceUpdate as the sole hot-path entry point,
// and Shutdown for graceful drain.
type System struct {
	Cache       *hierarchicalcache.Cache
	Tracker     *correlation.Tracker
	Warmer      *warming.Warmer
	Coordinator *coordinator.Coordinator

	store *memoryCloser
}

// memoryCloser lets New remember a MemoryStore without exposing the
// backingstore.Store interface's concrete type to callers.
type memoryCloser struct {
	close func()
}

// New constructs every component per cfg and wires them into a System,
// starting the coordinator's background sweep loop. clk, m, and log may be
// left zero-valued; clk defaults to clock.System{}, m to metrics.Nop{}, and
// log to a disabled logger.
func New(cfg Config, clk clock.Clock, m metrics.Metrics, log zerolog.Logger) (*System, error) {
	if clk == nil {
		clk = clock.System{}
	}
	if m == nil {
		m = metrics.Nop{}
	}

	cfg.HierarchicalCache.Chain = cfg.Chain
	cfg.Correlation.Chain = cfg.Chain
	cfg.Warming.Chain = cfg.Chain
	cfg.Coordinator.Chain = cfg.Chain

	l1 := pricematrix.New(cfg.PriceMatrix)

	l2, closer, err := buildBackingStore(cfg.BackingStore, clk)
	if err != nil {
		return nil, err
	}

	cache := hierarchicalcache.New(l1, l2, hierarchicalcache.BinaryCodec{}, cfg.HierarchicalCache, m)
	tracker := correlation.New(cfg.Correlation, clk, m)

	strategy, err := cfg.Strategy.build()
	if err != nil {
		return nil, err
	}

	warmer := warming.New(cache, tracker, strategy, cfg.Warming, clk, m, log)
	coord := coordinator.New(tracker, warmer, cfg.Coordinator, clk, m, log)

	return &System{
		Cache:       cache,
		Tracker:     tracker,
		Warmer:      warmer,
		Coordinator: coord,
		store:       closer,
	}, nil
}

func buildBackingStore(cfg BackingStoreConfig, clk clock.Clock) (backingstore.Store, *memoryCloser, error) {
	switch cfg.Kind {
	case "", BackingStoreMemory:
		sweep := time.Duration(cfg.MemorySweepIntervalMs) * time.Millisecond
		store := backingstore.NewMemoryStore(clk, sweep)
		return store, &memoryCloser{close: store.Close}, nil
	case BackingStoreFastcache:
		maxBytes := cfg.FastcacheMaxBytes
		if maxBytes <= 0 {
			maxBytes = 32 * 1024 * 1024
		}
		return backingstore.NewFastcacheStore(clk, maxBytes), nil, nil
	default:
		return nil, nil, fmt.Errorf("cachewarm: unknown backing store kind %q", cfg.Kind)
	}
}

// OnPriceUpdate forwards to Coordinator.OnPriceUpdate, the sole hot-path
// entry point described in spec.md §4.7.
func (s *System) OnPriceUpdate(pair pairid.PairID, timestampNs int64, chain string) {
	s.Coordinator.OnPriceUpdate(pair, timestampNs, chain)
}

// Shutdown drains the coordinator and releases any background resources
// held by the backing store (e.g. MemoryStore's sweep goroutine).
func (s *System) Shutdown(ctx context.Context) error {
	err := s.Coordinator.Shutdown(ctx)
	if s.store != nil {
		s.store.close()
	}
	return err
}
