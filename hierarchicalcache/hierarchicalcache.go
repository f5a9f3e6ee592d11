// Package hierarchicalcache implements the façade over L1 (pricematrix) and
// L2 (backingstore), per spec.md §4.3: read-through, write-through, and a
// single-fetch Get that returns both the L1-residency bit and the value in
// one call so the warmer never double-fetches.
//
// The read-through shape is grounded on other_examples'
// O-tero-Distributed-Caching-System cache-manager-service (L1 -> L2 ->
// origin chain), adapted here to stop at L2 (origin fetch is out of scope
// per spec.md §1) and to return the residency bit the warmer needs, rather
// than a bare value.
package hierarchicalcache

import (
	"context"
	"time"

	"github.com/sonicx222/cachewarm/backingstore"
	"github.com/sonicx222/cachewarm/cacherr"
	"github.com/sonicx222/cachewarm/metrics"
	"github.com/sonicx222/cachewarm/pairid"
	"github.com/sonicx222/cachewarm/pricematrix"
)

// Codec serializes/deserializes L1 records to/from the opaque byte
// representation stored in L2. The warmer treats the deserialized value as
// an opaque any (spec.md §9's "opaque cache values" note); the façade is
// generic over the codec so callers choose their own wire format, which
// remains explicitly out of scope for this subsystem (spec.md §1).
type Codec interface {
	Encode(pricematrix.Record) ([]byte, error)
	Decode([]byte) (pricematrix.Record, error)
}

// GetResult is the single-fetch result contract required by spec.md §4.3:
// both the L1-residency bit and the value, in one call.
type GetResult struct {
	InL1  bool
	Value any
}

// Config configures a Cache.
type Config struct {
	// L2TTL is the TTL applied when a write-through reaches L2.
	// Defaults to 30s if <= 0.
	L2TTL time.Duration
	Chain string // label value for cache_* metrics
}

// Cache is the hierarchical L1+L2 façade.
type Cache struct {
	l1    *pricematrix.Matrix
	l2    backingstore.Store
	codec Codec
	cfg   Config
	m     metrics.Metrics
}

// New constructs a Cache over l1 and l2 using codec for L2 (de)serialization.
func New(l1 *pricematrix.Matrix, l2 backingstore.Store, codec Codec, cfg Config, m metrics.Metrics) *Cache {
	if cfg.L2TTL <= 0 {
		cfg.L2TTL = 30 * time.Second
	}
	if m == nil {
		m = metrics.Nop{}
	}
	return &Cache{l1: l1, l2: l2, codec: codec, cfg: cfg, m: m}
}

// Get performs the single-fetch read-through described in spec.md §4.3: L1
// first; on L1 miss, L2; on L2 miss, an explicit not-found result. A torn L1
// read or undecodable L2 payload surfaces as ErrCacheRead rather than a
// partial success.
func (c *Cache) Get(ctx context.Context, pair pairid.PairID) (GetResult, error) {
	if rec, ok := c.l1.Get(pair); ok {
		c.m.CounterInc(metrics.CacheHitsTotal, map[string]string{"level": "L1", "chain": c.cfg.Chain}, 1)
		return GetResult{InL1: true, Value: rec}, nil
	}
	c.m.CounterInc(metrics.CacheMissesTotal, map[string]string{"level": "L1", "chain": c.cfg.Chain}, 1)

	raw, ok, err := c.l2.Get(ctx, pair)
	if err != nil {
		return GetResult{}, cacherr.ErrCacheRead
	}
	if !ok {
		c.m.CounterInc(metrics.CacheMissesTotal, map[string]string{"level": "L2", "chain": c.cfg.Chain}, 1)
		return GetResult{InL1: false, Value: nil}, nil
	}
	c.m.CounterInc(metrics.CacheHitsTotal, map[string]string{"level": "L2", "chain": c.cfg.Chain}, 1)

	rec, err := c.codec.Decode(raw)
	if err != nil {
		return GetResult{}, cacherr.ErrCacheRead
	}
	return GetResult{InL1: false, Value: rec}, nil
}

// Put writes through to both tiers unless the caller specifies otherwise via
// PutL1Only.
func (c *Cache) Put(ctx context.Context, pair pairid.PairID, rec pricematrix.Record) error {
	if err := c.l1.Put(pair, rec); err != nil {
		return err
	}
	raw, err := c.codec.Encode(rec)
	if err != nil {
		return cacherr.ErrCacheRead
	}
	if err := c.l2.Put(ctx, pair, raw, c.cfg.L2TTL); err != nil {
		return cacherr.ErrCacheRead
	}
	c.m.GaugeSet(metrics.CacheSizeBytes, map[string]string{"level": "L1", "chain": c.cfg.Chain}, float64(c.l1.CapacityBytes()))
	return nil
}

// PutL1Only promotes a value into L1 without writing through to L2. This is
// what the warmer uses: the value already came from L2 (or is already
// current there), so re-writing it would be redundant.
func (c *Cache) PutL1Only(pair pairid.PairID, rec pricematrix.Record) error {
	return c.l1.Put(pair, rec)
}

// L1SlotCount is a typed introspection getter (spec.md §4.3/§9: no
// reflection-based casts are used to read cache configuration).
func (c *Cache) L1SlotCount() uint32 {
	return c.l1.CapacitySlots()
}

// L1SizeBytes is a typed introspection getter.
func (c *Cache) L1SizeBytes() uint64 {
	return c.l1.CapacityBytes()
}

// L1UsedSlots is a typed introspection getter reporting current L1
// occupancy, consumed by the warmer's StrategyContext.CurrentL1Used.
func (c *Cache) L1UsedSlots() uint32 {
	return c.l1.OccupiedSlots()
}
