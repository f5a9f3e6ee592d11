package warming

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sonicx222/cachewarm/backingstore"
	"github.com/sonicx222/cachewarm/clock"
	"github.com/sonicx222/cachewarm/correlation"
	"github.com/sonicx222/cachewarm/hierarchicalcache"
	"github.com/sonicx222/cachewarm/pairid"
	"github.com/sonicx222/cachewarm/pricematrix"
)

func newTestWarmer(t *testing.T, strategy Strategy, cfg Config) (*Warmer, *hierarchicalcache.Cache, *backingstore.MemoryStore, *correlation.Tracker, *clock.Fake) {
	t.Helper()
	fc := clock.NewFake(1_000_000_000)

	l1 := pricematrix.New(pricematrix.Config{Slots: 16})
	l2 := backingstore.NewMemoryStore(fc, time.Hour)
	t.Cleanup(l2.Close)
	cache := hierarchicalcache.New(l1, l2, hierarchicalcache.BinaryCodec{}, hierarchicalcache.Config{Chain: "ethereum"}, nil)

	tracker := correlation.New(correlation.Config{CoWindowMs: 1000}, fc, nil)

	w := New(cache, tracker, strategy, cfg, fc, nil)
	return w, cache, l2, tracker, fc
}

func TestWarmForDisabledIsNoop(t *testing.T) {
	w, _, _, _, _ := newTestWarmer(t, TopN{N: 5}, Config{Enabled: false})
	res := w.WarmFor(context.Background(), "ETH/USDC")
	assert.True(t, res.Success)
	assert.Zero(t, res.PairsConsidered)
}

func TestWarmForEmptyRankReturnsEarly(t *testing.T) {
	w, _, _, _, _ := newTestWarmer(t, TopN{N: 5}, Config{Enabled: true})
	res := w.WarmFor(context.Background(), "ETH/USDC")
	assert.True(t, res.Success)
	assert.Zero(t, res.PairsConsidered)
}

func TestWarmForSingleFetchPromotesFromL2(t *testing.T) {
	w, cache, l2, tracker, fc := newTestWarmer(t, TopN{N: 5}, Config{Enabled: true})
	now := int64(fc.NowNs())

	_, err := tracker.Record("ETH/USDC", now)
	require.NoError(t, err)
	_, err = tracker.Record("BTC/USDT", now+1)
	require.NoError(t, err)

	rec := pricematrix.Record{PriceScaled: 123, TimestampNs: now}
	raw, err := hierarchicalcache.BinaryCodec{}.Encode(rec)
	require.NoError(t, err)
	require.NoError(t, l2.Put(context.Background(), "BTC/USDT", raw, time.Hour))

	res := w.WarmFor(context.Background(), "ETH/USDC")
	assert.True(t, res.Success)
	assert.Equal(t, 1, res.PairsConsidered)
	assert.Equal(t, 1, res.PairsWarmed)

	got, err := cache.Get(context.Background(), "BTC/USDT")
	require.NoError(t, err)
	assert.True(t, got.InL1)
}

func TestWarmForAlreadyInL1CountsAsHit(t *testing.T) {
	w, cache, _, tracker, fc := newTestWarmer(t, TopN{N: 5}, Config{Enabled: true})
	now := int64(fc.NowNs())

	_, err := tracker.Record("ETH/USDC", now)
	require.NoError(t, err)
	_, err = tracker.Record("BTC/USDT", now+1)
	require.NoError(t, err)

	require.NoError(t, cache.Put(context.Background(), "BTC/USDT", pricematrix.Record{PriceScaled: 1}))

	res := w.WarmFor(context.Background(), "ETH/USDC")
	assert.Equal(t, 1, res.PairsAlreadyInL1)
	assert.Zero(t, res.PairsWarmed)
}

func TestWarmForNotFoundInEitherTier(t *testing.T) {
	w, _, _, tracker, fc := newTestWarmer(t, TopN{N: 5}, Config{Enabled: true})
	now := int64(fc.NowNs())

	_, err := tracker.Record("ETH/USDC", now)
	require.NoError(t, err)
	_, err = tracker.Record("BTC/USDT", now+1)
	require.NoError(t, err)

	res := w.WarmFor(context.Background(), "ETH/USDC")
	assert.Equal(t, 1, res.PairsNotFound)
}

func TestWarmForCapacityTruncation(t *testing.T) {
	w, cache, _, tracker, fc := newTestWarmer(t, TopN{N: 10}, Config{Enabled: true, L1FractionCap: 0.1, MaxPairsPerWarm: 100})
	now := int64(fc.NowNs())

	_, err := tracker.Record("TRIGGER", now)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		_, err := tracker.Record(pairid.PairID(string(rune('A'+i))), now+int64(i)+1)
		require.NoError(t, err)
	}

	// L1FractionCap=0.1 of 16 slots => 1 candidate max.
	res := w.WarmFor(context.Background(), "TRIGGER")
	assert.True(t, res.Success)
	assert.LessOrEqual(t, res.PairsConsidered, 1)
	_ = cache
}
