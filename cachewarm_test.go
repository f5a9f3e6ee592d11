package cachewarm

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sonicx222/cachewarm/clock"
	"github.com/sonicx222/cachewarm/correlation"
	"github.com/sonicx222/cachewarm/pairid"
	"github.com/sonicx222/cachewarm/pricematrix"
	"github.com/sonicx222/cachewarm/warming"
)

func testConfig() Config {
	return Config{
		Chain:       "ethereum",
		PriceMatrix: pricematrix.Config{Slots: 16},
		Correlation: correlation.Config{CoWindowMs: 1000},
		Strategy:    StrategyConfig{Kind: StrategyTopN, TopN: warming.TopN{N: 3}},
		Warming:     warming.Config{Enabled: true},
	}
}

func TestNewWiresDefaultMemoryBackingStore(t *testing.T) {
	sys, err := New(testConfig(), nil, nil, zerolog.New(io.Discard))
	require.NoError(t, err)
	require.NotNil(t, sys.Cache)
	require.NotNil(t, sys.Coordinator)
	assert.NoError(t, sys.Shutdown(context.Background()))
}

func TestNewWiresFastcacheBackingStore(t *testing.T) {
	cfg := testConfig()
	cfg.BackingStore = BackingStoreConfig{Kind: BackingStoreFastcache, FastcacheMaxBytes: 1 << 20}
	sys, err := New(cfg, nil, nil, zerolog.New(io.Discard))
	require.NoError(t, err)
	assert.NoError(t, sys.Shutdown(context.Background()))
}

func TestNewRejectsUnknownStrategyKind(t *testing.T) {
	cfg := testConfig()
	cfg.Strategy = StrategyConfig{Kind: "bogus"}
	_, err := New(cfg, nil, nil, zerolog.New(io.Discard))
	assert.Error(t, err)
}

func TestNewRejectsUnknownBackingStoreKind(t *testing.T) {
	cfg := testConfig()
	cfg.BackingStore = BackingStoreConfig{Kind: "bogus"}
	_, err := New(cfg, nil, nil, zerolog.New(io.Discard))
	assert.Error(t, err)
}

func TestOnPriceUpdateDrivesWarmingEndToEnd(t *testing.T) {
	fc := clock.NewFake(1_000_000_000)
	cfg := testConfig()
	cfg.Coordinator.SweepIntervalMs = 60000
	sys, err := New(cfg, fc, nil, zerolog.New(io.Discard))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sys.Shutdown(context.Background()) })

	now := int64(fc.NowNs())
	_, err = sys.Tracker.Record("A", now)
	require.NoError(t, err)
	_, err = sys.Tracker.Record("B", now+1)
	require.NoError(t, err)

	sys.OnPriceUpdate(pairid.PairID("A"), now+2, "ethereum")

	deadline := time.Now().Add(time.Second)
	for sys.Coordinator.PendingWarmings() > 0 {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for warming to complete")
		}
		time.Sleep(time.Millisecond)
	}
}
