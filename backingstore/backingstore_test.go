package backingstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sonicx222/cachewarm/clock"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	fc := clock.NewFake(1000)
	s := NewMemoryStore(fc, time.Hour)
	defer s.Close()

	require.NoError(t, s.Put(ctx, "ETH/USDC", []byte("v1"), time.Minute))

	got, ok, err := s.Get(ctx, "ETH/USDC")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("v1"), got)
}

func TestMemoryStoreExpiry(t *testing.T) {
	ctx := context.Background()
	fc := clock.NewFake(0)
	s := NewMemoryStore(fc, time.Hour)
	defer s.Close()

	require.NoError(t, s.Put(ctx, "ETH/USDC", []byte("v1"), time.Millisecond))
	fc.Advance(2 * time.Millisecond)

	_, ok, err := s.Get(ctx, "ETH/USDC")
	require.NoError(t, err)
	assert.False(t, ok, "expired entry must read as a miss")
}

func TestMemoryStoreMissingKey(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(nil, 0)
	defer s.Close()

	_, ok, err := s.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFastcacheStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	fc := clock.NewFake(1000)
	s := NewFastcacheStore(fc, 1<<20)

	require.NoError(t, s.Put(ctx, "BTC/USDT", []byte("payload"), time.Minute))

	got, ok, err := s.Get(ctx, "BTC/USDT")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("payload"), got)
}

func TestFastcacheStoreExpiry(t *testing.T) {
	ctx := context.Background()
	fc := clock.NewFake(0)
	s := NewFastcacheStore(fc, 1<<20)

	require.NoError(t, s.Put(ctx, "BTC/USDT", []byte("payload"), time.Millisecond))
	fc.Advance(2 * time.Millisecond)

	_, ok, err := s.Get(ctx, "BTC/USDT")
	require.NoError(t, err)
	assert.False(t, ok)
}
