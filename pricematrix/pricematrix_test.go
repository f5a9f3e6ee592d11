package pricematrix

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sonicx222/cachewarm/cacherr"
	"github.com/sonicx222/cachewarm/pairid"
)

func TestPutGetRoundTrip(t *testing.T) {
	m := New(Config{Slots: 8})
	rec := Record{PriceScaled: 123456, TimestampNs: 10, Flags: 1}

	require.NoError(t, m.Put("ETH/USDC", rec))

	got, ok := m.Get("ETH/USDC")
	require.True(t, ok)
	assert.Equal(t, rec, got)
}

func TestGetMissReturnsFalse(t *testing.T) {
	m := New(Config{Slots: 4})
	_, ok := m.Get("BTC/USDT")
	assert.False(t, ok)
}

func TestPutInvalidKey(t *testing.T) {
	m := New(Config{Slots: 4})
	err := m.Put("", Record{})
	require.ErrorIs(t, err, cacherr.ErrInvalidKey)
}

func TestCapacityRoundsUpToPowerOfTwo(t *testing.T) {
	m := New(Config{Slots: 5})
	assert.Equal(t, uint32(8), m.CapacitySlots())
}

func TestEvictionUnderFullTable(t *testing.T) {
	m := New(Config{Slots: 2})
	require.NoError(t, m.Put("A", Record{TimestampNs: 1}))
	require.NoError(t, m.Put("B", Record{TimestampNs: 2}))
	// both slots occupied and marked referenced by Put, so the clock hand
	// clears both bits on its first pass and evicts one of them on its
	// second to make room for C.
	require.NoError(t, m.Put("C", Record{TimestampNs: 3}))

	_, cOk := m.Get("C")
	assert.True(t, cOk, "newly inserted pair must be retrievable")

	present := 0
	for _, p := range []pairid.PairID{"A", "B", "C"} {
		if _, ok := m.Get(p); ok {
			present++
		}
	}
	assert.Equal(t, 2, present, "capacity must remain exactly 2 live pairs")
}

func TestForbidEvictionReturnsCapacityViolation(t *testing.T) {
	m := New(Config{Slots: 1, ForbidEviction: true})
	require.NoError(t, m.Put("A", Record{TimestampNs: 1}))

	err := m.Put("B", Record{TimestampNs: 2})
	require.ErrorIs(t, err, cacherr.ErrCapacityViolation)
}

func TestConcurrentGetPutIsRaceFree(t *testing.T) {
	m := New(Config{Slots: 64})
	var wg sync.WaitGroup

	pairs := make([]pairid.PairID, 32)
	for i := range pairs {
		pairs[i] = pairid.PairID(string(rune('A' + i)))
	}

	for _, p := range pairs {
		p := p
		wg.Add(2)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				_ = m.Put(p, Record{TimestampNs: int64(i)})
			}
		}()
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				m.Get(p)
			}
		}()
	}
	wg.Wait()
}
