package correlation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoWindowBufferAppendsInOrderArrivals(t *testing.T) {
	b := newCoWindowBuffer(4)
	b.Insert(10)
	b.Insert(20)
	b.Insert(30)

	require.Equal(t, 3, b.Len())
	assert.Equal(t, int64(10), b.Oldest())
	assert.Equal(t, int64(30), b.Newest())
}

func TestCoWindowBufferInsertsOutOfOrderArrivalInSortedPosition(t *testing.T) {
	b := newCoWindowBuffer(4)
	b.Insert(10)
	b.Insert(30)
	b.Insert(20) // arrives late, within the skew bound

	require.Equal(t, 3, b.Len())
	assert.Equal(t, int64(10), b.Oldest())
	assert.Equal(t, int64(30), b.Newest())
}

func TestCoWindowBufferEvictBeforeTrimsOldEntries(t *testing.T) {
	b := newCoWindowBuffer(4)
	for _, ts := range []int64{10, 20, 30, 40} {
		b.Insert(ts)
	}

	b.EvictBefore(25)

	require.Equal(t, 2, b.Len())
	assert.Equal(t, int64(30), b.Oldest())
	assert.Equal(t, int64(40), b.Newest())
}

func TestCoWindowBufferGrowsPastInitialCapacity(t *testing.T) {
	b := newCoWindowBuffer(2)
	for i := int64(0); i < 10; i++ {
		b.Insert(i)
	}

	require.Equal(t, 10, b.Len())
	assert.Equal(t, int64(0), b.Oldest())
	assert.Equal(t, int64(9), b.Newest())
}

func TestCoWindowBufferReclaimsSlackAfterEviction(t *testing.T) {
	b := newCoWindowBuffer(4)
	for i := int64(0); i < 100; i++ {
		b.Insert(i)
		b.EvictBefore(i) // keep only the single most recent entry live
	}

	require.Equal(t, 1, b.Len())
	assert.Equal(t, int64(99), b.Oldest())
	// the backing array must not have grown unbounded across 100 inserts
	// once slack dominated the live region and triggered compaction.
	assert.Less(t, cap(b.ts), 100)
}
