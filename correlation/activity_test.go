package correlation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sonicx222/cachewarm/pairid"
)

// TestCoActivityIndexFindsPartnersAcrossShards exercises the cross-shard
// reconciliation step directly: pairs are recorded under names chosen to
// spread across multiple of the 32 shards, and partner lookup must still
// find every co-occurring pair regardless of which shard it landed in.
func TestCoActivityIndexFindsPartnersAcrossShards(t *testing.T) {
	idx := newCoActivityIndex()

	names := []pairid.PairID{"A", "B", "C", "D", "E", "F", "G", "H"}

	const coWindowNs = int64(1000)
	var lastPartners []pairid.PairID
	for i, n := range names {
		lastPartners = idx.recordAndFindPartners(n, int64(i), coWindowNs)
	}

	assert.Len(t, lastPartners, len(names)-1)
	for _, n := range names[:len(names)-1] {
		assert.Contains(t, lastPartners, n)
	}
}

func TestCoActivityIndexExcludesEntriesOutsideCoWindow(t *testing.T) {
	idx := newCoActivityIndex()
	const coWindowNs = int64(100)

	idx.recordAndFindPartners("A", 0, coWindowNs)
	partners := idx.recordAndFindPartners("B", 1000, coWindowNs)

	assert.Empty(t, partners)
}

func TestCoActivityIndexRemoveAndSnapshot(t *testing.T) {
	idx := newCoActivityIndex()
	idx.recordAndFindPartners("A", 0, 1000)
	idx.recordAndFindPartners("B", 1, 1000)

	assert.Equal(t, 2, idx.trackedCount())
	idx.remove("A")
	assert.Equal(t, 1, idx.trackedCount())

	pairs := idx.snapshotPairs()
	assert.ElementsMatch(t, []pairid.PairID{"B"}, pairs)
}

func TestCoActivityIndexResetClearsEveryShard(t *testing.T) {
	idx := newCoActivityIndex()
	idx.recordAndFindPartners("A", 0, 1000)
	idx.recordAndFindPartners("B", 1, 1000)

	idx.reset()

	assert.Equal(t, 0, idx.trackedCount())
	assert.Empty(t, idx.snapshotPairs())
	_, ok := idx.lruVictim()
	assert.False(t, ok)
}

func TestCoActivityIndexLRUVictimAcrossShards(t *testing.T) {
	idx := newCoActivityIndex()
	idx.recordAndFindPartners("A", 50, 1000)
	idx.recordAndFindPartners("B", 10, 1000)
	idx.recordAndFindPartners("C", 30, 1000)

	victim, ok := idx.lruVictim()
	require.True(t, ok)
	assert.Equal(t, pairid.PairID("B"), victim)
}
