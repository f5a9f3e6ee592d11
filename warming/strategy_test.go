package warming

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sonicx222/cachewarm/correlation"
	"github.com/sonicx222/cachewarm/pairid"
)

func pair(id string, score float64, lastSeen int64) correlation.Pair {
	return correlation.Pair{Pair: pairid.PairID(id), Score: score, CoOccurrences: 1, LastSeenTimestamp: lastSeen}
}

func TestTopNSelectsFirstN(t *testing.T) {
	ranked := []correlation.Pair{pair("A", 0.9, 0), pair("B", 0.8, 0), pair("C", 0.7, 0)}
	got := TopN{N: 2}.Select(ranked, StrategyContext{})
	assert.Equal(t, []correlation.Pair{ranked[0], ranked[1]}, got)
}

func TestTopNZeroReturnsNil(t *testing.T) {
	ranked := []correlation.Pair{pair("A", 0.9, 0)}
	assert.Nil(t, TopN{N: 0}.Select(ranked, StrategyContext{}))
}

func TestThresholdFiltersAndCaps(t *testing.T) {
	ranked := []correlation.Pair{pair("A", 0.9, 0), pair("B", 0.5, 0), pair("C", 0.2, 0)}
	got := Threshold{MinScore: 0.4, MaxPairs: 1}.Select(ranked, StrategyContext{})
	assert.Equal(t, []correlation.Pair{ranked[0]}, got)
}

func TestThresholdRequiresMaxPairs(t *testing.T) {
	ranked := []correlation.Pair{pair("A", 0.9, 0)}
	assert.Nil(t, Threshold{MinScore: 0.1, MaxPairs: 0}.Select(ranked, StrategyContext{}))
}

func TestTimeWeightedPrefersRecentEvenWithLowerScore(t *testing.T) {
	ranked := []correlation.Pair{
		pair("STALE", 0.9, 0),         // high score, very old
		pair("FRESH", 0.5, 990_000_000), // lower score, almost current
	}
	s := TimeWeighted{Weight: 0.2, CoWindowNs: 1_000_000_000, TopN: 0}
	got := s.Select(ranked, StrategyContext{NowNs: 1_000_000_000})
	assert.Equal(t, pairid.PairID("FRESH"), got[0].Pair)
}

func TestTimeWeightedRespectsTopN(t *testing.T) {
	ranked := []correlation.Pair{pair("A", 0.9, 0), pair("B", 0.8, 0), pair("C", 0.7, 0)}
	s := TimeWeighted{Weight: 1.0, CoWindowNs: 1000, TopN: 1}
	got := s.Select(ranked, StrategyContext{})
	assert.Len(t, got, 1)
	assert.Equal(t, pairid.PairID("A"), got[0].Pair)
}

func TestAdaptiveClampsToNMinNMax(t *testing.T) {
	ranked := make([]correlation.Pair, 20)
	for i := range ranked {
		ranked[i] = pair("P", 0.5, 0)
	}
	a := Adaptive{TargetHitRate: 0.97, Alpha: 10, NMin: 2, NMax: 8}

	// hit rate far below target should push N to the ceiling.
	got := a.Select(ranked, StrategyContext{RecentHitRate: 0.0, CurrentTopN: 5})
	assert.Len(t, got, 8)

	// hit rate far above target should push N to the floor.
	got = a.Select(ranked, StrategyContext{RecentHitRate: 1.0, CurrentTopN: 5})
	assert.Len(t, got, 2)
}

func TestAdaptiveNeverExceedsAvailableCandidates(t *testing.T) {
	ranked := []correlation.Pair{pair("A", 0.5, 0)}
	a := Adaptive{TargetHitRate: 0.97, Alpha: 10, NMin: 1, NMax: 8}
	got := a.Select(ranked, StrategyContext{RecentHitRate: 0.0, CurrentTopN: 1})
	assert.Len(t, got, 1)
}
