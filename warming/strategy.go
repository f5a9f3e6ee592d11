// Package warming implements the pluggable candidate-selection strategies
// and the CacheWarmer that drives promotion into L1, per spec.md §4.5–§4.6.
package warming

import (
	"math"

	"github.com/sonicx222/cachewarm/correlation"
	"github.com/sonicx222/cachewarm/pairid"
)

// StrategyContext carries the external state a Strategy needs to make a
// selection, per spec.md §4.5. Strategies never mutate it and never hold
// their own state across calls — the Adaptive strategy's "current N" lives
// here, in CurrentTopN, owned by whoever drives selection (Warmer), per
// spec.md §9's re-architecture note.
type StrategyContext struct {
	L1Capacity     uint32
	CurrentL1Used  uint32
	RecentHitRate  float64
	NowNs          int64
	RecentlyWarmed map[pairid.PairID]struct{}
	// CurrentTopN is the Adaptive strategy's previous step size; ignored by
	// the other strategies.
	CurrentTopN int
}

// warmed reports whether pair is in ctx.RecentlyWarmed.
func (ctx StrategyContext) warmed(pair pairid.PairID) bool {
	if ctx.RecentlyWarmed == nil {
		return false
	}
	_, ok := ctx.RecentlyWarmed[pair]
	return ok
}

// Strategy is a pure selector over a ranked candidate list, per spec.md
// §4.5. Select must not mutate ranked and must be deterministic given its
// inputs.
type Strategy interface {
	Select(ranked []correlation.Pair, ctx StrategyContext) []correlation.Pair
}

// TopN selects the first N entries of ranked, the simplest baseline.
type TopN struct {
	N int
}

func (s TopN) Select(ranked []correlation.Pair, _ StrategyContext) []correlation.Pair {
	if s.N <= 0 || len(ranked) == 0 {
		return nil
	}
	if len(ranked) > s.N {
		return ranked[:s.N]
	}
	return ranked
}

// Threshold selects every entry with score >= MinScore, capped at MaxPairs.
// MaxPairs must be set (> 0): an unbounded threshold selection is not
// allowed, per spec.md §4.5.
type Threshold struct {
	MinScore float64
	MaxPairs int
}

func (s Threshold) Select(ranked []correlation.Pair, _ StrategyContext) []correlation.Pair {
	if s.MaxPairs <= 0 {
		return nil
	}
	out := make([]correlation.Pair, 0, s.MaxPairs)
	for _, p := range ranked {
		if p.Score < s.MinScore {
			continue
		}
		out = append(out, p)
		if len(out) >= s.MaxPairs {
			break
		}
	}
	return out
}

// TimeWeighted re-ranks ranked by w*score + (1-w)*recency, where recency
// decays linearly to 0 over CoWindowNs since lastCoOccurrence, then returns
// up to TopN entries (TopN <= 0 means unbounded).
type TimeWeighted struct {
	Weight     float64 // w, in [0,1]
	CoWindowNs int64
	TopN       int
}

type scoredPair struct {
	pair correlation.Pair
	w    float64
}

func (s TimeWeighted) Select(ranked []correlation.Pair, ctx StrategyContext) []correlation.Pair {
	if len(ranked) == 0 {
		return nil
	}
	weighted := make([]scoredPair, len(ranked))
	for i, p := range ranked {
		recency := 0.0
		if s.CoWindowNs > 0 {
			age := ctx.NowNs - p.LastSeenTimestamp
			recency = 1.0 - float64(age)/float64(s.CoWindowNs)
			if recency < 0 {
				recency = 0
			} else if recency > 1 {
				recency = 1
			}
		}
		weighted[i] = scoredPair{pair: p, w: s.Weight*p.Score + (1-s.Weight)*recency}
	}

	// insertion sort: input sizes here are bounded by maxPartnersPerPair,
	// small enough that O(n^2) is not a concern and avoids pulling in a
	// second sort dependency purely for a derived weight.
	for i := 1; i < len(weighted); i++ {
		for j := i; j > 0 && weighted[j].w > weighted[j-1].w; j-- {
			weighted[j], weighted[j-1] = weighted[j-1], weighted[j]
		}
	}

	n := len(weighted)
	if s.TopN > 0 && s.TopN < n {
		n = s.TopN
	}
	out := make([]correlation.Pair, n)
	for i := 0; i < n; i++ {
		out[i] = weighted[i].pair
	}
	return out
}

// Adaptive targets a steady-state L1 hit rate by adjusting the selection
// size N each step: N <- clamp(N + alpha*(targetHitRate-recentHitRate)*NMax,
// NMin, NMax), per spec.md §4.5. Adaptive itself holds no state: it reads
// the previous step's N from ctx.CurrentTopN; the caller (Warmer) persists
// the returned selection's length as the next call's CurrentTopN.
type Adaptive struct {
	TargetHitRate float64
	Alpha         float64
	NMin          int
	NMax          int
}

func (a Adaptive) Select(ranked []correlation.Pair, ctx StrategyContext) []correlation.Pair {
	n := ctx.CurrentTopN
	if n <= 0 {
		n = a.NMin
	}
	delta := a.Alpha * (a.TargetHitRate - ctx.RecentHitRate) * float64(a.NMax)
	n = int(math.Round(float64(n) + delta))
	if n < a.NMin {
		n = a.NMin
	}
	if n > a.NMax {
		n = a.NMax
	}
	if n > len(ranked) {
		n = len(ranked)
	}
	if n <= 0 {
		return nil
	}
	return ranked[:n]
}

var (
	_ Strategy = TopN{}
	_ Strategy = Threshold{}
	_ Strategy = TimeWeighted{}
	_ Strategy = Adaptive{}
)
