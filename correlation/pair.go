package correlation

import (
	"math"

	"github.com/sonicx222/cachewarm/cacherr"
	"github.com/sonicx222/cachewarm/pairid"
)

// Pair is the external-API value object for a ranked correlated partner,
// per spec.md §3. Construction fails fast with ErrInvalidDomainValue on any
// invariant violation — values are never silently clamped.
type Pair struct {
	Pair              pairid.PairID
	Score             float64
	CoOccurrences     uint32
	LastSeenTimestamp int64 // ns
}

// NewPair validates and constructs a Pair. self is the pair it was ranked
// relative to (used only to enforce pair != self); nowNs bounds
// lastSeenTimestamp against the future.
func NewPair(self, partner pairid.PairID, score float64, coOccurrences uint32, lastSeenTimestamp int64, nowNs int64) (Pair, error) {
	if !partner.Valid() || !self.Valid() {
		return Pair{}, cacherr.ErrInvalidKey
	}
	if partner == self {
		return Pair{}, cacherr.ErrInvalidDomainValue
	}
	if math.IsNaN(score) || math.IsInf(score, 0) || score < 0 || score > 1 {
		return Pair{}, cacherr.ErrInvalidDomainValue
	}
	if lastSeenTimestamp > nowNs {
		return Pair{}, cacherr.ErrInvalidDomainValue
	}
	return Pair{
		Pair:              partner,
		Score:             score,
		CoOccurrences:     coOccurrences,
		LastSeenTimestamp: lastSeenTimestamp,
	}, nil
}
