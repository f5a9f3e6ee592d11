// Package backingstore implements the L2 tier: a slower, larger key/value
// store of serialized pair records with a TTL, per spec.md §4.2. The core
// treats it as a latency tier, never a source of truth (spec.md §1).
package backingstore

import (
	"context"
	"time"

	"github.com/sonicx222/cachewarm/pairid"
)

// Store is the L2 backing tier contract. Implementations may be
// network-remote; callers must assume tens-of-milliseconds latency.
type Store interface {
	// Get returns the bytes stored for pair, or ok=false if absent/expired.
	Get(ctx context.Context, pair pairid.PairID) (value []byte, ok bool, err error)
	// Put stores value for pair with the given TTL.
	Put(ctx context.Context, pair pairid.PairID, value []byte, ttl time.Duration) error
}
