package backingstore

import (
	"context"
	"encoding/binary"
	"time"

	"github.com/VictoriaMetrics/fastcache"

	"github.com/sonicx222/cachewarm/clock"
	"github.com/sonicx222/cachewarm/pairid"
)

// FastcacheStore adapts github.com/VictoriaMetrics/fastcache, a low-GC-
// overhead byte-oriented cache, to the Store contract. fastcache itself has
// no notion of TTL, so each value is wrapped in a small envelope carrying an
// absolute expiry timestamp; expired reads are treated as misses and the
// entry is left for fastcache's own eviction to eventually reclaim.
type FastcacheStore struct {
	clock clock.Clock
	cache *fastcache.Cache
}

// NewFastcacheStore constructs a FastcacheStore with the given maximum
// memory footprint, in bytes.
func NewFastcacheStore(c clock.Clock, maxBytes int) *FastcacheStore {
	if c == nil {
		c = clock.System{}
	}
	return &FastcacheStore{
		clock: c,
		cache: fastcache.New(maxBytes),
	}
}

const envelopeHeaderLen = 8 // absolute expiry, unix nanos, 0 = no expiry

// Get implements Store.
func (f *FastcacheStore) Get(_ context.Context, pair pairid.PairID) ([]byte, bool, error) {
	raw := f.cache.GetBig(nil, []byte(pair.String()))
	if raw == nil {
		return nil, false, nil
	}
	if len(raw) < envelopeHeaderLen {
		return nil, false, nil
	}
	expiresAt := int64(binary.BigEndian.Uint64(raw[:envelopeHeaderLen]))
	if expiresAt != 0 && int64(f.clock.NowNs()) >= expiresAt {
		return nil, false, nil
	}
	value := make([]byte, len(raw)-envelopeHeaderLen)
	copy(value, raw[envelopeHeaderLen:])
	return value, true, nil
}

// Put implements Store.
func (f *FastcacheStore) Put(_ context.Context, pair pairid.PairID, value []byte, ttl time.Duration) error {
	var expiresAt int64
	if ttl > 0 {
		expiresAt = int64(f.clock.NowNs()) + ttl.Nanoseconds()
	}
	envelope := make([]byte, envelopeHeaderLen+len(value))
	binary.BigEndian.PutUint64(envelope[:envelopeHeaderLen], uint64(expiresAt))
	copy(envelope[envelopeHeaderLen:], value)
	f.cache.SetBig([]byte(pair.String()), envelope)
	return nil
}

var _ Store = (*MemoryStore)(nil)
var _ Store = (*FastcacheStore)(nil)
