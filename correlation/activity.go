package correlation

import (
	"sync"

	"github.com/sonicx222/cachewarm/pairid"
)

// activityEvent is one append to an activity shard's queue.
type activityEvent struct {
	pair pairid.PairID
	ts   int64
}

// activityShard is one bucket of the co-activity index, holding the subset
// of recent-activity events whose pair hashes to this shard. It's the same
// trim-then-scan idea the teacher's catrate/events.go filterEvents uses,
// scoped down to one shard's share of the load.
type activityShard struct {
	mu     sync.Mutex
	queue  []activityEvent // FIFO, oldest first; lazily compacted
	head   int             // logical start of queue within the slice
	latest map[pairid.PairID]int64
}

func newActivityShard() *activityShard {
	return &activityShard{latest: make(map[pairid.PairID]int64)}
}

// trim drops entries older than cutoff from the front, compacting the
// backing slice once the live window shrinks to a fraction of it. Caller
// must hold s.mu.
func (s *activityShard) trim(cutoff int64) {
	for s.head < len(s.queue) && s.queue[s.head].ts < cutoff {
		s.head++
	}
	if s.head > 0 && s.head*2 > len(s.queue) {
		remaining := len(s.queue) - s.head
		copy(s.queue, s.queue[s.head:])
		s.queue = s.queue[:remaining]
		s.head = 0
	}
}

// coActivityIndex tracks, across ALL tracked pairs, which pairs updated
// within the co-occurrence window, so Record can find co-occurring partners
// without scanning every tracked pair. It's a small supplemental structure
// (no direct teacher analog) built on the same idea as the teacher's
// catrate/events.go filterEvents: trim a queue at a time boundary, then work
// only with what's left.
//
// The index is sharded the same way pairState is (by shardIndex), so an
// append for one pair's home shard never serializes behind an append for a
// pair hashing to a different shard — a single process-wide mutex would
// otherwise defeat the contention bound pairState's own sharding provides.
// A partner, however, can be tracked in any shard, so recordAndFindPartners
// reconciles across every shard in turn (one shard lock held at a time,
// never all 32 simultaneously) rather than consulting only the triggering
// pair's home shard.
//
// Because two different pairs can race to append near-simultaneously, a
// shard's queue may carry stale duplicate entries for a pair that has since
// updated again; staleness is resolved cheaply by comparing against
// latest[pair], the authoritative last-seen timestamp (which doubles as the
// registry used for global maxTrackedPairs LRU eviction).
type coActivityIndex struct {
	shards [numShards]*activityShard
}

func newCoActivityIndex() *coActivityIndex {
	idx := &coActivityIndex{}
	for i := range idx.shards {
		idx.shards[i] = newActivityShard()
	}
	return idx
}

func (idx *coActivityIndex) shardFor(pair pairid.PairID) *activityShard {
	return idx.shards[shardIndex(pair)]
}

// recordAndFindPartners appends (pair, ts) to pair's home shard, then scans
// every shard (trimming each to ts-coWindowNs as it goes) for the set of
// OTHER pairs whose most recent update falls within the window — i.e.
// genuine co-occurrence candidates.
func (idx *coActivityIndex) recordAndFindPartners(pair pairid.PairID, ts int64, coWindowNs int64) []pairid.PairID {
	cutoff := ts - coWindowNs

	home := idx.shardFor(pair)
	home.mu.Lock()
	home.trim(cutoff)
	home.queue = append(home.queue, activityEvent{pair: pair, ts: ts})
	home.latest[pair] = ts
	home.mu.Unlock()

	var partners []pairid.PairID
	seen := make(map[pairid.PairID]struct{}, 4)
	for _, sh := range idx.shards {
		sh.mu.Lock()
		sh.trim(cutoff)
		for i := sh.head; i < len(sh.queue); i++ {
			e := sh.queue[i]
			if e.pair == pair {
				continue
			}
			if sh.latest[e.pair] != e.ts {
				continue // superseded by a later update; not the authoritative entry
			}
			if _, dup := seen[e.pair]; dup {
				continue
			}
			seen[e.pair] = struct{}{}
			partners = append(partners, e.pair)
		}
		sh.mu.Unlock()
	}

	return partners
}

// remove deletes pair from the LRU registry, e.g. on tracker-wide eviction.
// It does not eagerly remove queue entries; they're dropped lazily by the
// staleness check above.
func (idx *coActivityIndex) remove(pair pairid.PairID) {
	sh := idx.shardFor(pair)
	sh.mu.Lock()
	delete(sh.latest, pair)
	sh.mu.Unlock()
}

// reset clears all state in every shard.
func (idx *coActivityIndex) reset() {
	for _, sh := range idx.shards {
		sh.mu.Lock()
		sh.queue = nil
		sh.head = 0
		sh.latest = make(map[pairid.PairID]int64)
		sh.mu.Unlock()
	}
}

// lruVictim returns the tracked pair with the smallest latest timestamp,
// for strict-LRU eviction when maxTrackedPairs is exceeded. O(tracked pairs).
func (idx *coActivityIndex) lruVictim() (pairid.PairID, bool) {
	var victim pairid.PairID
	var min int64
	found := false
	for _, sh := range idx.shards {
		sh.mu.Lock()
		for p, ts := range sh.latest {
			if !found || ts < min {
				victim, min, found = p, ts, true
			}
		}
		sh.mu.Unlock()
	}
	return victim, found
}

func (idx *coActivityIndex) trackedCount() int {
	total := 0
	for _, sh := range idx.shards {
		sh.mu.Lock()
		total += len(sh.latest)
		sh.mu.Unlock()
	}
	return total
}

func (idx *coActivityIndex) snapshotPairs() []pairid.PairID {
	var out []pairid.PairID
	for _, sh := range idx.shards {
		sh.mu.Lock()
		for p := range sh.latest {
			out = append(out, p)
		}
		sh.mu.Unlock()
	}
	return out
}
