// Package correlation implements the CorrelationTracker: a streaming
// co-occurrence counter over a sliding time window with ranked queries, per
// spec.md §4.4.
//
// The per-pair timestamp history (window.go's coWindowBuffer) is a
// purpose-built sliding-window buffer for WindowMs eviction, grounded on
// catrate/events.go's filterEvents boundary-search idea rather than the
// teacher's general-purpose ring.go. The global co-activity index
// (activity.go) is a small supplemental structure with no direct teacher
// analog, needed because co-occurrence is inherently a cross-pair property
// that per-pair sharding alone can't answer; it is itself sharded by pair
// hash, same as pairState, so its append step doesn't serialize unrelated
// pairs behind one global mutex. Partner edges and per-pair history are
// sharded by pair hash (striped sync.Mutex, following catrate.Limiter's
// per-category locking) to bound contention independent of tracked-pair
// count. Reset is linearized against Record/Rank/Score/Stats/TrackedPairs
// by a top-level RWMutex, so a reset can never interleave with a shard's
// in-progress mutation.
package correlation

import (
	"hash/fnv"
	"sync"
	"time"

	"golang.org/x/exp/slices"

	"github.com/sonicx222/cachewarm/cacherr"
	"github.com/sonicx222/cachewarm/clock"
	"github.com/sonicx222/cachewarm/metrics"
	"github.com/sonicx222/cachewarm/pairid"
)

const (
	numShards            = 32
	historyBufferCapHint = 64 // initial capacity hint; grows automatically if exceeded
)

// Config configures a Tracker, per the table in spec.md §6.
type Config struct {
	WindowMs           uint32 // W: history retention window
	CoWindowMs         uint32 // W_co: co-occurrence window, <= WindowMs
	MaxTrackedPairs    uint32
	MaxPartnersPerPair uint32
	// SkewBoundMs bounds how far into the future a timestamp may be before
	// it's treated as clock skew (soft error).
	SkewBoundMs uint32
	Chain       string // label value for correlation_* metrics
}

func (c Config) withDefaults() Config {
	if c.WindowMs == 0 {
		c.WindowMs = 60000
	}
	if c.CoWindowMs == 0 {
		c.CoWindowMs = 1000
	}
	if c.MaxTrackedPairs == 0 {
		c.MaxTrackedPairs = 10000
	}
	if c.MaxPartnersPerPair == 0 {
		c.MaxPartnersPerPair = 256
	}
	if c.SkewBoundMs == 0 {
		c.SkewBoundMs = 1000
	}
	return c
}

type partnerEdge struct {
	coOccurrences    uint32
	lastCoOccurrence int64
	scoreValid       bool
	scoreCached      float64
}

type pairState struct {
	mu          sync.Mutex
	history     *coWindowBuffer
	updateCount uint64
	partners    map[pairid.PairID]*partnerEdge
}

func newPairState() *pairState {
	return &pairState{
		history:  newCoWindowBuffer(historyBufferCapHint),
		partners: make(map[pairid.PairID]*partnerEdge),
	}
}

type shard struct {
	mu    sync.RWMutex
	pairs map[pairid.PairID]*pairState
}

// RecordResult is returned by Record, per spec.md §4.4's operation table.
type RecordResult struct {
	Success             bool
	CorrelationsUpdated uint32
	DurationUs          uint32
}

// Stats is returned by Stats, per spec.md §4.4.
type Stats struct {
	TotalPairs         int
	TotalCoOccurrences uint64
	AvgScore           float64
	MemoryBytes        uint64
	OldestTimestamp    int64
	NewestTimestamp    int64
	WindowBytes        uint64
}

// Tracker implements the CorrelationTracker contract of spec.md §4.4.
type Tracker struct {
	cfg   Config
	clock clock.Clock
	m     metrics.Metrics

	// resetMu linearizes Reset against every other public method: Reset
	// takes the write lock, everything else takes the read lock. Readers
	// never block each other, so this costs nothing beyond an atomic
	// increment/decrement on the hot path in the common case (no Reset in
	// flight), while guaranteeing Reset can never observe — or race with —
	// a partially-cleared shard.
	resetMu sync.RWMutex

	shards   [numShards]*shard
	activity *coActivityIndex
}

// New constructs a Tracker. clk and m may be nil (defaulting to
// clock.System{} and metrics.Nop{} respectively).
func New(cfg Config, clk clock.Clock, m metrics.Metrics) *Tracker {
	cfg = cfg.withDefaults()
	if clk == nil {
		clk = clock.System{}
	}
	if m == nil {
		m = metrics.Nop{}
	}
	t := &Tracker{
		cfg:      cfg,
		clock:    clk,
		m:        m,
		activity: newCoActivityIndex(),
	}
	for i := range t.shards {
		t.shards[i] = &shard{pairs: make(map[pairid.PairID]*pairState)}
	}
	return t
}

func shardIndex(pair pairid.PairID) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(pair))
	return int(h.Sum32() % numShards)
}

func (t *Tracker) shardFor(pair pairid.PairID) *shard {
	return t.shards[shardIndex(pair)]
}

func (t *Tracker) getOrCreatePairState(pair pairid.PairID) (*pairState, bool) {
	s := t.shardFor(pair)

	s.mu.RLock()
	ps, ok := s.pairs[pair]
	s.mu.RUnlock()
	if ok {
		return ps, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if ps, ok := s.pairs[pair]; ok {
		return ps, false
	}
	ps = newPairState()
	s.pairs[pair] = ps
	return ps, true
}

// Record appends timestampNs to pair's history, updates co-occurrence
// counts with every other currently-tracked pair whose most recent update
// falls within the co-occurrence window, and invalidates cached scores for
// every affected (pair, partner) edge, per spec.md §4.4's algorithm.
//
// Record never panics or blocks indefinitely: malformed input yields
// {Success: false} plus ErrInvalidKey; a timestamp too far in the future is
// recorded anyway and returns ErrClockSkew (soft failure, per spec.md §7).
func (t *Tracker) Record(pair pairid.PairID, timestampNs int64) (RecordResult, error) {
	t.resetMu.RLock()
	defer t.resetMu.RUnlock()

	start := time.Now()

	if !pair.Valid() {
		t.m.CounterInc(metrics.CorrelationTrackingError, map[string]string{"reason": "invalid_key", "chain": t.cfg.Chain}, 1)
		return RecordResult{Success: false, DurationUs: elapsedUs(start)}, cacherr.ErrInvalidKey
	}

	var softErr error
	nowNs := int64(t.clock.NowNs())
	skewBoundNs := int64(t.cfg.SkewBoundMs) * int64(time.Millisecond)
	if timestampNs > nowNs+skewBoundNs {
		t.m.CounterInc(metrics.CorrelationTrackingError, map[string]string{"reason": "clock_skew", "chain": t.cfg.Chain}, 1)
		softErr = cacherr.ErrClockSkew
	}

	ps, created := t.getOrCreatePairState(pair)

	windowNs := int64(t.cfg.WindowMs) * int64(time.Millisecond)
	coWindowNs := int64(t.cfg.CoWindowMs) * int64(time.Millisecond)

	ps.mu.Lock()
	ps.history.Insert(timestampNs)
	ps.history.EvictBefore(timestampNs - windowNs + 1)
	ps.updateCount++
	ps.mu.Unlock()

	partners := t.activity.recordAndFindPartners(pair, timestampNs, coWindowNs)

	// The new pair only enters the LRU registry once recordAndFindPartners
	// has run, so capacity is enforced against the registry's true
	// post-insert state.
	if created {
		t.maybeEvictForCapacity(pair)
	}

	var updated uint32
	for _, q := range partners {
		if t.linkCoOccurrence(pair, q, timestampNs) {
			updated++
		}
	}

	t.m.GaugeSet(metrics.CorrelationPairsTracked, map[string]string{"chain": t.cfg.Chain}, float64(t.activity.trackedCount()))
	t.m.HistogramObserve(metrics.CorrelationTrackingDuration, map[string]string{"chain": t.cfg.Chain}, float64(elapsedUs(start)))

	return RecordResult{Success: true, CorrelationsUpdated: updated, DurationUs: elapsedUs(start)}, softErr
}

// linkCoOccurrence increments the counts[pair][partner] and
// counts[partner][pair] edges, capping each pair's partner set at
// MaxPartnersPerPair (evicting the partner with the oldest
// lastCoOccurrence). The two edges are independent map entries in two
// (possibly different) pairState instances, each with its own mutex, so
// they're updated one at a time — there is no need to hold both locks
// simultaneously, which sidesteps lock-ordering/deadlock concerns entirely.
func (t *Tracker) linkCoOccurrence(pair, partner pairid.PairID, timestampNs int64) bool {
	psA, okA := t.lookupPairState(pair)
	psB, okB := t.lookupPairState(partner)
	if !okA || !okB {
		return false
	}
	t.linkEdge(psA, partner, timestampNs)
	t.linkEdge(psB, pair, timestampNs)
	return true
}

func (t *Tracker) lookupPairState(pair pairid.PairID) (*pairState, bool) {
	s := t.shardFor(pair)
	s.mu.RLock()
	defer s.mu.RUnlock()
	ps, ok := s.pairs[pair]
	return ps, ok
}

func (t *Tracker) linkEdge(ps *pairState, partner pairid.PairID, timestampNs int64) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	e, ok := ps.partners[partner]
	if !ok {
		if uint32(len(ps.partners)) >= t.cfg.MaxPartnersPerPair {
			evictOldestPartnerLocked(ps)
		}
		e = &partnerEdge{}
		ps.partners[partner] = e
	}
	e.coOccurrences++
	e.lastCoOccurrence = timestampNs
	e.scoreValid = false
}

// evictOldestPartnerLocked removes the partner edge with the smallest
// lastCoOccurrence. Caller must hold ps.mu.
func evictOldestPartnerLocked(ps *pairState) {
	var victim pairid.PairID
	var min int64
	found := false
	for p, e := range ps.partners {
		if !found || e.lastCoOccurrence < min {
			victim, min, found = p, e.lastCoOccurrence, true
		}
	}
	if found {
		delete(ps.partners, victim)
	}
}

// maybeEvictForCapacity enforces MaxTrackedPairs by evicting the globally
// least-recently-updated pair (per t.activity's LRU registry) whenever the
// tracked set exceeds the configured cap. newPair is never itself evicted by
// this call, since it was only just created and is always the most recent.
func (t *Tracker) maybeEvictForCapacity(newPair pairid.PairID) {
	for t.activity.trackedCount() > int(t.cfg.MaxTrackedPairs) {
		victim, ok := t.activity.lruVictim()
		if !ok || victim == newPair {
			return
		}
		t.evictPair(victim)
	}
}

// evictPair removes pair from its shard, the activity index, and every
// partner edge in OTHER pairs that references it.
func (t *Tracker) evictPair(pair pairid.PairID) {
	s := t.shardFor(pair)
	s.mu.Lock()
	delete(s.pairs, pair)
	s.mu.Unlock()

	t.activity.remove(pair)

	for _, p := range t.activity.snapshotPairs() {
		ps, ok := t.lookupPairState(p)
		if !ok {
			continue
		}
		ps.mu.Lock()
		delete(ps.partners, pair)
		ps.mu.Unlock()
	}
}

// Rank returns the up-to-topN partners of pair with score >= minScore,
// sorted by score descending (ties broken by most-recent co-occurrence, then
// lexicographically by partner id), per spec.md §4.4. topN <= 0 means
// unbounded.
func (t *Tracker) Rank(pair pairid.PairID, topN int, minScore float64) []Pair {
	t.resetMu.RLock()
	defer t.resetMu.RUnlock()

	ps, ok := t.lookupPairState(pair)
	if !ok {
		return nil
	}

	type edgeSnapshot struct {
		partner pairid.PairID
		co      uint32
		last    int64
	}
	ps.mu.Lock()
	snaps := make([]edgeSnapshot, 0, len(ps.partners))
	for p, e := range ps.partners {
		snaps = append(snaps, edgeSnapshot{partner: p, co: e.coOccurrences, last: e.lastCoOccurrence})
	}
	selfUpdates := ps.updateCount
	ps.mu.Unlock()

	// Record accepts timestamps up to SkewBoundMs ahead of the clock without
	// a skew error, so co-occurrences stamped within that bound are not
	// treated as future values here.
	latestAcceptedNs := int64(t.clock.NowNs()) + int64(t.cfg.SkewBoundMs)*int64(time.Millisecond)
	results := make([]Pair, 0, len(snaps))
	for _, s := range snaps {
		partnerUpdates, ok := t.pairUpdateCount(s.partner)
		if !ok {
			continue
		}
		score := coOccurrenceScore(s.co, selfUpdates, partnerUpdates)
		if score < minScore {
			continue
		}
		p, err := NewPair(pair, s.partner, score, s.co, s.last, latestAcceptedNs)
		if err != nil {
			continue
		}
		results = append(results, p)
	}

	slices.SortFunc(results, func(a, b Pair) int {
		switch {
		case a.Score != b.Score:
			if a.Score > b.Score {
				return -1
			}
			return 1
		case a.LastSeenTimestamp != b.LastSeenTimestamp:
			if a.LastSeenTimestamp > b.LastSeenTimestamp {
				return -1
			}
			return 1
		case a.Pair < b.Pair:
			return -1
		case a.Pair > b.Pair:
			return 1
		default:
			return 0
		}
	})

	if topN > 0 && len(results) > topN {
		results = results[:topN]
	}
	return results
}

// Score reports the current correlation score between pair1 and pair2, and
// whether any co-occurrence has ever been recorded between them.
func (t *Tracker) Score(pair1, pair2 pairid.PairID) (float64, bool) {
	t.resetMu.RLock()
	defer t.resetMu.RUnlock()

	ps1, ok := t.lookupPairState(pair1)
	if !ok {
		return 0, false
	}
	ps1.mu.Lock()
	e, found := ps1.partners[pair2]
	var co uint32
	if found {
		co = e.coOccurrences
	}
	updates1 := ps1.updateCount
	ps1.mu.Unlock()
	if !found {
		return 0, false
	}

	updates2, ok := t.pairUpdateCount(pair2)
	if !ok {
		return 0, false
	}
	return coOccurrenceScore(co, updates1, updates2), true
}

func coOccurrenceScore(coOccurrences uint32, updatesA, updatesB uint64) float64 {
	denom := updatesA
	if updatesB > denom {
		denom = updatesB
	}
	if denom == 0 {
		return 0
	}
	score := float64(coOccurrences) / float64(denom)
	if score > 1 {
		score = 1
	}
	return score
}

func (t *Tracker) pairUpdateCount(pair pairid.PairID) (uint64, bool) {
	ps, ok := t.lookupPairState(pair)
	if !ok {
		return 0, false
	}
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.updateCount, true
}

// TrackedPairs returns a point-in-time snapshot of every currently-tracked
// pair.
func (t *Tracker) TrackedPairs() []pairid.PairID {
	t.resetMu.RLock()
	defer t.resetMu.RUnlock()
	return t.activity.snapshotPairs()
}

// Reset discards all tracked history and co-occurrence state as a single
// linearized operation: holding resetMu's write lock excludes every
// Record/Rank/Score/Stats/TrackedPairs call for the duration, so no
// observer ever sees some shards cleared and others still populated, and
// no in-flight Record can insert into a shard this call is about to wipe.
func (t *Tracker) Reset() {
	t.resetMu.Lock()
	defer t.resetMu.Unlock()

	for i := range t.shards {
		t.shards[i].mu.Lock()
		t.shards[i].pairs = make(map[pairid.PairID]*pairState)
		t.shards[i].mu.Unlock()
	}
	t.activity.reset()
}

// Stats reports aggregate tracker state for observability, per spec.md
// §4.4. It takes a snapshot; values may be stale by the time the caller
// observes them under concurrent Record calls.
func (t *Tracker) Stats() Stats {
	t.resetMu.RLock()
	defer t.resetMu.RUnlock()

	pairs := t.activity.snapshotPairs()

	updateCounts := make(map[pairid.PairID]uint64, len(pairs))
	type pairSnapshot struct {
		pair       pairid.PairID
		partners   map[pairid.PairID]uint32
		historyLen int
		oldest     int64
		newest     int64
	}
	snaps := make([]pairSnapshot, 0, len(pairs))

	for _, p := range pairs {
		ps, ok := t.lookupPairState(p)
		if !ok {
			continue
		}
		ps.mu.Lock()
		partners := make(map[pairid.PairID]uint32, len(ps.partners))
		for partner, e := range ps.partners {
			partners[partner] = e.coOccurrences
		}
		historyLen := ps.history.Len()
		var oldest, newest int64
		if historyLen > 0 {
			oldest = ps.history.Oldest()
			newest = ps.history.Newest()
		}
		updateCounts[p] = ps.updateCount
		snaps = append(snaps, pairSnapshot{pair: p, partners: partners, historyLen: historyLen, oldest: oldest, newest: newest})
		ps.mu.Unlock()
	}

	var totalCo uint64
	var scoreSum float64
	var scoreCount int
	var oldestOverall, newestOverall int64
	var memBytes, windowBytes uint64
	first := true

	for _, s := range snaps {
		windowBytes += uint64(s.historyLen) * 8
		memBytes += uint64(s.historyLen)*8 + uint64(len(s.partners))*32
		if s.historyLen > 0 {
			if first || s.oldest < oldestOverall {
				oldestOverall = s.oldest
			}
			if first || s.newest > newestOverall {
				newestOverall = s.newest
			}
			first = false
		}
		selfUpdates := updateCounts[s.pair]
		for partner, co := range s.partners {
			totalCo += uint64(co)
			partnerUpdates, ok := updateCounts[partner]
			if !ok {
				continue
			}
			scoreSum += coOccurrenceScore(co, selfUpdates, partnerUpdates)
			scoreCount++
		}
	}

	var avgScore float64
	if scoreCount > 0 {
		avgScore = scoreSum / float64(scoreCount)
	}

	return Stats{
		TotalPairs:         len(pairs),
		TotalCoOccurrences: totalCo / 2, // each co-occurrence is recorded on both edges
		AvgScore:           avgScore,
		MemoryBytes:        memBytes,
		OldestTimestamp:    oldestOverall,
		NewestTimestamp:    newestOverall,
		WindowBytes:        windowBytes,
	}
}

func elapsedUs(start time.Time) uint32 {
	d := time.Since(start)
	if d <= 0 {
		return 0
	}
	us := d.Microseconds()
	if us > int64(^uint32(0)) {
		return ^uint32(0)
	}
	return uint32(us)
}
