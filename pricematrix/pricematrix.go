// Package pricematrix implements the L1 cache: a fixed-capacity,
// shared-memory table of PairID -> Record with seqlock-validated reads and a
// single-writer-per-slot discipline, per spec.md §4.1.
//
// Concurrency is modeled on the teacher's catrate.Limiter: slot payloads are
// published through atomics (catrate/limiter.go's categoryData.atomic), with a
// mutex guarding the PairID -> slot index and the eviction hand. Get and Put
// both take that mutex briefly for the index lookup, and Put also holds it
// while assigning a slot to a new pair, so reads are not wait-free. Each slot
// publishes its Record via a
// sequence counter seqlock, so a concurrent reader observes either the
// entire prior record or the entire new one, never a torn mix of the two.
package pricematrix

import (
	"sync"
	"sync/atomic"

	"github.com/sonicx222/cachewarm/cacherr"
	"github.com/sonicx222/cachewarm/pairid"
)

// Record is the fixed-width L1 payload: a scaled fixed-point price, a
// monotonic nanosecond timestamp, and a small flags/source field.
type Record struct {
	PriceScaled int64
	TimestampNs int64
	Flags       uint16
}

// Config configures a Matrix's capacity. Slots should be a power of two;
// non-power-of-two values are rounded up, matching catrate/ring.go's
// power-of-two masking discipline.
type Config struct {
	// Slots is the number of L1 table slots. Defaults to 1024 if <= 0.
	Slots uint32
	// ForbidEviction, if true, makes Put return ErrCapacityViolation
	// instead of evicting when the table is full and the pair is new.
	// Defaults to false (evict).
	ForbidEviction bool
}

func (c Config) withDefaults() Config {
	if c.Slots == 0 {
		c.Slots = 1024
	}
	c.Slots = nextPowerOfTwo(c.Slots)
	return c
}

func nextPowerOfTwo(v uint32) uint32 {
	if v == 0 {
		return 1
	}
	v--
	v |= v >> 1
	v |= v >> 2
	v |= v >> 4
	v |= v >> 8
	v |= v >> 16
	v++
	return v
}

type slot struct {
	// seq is a seqlock counter: odd while a write is in progress, even
	// otherwise. Readers validate that seq is even and unchanged across
	// the read of pair+record.
	seq atomic.Uint64

	// pair and record are only ever mutated by the single writer holding
	// this slot's write path (serialized by Matrix.mu for assignment, and
	// implicitly single-writer-per-slot thereafter since only the owner of
	// a pair ever calls Put for it).
	pair   pairid.PairID
	record Record

	// referenced supports CLOCK-approximate eviction: set on every Get hit,
	// cleared by the eviction scan as it passes over a slot.
	referenced atomic.Bool

	// occupied reports whether the slot currently holds a live pair.
	occupied atomic.Bool
}

// Matrix is the L1 price cache: a fixed-capacity table with seqlock-validated
// Get and single-writer-per-slot Put, per spec.md §4.1.
type Matrix struct {
	slots []slot

	forbidEviction bool

	mu    sync.Mutex // guards index + clock hand; Get holds it only for the index lookup
	index map[pairid.PairID]uint32
	hand  uint32 // CLOCK eviction cursor
}

// New constructs a Matrix per cfg.
func New(cfg Config) *Matrix {
	cfg = cfg.withDefaults()
	return &Matrix{
		slots:          make([]slot, cfg.Slots),
		index:          make(map[pairid.PairID]uint32, cfg.Slots),
		forbidEviction: cfg.ForbidEviction,
	}
}

// CapacitySlots returns the fixed slot count.
func (m *Matrix) CapacitySlots() uint32 {
	return uint32(len(m.slots))
}

// CapacityBytes returns the approximate memory footprint of the slot table.
func (m *Matrix) CapacityBytes() uint64 {
	const approxSlotBytes = 64 // record + seqlock bookkeeping, rounded to a cache line
	return uint64(len(m.slots)) * approxSlotBytes
}

// OccupiedSlots returns the number of slots currently holding a live pair,
// for occupancy-aware callers (e.g. the warmer's StrategyContext.CurrentL1Used).
func (m *Matrix) OccupiedSlots() uint32 {
	var n uint32
	for i := range m.slots {
		if m.slots[i].occupied.Load() {
			n++
		}
	}
	return n
}

// Get returns the most recently durably-written Record for pair, or
// (Record{}, false) if pair has no current slot. The index lookup takes m.mu
// briefly; the slot read itself takes no lock and retries while a write to
// that slot is in progress, so Get is not wait-free.
func (m *Matrix) Get(pair pairid.PairID) (Record, bool) {
	// The index lookup is ordered against assignment by m.mu: a concurrent
	// Put for the same new pair either hasn't published the index entry yet
	// (miss, acceptable per spec.md's "eviction, not error" semantics) or has
	// (hit, validated below).
	m.mu.Lock()
	idx, ok := m.index[pair]
	m.mu.Unlock()
	if !ok {
		return Record{}, false
	}

	s := &m.slots[idx]
	for {
		seq1 := s.seq.Load()
		if seq1&1 != 0 {
			// writer in progress; spin briefly rather than block
			continue
		}
		p := s.pair
		rec := s.record
		seq2 := s.seq.Load()
		if seq1 != seq2 {
			continue
		}
		if p != pair {
			// slot was reassigned between the index read and this read
			return Record{}, false
		}
		s.referenced.Store(true)
		return rec, true
	}
}

// Put writes record into pair's slot, assigning a new slot (evicting a
// victim if the table is full) when pair has none yet. Per spec.md §4.1,
// Put returns ErrInvalidKey for an empty pair, and otherwise never returns an
// error unless the configured policy forbids eviction and the table is full
// with an unrelated pair.
func (m *Matrix) Put(pair pairid.PairID, record Record) error {
	if !pair.Valid() {
		return cacherr.ErrInvalidKey
	}

	m.mu.Lock()
	idx, ok := m.index[pair]
	if !ok {
		var err error
		idx, err = m.assignSlot(pair)
		if err != nil {
			m.mu.Unlock()
			return err
		}
	}
	m.mu.Unlock()

	m.publish(idx, pair, record)
	return nil
}

// assignSlot finds a free slot for pair, or evicts a CLOCK victim if the
// table is full. Must be called with m.mu held.
func (m *Matrix) assignSlot(pair pairid.PairID) (uint32, error) {
	n := uint32(len(m.slots))

	for i := uint32(0); i < n; i++ {
		if !m.slots[i].occupied.Load() {
			m.slots[i].occupied.Store(true)
			m.index[pair] = i
			return i, nil
		}
	}

	if m.forbidEviction {
		return 0, cacherr.ErrCapacityViolation
	}

	// table full: CLOCK eviction, advancing the shared hand so repeated
	// evictions sweep the table rather than always hitting slot 0.
	for tries := uint32(0); ; tries++ {
		idx := m.hand
		m.hand = (m.hand + 1) % n
		s := &m.slots[idx]
		if s.referenced.Load() {
			s.referenced.Store(false)
			if tries >= 2*n {
				// pathological: every slot kept getting re-referenced
				// concurrently; evict this one anyway to make progress.
			} else {
				continue
			}
		}
		delete(m.index, s.pair)
		m.index[pair] = idx
		return idx, nil
	}
}

// publish writes record into slot idx via the seqlock protocol: bump seq to
// odd (writer-in-progress), write the payload, bump seq to even (published).
func (m *Matrix) publish(idx uint32, pair pairid.PairID, record Record) {
	s := &m.slots[idx]
	s.seq.Add(1) // now odd
	s.pair = pair
	s.record = record
	s.referenced.Store(true)
	s.seq.Add(1) // now even, visible to readers
}
