package backingstore

import (
	"context"
	"sync"
	"time"

	"github.com/sonicx222/cachewarm/clock"
	"github.com/sonicx222/cachewarm/pairid"
)

type entry struct {
	value     []byte
	expiresAt int64 // unix nanos; 0 means no expiry
}

// MemoryStore is an in-process L2 implementation: a mutex-protected map with
// TTL expiry, intended for tests and small deployments. Its background
// sweep is grounded on catrate.Limiter.worker's ticker-driven cleanup: a
// periodic pass that only removes entries past their deadline. The sweeper
// starts on the first Put and runs until Close; it does not stop on its own
// when the map is empty.
type MemoryStore struct {
	clock clock.Clock

	mu      sync.Mutex
	data    map[pairid.PairID]entry
	running bool
	stop    chan struct{}
	done    chan struct{}

	sweepInterval time.Duration
}

// NewMemoryStore constructs a MemoryStore. sweepInterval controls how often
// expired entries are proactively reaped; it defaults to 30s if <= 0.
// Expired entries are also filtered lazily on Get, so sweeping is purely an
// optimization against unbounded memory growth from abandoned keys.
func NewMemoryStore(c clock.Clock, sweepInterval time.Duration) *MemoryStore {
	if c == nil {
		c = clock.System{}
	}
	if sweepInterval <= 0 {
		sweepInterval = 30 * time.Second
	}
	return &MemoryStore{
		clock:         c,
		data:          make(map[pairid.PairID]entry),
		sweepInterval: sweepInterval,
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
}

// Get implements Store.
func (m *MemoryStore) Get(_ context.Context, pair pairid.PairID) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.data[pair]
	if !ok {
		return nil, false, nil
	}
	if e.expiresAt != 0 && int64(m.clock.NowNs()) >= e.expiresAt {
		delete(m.data, pair)
		return nil, false, nil
	}
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, true, nil
}

// Put implements Store.
func (m *MemoryStore) Put(_ context.Context, pair pairid.PairID, value []byte, ttl time.Duration) error {
	var expiresAt int64
	if ttl > 0 {
		expiresAt = int64(m.clock.NowNs()) + ttl.Nanoseconds()
	}
	stored := make([]byte, len(value))
	copy(stored, value)

	m.mu.Lock()
	m.data[pair] = entry{value: stored, expiresAt: expiresAt}
	if !m.running {
		m.running = true
		go m.sweep()
	}
	m.mu.Unlock()
	return nil
}

// Close stops the background sweeper, if running.
func (m *MemoryStore) Close() {
	m.mu.Lock()
	running := m.running
	m.mu.Unlock()
	if !running {
		return
	}
	close(m.stop)
	<-m.done
}

func (m *MemoryStore) sweep() {
	defer close(m.done)

	ticker := time.NewTicker(m.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			now := int64(m.clock.NowNs())
			m.mu.Lock()
			for pair, e := range m.data {
				if e.expiresAt != 0 && now >= e.expiresAt {
					delete(m.data, pair)
				}
			}
			m.mu.Unlock()
		}
	}
}
