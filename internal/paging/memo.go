package paging

import (
	"context"
	"sync"
	"time"

	"github.com/SoftwareAG/cumulocity-subtenant-management/internal/domain"

	"github.com/benbjohnson/clock"
)

// Memo single-flights identical concurrent queries.  A second caller arriving
// before the first completes reuses the in-flight computation rather than
// re-issuing requests.  Entries must be explicitly invalidated whenever the
// underlying data is mutated; an optional TTL additionally bounds staleness.
type Memo[T any] struct {
	ttl   time.Duration
	clock clock.Clock

	mu      sync.Mutex
	entries map[string]*memoEntry[T]
}

type memoEntry[T any] struct {
	done      chan struct{}
	value     []T
	dropped   int
	err       error
	fetchedAt time.Time
}

func NewMemo[T any](ttl time.Duration, clk clock.Clock) *Memo[T] {
	if clk == nil {
		clk = clock.New()
	}

	return &Memo[T]{
		ttl:     ttl,
		clock:   clk,
		entries: make(map[string]*memoEntry[T]),
	}
}

// Get returns the memoized result for key, computing it at most once per
// cache generation.  Failed computations are not cached.
func (m *Memo[T]) Get(ctx context.Context, key string, compute func(ctx context.Context) ([]T, int, error)) ([]T, int, error) {

	m.mu.Lock()
	entry, ok := m.entries[key]
	if ok && m.expired(entry) {
		delete(m.entries, key)
		ok = false
	}

	if ok {
		m.mu.Unlock()

		select {
		case <-entry.done:
		case <-ctx.Done():
			return nil, 0, ctx.Err()
		}

		return entry.value, entry.dropped, entry.err
	}

	entry = &memoEntry[T]{done: make(chan struct{})}
	m.entries[key] = entry
	m.mu.Unlock()

	entry.value, entry.dropped, entry.err = compute(ctx)
	entry.fetchedAt = m.clock.Now()
	close(entry.done)

	if entry.err != nil {
		m.Invalidate(key)
	}

	return entry.value, entry.dropped, entry.err
}

func (m *Memo[T]) expired(entry *memoEntry[T]) bool {
	if m.ttl <= 0 {
		return false
	}

	select {
	case <-entry.done:
	default:
		// Still in flight, share it.
		return false
	}

	return m.clock.Now().Sub(entry.fetchedAt) > m.ttl
}

func (m *Memo[T]) Invalidate(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
}

func (m *Memo[T]) InvalidateAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[string]*memoEntry[T])
}

// Flusher is the invalidation capability a memoized datasource registers
// with the mutation path.
type Flusher interface {
	InvalidateAll()
}

// MutationFlusher fans a mutation notification out to every datasource that
// caches reads of the mutated entity kind.  The reconciliation engine calls
// OnMutation before reporting success, so subsequent reads never observe a
// stale cache mixed with the mutation's effect.
type MutationFlusher struct {
	mu     sync.Mutex
	byKind map[domain.EntityKind][]Flusher
}

func NewMutationFlusher() *MutationFlusher {
	return &MutationFlusher{byKind: make(map[domain.EntityKind][]Flusher)}
}

func (f *MutationFlusher) Register(kind domain.EntityKind, flusher Flusher) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byKind[kind] = append(f.byKind[kind], flusher)
}

func (f *MutationFlusher) OnMutation(kind domain.EntityKind) {
	f.mu.Lock()
	flushers := f.byKind[kind]
	f.mu.Unlock()

	for _, flusher := range flushers {
		flusher.InvalidateAll()
	}
}
