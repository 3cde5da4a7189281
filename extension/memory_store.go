package extension

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory Store. Suitable for tests and single-host
// deployments where host and extensions share a MemoryBus.
type MemoryStore struct {
	mu       sync.RWMutex
	entries  map[uuid.UUID]memoryEntry
	watchers []chan StoreEvent
	closed   bool
	done     chan struct{}

	ttl time.Duration
	now func() time.Time
}

type memoryEntry struct {
	announcement Announcement
	seen         time.Time
}

// MemoryStoreConfig configures the in-memory store.
type MemoryStoreConfig struct {
	// TTL is how long an announcement lives without being refreshed.
	// Zero means entries never expire.
	TTL time.Duration
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore(cfg MemoryStoreConfig) *MemoryStore {
	s := &MemoryStore{
		entries: make(map[uuid.UUID]memoryEntry),
		done:    make(chan struct{}),
		ttl:     cfg.TTL,
		now:     time.Now,
	}

	if cfg.TTL > 0 {
		go s.cleanupLoop()
	}

	return s
}

// Put adds or replaces an announcement and refreshes its TTL.
func (s *MemoryStore) Put(ctx context.Context, a Announcement) error {
	if err := a.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	s.entries[a.NodeID] = memoryEntry{announcement: a, seen: s.now()}
	s.notify(StoreEvent{Type: StorePut, Announcement: a})
	return nil
}

// Delete removes a node's announcement.
func (s *MemoryStore) Delete(ctx context.Context, node uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	e, ok := s.entries[node]
	if !ok {
		return nodeNotFound(node)
	}
	delete(s.entries, node)
	s.notify(StoreEvent{Type: StoreRemoved, Announcement: e.announcement})
	return nil
}

// Get returns a node's announcement unless it has expired.
func (s *MemoryStore) Get(ctx context.Context, node uuid.UUID) (*Announcement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	e, ok := s.entries[node]
	if !ok || s.stale(e) {
		return nil, nodeNotFound(node)
	}
	a := e.announcement
	return &a, nil
}

// List returns every live announcement.
func (s *MemoryStore) List(ctx context.Context) ([]Announcement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	result := make([]Announcement, 0, len(s.entries))
	for _, e := range s.entries {
		if !s.stale(e) {
			result = append(result, e.announcement)
		}
	}
	sortAnnouncements(result)
	return result, nil
}

// Watch returns a channel of store events.
func (s *MemoryStore) Watch() (<-chan StoreEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	ch := make(chan StoreEvent, 64)
	s.watchers = append(s.watchers, ch)
	return ch, nil
}

// Close shuts down the store and closes every watcher.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	close(s.done)

	for _, ch := range s.watchers {
		close(ch)
	}
	s.watchers = nil
	return nil
}

func (s *MemoryStore) stale(e memoryEntry) bool {
	return s.ttl > 0 && s.now().Sub(e.seen) > s.ttl
}

// notify sends an event to all watchers. Must be called with lock held.
func (s *MemoryStore) notify(event StoreEvent) {
	for _, ch := range s.watchers {
		select {
		case ch <- event:
		default:
		}
	}
}

func (s *MemoryStore) cleanupLoop() {
	ticker := time.NewTicker(s.ttl / 2)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.expire()
		}
	}
}

// expire removes stale entries and reports them as removed.
func (s *MemoryStore) expire() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	for node, e := range s.entries {
		if s.stale(e) {
			delete(s.entries, node)
			s.notify(StoreEvent{Type: StoreRemoved, Announcement: e.announcement})
		}
	}
}
