package store

import (
	"context"
	"sync"
	"time"

	"github.com/oceanix/walletgate/ports"
)

// sweepInterval is how often the janitor removes expired entries. Reads also
// check expiry lazily, so the interval only bounds memory, not correctness.
const sweepInterval = 30 * time.Second

type entry struct {
	value     string
	expiresAt time.Time
}

type counter struct {
	n         int64
	expiresAt time.Time
}

type setEntry struct {
	members   map[string]struct{}
	expiresAt time.Time
}

// MemoryStore is the in-process Store backend for single-instance
// deployments and tests. A background sweeper prunes expired entries.
type MemoryStore struct {
	mu       sync.Mutex
	values   map[string]entry
	counters map[string]counter
	sets     map[string]setEntry
	now      func() time.Time
}

// NewMemoryStore creates a MemoryStore and starts its sweeper. The sweeper
// stops when ctx is cancelled.
func NewMemoryStore(ctx context.Context) *MemoryStore {
	s := &MemoryStore{
		values:   make(map[string]entry),
		counters: make(map[string]counter),
		sets:     make(map[string]setEntry),
		now:      time.Now,
	}
	go s.sweep(ctx)
	return s
}

func (s *MemoryStore) sweep(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			now := s.now()
			for k, e := range s.values {
				if now.After(e.expiresAt) {
					delete(s.values, k)
				}
			}
			for k, e := range s.counters {
				if now.After(e.expiresAt) {
					delete(s.counters, k)
				}
			}
			for k, e := range s.sets {
				if now.After(e.expiresAt) {
					delete(s.sets, k)
				}
			}
			s.mu.Unlock()
		}
	}
}

func (s *MemoryStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = entry{value: value, expiresAt: s.now().Add(ttl)}
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.values[key]
	if !ok || s.now().After(e.expiresAt) {
		delete(s.values, key)
		return "", ports.ErrNotFound
	}
	return e.value, nil
}

func (s *MemoryStore) GetDel(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.values[key]
	if !ok || s.now().After(e.expiresAt) {
		delete(s.values, key)
		return "", ports.ErrNotFound
	}
	delete(s.values, key)
	return e.value, nil
}

func (s *MemoryStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.values[key]; ok && !s.now().After(e.expiresAt) {
		return false, nil
	}
	s.values[key] = entry{value: value, expiresAt: s.now().Add(ttl)}
	return true, nil
}

func (s *MemoryStore) Incr(ctx context.Context, key string, window time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.counters[key]
	if !ok || s.now().After(c.expiresAt) {
		s.counters[key] = counter{n: 1, expiresAt: s.now().Add(window)}
		return 1, nil
	}
	c.n++
	s.counters[key] = c
	return c.n, nil
}

func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
	delete(s.counters, key)
	return nil
}

func (s *MemoryStore) AddToSet(ctx context.Context, key, member string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.sets[key]
	if !ok || s.now().After(e.expiresAt) {
		e = setEntry{members: make(map[string]struct{})}
	}
	e.members[member] = struct{}{}
	e.expiresAt = s.now().Add(ttl)
	s.sets[key] = e
	return nil
}

func (s *MemoryStore) SetMembers(ctx context.Context, key string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.sets[key]
	if !ok || s.now().After(e.expiresAt) {
		delete(s.sets, key)
		return nil, nil
	}
	members := make([]string, 0, len(e.members))
	for m := range e.members {
		members = append(members, m)
	}
	return members, nil
}

func (s *MemoryStore) RemoveFromSet(ctx context.Context, key, member string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.sets[key]; ok {
		delete(e.members, member)
		if len(e.members) == 0 {
			delete(s.sets, key)
		}
	}
	return nil
}

var _ ports.Store = (*MemoryStore)(nil)
