package store

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/cmodtools/cmodparams/agent/internal/compute"
)

// Entry is a result together with the time it was stored.
type Entry struct {
	Result    *compute.Result
	UpdatedAt time.Time
}

// Store is a thread-safe in-memory result store, keyed by shot.
// A background goroutine (Run) periodically evicts entries that have not
// been updated within the configured TTL.
type Store struct {
	mu   sync.RWMutex
	data map[int]*Entry
	ttl  time.Duration
	now  func() time.Time
}

// New creates a Store with the given TTL.
func New(ttl time.Duration) *Store {
	return &Store{
		data: make(map[int]*Entry),
		ttl:  ttl,
		now:  time.Now,
	}
}

// TTL returns how long an entry stays visible without a refresh.
func (s *Store) TTL() time.Duration { return s.ttl }

// Put stores or replaces the result for res.Shot.
// Callers must not modify res after calling Put.
func (s *Store) Put(res *compute.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[res.Shot] = &Entry{
		Result:    res,
		UpdatedAt: s.now(),
	}
}

// Get returns the Entry for shot. The entry may be stale if TTL has elapsed.
func (s *Store) Get(shot int) (*Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.data[shot]
	return e, ok
}

// List returns the entries updated within the TTL, ordered by shot.
func (s *Store) List() []*Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cutoff := s.now().Add(-s.ttl)
	out := make([]*Entry, 0, len(s.data))
	for _, e := range s.data {
		if e.UpdatedAt.After(cutoff) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Result.Shot < out[j].Result.Shot })
	return out
}

// Count returns the number of entries held, including stale ones.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// Retain removes every shot not in keep and returns how many were removed.
func (s *Store) Retain(keep []int) int {
	want := make(map[int]bool, len(keep))
	for _, shot := range keep {
		want[shot] = true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for shot := range s.data {
		if !want[shot] {
			delete(s.data, shot)
			removed++
		}
	}
	return removed
}

// Evict removes entries whose UpdatedAt is older than now minus TTL.
// It returns the number of entries removed.
func (s *Store) Evict(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := now.Add(-s.ttl)
	removed := 0
	for shot, e := range s.data {
		if !e.UpdatedAt.After(cutoff) {
			delete(s.data, shot)
			removed++
		}
	}
	return removed
}

// Run evicts stale entries every half TTL (at least once a second) until ctx
// is cancelled.
func (s *Store) Run(ctx context.Context) {
	interval := s.ttl / 2
	if interval < time.Second {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			if n := s.Evict(now); n > 0 {
				slog.Debug("store: evicted stale results", "count", n)
			}
		}
	}
}
