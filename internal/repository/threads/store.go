// Package threads keeps live conversation threads in process memory.
// Threads exist only for the lifetime of a caller session plus an
// inactivity window; there is no persistence across restarts.
package threads

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/voxdex/internal/domain/thread"
)

type entry struct {
	thread   *thread.Thread
	lastSeen time.Time
}

// Store is a mutex-guarded in-memory thread store with TTL eviction.
// Thread aggregates themselves are unlocked; the turn orchestrator
// serializes mutation per thread. The store only tracks presence and
// last access.
type Store struct {
	mu      sync.Mutex
	threads map[string]*entry
	ttl     time.Duration
	logger  *zap.Logger

	evictOnce sync.Once
	stopOnce  sync.Once
	evicting  bool
	stop      chan struct{}
	done      chan struct{}
}

// New creates a thread store. Threads idle longer than ttl are evicted
// once the eviction loop runs.
func New(ttl time.Duration, logger *zap.Logger) *Store {
	return &Store{
		threads: make(map[string]*entry),
		ttl:     ttl,
		logger:  logger,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// GetOrCreate returns the thread for id, creating an empty one on first
// use. Access refreshes the eviction clock.
func (s *Store) GetOrCreate(id string) (*thread.Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.threads[id]; ok {
		e.lastSeen = time.Now()
		return e.thread, nil
	}

	th, err := thread.New(id)
	if err != nil {
		return nil, err
	}
	s.threads[id] = &entry{thread: th, lastSeen: time.Now()}
	s.logger.Debug("Created thread", zap.String("thread_id", id))
	return th, nil
}

// Put stores a thread, replacing any existing one with the same id.
func (s *Store) Put(th *thread.Thread) {
	s.mu.Lock()
	s.threads[th.ID()] = &entry{thread: th, lastSeen: time.Now()}
	s.mu.Unlock()
}

// Len returns the number of live threads.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.threads)
}

// StartEviction launches the periodic eviction loop. Safe to call once;
// subsequent calls are no-ops.
func (s *Store) StartEviction(interval time.Duration) {
	s.evictOnce.Do(func() {
		s.evicting = true
		go s.evictLoop(interval)
	})
}

// Close stops the eviction loop and waits for it to exit.
func (s *Store) Close() {
	s.stopOnce.Do(func() {
		close(s.stop)
		if s.evicting {
			<-s.done
		}
	})
}

func (s *Store) evictLoop(interval time.Duration) {
	defer close(s.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			if n := s.evictExpired(time.Now()); n > 0 {
				s.logger.Info("Evicted idle threads", zap.Int("count", n))
			}
		}
	}
}

// evictExpired removes threads idle past the TTL and returns the count.
func (s *Store) evictExpired(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int
	for id, e := range s.threads {
		if now.Sub(e.lastSeen) > s.ttl {
			delete(s.threads, id)
			n++
		}
	}
	return n
}
