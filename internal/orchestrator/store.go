package orchestrator

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrSessionNotFound is returned for unknown or expired sessions.
var ErrSessionNotFound = errors.New("session not found")

// Store is the persistence abstraction for sessions.
// Implementations can be in-memory or remote. Every Put refreshes the
// session's time to live; sessions not written for longer than that are
// evicted.
type Store interface {
	Get(ctx context.Context, id SessionID) (*Session, error)
	Put(ctx context.Context, s *Session) error
	Delete(ctx context.Context, id SessionID) error
	Count(ctx context.Context) (int, error)
}

// InMemoryStore is a concurrency-safe in-memory implementation of Store.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[SessionID]*storedSession
	ttl      time.Duration
	now      func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

type storedSession struct {
	session Session
	expires time.Time
}

// NewInMemoryStore returns an empty store whose sessions expire ttl after
// their last Put. A background janitor removes expired sessions every
// cleanupInterval; pass 0 to disable it and rely on lazy expiry.
func NewInMemoryStore(ttl, cleanupInterval time.Duration) *InMemoryStore {
	s := &InMemoryStore{
		sessions: make(map[SessionID]*storedSession),
		ttl:      ttl,
		now:      time.Now,
		stop:     make(chan struct{}),
	}
	if cleanupInterval > 0 {
		go s.janitor(cleanupInterval)
	}
	return s
}

// Get implements Store.Get.
func (s *InMemoryStore) Get(_ context.Context, id SessionID) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.sessions[id]
	if !ok || s.expired(st) {
		return nil, ErrSessionNotFound
	}
	cp := st.session
	return &cp, nil
}

// Put implements Store.Put.
func (s *InMemoryStore) Put(_ context.Context, sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions[sess.ID] = &storedSession{session: *sess, expires: s.now().Add(s.ttl)}
	return nil
}

// Delete implements Store.Delete. Deleting an unknown session is a no-op.
func (s *InMemoryStore) Delete(_ context.Context, id SessionID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, id)
	return nil
}

// Count implements Store.Count. Expired sessions are not counted.
func (s *InMemoryStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, st := range s.sessions {
		if !s.expired(st) {
			n++
		}
	}
	return n, nil
}

// DeleteExpired removes all expired sessions and returns how many it removed.
func (s *InMemoryStore) DeleteExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, st := range s.sessions {
		if s.expired(st) {
			delete(s.sessions, id)
			n++
		}
	}
	return n
}

// Close stops the janitor.
func (s *InMemoryStore) Close() {
	s.stopOnce.Do(func() { close(s.stop) })
}

func (s *InMemoryStore) expired(st *storedSession) bool {
	return s.ttl > 0 && !s.now().Before(st.expires)
}

func (s *InMemoryStore) janitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.DeleteExpired()
		case <-s.stop:
			return
		}
	}
}
