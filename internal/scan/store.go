package scan

import (
	"context"
	"sync"
	"time"

	"github.com/erazemk/scanbin/internal/clock"
)

// Store persists sessions between scans. Lock serializes updates to one
// session; callers hold it around Load and Save.
type Store interface {
	Lock(ctx context.Context, id string) (unlock func(), err error)
	// Load returns ErrSessionNotFound for unknown or expired sessions.
	Load(ctx context.Context, id string) (*Session, error)
	Save(ctx context.Context, s *Session) error
	Delete(ctx context.Context, id string) error
}

// MemoryStore keeps sessions in process memory.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]Session
	locks    map[string]*sessionLock
	ttl      time.Duration
	clock    clock.Clock
}

// NewMemoryStore returns a store whose sessions expire ttl after their last
// update.
func NewMemoryStore(ttl time.Duration, c clock.Clock) *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]Session),
		locks:    make(map[string]*sessionLock),
		ttl:      ttl,
		clock:    c,
	}
}

// sessionLock is a one-slot semaphore. refs counts the holder and the
// waiters; the entry is dropped from the map when it reaches zero.
type sessionLock struct {
	ch   chan struct{}
	refs int
}

func (m *MemoryStore) Lock(ctx context.Context, id string) (func(), error) {
	m.mu.Lock()
	l, ok := m.locks[id]
	if !ok {
		l = &sessionLock{ch: make(chan struct{}, 1)}
		m.locks[id] = l
	}
	l.refs++
	m.mu.Unlock()

	select {
	case l.ch <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-l.ch
				m.release(id, l)
			})
		}, nil
	case <-ctx.Done():
		m.release(id, l)
		return nil, ctx.Err()
	}
}

func (m *MemoryStore) release(id string, l *sessionLock) {
	m.mu.Lock()
	defer m.mu.Unlock()

	l.refs--
	if l.refs == 0 && m.locks[id] == l {
		delete(m.locks, id)
	}
}

func (m *MemoryStore) Load(ctx context.Context, id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok || m.expired(&s) {
		return nil, ErrSessionNotFound
	}
	return &s, nil
}

func (m *MemoryStore) Save(ctx context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sessions[s.ID] = *s
	m.sweep()
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.sessions, id)
	return nil
}

func (m *MemoryStore) expired(s *Session) bool {
	return m.ttl > 0 && m.clock.Now().Sub(s.UpdatedAt) > m.ttl
}

// sweep drops expired sessions nobody is working on. Callers hold m.mu.
func (m *MemoryStore) sweep() {
	for id, s := range m.sessions {
		if !m.expired(&s) {
			continue
		}
		if _, busy := m.locks[id]; busy {
			continue
		}
		delete(m.sessions, id)
	}
}
