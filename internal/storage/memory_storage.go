package storage

import (
	"context"
	"sync"
	"time"

	"github.com/knowledge-engine/kwic/internal/session"
)

// MemoryStorage keeps sessions in process memory
type MemoryStorage struct {
	sessions map[string]*session.Session
	mu       sync.RWMutex
	now      func() time.Time
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		sessions: make(map[string]*session.Session),
		now:      time.Now,
	}
}

func (ms *MemoryStorage) Save(_ context.Context, s *session.Session) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.sessions[s.ID] = s
	return nil
}

func (ms *MemoryStorage) Get(_ context.Context, id string) (*session.Session, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	s, ok := ms.sessions[id]
	if !ok || s.Expired(ms.now()) {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

func (ms *MemoryStorage) Delete(_ context.Context, id string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	delete(ms.sessions, id)
	return nil
}

func (ms *MemoryStorage) Sweep(_ context.Context, now time.Time) (int, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	removed := 0
	for id, s := range ms.sessions {
		if s.Expired(now) {
			delete(ms.sessions, id)
			removed++
		}
	}
	return removed, nil
}

func (ms *MemoryStorage) Count(_ context.Context) (int, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	return len(ms.sessions), nil
}

func (ms *MemoryStorage) Name() string { return "memory" }

// Close is a no-op for memory storage
func (ms *MemoryStorage) Close() error {
	return nil
}
