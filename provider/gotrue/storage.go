package gotrue

import (
	"context"
	"sync"

	"github.com/goliatone/go-authstate"
)

// SessionStorage persists the current session between calls. Load returns
// (nil, nil) when nothing is stored.
type SessionStorage interface {
	Load(ctx context.Context) (*authstate.Session, error)
	Save(ctx context.Context, session *authstate.Session) error
	Remove(ctx context.Context) error
}

// MemoryStorage keeps the session in process memory.
type MemoryStorage struct {
	mu      sync.RWMutex
	session *authstate.Session
}

// NewMemoryStorage returns an empty MemoryStorage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{}
}

func (m *MemoryStorage) Load(context.Context) (*authstate.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.session == nil {
		return nil, nil
	}
	cp := *m.session
	return &cp, nil
}

func (m *MemoryStorage) Save(_ context.Context, session *authstate.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if session == nil {
		m.session = nil
		return nil
	}
	cp := *session
	m.session = &cp
	return nil
}

func (m *MemoryStorage) Remove(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session = nil
	return nil
}
