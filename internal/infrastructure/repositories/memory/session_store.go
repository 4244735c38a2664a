package memory

import (
	"context"
	"sync"

	"telesig/internal/core/domain"
	"telesig/internal/core/ports"
)

// SessionStore keeps session snapshots in process memory. It is the default
// backing store when no external store is configured.
type SessionStore struct {
	sessions map[domain.SessionID]*domain.Session
	mu       sync.RWMutex
}

func NewSessionStore() ports.SessionStore {
	return &SessionStore{
		sessions: make(map[domain.SessionID]*domain.Session),
	}
}

func (r *SessionStore) Save(ctx context.Context, session *domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[session.ID] = session
	return nil
}

func (r *SessionStore) GetByID(ctx context.Context, id domain.SessionID) (*domain.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	session, exists := r.sessions[id]
	if !exists {
		return nil, domain.ErrSessionNotFound
	}
	return session, nil
}

func (r *SessionStore) Delete(ctx context.Context, id domain.SessionID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[id]; !exists {
		return domain.ErrSessionNotFound
	}
	delete(r.sessions, id)
	return nil
}

func (r *SessionStore) ListActive(ctx context.Context) ([]*domain.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var active []*domain.Session
	for _, s := range r.sessions {
		if !s.State.Terminal() {
			active = append(active, s)
		}
	}
	return active, nil
}
