package ports

import (
	"context"

	"telesig/internal/core/domain"
)

// SessionStore is the backing store the registry mirrors session snapshots
// into. The registry owns all locking; stores only persist and look up.
type SessionStore interface {
	Save(ctx context.Context, session *domain.Session) error
	GetByID(ctx context.Context, id domain.SessionID) (*domain.Session, error)
	Delete(ctx context.Context, id domain.SessionID) error
	ListActive(ctx context.Context) ([]*domain.Session, error)
}
