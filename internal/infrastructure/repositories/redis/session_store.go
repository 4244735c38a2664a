package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"telesig/internal/core/domain"
	"telesig/internal/core/ports"
)

const (
	sessionKeyPrefix = "telesig:session:"
	activeSetKey     = "telesig:sessions:active"

	// Terminal sessions age out on their own; live sessions are refreshed on
	// every snapshot save.
	sessionTTL = 24 * time.Hour
)

// SessionStore mirrors session snapshots into Redis so a coordinator restart
// (or a sibling instance) can look sessions up. The registry remains the
// single writer; Redis holds serialized copies only.
type SessionStore struct {
	client *redis.Client
}

func NewSessionStore(client *redis.Client) ports.SessionStore {
	return &SessionStore{client: client}
}

func sessionKey(id domain.SessionID) string {
	return sessionKeyPrefix + string(id)
}

func (r *SessionStore) Save(ctx context.Context, session *domain.Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	pipe := r.client.Pipeline()
	pipe.Set(ctx, sessionKey(session.ID), data, sessionTTL)
	if session.State.Terminal() {
		pipe.SRem(ctx, activeSetKey, string(session.ID))
	} else {
		pipe.SAdd(ctx, activeSetKey, string(session.ID))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save session %s: %w", session.ID, err)
	}
	return nil
}

func (r *SessionStore) GetByID(ctx context.Context, id domain.SessionID) (*domain.Session, error) {
	data, err := r.client.Get(ctx, sessionKey(id)).Bytes()
	if err == redis.Nil {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session %s: %w", id, err)
	}

	var session domain.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session %s: %w", id, err)
	}
	return &session, nil
}

func (r *SessionStore) Delete(ctx context.Context, id domain.SessionID) error {
	pipe := r.client.Pipeline()
	del := pipe.Del(ctx, sessionKey(id))
	pipe.SRem(ctx, activeSetKey, string(id))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete session %s: %w", id, err)
	}
	if del.Val() == 0 {
		return domain.ErrSessionNotFound
	}
	return nil
}

func (r *SessionStore) ListActive(ctx context.Context) ([]*domain.Session, error) {
	ids, err := r.client.SMembers(ctx, activeSetKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list active sessions: %w", err)
	}

	var active []*domain.Session
	for _, id := range ids {
		session, err := r.GetByID(ctx, domain.SessionID(id))
		if err == domain.ErrSessionNotFound {
			// Stale index entry; drop it.
			r.client.SRem(ctx, activeSetKey, id)
			continue
		}
		if err != nil {
			return nil, err
		}
		active = append(active, session)
	}
	return active, nil
}
