package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"telesig/internal/core/domain"
	"telesig/internal/core/ports"
	apperrors "telesig/pkg/errors"
)

// Registry is the ground-truth store of consultation sessions. Each session
// is the unit of mutual exclusion: every mutation of a session and its owned
// participants and pairings runs under that session's lock, so concurrent
// signaling events cannot race past admission or negotiation checks.
// Operations on different sessions are independent.
type Registry struct {
	mu            sync.RWMutex
	sessions      map[domain.SessionID]*sessionEntry
	byAppointment map[domain.AppointmentID]domain.SessionID

	store  ports.SessionStore
	logger *zap.SugaredLogger
}

type sessionEntry struct {
	mu      sync.Mutex
	session *domain.Session
}

func NewRegistry(store ports.SessionStore, logger *zap.Logger) *Registry {
	return &Registry{
		sessions:      make(map[domain.SessionID]*sessionEntry),
		byAppointment: make(map[domain.AppointmentID]domain.SessionID),
		store:         store,
		logger:        logger.Sugar(),
	}
}

// CreateSession opens a consultation session for the given appointment.
// Fails while a previous session for the same appointment is still live.
func (r *Registry) CreateSession(ctx context.Context, owner domain.OwnerContext) (*domain.Session, error) {
	if owner.AppointmentID == "" {
		return nil, apperrors.NewInvalidInput("appointment_id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existingID, ok := r.byAppointment[owner.AppointmentID]; ok {
		if entry, ok := r.sessions[existingID]; ok {
			entry.mu.Lock()
			live := !entry.session.State.Terminal()
			entry.mu.Unlock()
			if live {
				err := apperrors.NewDuplicateActiveSession(string(owner.AppointmentID))
				err.Cause = domain.ErrDuplicateActiveSession
				return nil, err
			}
		}
	}

	id := domain.SessionID(fmt.Sprintf("consult-%s-%s", owner.AppointmentID, uuid.NewString()[:8]))
	session := domain.NewSession(id, owner)

	r.sessions[id] = &sessionEntry{session: session}
	r.byAppointment[owner.AppointmentID] = id

	if err := r.store.Save(ctx, session.Clone()); err != nil {
		r.logger.Warnw("failed to persist session snapshot", "session_id", id, "error", err)
	}

	r.logger.Infow("session created",
		"session_id", id,
		"appointment_id", owner.AppointmentID,
		"doctor_id", owner.DoctorID,
		"patient_id", owner.PatientID,
	)
	return session, nil
}

// GetSession returns the live session. Callers must not mutate it outside
// WithSession.
func (r *Registry) GetSession(ctx context.Context, id domain.SessionID) (*domain.Session, error) {
	r.mu.RLock()
	entry, ok := r.sessions[id]
	r.mu.RUnlock()

	if !ok {
		err := apperrors.NewNotFound("session")
		err.Cause = domain.ErrSessionNotFound
		return nil, err
	}
	return entry.session, nil
}

// WithSession runs fn under the session's lock and mirrors the mutated
// session into the backing store afterwards. fn must not block on network
// I/O: every suspension point belongs outside the lock.
func (r *Registry) WithSession(ctx context.Context, id domain.SessionID, fn func(*domain.Session) error) error {
	r.mu.RLock()
	entry, ok := r.sessions[id]
	r.mu.RUnlock()

	if !ok {
		err := apperrors.NewNotFound("session")
		err.Cause = domain.ErrSessionNotFound
		return err
	}

	// Snapshot while still holding the lock: the store (redis marshals the
	// whole session) must never observe the next caller's mutations.
	entry.mu.Lock()
	err := fn(entry.session)
	snapshot := entry.session.Clone()
	entry.mu.Unlock()

	if saveErr := r.store.Save(ctx, snapshot); saveErr != nil {
		r.logger.Warnw("failed to persist session snapshot", "session_id", id, "error", saveErr)
	}
	return err
}

// Transition performs a guarded compare-and-swap on the session state.
// It fails when the current state does not match from, when the session is
// already terminal, or when it would re-enter the waiting room after the
// call went active.
func (r *Registry) Transition(ctx context.Context, id domain.SessionID, from, to domain.SessionState) error {
	return r.WithSession(ctx, id, func(s *domain.Session) error {
		if err := checkTransition(s, from, to); err != nil {
			return err
		}
		s.State = to
		switch to {
		case domain.SessionActive:
			if s.StartedAt.IsZero() {
				s.StartedAt = time.Now()
			}
		case domain.SessionEnded, domain.SessionFailed:
			s.EndedAt = time.Now()
		}
		r.logger.Infow("session transition", "session_id", id, "from", from, "to", to)
		return nil
	})
}

func checkTransition(s *domain.Session, from, to domain.SessionState) error {
	if s.State != from {
		err := apperrors.NewInvalidTransition(string(s.State), string(to))
		err.Cause = domain.ErrInvalidTransition
		return err
	}
	if s.State.Terminal() {
		err := apperrors.NewInvalidTransition(string(s.State), string(to))
		err.Cause = domain.ErrInvalidTransition
		return err
	}
	// A session never returns to the waiting room once the call started.
	if to == domain.SessionWaitingForPrivileged && !s.StartedAt.IsZero() {
		err := apperrors.NewInvalidTransition(string(s.State), string(to))
		err.Cause = domain.ErrInvalidTransition
		return err
	}
	return nil
}

// EndSession forces the session into a terminal state with a reason,
// regardless of its current non-terminal state. Ending an already-terminal
// session is a no-op.
func (r *Registry) EndSession(ctx context.Context, id domain.SessionID, state domain.SessionState, reason string) error {
	if state != domain.SessionEnded && state != domain.SessionFailed {
		return apperrors.NewInvalidInput("end state must be terminal")
	}
	return r.WithSession(ctx, id, func(s *domain.Session) error {
		if s.State.Terminal() {
			return nil
		}
		s.State = state
		s.EndReason = reason
		s.EndedAt = time.Now()
		for _, p := range s.Participants {
			if p.Admission != domain.AdmissionDisconnected {
				p.Admission = domain.AdmissionDisconnected
			}
		}
		r.logger.Infow("session ended", "session_id", id, "state", state, "reason", reason)
		return nil
	})
}

// Remove drops a terminal session from the registry and the backing store.
func (r *Registry) Remove(ctx context.Context, id domain.SessionID) error {
	r.mu.Lock()
	entry, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
		if appt := entry.session.Owner.AppointmentID; r.byAppointment[appt] == id {
			delete(r.byAppointment, appt)
		}
	}
	r.mu.Unlock()

	if !ok {
		err := apperrors.NewNotFound("session")
		err.Cause = domain.ErrSessionNotFound
		return err
	}
	return r.store.Delete(ctx, id)
}

// ActiveSessionCount reports how many registered sessions are not terminal.
func (r *Registry) ActiveSessionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, entry := range r.sessions {
		entry.mu.Lock()
		if !entry.session.State.Terminal() {
			n++
		}
		entry.mu.Unlock()
	}
	return n
}
