package services

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"telesig/internal/core/domain"
	"telesig/internal/core/ports"
)

// WaitingRoom is the per-session admission gate. Privileged participants
// (clinicians) are admitted immediately; guests are parked until a
// privileged participant is present. A guest left waiting past the timeout
// fails the session with PrivilegedNoShow.
type WaitingRoom struct {
	registry *Registry
	sink     ports.EventSink
	timeout  time.Duration
	logger   *zap.SugaredLogger

	mu     sync.Mutex
	timers map[domain.SessionID]*time.Timer
}

func NewWaitingRoom(registry *Registry, sink ports.EventSink, timeout time.Duration, logger *zap.Logger) *WaitingRoom {
	return &WaitingRoom{
		registry: registry,
		sink:     sink,
		timeout:  timeout,
		logger:   logger.Sugar(),
		timers:   make(map[domain.SessionID]*time.Timer),
	}
}

// Admit registers the participant with its session and decides admission.
// It returns whether the participant was admitted immediately and the
// connections of any pending guests promoted as a side effect.
func (g *WaitingRoom) Admit(ctx context.Context, sessionID domain.SessionID, p *domain.Participant) (bool, []domain.ConnectionID, error) {
	var admitted bool
	var promoted []domain.ConnectionID

	err := g.registry.WithSession(ctx, sessionID, func(s *domain.Session) error {
		if s.State.Terminal() {
			return domain.ErrInvalidTransition
		}

		p.JoinedAt = time.Now()
		s.Participants[p.ConnectionID] = p

		if p.Role == domain.RolePrivileged {
			admitted = true
			p.Admission = domain.AdmissionAdmitted
			p.AdmittedAt = p.JoinedAt

			// A clinician showing up releases the whole waiting room.
			for _, pending := range s.PendingParticipants() {
				pending.Admission = domain.AdmissionAdmitted
				pending.AdmittedAt = time.Now()
				promoted = append(promoted, pending.ConnectionID)
			}
			return nil
		}

		if s.HasPrivilegedPresent() {
			admitted = true
			p.Admission = domain.AdmissionAdmitted
			p.AdmittedAt = p.JoinedAt
			return nil
		}

		p.Admission = domain.AdmissionPending
		if s.State == domain.SessionCreated {
			s.State = domain.SessionWaitingForPrivileged
		}
		return nil
	})
	if err != nil {
		return false, nil, err
	}

	if p.Role == domain.RolePrivileged {
		g.cancelTimer(sessionID)
	} else if !admitted {
		g.armTimer(sessionID)
	}

	for _, conn := range promoted {
		g.sink.ParticipantAdmitted(sessionID, conn)
	}

	g.logger.Infow("admission decided",
		"session_id", sessionID,
		"connection_id", p.ConnectionID,
		"role", p.Role,
		"admitted", admitted,
		"promoted", len(promoted),
	)
	return admitted, promoted, nil
}

// CancelTimer stops the no-show timer, if armed. The hub calls this when a
// session ends for any other reason.
func (g *WaitingRoom) CancelTimer(sessionID domain.SessionID) {
	g.cancelTimer(sessionID)
}

// Stop cancels all outstanding timers.
func (g *WaitingRoom) Stop() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for id, t := range g.timers {
		t.Stop()
		delete(g.timers, id)
	}
}

func (g *WaitingRoom) armTimer(sessionID domain.SessionID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, armed := g.timers[sessionID]; armed {
		return
	}
	g.timers[sessionID] = time.AfterFunc(g.timeout, func() {
		g.onNoShow(sessionID)
	})
}

func (g *WaitingRoom) cancelTimer(sessionID domain.SessionID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if t, ok := g.timers[sessionID]; ok {
		t.Stop()
		delete(g.timers, sessionID)
	}
}

func (g *WaitingRoom) onNoShow(sessionID domain.SessionID) {
	g.cancelTimer(sessionID)

	ctx := context.Background()
	session, err := g.registry.GetSession(ctx, sessionID)
	if err != nil {
		return
	}
	// A clinician may have arrived between the timer firing and us running.
	stillWaiting := false
	_ = g.registry.WithSession(ctx, sessionID, func(s *domain.Session) error {
		stillWaiting = !s.State.Terminal() && !s.HasPrivilegedPresent() && len(s.PendingParticipants()) > 0
		return nil
	})
	if !stillWaiting {
		return
	}

	g.logger.Warnw("privileged participant never arrived, failing session",
		"session_id", sessionID,
		"appointment_id", session.Owner.AppointmentID,
	)
	if err := g.registry.EndSession(ctx, sessionID, domain.SessionFailed, "no clinician joined the consultation in time"); err != nil {
		g.logger.Errorw("failed to end no-show session", "session_id", sessionID, "error", err)
		return
	}
	g.sink.SessionEnded(sessionID, domain.SessionFailed, "no clinician joined the consultation in time")
}
