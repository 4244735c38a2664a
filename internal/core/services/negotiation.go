package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"

	"telesig/internal/core/domain"
	"telesig/internal/core/ports"
	apperrors "telesig/pkg/errors"
)

var timeNow = time.Now

// Negotiator drives SDP/ICE exchange between admitted participants. All
// pairing state lives inside the session and is mutated under the registry's
// per-session lock; cross-connection races are reconciled only through the
// pairing state machine, never by arrival order.
type Negotiator struct {
	registry *Registry
	sink     ports.EventSink
	logger   *zap.SugaredLogger
}

func NewNegotiator(registry *Registry, sink ports.EventSink, logger *zap.Logger) *Negotiator {
	return &Negotiator{
		registry: registry,
		sink:     sink,
		logger:   logger.Sugar(),
	}
}

// BeginNegotiation creates (or returns) the pairing between two present
// participants and assigns negotiation roles deterministically: privileged
// participants are preferred as answerer; between equals the earlier-admitted
// side offers, with the lexicographically smaller connection id as the final
// tie break. The rule is total and symmetric, so both sides always agree.
func (n *Negotiator) BeginNegotiation(ctx context.Context, sessionID domain.SessionID, a, b domain.ConnectionID) (*domain.PeerPairing, error) {
	var pairing *domain.PeerPairing
	var created bool

	err := n.registry.WithSession(ctx, sessionID, func(s *domain.Session) error {
		pa, ok := s.Participants[a]
		if !ok {
			return notFound("participant", domain.ErrParticipantNotFound)
		}
		pb, ok := s.Participants[b]
		if !ok {
			return notFound("participant", domain.ErrParticipantNotFound)
		}
		if !pa.Present() || !pb.Present() {
			return apperrors.NewInvalidInput("both participants must be admitted before negotiation")
		}

		if existing := s.FindPairing(a, b); existing != nil {
			pairing = existing
			return nil
		}

		offerer, answerer := assignRoles(pa, pb)
		pairing = domain.NewPeerPairing(domain.PairID(uuid.NewString()), offerer.ConnectionID, answerer.ConnectionID)
		s.Pairings[pairing.ID] = pairing
		created = true

		if offerer.Negotiation == "" {
			offerer.Negotiation = domain.NegotiationOfferer
		}
		if answerer.Negotiation == "" {
			answerer.Negotiation = domain.NegotiationAnswerer
		}

		if s.State == domain.SessionCreated || s.State == domain.SessionWaitingForPrivileged {
			s.State = domain.SessionNegotiating
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if created {
		n.logger.Infow("negotiation started",
			"session_id", sessionID,
			"pair_id", pairing.ID,
			"offerer", pairing.OffererConn,
			"answerer", pairing.AnswererConn,
		)
		n.sink.NegotiationStarted(sessionID, pairing)
	}
	return pairing, nil
}

func assignRoles(a, b *domain.Participant) (offerer, answerer *domain.Participant) {
	// Clinician side answers: keeps the privileged code path passive.
	if a.Role == domain.RolePrivileged && b.Role != domain.RolePrivileged {
		return b, a
	}
	if b.Role == domain.RolePrivileged && a.Role != domain.RolePrivileged {
		return a, b
	}
	if !a.AdmittedAt.Equal(b.AdmittedAt) {
		if a.AdmittedAt.Before(b.AdmittedAt) {
			return a, b
		}
		return b, a
	}
	if a.ConnectionID < b.ConnectionID {
		return a, b
	}
	return b, a
}

// RelayOffer forwards an SDP offer to the other side of the pairing. Valid
// only from Idle or Failed; a second offer from the side that already has one
// outstanding fails with NegotiationAlreadyInFlight, and simultaneous offers
// from both sides resolve by glare: the lexicographically larger connection
// id yields its offer.
func (n *Negotiator) RelayOffer(ctx context.Context, sessionID domain.SessionID, from domain.ConnectionID, pairID domain.PairID, sdp webrtc.SessionDescription) error {
	return n.registry.WithSession(ctx, sessionID, func(s *domain.Session) error {
		pr, ok := s.Pairings[pairID]
		if !ok {
			return notFound("pairing", domain.ErrPairingNotFound)
		}
		if !pr.Involves(from) {
			return apperrors.NewInvalidInput("connection is not part of this pairing")
		}

		switch {
		case pr.State == domain.PairingIdle || pr.State == domain.PairingFailed:
			if pr.State == domain.PairingFailed {
				pr.FailReason = ""
			}
			n.acceptOffer(sessionID, pr, from, sdp)
			return nil

		case pr.State.OfferOutstanding() && from == pr.OfferFrom:
			err := apperrors.NewNegotiationInFlight(string(pairID))
			err.Cause = domain.ErrNegotiationInFlight
			return err

		case pr.State.OfferOutstanding():
			// Glare: both sides offered. The larger connection id yields.
			if from > pr.OfferFrom {
				// The new offer loses; the outstanding one was already
				// delivered to this side, which should answer it.
				n.logger.Infow("glare resolved, discarding yielding offer",
					"session_id", sessionID, "pair_id", pairID, "yielded", from)
				return nil
			}
			n.logger.Infow("glare resolved, superseding outstanding offer",
				"session_id", sessionID, "pair_id", pairID, "yielded", pr.OfferFrom)
			n.acceptOffer(sessionID, pr, from, sdp)
			return nil

		default: // Established
			err := apperrors.NewNegotiationInFlight(string(pairID))
			err.Cause = domain.ErrNegotiationInFlight
			return err
		}
	})
}

func (n *Negotiator) acceptOffer(sessionID domain.SessionID, pr *domain.PeerPairing, from domain.ConnectionID, sdp webrtc.SessionDescription) {
	target := pr.Other(from)
	pr.State = domain.PairingOfferSent
	pr.OfferFrom = from
	pr.PendingOffer = &sdp

	n.sink.DeliverOffer(sessionID, target, pr.ID, from, sdp)
	// Candidates that raced ahead of the offer can follow it now.
	for _, cand := range pr.DrainCandidates(target) {
		n.sink.DeliverCandidate(sessionID, target, pr.ID, from, cand)
	}
	pr.State = domain.PairingAnswerPending
}

// RelayAnswer completes the exchange: valid only while an offer is
// outstanding, and only from the side that did not send it. Anything else is
// UnexpectedAnswer, reported and never retried.
func (n *Negotiator) RelayAnswer(ctx context.Context, sessionID domain.SessionID, from domain.ConnectionID, pairID domain.PairID, sdp webrtc.SessionDescription) error {
	return n.registry.WithSession(ctx, sessionID, func(s *domain.Session) error {
		pr, ok := s.Pairings[pairID]
		if !ok {
			return notFound("pairing", domain.ErrPairingNotFound)
		}
		if !pr.Involves(from) {
			return apperrors.NewInvalidInput("connection is not part of this pairing")
		}
		if !pr.State.OfferOutstanding() || from == pr.OfferFrom {
			err := apperrors.NewUnexpectedAnswer(string(pairID))
			err.Cause = domain.ErrUnexpectedAnswer
			return err
		}

		offerer := pr.OfferFrom
		pr.State = domain.PairingEstablished
		pr.EstablishedAt = timeNow()
		pr.PendingOffer = nil

		n.sink.DeliverAnswer(sessionID, offerer, pr.ID, from, sdp)
		// The offerer has its remote description now; release its candidates.
		for _, cand := range pr.DrainCandidates(offerer) {
			n.sink.DeliverCandidate(sessionID, offerer, pr.ID, from, cand)
		}

		for _, conn := range []domain.ConnectionID{pr.OffererConn, pr.AnswererConn} {
			if p, ok := s.Participants[conn]; ok && p.Admission == domain.AdmissionAdmitted {
				p.Admission = domain.AdmissionConnected
			}
		}
		if s.State == domain.SessionNegotiating {
			s.State = domain.SessionActive
			if s.StartedAt.IsZero() {
				s.StartedAt = timeNow()
			}
		}

		n.logger.Infow("pairing established", "session_id", sessionID, "pair_id", pairID)
		return nil
	})
}

// RelayICECandidate forwards a connectivity candidate best-effort. Candidates
// that outrun the offer (cross-connection ordering is not guaranteed) are
// buffered and flushed once negotiation advances, never dropped. Only a
// failed pairing rejects candidates.
func (n *Negotiator) RelayICECandidate(ctx context.Context, sessionID domain.SessionID, from domain.ConnectionID, pairID domain.PairID, cand webrtc.ICECandidateInit) error {
	return n.registry.WithSession(ctx, sessionID, func(s *domain.Session) error {
		pr, ok := s.Pairings[pairID]
		if !ok {
			return notFound("pairing", domain.ErrPairingNotFound)
		}
		if !pr.Involves(from) {
			return apperrors.NewInvalidInput("connection is not part of this pairing")
		}

		target := pr.Other(from)
		switch {
		case pr.State == domain.PairingFailed:
			return apperrors.NewInvalidInput("pairing has failed, candidate rejected")

		case pr.State == domain.PairingIdle:
			pr.BufferCandidate(target, cand)
			return nil

		case pr.State.OfferOutstanding() && target == pr.OfferFrom:
			// The offerer has no remote description until the answer lands.
			pr.BufferCandidate(target, cand)
			return nil

		default:
			for _, buffered := range pr.DrainCandidates(target) {
				n.sink.DeliverCandidate(sessionID, target, pr.ID, from, buffered)
			}
			n.sink.DeliverCandidate(sessionID, target, pr.ID, from, cand)
			return nil
		}
	})
}

// FailPairing marks the pairing failed and notifies both sides. A two-party
// session fails with it; a group session stays up while any other pairing is
// healthy.
func (n *Negotiator) FailPairing(ctx context.Context, sessionID domain.SessionID, pairID domain.PairID, reason error) error {
	var failedPairing *domain.PeerPairing
	var sessionDown bool
	var sessionState domain.SessionState

	err := n.registry.WithSession(ctx, sessionID, func(s *domain.Session) error {
		pr, ok := s.Pairings[pairID]
		if !ok {
			return notFound("pairing", domain.ErrPairingNotFound)
		}
		if pr.State == domain.PairingFailed {
			return nil
		}

		pr.State = domain.PairingFailed
		pr.PendingOffer = nil
		pr.FailReason = reason.Error()
		failedPairing = pr

		if !s.State.Terminal() && (len(s.Participants) <= 2 || s.HealthyPairings() == 0) {
			sessionDown = true
			sessionState = domain.SessionFailed
			s.State = sessionState
			s.EndReason = reason.Error()
			s.EndedAt = timeNow()
		}
		return nil
	})
	if err != nil || failedPairing == nil {
		return err
	}

	n.logger.Warnw("pairing failed",
		"session_id", sessionID,
		"pair_id", pairID,
		"reason", reason,
		"session_down", sessionDown,
	)
	n.sink.PairingFailed(sessionID, failedPairing, reason.Error())
	if sessionDown {
		n.sink.SessionEnded(sessionID, sessionState, reason.Error())
	}
	return nil
}

func notFound(resource string, cause error) *apperrors.AppError {
	err := apperrors.NewNotFound(resource)
	err.Cause = cause
	return err
}
