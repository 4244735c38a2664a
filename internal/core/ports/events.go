package ports

import (
	"github.com/pion/webrtc/v3"

	"telesig/internal/core/domain"
)

// EventSink receives coordinator-originated events that must reach connected
// clients. The signaling hub implements it; core services stay transport
// agnostic. Implementations must not block: they are called while the
// per-session lock is held.
type EventSink interface {
	// ParticipantAdmitted fires on every Pending -> Admitted promotion.
	ParticipantAdmitted(sessionID domain.SessionID, conn domain.ConnectionID)

	// NegotiationStarted tells both sides of a fresh pairing their assigned
	// negotiation roles.
	NegotiationStarted(sessionID domain.SessionID, pairing *domain.PeerPairing)

	DeliverOffer(sessionID domain.SessionID, to domain.ConnectionID, pairID domain.PairID, from domain.ConnectionID, sdp webrtc.SessionDescription)
	DeliverAnswer(sessionID domain.SessionID, to domain.ConnectionID, pairID domain.PairID, from domain.ConnectionID, sdp webrtc.SessionDescription)
	DeliverCandidate(sessionID domain.SessionID, to domain.ConnectionID, pairID domain.PairID, from domain.ConnectionID, cand webrtc.ICECandidateInit)

	// PairingFailed notifies both sides that their pairing is dead.
	PairingFailed(sessionID domain.SessionID, pairing *domain.PeerPairing, reason string)

	// SessionEnded notifies every remaining connection with a human-readable
	// reason, after which no further messages are dispatched.
	SessionEnded(sessionID domain.SessionID, state domain.SessionState, reason string)

	// QualityDegraded is informational only; the pairing stays up.
	QualityDegraded(sessionID domain.SessionID, sample domain.QualitySample)
}
