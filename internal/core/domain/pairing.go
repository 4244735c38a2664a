package domain

import (
	"time"

	"github.com/pion/webrtc/v3"
)

type PairingState string

const (
	PairingIdle          PairingState = "idle"
	PairingOfferSent     PairingState = "offer_sent"
	PairingAnswerPending PairingState = "answer_pending"
	PairingEstablished   PairingState = "established"
	PairingFailed        PairingState = "failed"
)

// OfferOutstanding reports whether an unanswered offer is in flight.
func (s PairingState) OfferOutstanding() bool {
	return s == PairingOfferSent || s == PairingAnswerPending
}

// PeerPairing is the negotiation unit between exactly two participants. Group
// sessions carry one pairing per pair of participants that must exchange
// media. Invariant: at most one unanswered offer exists per pairing.
type PeerPairing struct {
	ID            PairID       `json:"id"`
	OffererConn   ConnectionID `json:"offerer_conn"`
	AnswererConn  ConnectionID `json:"answerer_conn"`
	State         PairingState `json:"state"`
	// OfferFrom is the side whose offer is currently outstanding. It can be
	// the answerer-assigned side: role assignment is a preference, glare
	// resolution is what enforces convergence.
	OfferFrom     ConnectionID `json:"offer_from,omitempty"`
	PendingOffer  *webrtc.SessionDescription `json:"-"`
	CreatedAt     time.Time    `json:"created_at"`
	EstablishedAt time.Time    `json:"established_at,omitempty"`
	FailReason    string       `json:"fail_reason,omitempty"`

	// ICE candidates relayed before the destination has a remote description
	// are parked here per destination and flushed once negotiation advances.
	bufferedCandidates map[ConnectionID][]webrtc.ICECandidateInit
}

func NewPeerPairing(id PairID, offerer, answerer ConnectionID) *PeerPairing {
	return &PeerPairing{
		ID:           id,
		OffererConn:  offerer,
		AnswererConn: answerer,
		State:        PairingIdle,
		CreatedAt:    time.Now(),
	}
}

func (p *PeerPairing) clone() *PeerPairing {
	out := *p
	if p.PendingOffer != nil {
		sdp := *p.PendingOffer
		out.PendingOffer = &sdp
	}
	if p.bufferedCandidates != nil {
		out.bufferedCandidates = make(map[ConnectionID][]webrtc.ICECandidateInit, len(p.bufferedCandidates))
		for target, cands := range p.bufferedCandidates {
			out.bufferedCandidates[target] = append([]webrtc.ICECandidateInit(nil), cands...)
		}
	}
	return &out
}

// Other returns the opposite side of the pairing, or "" if conn is not part
// of it.
func (p *PeerPairing) Other(conn ConnectionID) ConnectionID {
	switch conn {
	case p.OffererConn:
		return p.AnswererConn
	case p.AnswererConn:
		return p.OffererConn
	}
	return ""
}

// Involves reports whether conn is one of the two sides.
func (p *PeerPairing) Involves(conn ConnectionID) bool {
	return p.OffererConn == conn || p.AnswererConn == conn
}

// BufferCandidate parks a candidate destined for target.
func (p *PeerPairing) BufferCandidate(target ConnectionID, cand webrtc.ICECandidateInit) {
	if p.bufferedCandidates == nil {
		p.bufferedCandidates = make(map[ConnectionID][]webrtc.ICECandidateInit)
	}
	p.bufferedCandidates[target] = append(p.bufferedCandidates[target], cand)
}

// DrainCandidates removes and returns all candidates parked for target.
func (p *PeerPairing) DrainCandidates(target ConnectionID) []webrtc.ICECandidateInit {
	if p.bufferedCandidates == nil {
		return nil
	}
	out := p.bufferedCandidates[target]
	delete(p.bufferedCandidates, target)
	return out
}
