package services

import (
	"sync"

	"github.com/pion/webrtc/v3"

	"telesig/internal/core/domain"
)

// recordingSink captures coordinator events for assertions.
type recordingSink struct {
	mu sync.Mutex

	admitted     []domain.ConnectionID
	negotiations []domain.PairID
	offers       []sinkDelivery
	answers      []sinkDelivery
	candidates   []sinkDelivery
	failed       []string
	ended        []string
	degraded     []domain.QualitySample
}

type sinkDelivery struct {
	to   domain.ConnectionID
	from domain.ConnectionID
	pair domain.PairID
}

func newRecordingSink() *recordingSink {
	return &recordingSink{}
}

func (s *recordingSink) ParticipantAdmitted(sessionID domain.SessionID, conn domain.ConnectionID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.admitted = append(s.admitted, conn)
}

func (s *recordingSink) NegotiationStarted(sessionID domain.SessionID, pairing *domain.PeerPairing) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.negotiations = append(s.negotiations, pairing.ID)
}

func (s *recordingSink) DeliverOffer(sessionID domain.SessionID, to domain.ConnectionID, pairID domain.PairID, from domain.ConnectionID, sdp webrtc.SessionDescription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offers = append(s.offers, sinkDelivery{to: to, from: from, pair: pairID})
}

func (s *recordingSink) DeliverAnswer(sessionID domain.SessionID, to domain.ConnectionID, pairID domain.PairID, from domain.ConnectionID, sdp webrtc.SessionDescription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.answers = append(s.answers, sinkDelivery{to: to, from: from, pair: pairID})
}

func (s *recordingSink) DeliverCandidate(sessionID domain.SessionID, to domain.ConnectionID, pairID domain.PairID, from domain.ConnectionID, cand webrtc.ICECandidateInit) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.candidates = append(s.candidates, sinkDelivery{to: to, from: from, pair: pairID})
}

func (s *recordingSink) PairingFailed(sessionID domain.SessionID, pairing *domain.PeerPairing, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed = append(s.failed, reason)
}

func (s *recordingSink) SessionEnded(sessionID domain.SessionID, state domain.SessionState, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ended = append(s.ended, reason)
}

func (s *recordingSink) QualityDegraded(sessionID domain.SessionID, sample domain.QualitySample) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.degraded = append(s.degraded, sample)
}

func (s *recordingSink) admittedConns() []domain.ConnectionID {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.ConnectionID, len(s.admitted))
	copy(out, s.admitted)
	return out
}

func (s *recordingSink) endedReasons() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.ended))
	copy(out, s.ended)
	return out
}

func (s *recordingSink) offerDeliveries() []sinkDelivery {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]sinkDelivery, len(s.offers))
	copy(out, s.offers)
	return out
}

func (s *recordingSink) candidateDeliveries() []sinkDelivery {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]sinkDelivery, len(s.candidates))
	copy(out, s.candidates)
	return out
}

func (s *recordingSink) degradedSamples() []domain.QualitySample {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.QualitySample, len(s.degraded))
	copy(out, s.degraded)
	return out
}

func (s *recordingSink) failedReasons() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.failed))
	copy(out, s.failed)
	return out
}
