package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"telesig/internal/core/domain"
)

func testOffer() webrtc.SessionDescription {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0\r\no=- 0 0 IN IP4 127.0.0.1\r\ns=-\r\nt=0 0\r\n"}
}

func testAnswer() webrtc.SessionDescription {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0\r\no=- 0 0 IN IP4 127.0.0.1\r\ns=-\r\nt=0 0\r\n"}
}

func testCandidate(n int) webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{Candidate: fmt.Sprintf("candidate:%d 1 udp 2122252543 192.0.2.1 54400 typ host", n)}
}

// negotiationFixture sets up a session with an admitted clinician and guest
// and an open pairing between them.
type negotiationFixture struct {
	registry   *Registry
	sink       *recordingSink
	negotiator *Negotiator
	sessionID  domain.SessionID
	docConn    domain.ConnectionID
	patConn    domain.ConnectionID
	pairing    *domain.PeerPairing
}

func newNegotiationFixture(t *testing.T) *negotiationFixture {
	t.Helper()
	registry := newTestRegistry(t)
	sink := newRecordingSink()
	room := NewWaitingRoom(registry, sink, time.Minute, zaptest.NewLogger(t))
	t.Cleanup(room.Stop)
	negotiator := NewNegotiator(registry, sink, zaptest.NewLogger(t))
	ctx := context.Background()

	session, err := registry.CreateSession(ctx, testOwner("appt-1"))
	require.NoError(t, err)

	doc := clinician("doc-conn")
	pat := guest("pat-conn")
	_, _, err = room.Admit(ctx, session.ID, doc)
	require.NoError(t, err)
	_, _, err = room.Admit(ctx, session.ID, pat)
	require.NoError(t, err)

	pairing, err := negotiator.BeginNegotiation(ctx, session.ID, doc.ConnectionID, pat.ConnectionID)
	require.NoError(t, err)

	return &negotiationFixture{
		registry:   registry,
		sink:       sink,
		negotiator: negotiator,
		sessionID:  session.ID,
		docConn:    doc.ConnectionID,
		patConn:    pat.ConnectionID,
		pairing:    pairing,
	}
}

func TestNegotiator_RoleAssignment(t *testing.T) {
	f := newNegotiationFixture(t)

	// The clinician side stays passive: the guest offers.
	assert.Equal(t, f.patConn, f.pairing.OffererConn)
	assert.Equal(t, f.docConn, f.pairing.AnswererConn)
	assert.Equal(t, domain.PairingIdle, f.pairing.State)
	assert.Len(t, f.sink.negotiations, 1)
}

func TestNegotiator_BeginNegotiation_Idempotent(t *testing.T) {
	f := newNegotiationFixture(t)
	ctx := context.Background()

	again, err := f.negotiator.BeginNegotiation(ctx, f.sessionID, f.patConn, f.docConn)
	require.NoError(t, err)
	assert.Equal(t, f.pairing.ID, again.ID)
	assert.Len(t, f.sink.negotiations, 1)
}

func TestNegotiator_BeginNegotiation_RequiresPresence(t *testing.T) {
	registry := newTestRegistry(t)
	sink := newRecordingSink()
	room := NewWaitingRoom(registry, sink, time.Minute, zaptest.NewLogger(t))
	t.Cleanup(room.Stop)
	negotiator := NewNegotiator(registry, sink, zaptest.NewLogger(t))
	ctx := context.Background()

	session, err := registry.CreateSession(ctx, testOwner("appt-1"))
	require.NoError(t, err)

	// Both guests are parked in the waiting room.
	a := guest("conn-a")
	b := guest("conn-b")
	_, _, err = room.Admit(ctx, session.ID, a)
	require.NoError(t, err)
	_, _, err = room.Admit(ctx, session.ID, b)
	require.NoError(t, err)

	_, err = negotiator.BeginNegotiation(ctx, session.ID, a.ConnectionID, b.ConnectionID)
	assert.Error(t, err)
}

func TestNegotiator_OfferAnswerFlow(t *testing.T) {
	f := newNegotiationFixture(t)
	ctx := context.Background()

	require.NoError(t, f.negotiator.RelayOffer(ctx, f.sessionID, f.patConn, f.pairing.ID, testOffer()))
	assert.Equal(t, domain.PairingAnswerPending, f.pairing.State)

	offers := f.sink.offerDeliveries()
	require.Len(t, offers, 1)
	assert.Equal(t, f.docConn, offers[0].to)

	require.NoError(t, f.negotiator.RelayAnswer(ctx, f.sessionID, f.docConn, f.pairing.ID, testAnswer()))
	assert.Equal(t, domain.PairingEstablished, f.pairing.State)

	session, err := f.registry.GetSession(ctx, f.sessionID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionActive, session.State)
	assert.Equal(t, domain.AdmissionConnected, session.Participants[f.patConn].Admission)
	assert.Equal(t, domain.AdmissionConnected, session.Participants[f.docConn].Admission)
}

func TestNegotiator_DoubleOfferSameSide(t *testing.T) {
	f := newNegotiationFixture(t)
	ctx := context.Background()

	require.NoError(t, f.negotiator.RelayOffer(ctx, f.sessionID, f.patConn, f.pairing.ID, testOffer()))

	err := f.negotiator.RelayOffer(ctx, f.sessionID, f.patConn, f.pairing.ID, testOffer())
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrNegotiationInFlight))
}

func TestNegotiator_Glare_SmallerConnectionWins(t *testing.T) {
	f := newNegotiationFixture(t)
	ctx := context.Background()

	// "doc-conn" < "pat-conn": when both offer, the patient side yields.
	require.NoError(t, f.negotiator.RelayOffer(ctx, f.sessionID, f.docConn, f.pairing.ID, testOffer()))
	require.NoError(t, f.negotiator.RelayOffer(ctx, f.sessionID, f.patConn, f.pairing.ID, testOffer()))

	// Only the winning offer was delivered; the pairing still expects a
	// single answer to the doc's offer.
	offers := f.sink.offerDeliveries()
	require.Len(t, offers, 1)
	assert.Equal(t, f.patConn, offers[0].to)
	assert.Equal(t, f.docConn, f.pairing.OfferFrom)

	require.NoError(t, f.negotiator.RelayAnswer(ctx, f.sessionID, f.patConn, f.pairing.ID, testAnswer()))
	assert.Equal(t, domain.PairingEstablished, f.pairing.State)
}

func TestNegotiator_Glare_LargerOfferSuperseded(t *testing.T) {
	f := newNegotiationFixture(t)
	ctx := context.Background()

	// The larger connection offered first; the smaller one supersedes it.
	require.NoError(t, f.negotiator.RelayOffer(ctx, f.sessionID, f.patConn, f.pairing.ID, testOffer()))
	require.NoError(t, f.negotiator.RelayOffer(ctx, f.sessionID, f.docConn, f.pairing.ID, testOffer()))

	offers := f.sink.offerDeliveries()
	require.Len(t, offers, 2)
	assert.Equal(t, f.docConn, f.pairing.OfferFrom)
	assert.Equal(t, f.patConn, offers[1].to)
}

func TestNegotiator_UnexpectedAnswer(t *testing.T) {
	f := newNegotiationFixture(t)
	ctx := context.Background()

	// No offer outstanding.
	err := f.negotiator.RelayAnswer(ctx, f.sessionID, f.docConn, f.pairing.ID, testAnswer())
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrUnexpectedAnswer))

	// Answer from the offerer itself.
	require.NoError(t, f.negotiator.RelayOffer(ctx, f.sessionID, f.patConn, f.pairing.ID, testOffer()))
	err = f.negotiator.RelayAnswer(ctx, f.sessionID, f.patConn, f.pairing.ID, testAnswer())
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrUnexpectedAnswer))

	// The failure did not corrupt the exchange.
	require.NoError(t, f.negotiator.RelayAnswer(ctx, f.sessionID, f.docConn, f.pairing.ID, testAnswer()))
	assert.Equal(t, domain.PairingEstablished, f.pairing.State)
}

func TestNegotiator_CandidatesBufferedUntilOffer(t *testing.T) {
	f := newNegotiationFixture(t)
	ctx := context.Background()

	// Candidates outran the offer: buffered, not delivered, not an error.
	require.NoError(t, f.negotiator.RelayICECandidate(ctx, f.sessionID, f.patConn, f.pairing.ID, testCandidate(1)))
	require.NoError(t, f.negotiator.RelayICECandidate(ctx, f.sessionID, f.patConn, f.pairing.ID, testCandidate(2)))
	assert.Empty(t, f.sink.candidateDeliveries())

	// The offer flushes them in arrival order.
	require.NoError(t, f.negotiator.RelayOffer(ctx, f.sessionID, f.patConn, f.pairing.ID, testOffer()))
	delivered := f.sink.candidateDeliveries()
	require.Len(t, delivered, 2)
	assert.Equal(t, f.docConn, delivered[0].to)
}

func TestNegotiator_CandidatesTowardOffererHeldUntilAnswer(t *testing.T) {
	f := newNegotiationFixture(t)
	ctx := context.Background()

	require.NoError(t, f.negotiator.RelayOffer(ctx, f.sessionID, f.patConn, f.pairing.ID, testOffer()))

	// The answerer's candidates wait for the answer to land.
	require.NoError(t, f.negotiator.RelayICECandidate(ctx, f.sessionID, f.docConn, f.pairing.ID, testCandidate(1)))
	assert.Empty(t, f.sink.candidateDeliveries())

	require.NoError(t, f.negotiator.RelayAnswer(ctx, f.sessionID, f.docConn, f.pairing.ID, testAnswer()))
	delivered := f.sink.candidateDeliveries()
	require.Len(t, delivered, 1)
	assert.Equal(t, f.patConn, delivered[0].to)
}

func TestNegotiator_CandidatesFlowWhenEstablished(t *testing.T) {
	f := newNegotiationFixture(t)
	ctx := context.Background()

	require.NoError(t, f.negotiator.RelayOffer(ctx, f.sessionID, f.patConn, f.pairing.ID, testOffer()))
	require.NoError(t, f.negotiator.RelayAnswer(ctx, f.sessionID, f.docConn, f.pairing.ID, testAnswer()))

	require.NoError(t, f.negotiator.RelayICECandidate(ctx, f.sessionID, f.patConn, f.pairing.ID, testCandidate(1)))
	require.NoError(t, f.negotiator.RelayICECandidate(ctx, f.sessionID, f.docConn, f.pairing.ID, testCandidate(2)))
	assert.Len(t, f.sink.candidateDeliveries(), 2)
}

func TestNegotiator_FailedPairingRejectsCandidates(t *testing.T) {
	f := newNegotiationFixture(t)
	ctx := context.Background()

	require.NoError(t, f.negotiator.FailPairing(ctx, f.sessionID, f.pairing.ID, errors.New("transport gone")))

	err := f.negotiator.RelayICECandidate(ctx, f.sessionID, f.patConn, f.pairing.ID, testCandidate(1))
	assert.Error(t, err)
}

func TestNegotiator_FailPairing_TwoPartySessionFails(t *testing.T) {
	f := newNegotiationFixture(t)
	ctx := context.Background()

	require.NoError(t, f.negotiator.RelayOffer(ctx, f.sessionID, f.patConn, f.pairing.ID, testOffer()))
	require.NoError(t, f.negotiator.RelayAnswer(ctx, f.sessionID, f.docConn, f.pairing.ID, testAnswer()))

	require.NoError(t, f.negotiator.FailPairing(ctx, f.sessionID, f.pairing.ID, errors.New("transport unreachable")))

	session, err := f.registry.GetSession(ctx, f.sessionID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionFailed, session.State)
	assert.NotEmpty(t, f.sink.failedReasons())
	assert.NotEmpty(t, f.sink.endedReasons())
}

func TestNegotiator_FailPairing_Idempotent(t *testing.T) {
	f := newNegotiationFixture(t)
	ctx := context.Background()

	require.NoError(t, f.negotiator.FailPairing(ctx, f.sessionID, f.pairing.ID, errors.New("first")))
	require.NoError(t, f.negotiator.FailPairing(ctx, f.sessionID, f.pairing.ID, errors.New("second")))
	assert.Len(t, f.sink.failedReasons(), 1)
}

func TestNegotiator_ReOfferAfterFailure(t *testing.T) {
	f := newNegotiationFixture(t)
	ctx := context.Background()

	// Failing one pairing of a three-party session with another healthy
	// pairing keeps the session alive, so the pairing may be renegotiated.
	require.NoError(t, f.registry.WithSession(ctx, f.sessionID, func(s *domain.Session) error {
		extra := guest("kin-conn")
		extra.Admission = domain.AdmissionAdmitted
		extra.AdmittedAt = time.Now()
		s.Participants[extra.ConnectionID] = extra
		return nil
	}))
	_, err := f.negotiator.BeginNegotiation(ctx, f.sessionID, "kin-conn", f.docConn)
	require.NoError(t, err)

	require.NoError(t, f.negotiator.FailPairing(ctx, f.sessionID, f.pairing.ID, errors.New("blip")))

	session, err := f.registry.GetSession(ctx, f.sessionID)
	require.NoError(t, err)
	require.False(t, session.State.Terminal())

	require.NoError(t, f.negotiator.RelayOffer(ctx, f.sessionID, f.patConn, f.pairing.ID, testOffer()))
	assert.Equal(t, domain.PairingAnswerPending, f.pairing.State)
	assert.Empty(t, f.pairing.FailReason)
}

func TestNegotiator_OfferOnUnknownPairing(t *testing.T) {
	f := newNegotiationFixture(t)

	err := f.negotiator.RelayOffer(context.Background(), f.sessionID, f.patConn, "missing-pair", testOffer())
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrPairingNotFound))
}

func TestNegotiator_OfferFromOutsider(t *testing.T) {
	f := newNegotiationFixture(t)

	err := f.negotiator.RelayOffer(context.Background(), f.sessionID, "stranger-conn", f.pairing.ID, testOffer())
	assert.Error(t, err)
}
