package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"telesig/internal/core/domain"
	"telesig/internal/core/ports"
	"telesig/internal/core/services"
	"telesig/internal/infrastructure/monitoring"
	apperrors "telesig/pkg/errors"
)

// Config holds the hub's transport knobs.
type Config struct {
	PingInterval      time.Duration
	PongTimeout       time.Duration
	WriteTimeout      time.Duration
	MaxMessageBytes   int64
	MessagesPerSecond float64
	Burst             int
	ReconnectGrace    time.Duration

	// StatsTTL bounds how old a client stats report may be before the
	// quality monitor treats the sample as missed.
	StatsTTL time.Duration
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Should be configured properly for production
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Envelope is the wire frame for every signaling message, inbound and
// outbound. Payload shape depends on Kind.
type Envelope struct {
	Kind      string              `json:"kind"`
	SessionID domain.SessionID    `json:"session_id,omitempty"`
	PairID    domain.PairID       `json:"pair_id,omitempty"`
	From      domain.ConnectionID `json:"from,omitempty"`
	Payload   json.RawMessage     `json:"payload,omitempty"`
}

type joinedPayload struct {
	ConnectionID domain.ConnectionID    `json:"connection_id"`
	Admitted     bool                   `json:"admitted"`
	Role         domain.ParticipantRole `json:"role"`
}

// userEventPayload rides on user-joined and user-unpublished frames so peers
// learn of arrivals and departures without waiting for negotiation events.
type userEventPayload struct {
	ConnectionID domain.ConnectionID    `json:"connection_id"`
	UserID       domain.UserID          `json:"user_id"`
	Role         domain.ParticipantRole `json:"role"`
}

type negotiationStartedPayload struct {
	PairID domain.PairID          `json:"pair_id"`
	Peer   domain.ConnectionID    `json:"peer"`
	Role   domain.NegotiationRole `json:"role"`
}

type pairingFailedPayload struct {
	PairID domain.PairID `json:"pair_id"`
	Reason string        `json:"reason"`
}

type sessionEndedPayload struct {
	State  domain.SessionState `json:"state"`
	Reason string              `json:"reason"`
}

type qualityPayload struct {
	PairID          domain.PairID      `json:"pair_id"`
	Tier            domain.QualityTier `json:"tier"`
	PacketLossRatio float64            `json:"packet_loss_ratio"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Hub terminates signaling WebSocket connections and relays coordinator
// events back to them. It implements ports.EventSink: event methods only
// enqueue frames onto per-connection buffers, because they run while the
// session lock is held.
type Hub struct {
	cfg         Config
	registry    *services.Registry
	waitingRoom *services.WaitingRoom
	negotiator  *services.Negotiator
	monitor     *services.QualityMonitor
	tokens      ports.TokenValidator
	metrics     *monitoring.PrometheusCollector
	logger      *zap.SugaredLogger

	mu           sync.RWMutex
	conns        map[domain.ConnectionID]*client
	graceTimers  map[domain.SessionID]*time.Timer
	pairingSince map[domain.PairID]time.Time

	statsMu sync.RWMutex
	stats   map[domain.PairID]statsReport
}

type statsReport struct {
	packetLossRatio float64
	reportedAt      time.Time
}

type client struct {
	id        domain.ConnectionID
	sessionID domain.SessionID
	userID    domain.UserID
	role      domain.ParticipantRole
	conn      *websocket.Conn
	joinedAt  time.Time
	limiter   *rate.Limiter

	sendMu sync.Mutex
	send   chan Envelope
	closed bool
}

func NewHub(
	cfg Config,
	registry *services.Registry,
	tokens ports.TokenValidator,
	metrics *monitoring.PrometheusCollector,
	logger *zap.Logger,
) *Hub {
	if cfg.StatsTTL <= 0 {
		cfg.StatsTTL = 15 * time.Second
	}
	return &Hub{
		cfg:          cfg,
		registry:     registry,
		tokens:       tokens,
		metrics:      metrics,
		logger:       logger.Sugar(),
		conns:        make(map[domain.ConnectionID]*client),
		graceTimers:  make(map[domain.SessionID]*time.Timer),
		pairingSince: make(map[domain.PairID]time.Time),
		stats:        make(map[domain.PairID]statsReport),
	}
}

// Bind wires the coordinator services. The hub is the services' event sink,
// so it has to exist before they do; Bind closes the loop before Serve.
func (h *Hub) Bind(waitingRoom *services.WaitingRoom, negotiator *services.Negotiator, monitor *services.QualityMonitor) {
	h.waitingRoom = waitingRoom
	h.negotiator = negotiator
	h.monitor = monitor
}

var (
	_ ports.EventSink     = (*Hub)(nil)
	_ ports.StatsProvider = (*Hub)(nil)
)

// HandleWebSocket authenticates the join token, upgrades the connection and
// runs the signaling loop until the client leaves or drops.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
			token = strings.TrimPrefix(auth, "Bearer ")
		}
	}

	claims, err := h.tokens.Validate(r.Context(), token)
	if err != nil {
		h.logger.Warnw("rejected signaling connection", "error", err)
		http.Error(w, "invalid join token", http.StatusUnauthorized)
		return
	}

	session, err := h.registry.GetSession(r.Context(), claims.SessionID)
	if err != nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	if session.State.Terminal() {
		http.Error(w, "session has ended", http.StatusGone)
		return
	}

	wsConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Errorw("websocket upgrade failed", "error", err)
		return
	}

	c := h.register(wsConn, claims)
	defer h.cleanup(c)

	if h.metrics != nil {
		h.metrics.RecordParticipantConnected()
	}

	admitted, err := h.join(c)
	if err != nil {
		// writePump is not running yet, a queued frame would never flush.
		h.writeErrorSync(c, err)
		return
	}

	wsConn.SetReadLimit(h.cfg.MaxMessageBytes)
	wsConn.SetReadDeadline(time.Now().Add(h.cfg.PongTimeout))
	wsConn.SetPongHandler(func(string) error {
		wsConn.SetReadDeadline(time.Now().Add(h.cfg.PongTimeout))
		return nil
	})

	go h.writePump(c)

	messageChan := make(chan Envelope, 10)
	errorChan := make(chan error, 1)

	go func() {
		for {
			var msg Envelope
			if err := wsConn.ReadJSON(&msg); err != nil {
				errorChan <- err
				return
			}
			wsConn.SetReadDeadline(time.Now().Add(h.cfg.PongTimeout))
			messageChan <- msg
		}
	}()

	h.logger.Infow("participant connected",
		"session_id", c.sessionID,
		"connection_id", c.id,
		"user_id", c.userID,
		"role", c.role,
		"admitted", admitted,
	)

	for {
		select {
		case msg := <-messageChan:
			if !c.limiter.Allow() {
				h.sendError(c, apperrors.NewInvalidInput("message rate limit exceeded"))
				continue
			}
			if h.metrics != nil {
				h.metrics.RecordSignalMessage(msg.Kind)
			}
			leave, err := h.handleMessage(context.Background(), c, msg)
			if err != nil {
				h.logger.Infow("error handling message",
					"session_id", c.sessionID,
					"connection_id", c.id,
					"kind", msg.Kind,
					"error", err,
				)
				h.sendError(c, err)
			}
			if leave {
				h.handleDisconnect(c, true)
				return
			}

		case err := <-errorChan:
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Infow("connection dropped",
					"session_id", c.sessionID,
					"connection_id", c.id,
					"error", err,
				)
			}
			h.handleDisconnect(c, false)
			return
		}
	}
}

func (h *Hub) register(wsConn *websocket.Conn, claims *ports.TokenClaims) *client {
	c := &client{
		id:        domain.ConnectionID(uuid.NewString()),
		sessionID: claims.SessionID,
		userID:    claims.UserID,
		role:      claims.Role,
		conn:      wsConn,
		joinedAt:  time.Now(),
		limiter:   rate.NewLimiter(rate.Limit(h.cfg.MessagesPerSecond), h.cfg.Burst),
		send:      make(chan Envelope, 32),
	}

	h.mu.Lock()
	h.conns[c.id] = c
	h.mu.Unlock()
	return c
}

func (h *Hub) cleanup(c *client) {
	h.mu.Lock()
	delete(h.conns, c.id)
	h.mu.Unlock()

	c.close()
	c.conn.Close()

	if h.metrics != nil {
		h.metrics.RecordParticipantDisconnected()
	}
}

// join runs the admission gate for the new connection and, when admitted,
// opens a pairing with every participant already past the waiting room.
func (h *Hub) join(c *client) (bool, error) {
	p := &domain.Participant{
		ConnectionID: c.id,
		UserID:       c.userID,
		Role:         c.role,
	}

	admitted, _, err := h.waitingRoom.Admit(context.Background(), c.sessionID, p)
	if err != nil {
		return false, err
	}

	if c.role == domain.RolePrivileged {
		h.cancelGraceTimer(c.sessionID)
	}

	c.enqueue(h.envelope("joined", c.sessionID, "", "", joinedPayload{
		ConnectionID: c.id,
		Admitted:     admitted,
		Role:         c.role,
	}))

	if admitted {
		h.broadcastExcept(c.sessionID, c.id, h.envelope("user-joined", c.sessionID, "", c.id, userEventPayload{
			ConnectionID: c.id,
			UserID:       c.userID,
			Role:         c.role,
		}))
		h.startPairings(c.sessionID, c.id)
	}
	return admitted, nil
}

// broadcastExcept enqueues env on every session connection but except.
func (h *Hub) broadcastExcept(sessionID domain.SessionID, except domain.ConnectionID, env Envelope) {
	for _, c := range h.sessionClients(sessionID) {
		if c.id != except {
			c.enqueue(env)
		}
	}
}

// startPairings opens a negotiation with every other present participant.
func (h *Hub) startPairings(sessionID domain.SessionID, conn domain.ConnectionID) {
	ctx := context.Background()
	var peers []domain.ConnectionID
	err := h.registry.WithSession(ctx, sessionID, func(s *domain.Session) error {
		for _, p := range s.PresentParticipants() {
			if p.ConnectionID != conn {
				peers = append(peers, p.ConnectionID)
			}
		}
		return nil
	})
	if err != nil {
		h.logger.Warnw("failed to list peers for pairing", "session_id", sessionID, "error", err)
		return
	}

	for _, peer := range peers {
		if _, err := h.negotiator.BeginNegotiation(ctx, sessionID, conn, peer); err != nil {
			h.logger.Warnw("failed to begin negotiation",
				"session_id", sessionID,
				"connection_id", conn,
				"peer", peer,
				"error", err,
			)
		}
	}
}

func (h *Hub) handleMessage(ctx context.Context, c *client, msg Envelope) (bool, error) {
	switch msg.Kind {
	case "offer":
		var sdp webrtc.SessionDescription
		if err := json.Unmarshal(msg.Payload, &sdp); err != nil {
			return false, apperrors.NewInvalidInput("malformed offer payload")
		}
		return false, h.negotiator.RelayOffer(ctx, c.sessionID, c.id, msg.PairID, sdp)

	case "answer":
		var sdp webrtc.SessionDescription
		if err := json.Unmarshal(msg.Payload, &sdp); err != nil {
			return false, apperrors.NewInvalidInput("malformed answer payload")
		}
		return false, h.negotiator.RelayAnswer(ctx, c.sessionID, c.id, msg.PairID, sdp)

	case "ice-candidate":
		var cand webrtc.ICECandidateInit
		if err := json.Unmarshal(msg.Payload, &cand); err != nil {
			return false, apperrors.NewInvalidInput("malformed candidate payload")
		}
		return false, h.negotiator.RelayICECandidate(ctx, c.sessionID, c.id, msg.PairID, cand)

	case "stats-report":
		var report struct {
			PacketLossRatio float64 `json:"packet_loss_ratio"`
		}
		if err := json.Unmarshal(msg.Payload, &report); err != nil {
			return false, apperrors.NewInvalidInput("malformed stats payload")
		}
		if report.PacketLossRatio < 0 || report.PacketLossRatio > 1 {
			return false, apperrors.NewInvalidInput("packet_loss_ratio must be in [0, 1]")
		}
		h.statsMu.Lock()
		h.stats[msg.PairID] = statsReport{packetLossRatio: report.PacketLossRatio, reportedAt: time.Now()}
		h.statsMu.Unlock()
		return false, nil

	case "leave":
		return true, nil

	default:
		err := apperrors.NewUnsupportedMessage(msg.Kind)
		err.Cause = domain.ErrUnsupportedMessage
		return false, err
	}
}

// handleDisconnect marks the participant gone and decides what its loss
// means for the session. A clinician dropping out of a live call gets a
// reconnect grace window before the session is failed; everyone else takes
// their pairings down immediately.
func (h *Hub) handleDisconnect(c *client, graceful bool) {
	ctx := context.Background()

	var deadPairings []domain.PairID
	var lostPrivileged bool
	var wasPresent bool
	var started bool
	var presentLeft int
	var participantCount int
	var terminal bool

	err := h.registry.WithSession(ctx, c.sessionID, func(s *domain.Session) error {
		p, ok := s.Participants[c.id]
		if !ok {
			return nil
		}
		wasPresent = p.Present()
		p.Admission = domain.AdmissionDisconnected

		for _, pr := range s.PairingsFor(c.id) {
			if pr.State != domain.PairingFailed {
				deadPairings = append(deadPairings, pr.ID)
			}
		}

		terminal = s.State.Terminal()
		started = s.State == domain.SessionNegotiating || s.State == domain.SessionActive
		participantCount = len(s.Participants)
		presentLeft = len(s.PresentParticipants())
		lostPrivileged = p.Role == domain.RolePrivileged && !s.HasPrivilegedPresent() && started
		return nil
	})
	if err != nil {
		h.logger.Warnw("disconnect bookkeeping failed",
			"session_id", c.sessionID, "connection_id", c.id, "error", err)
		return
	}
	if terminal {
		return
	}

	for _, pairID := range deadPairings {
		if h.monitor != nil {
			h.monitor.Untrack(pairID)
		}
	}

	if wasPresent {
		h.broadcastExcept(c.sessionID, c.id, h.envelope("user-unpublished", c.sessionID, "", c.id, userEventPayload{
			ConnectionID: c.id,
			UserID:       c.userID,
			Role:         c.role,
		}))
	}

	if graceful {
		// Only the departure of a participant who was actually past the
		// waiting room can end the session: a pending guest bailing out must
		// not tear down the wait for everyone else.
		if wasPresent && (presentLeft == 0 || (participantCount <= 2 && started)) {
			reason := "participant left the consultation"
			h.waitingRoom.CancelTimer(c.sessionID)
			h.cancelGraceTimer(c.sessionID)
			if err := h.registry.EndSession(ctx, c.sessionID, domain.SessionEnded, reason); err == nil {
				h.SessionEnded(c.sessionID, domain.SessionEnded, reason)
			}
		}
		for _, pairID := range deadPairings {
			_ = h.negotiator.FailPairing(ctx, c.sessionID, pairID, fmt.Errorf("participant %s left", c.id))
		}
		return
	}

	if lostPrivileged && h.cfg.ReconnectGrace > 0 {
		// Keep the session alive: the clinician may rejoin with a fresh
		// connection inside the grace window.
		h.failPairingsKeepSession(ctx, c.sessionID, deadPairings, "clinician connection lost, awaiting reconnect")
		h.armGraceTimer(c.sessionID)
		return
	}

	for _, pairID := range deadPairings {
		_ = h.negotiator.FailPairing(ctx, c.sessionID, pairID, fmt.Errorf("participant %s connection lost", c.id))
	}
}

// failPairingsKeepSession fails the given pairings without the usual
// session-down escalation.
func (h *Hub) failPairingsKeepSession(ctx context.Context, sessionID domain.SessionID, pairIDs []domain.PairID, reason string) {
	var failed []*domain.PeerPairing
	_ = h.registry.WithSession(ctx, sessionID, func(s *domain.Session) error {
		for _, id := range pairIDs {
			pr, ok := s.Pairings[id]
			if !ok || pr.State == domain.PairingFailed {
				continue
			}
			pr.State = domain.PairingFailed
			pr.PendingOffer = nil
			pr.FailReason = reason
			failed = append(failed, pr)
		}
		return nil
	})
	for _, pr := range failed {
		h.PairingFailed(sessionID, pr, reason)
	}
}

func (h *Hub) armGraceTimer(sessionID domain.SessionID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, armed := h.graceTimers[sessionID]; armed {
		return
	}
	h.graceTimers[sessionID] = time.AfterFunc(h.cfg.ReconnectGrace, func() {
		h.onGraceExpired(sessionID)
	})
	h.logger.Infow("reconnect grace window armed", "session_id", sessionID, "grace", h.cfg.ReconnectGrace)
}

func (h *Hub) cancelGraceTimer(sessionID domain.SessionID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if t, ok := h.graceTimers[sessionID]; ok {
		t.Stop()
		delete(h.graceTimers, sessionID)
	}
}

func (h *Hub) onGraceExpired(sessionID domain.SessionID) {
	h.cancelGraceTimer(sessionID)

	ctx := context.Background()
	stillGone := false
	err := h.registry.WithSession(ctx, sessionID, func(s *domain.Session) error {
		stillGone = !s.State.Terminal() && !s.HasPrivilegedPresent()
		return nil
	})
	if err != nil || !stillGone {
		return
	}

	reason := "clinician connection lost"
	h.logger.Warnw("reconnect grace expired, failing session", "session_id", sessionID)
	if err := h.registry.EndSession(ctx, sessionID, domain.SessionFailed, reason); err != nil {
		h.logger.Errorw("failed to end session after grace expiry", "session_id", sessionID, "error", err)
		return
	}
	h.SessionEnded(sessionID, domain.SessionFailed, reason)
}

// ---- ports.EventSink ----
// All of these run while the session lock may be held: enqueue only.

func (h *Hub) ParticipantAdmitted(sessionID domain.SessionID, conn domain.ConnectionID) {
	c := h.lookup(conn)
	if c == nil {
		return
	}
	if h.metrics != nil {
		h.metrics.RecordWaitingRoomDuration(time.Since(c.joinedAt))
	}
	c.enqueue(h.envelope("participant-admitted", sessionID, "", "", nil))
	h.broadcastExcept(sessionID, conn, h.envelope("user-joined", sessionID, "", conn, userEventPayload{
		ConnectionID: conn,
		UserID:       c.userID,
		Role:         c.role,
	}))
	go h.startPairings(sessionID, conn)
}

func (h *Hub) NegotiationStarted(sessionID domain.SessionID, pairing *domain.PeerPairing) {
	h.mu.Lock()
	h.pairingSince[pairing.ID] = time.Now()
	h.mu.Unlock()

	if c := h.lookup(pairing.OffererConn); c != nil {
		c.enqueue(h.envelope("negotiation-started", sessionID, pairing.ID, "", negotiationStartedPayload{
			PairID: pairing.ID,
			Peer:   pairing.AnswererConn,
			Role:   domain.NegotiationOfferer,
		}))
	}
	if c := h.lookup(pairing.AnswererConn); c != nil {
		c.enqueue(h.envelope("negotiation-started", sessionID, pairing.ID, "", negotiationStartedPayload{
			PairID: pairing.ID,
			Peer:   pairing.OffererConn,
			Role:   domain.NegotiationAnswerer,
		}))
	}
}

func (h *Hub) DeliverOffer(sessionID domain.SessionID, to domain.ConnectionID, pairID domain.PairID, from domain.ConnectionID, sdp webrtc.SessionDescription) {
	if c := h.lookup(to); c != nil {
		c.enqueue(h.envelope("offer", sessionID, pairID, from, sdp))
	}
}

func (h *Hub) DeliverAnswer(sessionID domain.SessionID, to domain.ConnectionID, pairID domain.PairID, from domain.ConnectionID, sdp webrtc.SessionDescription) {
	if c := h.lookup(to); c != nil {
		c.enqueue(h.envelope("answer", sessionID, pairID, from, sdp))
	}
	if h.metrics != nil {
		h.mu.RLock()
		since, ok := h.pairingSince[pairID]
		h.mu.RUnlock()
		if !ok {
			since = time.Now()
		}
		h.metrics.RecordPairingEstablished(since)
	}
	if h.monitor != nil {
		h.monitor.Track(sessionID, pairID)
	}
}

func (h *Hub) DeliverCandidate(sessionID domain.SessionID, to domain.ConnectionID, pairID domain.PairID, from domain.ConnectionID, cand webrtc.ICECandidateInit) {
	if c := h.lookup(to); c != nil {
		c.enqueue(h.envelope("ice-candidate", sessionID, pairID, from, cand))
	}
}

func (h *Hub) PairingFailed(sessionID domain.SessionID, pairing *domain.PeerPairing, reason string) {
	if h.monitor != nil {
		h.monitor.Untrack(pairing.ID)
	}
	if h.metrics != nil {
		h.metrics.RecordPairingFailed(reason)
	}
	h.mu.Lock()
	delete(h.pairingSince, pairing.ID)
	h.mu.Unlock()
	h.statsMu.Lock()
	delete(h.stats, pairing.ID)
	h.statsMu.Unlock()

	payload := pairingFailedPayload{PairID: pairing.ID, Reason: reason}
	for _, conn := range []domain.ConnectionID{pairing.OffererConn, pairing.AnswererConn} {
		if c := h.lookup(conn); c != nil {
			c.enqueue(h.envelope("pairing-failed", sessionID, pairing.ID, "", payload))
		}
	}
}

func (h *Hub) SessionEnded(sessionID domain.SessionID, state domain.SessionState, reason string) {
	if h.metrics != nil {
		h.metrics.RecordSessionEnded(state)
	}
	h.waitingRoom.CancelTimer(sessionID)
	h.cancelGraceTimer(sessionID)

	env := h.envelope("session-ended", sessionID, "", "", sessionEndedPayload{State: state, Reason: reason})
	for _, c := range h.sessionClients(sessionID) {
		c.enqueue(env)
		c.close()
	}
}

func (h *Hub) QualityDegraded(sessionID domain.SessionID, sample domain.QualitySample) {
	if h.metrics != nil {
		h.metrics.RecordPacketLoss(sample)
	}
	env := h.envelope("degraded", sessionID, sample.PairID, "", qualityPayload{
		PairID:          sample.PairID,
		Tier:            sample.Tier,
		PacketLossRatio: sample.PacketLossRatio,
	})
	for _, c := range h.sessionClients(sessionID) {
		c.enqueue(env)
	}
}

// Sample implements ports.StatsProvider from client stats reports. A report
// older than StatsTTL counts as a missed sample.
func (h *Hub) Sample(ctx context.Context, sessionID domain.SessionID, pairID domain.PairID) (float64, error) {
	h.statsMu.RLock()
	report, ok := h.stats[pairID]
	h.statsMu.RUnlock()

	if !ok {
		return 0, fmt.Errorf("no stats reported for pairing %s", pairID)
	}
	if time.Since(report.reportedAt) > h.cfg.StatsTTL {
		return 0, fmt.Errorf("stats for pairing %s are stale", pairID)
	}
	return report.packetLossRatio, nil
}

// ---- plumbing ----

func (h *Hub) lookup(conn domain.ConnectionID) *client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.conns[conn]
}

func (h *Hub) sessionClients(sessionID domain.SessionID) []*client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var out []*client
	for _, c := range h.conns {
		if c.sessionID == sessionID {
			out = append(out, c)
		}
	}
	return out
}

func (h *Hub) envelope(kind string, sessionID domain.SessionID, pairID domain.PairID, from domain.ConnectionID, payload interface{}) Envelope {
	env := Envelope{Kind: kind, SessionID: sessionID, PairID: pairID, From: from}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			h.logger.Errorw("failed to marshal payload", "kind", kind, "error", err)
			return env
		}
		env.Payload = raw
	}
	return env
}

func (h *Hub) sendError(c *client, err error) {
	c.enqueue(h.envelope("error", c.sessionID, "", "", errorPayload{
		Code:    string(apperrors.CodeOf(err)),
		Message: err.Error(),
	}))
}

// writeErrorSync writes an error frame directly on the connection. Only safe
// while writePump has not been started for the client.
func (h *Hub) writeErrorSync(c *client, err error) {
	c.conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
	_ = c.conn.WriteJSON(h.envelope("error", c.sessionID, "", "", errorPayload{
		Code:    string(apperrors.CodeOf(err)),
		Message: err.Error(),
	}))
}

// ConnectionCount reports how many signaling connections are open.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Shutdown closes every connection and stops outstanding timers.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	clients := make([]*client, 0, len(h.conns))
	for _, c := range h.conns {
		clients = append(clients, c)
	}
	for id, t := range h.graceTimers {
		t.Stop()
		delete(h.graceTimers, id)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
}

// writePump owns all writes on the connection: queued envelopes and pings.
func (h *Hub) writePump(c *client) {
	pingTicker := time.NewTicker(h.cfg.PingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case env, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteJSON(env); err != nil {
				h.logger.Infow("write failed, dropping connection",
					"connection_id", c.id, "error", err)
				c.conn.Close()
				return
			}

		case <-pingTicker.C:
			c.conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.conn.Close()
				return
			}
		}
	}
}

func (c *client) enqueue(env Envelope) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- env:
	default:
		// A full queue means the consumer stopped draining. Dropping a
		// signaling frame would wedge negotiation silently, so kill the
		// connection and let the normal disconnect path run.
		c.closed = true
		close(c.send)
	}
}

func (c *client) close() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}
