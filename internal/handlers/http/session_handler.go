package http

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"telesig/internal/core/domain"
	"telesig/internal/core/ports"
	"telesig/internal/core/services"
	"telesig/internal/infrastructure/monitoring"
)

const maxChunkBytes = 16 << 20

// SessionHandler exposes the management API used by the scheduling backend:
// opening and closing consultation sessions, minting join tokens and driving
// the recording lifecycle.
type SessionHandler struct {
	registry  *services.Registry
	tokens    *services.TokenService
	recording *services.RecordingService
	monitor   *services.QualityMonitor
	sink      ports.EventSink
	metrics   *monitoring.PrometheusCollector
	logger    *zap.SugaredLogger
}

func NewSessionHandler(
	registry *services.Registry,
	tokens *services.TokenService,
	recording *services.RecordingService,
	monitor *services.QualityMonitor,
	sink ports.EventSink,
	metrics *monitoring.PrometheusCollector,
	logger *zap.Logger,
) *SessionHandler {
	return &SessionHandler{
		registry:  registry,
		tokens:    tokens,
		recording: recording,
		monitor:   monitor,
		sink:      sink,
		metrics:   metrics,
		logger:    logger.Sugar(),
	}
}

func (h *SessionHandler) SetupRoutes(api *gin.RouterGroup) {
	api.POST("/sessions", h.CreateSession)
	api.GET("/sessions/:id", h.GetSession)
	api.DELETE("/sessions/:id", h.EndSession)
	api.GET("/sessions/:id/pairings/:pair/quality", h.GetPairingQuality)
	api.POST("/sessions/:id/recording/start", h.StartRecording)
	api.POST("/sessions/:id/recording/chunks", h.IngestRecordingChunk)
	api.POST("/sessions/:id/recording/stop", h.StopRecording)
}

func (h *SessionHandler) CreateSession(c *gin.Context) {
	var req struct {
		AppointmentID domain.AppointmentID `json:"appointment_id" binding:"required"`
		DoctorID      domain.UserID        `json:"doctor_id" binding:"required"`
		PatientID     domain.UserID        `json:"patient_id" binding:"required"`
	}

	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	session, err := h.registry.CreateSession(c.Request.Context(), domain.OwnerContext{
		AppointmentID: req.AppointmentID,
		DoctorID:      req.DoctorID,
		PatientID:     req.PatientID,
	})
	if err != nil {
		c.Error(err)
		return
	}

	doctorToken, err := h.tokens.Issue(session.ID, req.DoctorID, domain.RolePrivileged)
	if err != nil {
		c.Error(err)
		return
	}
	patientToken, err := h.tokens.Issue(session.ID, req.PatientID, domain.RoleGuest)
	if err != nil {
		c.Error(err)
		return
	}

	if h.metrics != nil {
		h.metrics.RecordSessionStarted()
	}

	c.JSON(http.StatusCreated, gin.H{
		"session":       session,
		"doctor_token":  doctorToken,
		"patient_token": patientToken,
	})
}

func (h *SessionHandler) GetSession(c *gin.Context) {
	sessionID := domain.SessionID(c.Param("id"))

	session, err := h.registry.GetSession(c.Request.Context(), sessionID)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"session": session})
}

func (h *SessionHandler) EndSession(c *gin.Context) {
	sessionID := domain.SessionID(c.Param("id"))
	reason := c.DefaultQuery("reason", "ended by operator")

	if err := h.registry.EndSession(c.Request.Context(), sessionID, domain.SessionEnded, reason); err != nil {
		c.Error(err)
		return
	}
	h.sink.SessionEnded(sessionID, domain.SessionEnded, reason)

	c.JSON(http.StatusOK, gin.H{"status": "ended"})
}

func (h *SessionHandler) GetPairingQuality(c *gin.Context) {
	if h.monitor == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "quality monitoring disabled"})
		return
	}
	pairID := domain.PairID(c.Param("pair"))

	c.JSON(http.StatusOK, gin.H{
		"pair_id": pairID,
		"samples": h.monitor.Window(pairID),
	})
}

func (h *SessionHandler) StartRecording(c *gin.Context) {
	if h.recording == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "recording disabled"})
		return
	}
	sessionID := domain.SessionID(c.Param("id"))

	if err := h.recording.Start(c.Request.Context(), sessionID); err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "recording"})
}

func (h *SessionHandler) IngestRecordingChunk(c *gin.Context) {
	if h.recording == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "recording disabled"})
		return
	}
	sessionID := domain.SessionID(c.Param("id"))

	chunk, err := io.ReadAll(io.LimitReader(c.Request.Body, maxChunkBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read chunk body"})
		return
	}
	if len(chunk) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "empty chunk"})
		return
	}

	if err := h.recording.IngestChunk(c.Request.Context(), sessionID, chunk); err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "accepted"})
}

func (h *SessionHandler) StopRecording(c *gin.Context) {
	if h.recording == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "recording disabled"})
		return
	}
	sessionID := domain.SessionID(c.Param("id"))

	if err := h.recording.Stop(c.Request.Context(), sessionID); err != nil {
		c.Error(err)
		return
	}

	// Finalization uploads to object storage; do it off the request path.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if err := h.recording.Finalize(ctx, sessionID); err != nil {
			h.logger.Errorw("recording finalization failed", "session_id", sessionID, "error", err)
		}
	}()

	c.JSON(http.StatusAccepted, gin.H{"status": "stopping"})
}
