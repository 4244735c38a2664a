package services

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"telesig/internal/core/domain"
	"telesig/internal/core/ports"
	"telesig/pkg/circuitbreaker"
	apperrors "telesig/pkg/errors"
	"telesig/pkg/retry"
)

// RecordingService owns the recording lifecycle of a session: start, chunk
// buffering, stop and the finalize handoff to the storage collaborator.
// Chunks are buffered in memory until finalize succeeds, so a failed handoff
// can be retried without re-recording.
type RecordingService struct {
	registry *Registry
	storage  ports.RecordingStorage
	retryCfg retry.Config
	breaker  *circuitbreaker.CircuitBreaker
	logger   *zap.SugaredLogger

	mu      sync.Mutex
	buffers map[domain.SessionID][][]byte
}

func NewRecordingService(registry *Registry, storage ports.RecordingStorage, logger *zap.Logger) *RecordingService {
	return &RecordingService{
		registry: registry,
		storage:  storage,
		retryCfg: retry.DefaultConfig(),
		breaker:  circuitbreaker.New(circuitbreaker.DefaultConfig()),
		logger:   logger.Sugar(),
		buffers:  make(map[domain.SessionID][][]byte),
	}
}

// Start begins recording an active session. Starting an already-recording
// session is a no-op.
func (r *RecordingService) Start(ctx context.Context, sessionID domain.SessionID) error {
	return r.registry.WithSession(ctx, sessionID, func(s *domain.Session) error {
		if s.State != domain.SessionActive {
			return invalidRecordingState("recording requires an active session")
		}
		if s.Recording != nil && s.Recording.Status == domain.RecordingActive {
			return nil
		}
		if s.Recording != nil && s.Recording.Status != domain.RecordingNotStarted {
			return invalidRecordingState("recording already ran for this session")
		}

		s.Recording = &domain.RecordingState{
			Status:        domain.RecordingActive,
			StartedAt:     time.Now(),
			StorageHandle: uuid.NewString(),
		}
		r.logger.Infow("recording started", "session_id", sessionID, "handle", s.Recording.StorageHandle)
		return nil
	})
}

// IngestChunk buffers one recording chunk.
func (r *RecordingService) IngestChunk(ctx context.Context, sessionID domain.SessionID, chunk []byte) error {
	return r.registry.WithSession(ctx, sessionID, func(s *domain.Session) error {
		if s.Recording == nil || s.Recording.Status != domain.RecordingActive {
			return invalidRecordingState("no active recording for this session")
		}
		r.mu.Lock()
		r.buffers[sessionID] = append(r.buffers[sessionID], chunk)
		r.mu.Unlock()
		s.Recording.ChunkCount++
		return nil
	})
}

// Stop ends recording. It is idempotent: stopping an already stopped,
// finalized or failed recording changes nothing.
func (r *RecordingService) Stop(ctx context.Context, sessionID domain.SessionID) error {
	return r.registry.WithSession(ctx, sessionID, func(s *domain.Session) error {
		if s.Recording == nil || s.Recording.Status == domain.RecordingNotStarted {
			return invalidRecordingState("no recording to stop")
		}
		if s.Recording.Status != domain.RecordingActive {
			return nil
		}
		s.Recording.Status = domain.RecordingStopping
		s.Recording.StoppedAt = time.Now()
		r.logger.Infow("recording stopped",
			"session_id", sessionID, "chunks", s.Recording.ChunkCount)
		return nil
	})
}

// Finalize hands the aggregated chunks to the storage collaborator. On
// failure the recording is marked Failed but its chunks are kept, so the
// caller can retry finalize without re-recording.
func (r *RecordingService) Finalize(ctx context.Context, sessionID domain.SessionID) error {
	var handle string
	err := r.registry.WithSession(ctx, sessionID, func(s *domain.Session) error {
		if s.Recording == nil {
			return invalidRecordingState("no recording to finalize")
		}
		switch s.Recording.Status {
		case domain.RecordingStopping, domain.RecordingFailed:
			handle = s.Recording.StorageHandle
			return nil
		case domain.RecordingFinalized:
			return nil
		default:
			return invalidRecordingState("recording must be stopped before finalize")
		}
	})
	if err != nil || handle == "" {
		return err
	}

	r.mu.Lock()
	chunks := r.buffers[sessionID]
	r.mu.Unlock()

	var artifactURL string
	persistErr := r.breaker.Execute(func() error {
		return retry.Do(ctx, r.retryCfg, func() error {
			url, err := r.storage.Persist(ctx, handle, chunks)
			if err != nil {
				return err
			}
			artifactURL = url
			return nil
		})
	})

	return r.registry.WithSession(ctx, sessionID, func(s *domain.Session) error {
		if persistErr != nil {
			s.Recording.Status = domain.RecordingFailed
			s.Recording.FailReason = persistErr.Error()
			r.logger.Errorw("recording handoff failed",
				"session_id", sessionID, "handle", handle, "error", persistErr)
			return apperrors.Wrap(persistErr, apperrors.ErrCodeInternal,
				"recording handoff to storage failed", http.StatusInternalServerError)
		}
		s.Recording.Status = domain.RecordingFinalized
		s.Recording.ArtifactURL = artifactURL

		r.mu.Lock()
		delete(r.buffers, sessionID)
		r.mu.Unlock()

		r.logger.Infow("recording finalized",
			"session_id", sessionID, "handle", handle, "artifact_url", artifactURL)
		return nil
	})
}

// Discard drops any buffered chunks for a session, for teardown paths where
// the recording will never be finalized.
func (r *RecordingService) Discard(sessionID domain.SessionID) {
	r.mu.Lock()
	delete(r.buffers, sessionID)
	r.mu.Unlock()
}

func invalidRecordingState(msg string) *apperrors.AppError {
	err := apperrors.New(apperrors.ErrCodeInvalidTransition, msg, http.StatusConflict)
	err.Cause = domain.ErrInvalidRecordingState
	return err
}
