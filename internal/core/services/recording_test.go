package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"telesig/internal/core/domain"
)

// flakyStorage fails the first failures calls to Persist, then succeeds.
type flakyStorage struct {
	mu       sync.Mutex
	failures int
	calls    int
	handle   string
	chunks   [][]byte
}

func (s *flakyStorage) Persist(ctx context.Context, storageHandle string, chunks [][]byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.calls <= s.failures {
		return "", errors.New("storage unavailable")
	}
	s.handle = storageHandle
	s.chunks = chunks
	return "https://recordings.example.com/" + storageHandle, nil
}

func activeRecordingSession(t *testing.T, registry *Registry) domain.SessionID {
	t.Helper()
	ctx := context.Background()
	session, err := registry.CreateSession(ctx, testOwner("appt-1"))
	require.NoError(t, err)
	require.NoError(t, registry.Transition(ctx, session.ID, domain.SessionCreated, domain.SessionNegotiating))
	require.NoError(t, registry.Transition(ctx, session.ID, domain.SessionNegotiating, domain.SessionActive))
	return session.ID
}

func TestRecordingService_Lifecycle(t *testing.T) {
	registry := newTestRegistry(t)
	store := &flakyStorage{}
	svc := NewRecordingService(registry, store, zaptest.NewLogger(t))
	ctx := context.Background()
	sessionID := activeRecordingSession(t, registry)

	require.NoError(t, svc.Start(ctx, sessionID))
	require.NoError(t, svc.IngestChunk(ctx, sessionID, []byte("chunk-1")))
	require.NoError(t, svc.IngestChunk(ctx, sessionID, []byte("chunk-2")))
	require.NoError(t, svc.Stop(ctx, sessionID))
	require.NoError(t, svc.Finalize(ctx, sessionID))

	session, err := registry.GetSession(ctx, sessionID)
	require.NoError(t, err)
	require.NotNil(t, session.Recording)
	assert.Equal(t, domain.RecordingFinalized, session.Recording.Status)
	assert.Equal(t, 2, session.Recording.ChunkCount)
	assert.Contains(t, session.Recording.ArtifactURL, session.Recording.StorageHandle)
	assert.Len(t, store.chunks, 2)
}

func TestRecordingService_StartRequiresActiveSession(t *testing.T) {
	registry := newTestRegistry(t)
	svc := NewRecordingService(registry, &flakyStorage{}, zaptest.NewLogger(t))
	ctx := context.Background()

	session, err := registry.CreateSession(ctx, testOwner("appt-1"))
	require.NoError(t, err)

	err = svc.Start(ctx, session.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInvalidRecordingState))
}

func TestRecordingService_StartIdempotentWhileActive(t *testing.T) {
	registry := newTestRegistry(t)
	svc := NewRecordingService(registry, &flakyStorage{}, zaptest.NewLogger(t))
	ctx := context.Background()
	sessionID := activeRecordingSession(t, registry)

	require.NoError(t, svc.Start(ctx, sessionID))
	session, _ := registry.GetSession(ctx, sessionID)
	handle := session.Recording.StorageHandle

	require.NoError(t, svc.Start(ctx, sessionID))
	session, _ = registry.GetSession(ctx, sessionID)
	assert.Equal(t, handle, session.Recording.StorageHandle)
}

func TestRecordingService_NoSecondRecording(t *testing.T) {
	registry := newTestRegistry(t)
	svc := NewRecordingService(registry, &flakyStorage{}, zaptest.NewLogger(t))
	ctx := context.Background()
	sessionID := activeRecordingSession(t, registry)

	require.NoError(t, svc.Start(ctx, sessionID))
	require.NoError(t, svc.Stop(ctx, sessionID))

	err := svc.Start(ctx, sessionID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInvalidRecordingState))
}

func TestRecordingService_StopWithoutStart(t *testing.T) {
	registry := newTestRegistry(t)
	svc := NewRecordingService(registry, &flakyStorage{}, zaptest.NewLogger(t))
	ctx := context.Background()
	sessionID := activeRecordingSession(t, registry)

	err := svc.Stop(ctx, sessionID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInvalidRecordingState))
}

func TestRecordingService_StopIdempotent(t *testing.T) {
	registry := newTestRegistry(t)
	svc := NewRecordingService(registry, &flakyStorage{}, zaptest.NewLogger(t))
	ctx := context.Background()
	sessionID := activeRecordingSession(t, registry)

	require.NoError(t, svc.Start(ctx, sessionID))
	require.NoError(t, svc.Stop(ctx, sessionID))
	require.NoError(t, svc.Stop(ctx, sessionID))

	session, _ := registry.GetSession(ctx, sessionID)
	assert.Equal(t, domain.RecordingStopping, session.Recording.Status)
}

func TestRecordingService_IngestRequiresActiveRecording(t *testing.T) {
	registry := newTestRegistry(t)
	svc := NewRecordingService(registry, &flakyStorage{}, zaptest.NewLogger(t))
	ctx := context.Background()
	sessionID := activeRecordingSession(t, registry)

	err := svc.IngestChunk(ctx, sessionID, []byte("chunk"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInvalidRecordingState))
}

func TestRecordingService_FinalizeRetriesTransientFailures(t *testing.T) {
	registry := newTestRegistry(t)
	store := &flakyStorage{failures: 2}
	svc := NewRecordingService(registry, store, zaptest.NewLogger(t))
	ctx := context.Background()
	sessionID := activeRecordingSession(t, registry)

	require.NoError(t, svc.Start(ctx, sessionID))
	require.NoError(t, svc.IngestChunk(ctx, sessionID, []byte("chunk")))
	require.NoError(t, svc.Stop(ctx, sessionID))

	// Two transient failures are absorbed by the retry policy.
	require.NoError(t, svc.Finalize(ctx, sessionID))

	session, _ := registry.GetSession(ctx, sessionID)
	assert.Equal(t, domain.RecordingFinalized, session.Recording.Status)
	assert.Equal(t, 3, store.calls)
}

func TestRecordingService_FailedFinalizeKeepsChunksForRetry(t *testing.T) {
	registry := newTestRegistry(t)
	store := &flakyStorage{failures: 1000}
	svc := NewRecordingService(registry, store, zaptest.NewLogger(t))
	ctx := context.Background()
	sessionID := activeRecordingSession(t, registry)

	require.NoError(t, svc.Start(ctx, sessionID))
	require.NoError(t, svc.IngestChunk(ctx, sessionID, []byte("chunk")))
	require.NoError(t, svc.Stop(ctx, sessionID))

	require.Error(t, svc.Finalize(ctx, sessionID))
	session, _ := registry.GetSession(ctx, sessionID)
	assert.Equal(t, domain.RecordingFailed, session.Recording.Status)
	assert.NotEmpty(t, session.Recording.FailReason)

	// Storage recovers; the retried finalize succeeds with the kept chunks.
	store.mu.Lock()
	store.failures = 0
	store.calls = 0
	store.mu.Unlock()

	require.NoError(t, svc.Finalize(ctx, sessionID))
	session, _ = registry.GetSession(ctx, sessionID)
	assert.Equal(t, domain.RecordingFinalized, session.Recording.Status)
	assert.Len(t, store.chunks, 1)
}
