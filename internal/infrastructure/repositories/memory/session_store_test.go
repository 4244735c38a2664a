package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"telesig/internal/core/domain"
)

func TestSessionStore_SaveAndGet(t *testing.T) {
	store := NewSessionStore()
	ctx := context.Background()

	session := domain.NewSession("sess-1", domain.OwnerContext{AppointmentID: "appt-1"})
	require.NoError(t, store.Save(ctx, session))

	got, err := store.GetByID(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, session.ID, got.ID)
	assert.Equal(t, domain.AppointmentID("appt-1"), got.Owner.AppointmentID)
}

func TestSessionStore_GetMissing(t *testing.T) {
	store := NewSessionStore()

	_, err := store.GetByID(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestSessionStore_Delete(t *testing.T) {
	store := NewSessionStore()
	ctx := context.Background()

	session := domain.NewSession("sess-1", domain.OwnerContext{AppointmentID: "appt-1"})
	require.NoError(t, store.Save(ctx, session))
	require.NoError(t, store.Delete(ctx, "sess-1"))

	_, err := store.GetByID(ctx, "sess-1")
	assert.Error(t, err)
}

func TestSessionStore_ListActive(t *testing.T) {
	store := NewSessionStore()
	ctx := context.Background()

	live := domain.NewSession("sess-live", domain.OwnerContext{AppointmentID: "appt-1"})
	done := domain.NewSession("sess-done", domain.OwnerContext{AppointmentID: "appt-2"})
	done.State = domain.SessionEnded

	require.NoError(t, store.Save(ctx, live))
	require.NoError(t, store.Save(ctx, done))

	active, err := store.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, domain.SessionID("sess-live"), active[0].ID)
}
