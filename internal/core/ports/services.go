package ports

import (
	"context"

	"telesig/internal/core/domain"
)

// TokenClaims is what the external token collaborator resolves a join token
// into. Tokens are short-lived and single-purpose: join one session.
type TokenClaims struct {
	SessionID domain.SessionID
	UserID    domain.UserID
	Role      domain.ParticipantRole
}

// TokenValidator is the external token collaborator.
type TokenValidator interface {
	Validate(ctx context.Context, token string) (*TokenClaims, error)
}

// RecordingStorage is the external storage collaborator. Persist hands over
// the aggregated recording chunks and returns a durable artifact URL.
type RecordingStorage interface {
	Persist(ctx context.Context, storageHandle string, chunks [][]byte) (string, error)
}

// StatsProvider supplies transport statistics for an established pairing.
// The media transport is external; this is the only window into it.
type StatsProvider interface {
	Sample(ctx context.Context, sessionID domain.SessionID, pairID domain.PairID) (packetLossRatio float64, err error)
}

// PairingFailer is the slice of the negotiation coordinator the quality
// monitor needs: escalating a dead transport into a failed pairing.
type PairingFailer interface {
	FailPairing(ctx context.Context, sessionID domain.SessionID, pairID domain.PairID, reason error) error
}
