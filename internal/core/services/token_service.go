package services

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"telesig/internal/core/domain"
	"telesig/internal/core/ports"
	"telesig/pkg/cache"
	apperrors "telesig/pkg/errors"
)

// TokenService issues and validates short-lived join tokens. A token is
// single-purpose: it admits one connection into one session, and a consumed
// token is remembered until it would have expired anyway, so replay fails.
type TokenService struct {
	secret []byte
	ttl    time.Duration
	used   *cache.Cache
}

type joinClaims struct {
	SessionID string `json:"session_id"`
	Role      string `json:"role"`
	jwt.RegisteredClaims
}

func NewTokenService(secret string, ttl time.Duration) *TokenService {
	return &TokenService{
		secret: []byte(secret),
		ttl:    ttl,
		used:   cache.New(ttl),
	}
}

// Issue creates a join token for one user joining one session.
func (s *TokenService) Issue(sessionID domain.SessionID, userID domain.UserID, role domain.ParticipantRole) (string, error) {
	now := time.Now()
	claims := &joinClaims{
		SessionID: string(sessionID),
		Role:      string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   string(userID),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// Validate resolves a join token into session, user and role, consuming it.
func (s *TokenService) Validate(ctx context.Context, tokenString string) (*ports.TokenClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &joinClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, domain.ErrUnauthorized
		}
		return s.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, unauthorized("join token expired")
		}
		return nil, unauthorized("invalid join token")
	}

	claims, ok := token.Claims.(*joinClaims)
	if !ok || !token.Valid {
		return nil, unauthorized("invalid join token")
	}
	if claims.SessionID == "" || claims.Subject == "" {
		return nil, unauthorized("join token missing session or user")
	}
	role := domain.ParticipantRole(claims.Role)
	if role != domain.RolePrivileged && role != domain.RoleGuest {
		return nil, unauthorized("join token carries an unknown role")
	}

	if _, replayed := s.used.Get(claims.ID); replayed {
		return nil, unauthorized("join token already used")
	}
	remaining := time.Until(claims.ExpiresAt.Time)
	if remaining <= 0 {
		remaining = time.Second
	}
	s.used.SetWithTTL(claims.ID, true, remaining)

	return &ports.TokenClaims{
		SessionID: domain.SessionID(claims.SessionID),
		UserID:    domain.UserID(claims.Subject),
		Role:      role,
	}, nil
}

// Close releases the consumed-token cache.
func (s *TokenService) Close() {
	s.used.Close()
}

func unauthorized(msg string) *apperrors.AppError {
	err := apperrors.NewUnauthorized(msg)
	err.Cause = domain.ErrUnauthorized
	return err
}
