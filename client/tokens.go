package client

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	stackflow "github.com/goliatone/go-stackflow"
)

// TokenSource provides the bearer token for backend calls.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// TokenStore holds a mutable bearer token, set after login.
type TokenStore struct {
	mu    sync.RWMutex
	token string
	now   func() time.Time
}

func NewTokenStore(token string) *TokenStore {
	return &TokenStore{token: strings.TrimSpace(token), now: time.Now}
}

func (s *TokenStore) Set(token string) {
	s.mu.Lock()
	s.token = strings.TrimSpace(token)
	s.mu.Unlock()
}

func (s *TokenStore) Clear() {
	s.Set("")
}

// Token returns the stored token. A missing or expired token is an
// authorization error.
func (s *TokenStore) Token(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.RLock()
	token := s.token
	s.mu.RUnlock()
	if token == "" {
		return "", stackflow.NewError(stackflow.ErrUnauthorized, "not authenticated", nil, nil)
	}
	if err := CheckToken(token, s.now()); err != nil {
		return "", err
	}
	return token, nil
}

// Expiry returns the exp claim of a JWT. ok is false for opaque tokens or
// tokens without exp.
func Expiry(token string) (time.Time, bool) {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}

// CheckToken rejects JWTs whose exp claim is not after now. The signature is
// not verified; that is the backend's job.
func CheckToken(token string, now time.Time) error {
	exp, ok := Expiry(token)
	if !ok || now.Before(exp) {
		return nil
	}
	return stackflow.NewError(stackflow.ErrUnauthorized, "token expired", nil,
		map[string]any{"expired_at": exp.UTC().Format(time.RFC3339)})
}
