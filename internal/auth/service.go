package auth

import (
	"context"
	"net/http"
	"time"

	"trackflow/internal/db"
)

// Service provides authentication operations
type Service struct {
	jwtSecret string
	expiry    time.Duration
}

// NewService creates a new auth service
func NewService(jwtSecret string, expiry time.Duration) *Service {
	return &Service{
		jwtSecret: jwtSecret,
		expiry:    expiry,
	}
}

// GenerateToken creates a new JWT token for a user using service config
func (s *Service) GenerateToken(userID, email, role string) (string, error) {
	return GenerateToken(userID, email, role, s.jwtSecret, s.expiry)
}

// ValidateToken validates a JWT token and returns the claims using service config
func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	return ValidateToken(tokenString, s.jwtSecret)
}

// ClaimsFromRequest returns the claims carried by the request's session
// token. ok is false when there is no token or it does not verify.
func (s *Service) ClaimsFromRequest(r *http.Request) (claims *Claims, ok bool) {
	token := TokenFromRequest(r)
	if token == "" {
		return nil, false
	}
	claims, err := s.ValidateToken(token)
	if err != nil {
		return nil, false
	}
	return claims, true
}

// UserLookup loads a user by ID.
type UserLookup func(ctx context.Context, userID string) (*db.User, error)

// CurrentUser resolves the user behind the request's session token. It
// returns nil on any failure, including a missing cookie, a bad token or a
// user that no longer exists.
func (s *Service) CurrentUser(r *http.Request, lookup UserLookup) *db.User {
	claims, ok := s.ClaimsFromRequest(r)
	if !ok {
		return nil
	}
	user, err := lookup(r.Context(), claims.UserID)
	if err != nil {
		return nil
	}
	return user
}
