package handbook

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Session is the authenticated user behind a connection.
type Session struct {
	Token     string
	UserID    string
	ExpiresAt time.Time
}

type sessionClaims struct {
	UserID   string `json:"userId,omitempty"`
	LegacyID string `json:"_id,omitempty"`
	jwt.RegisteredClaims
}

// ParseSession reads the user id and expiry out of a session token. The
// signature is not checked; the backend verifies tokens on every request.
func ParseSession(token string) (*Session, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: empty token", ErrInvalidSession)
	}
	var claims sessionClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSession, err)
	}

	s := &Session{Token: token}
	switch {
	case claims.Subject != "":
		s.UserID = claims.Subject
	case claims.UserID != "":
		s.UserID = claims.UserID
	default:
		s.UserID = claims.LegacyID
	}
	if s.UserID == "" {
		return nil, fmt.Errorf("%w: no user id claim", ErrInvalidSession)
	}
	if claims.ExpiresAt != nil {
		s.ExpiresAt = claims.ExpiresAt.Time
	}
	return s, nil
}

// Expired reports whether the token expiry has passed. Tokens without an
// expiry never expire.
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}
