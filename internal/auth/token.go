// Package auth inspects the session token issued by the TaskMaster API.
//
// The client never holds the signing key, so tokens are decoded without
// signature verification. That is enough to show who is logged in and to
// warn before a queued write is replayed with an expired session.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNoToken is returned when there is no stored session token.
var ErrNoToken = errors.New("no session token")

// Claims are the fields the server puts in its tokens.
type Claims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// Session is the decoded view of a stored token.
type Session struct {
	UserID    string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Expired reports whether the session has expired at now. Tokens without an
// expiry never expire.
func (s Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// Remaining returns how long the session stays valid, or 0 once expired.
func (s Session) Remaining(now time.Time) time.Duration {
	if s.ExpiresAt.IsZero() || s.Expired(now) {
		return 0
	}
	return s.ExpiresAt.Sub(now)
}

var parser = jwt.NewParser()

// ParseToken decodes token without verifying its signature.
func ParseToken(token string) (Session, error) {
	if token == "" {
		return Session{}, ErrNoToken
	}
	var claims Claims
	if _, _, err := parser.ParseUnverified(token, &claims); err != nil {
		return Session{}, fmt.Errorf("failed to decode session token: %w", err)
	}
	if claims.UserID == "" {
		return Session{}, errors.New("session token has no user_id claim")
	}

	s := Session{UserID: claims.UserID}
	if claims.IssuedAt != nil {
		s.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		s.ExpiresAt = claims.ExpiresAt.Time
	}
	return s, nil
}
