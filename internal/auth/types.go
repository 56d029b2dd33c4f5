package auth

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Principal is a persisted account: one email, one password hash, one role.
type Principal struct {
	ID           uuid.UUID `json:"id"`
	Email        string    `json:"email"`
	Phone        string    `json:"phone,omitempty"`
	PasswordHash string    `json:"-"` // never serialised
	Role         Role      `json:"role"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Identity is the authenticated caller attached to a request. It is
// derived from a verified token or session and passed explicitly to
// every handler that needs it.
type Identity struct {
	PrincipalID uuid.UUID
	Role        Role
	SessionID   string // set in session mode only
}

// Session is a server-side login used in cookie session mode.
type Session struct {
	ID          string    `json:"-"` // raw id, never stored
	PrincipalID uuid.UUID `json:"principalId"`
	Role        Role      `json:"role"`
	CreatedAt   time.Time `json:"createdAt"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// Expired reports whether the session is no longer valid at now.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// Sentinel errors for auth operations.
var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrPrincipalNotFound  = errors.New("principal not found")
	ErrEmailExists        = errors.New("email already registered")
	ErrUnknownRole        = errors.New("unknown role")
	ErrTokenInvalid       = errors.New("invalid token")
	ErrTokenExpired       = errors.New("token has expired")
	ErrSessionNotFound    = errors.New("session not found")
	ErrForbidden          = errors.New("insufficient permissions")
)
