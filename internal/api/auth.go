package api

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/nerrad567/farmra-core/internal/audit"
	"github.com/nerrad567/farmra-core/internal/auth"
)

// Auth constants.
const (
	// ticketTTL is how long a WebSocket ticket is valid.
	ticketTTL = 60 * time.Second

	// defaultCookieName is used when no session cookie name is configured.
	defaultCookieName = "farmra_session"
)

// signupResponse is the response body for POST /api/signup.
type signupResponse struct {
	Email string    `json:"email"`
	Phone string    `json:"phone"`
	Role  auth.Role `json:"role"`
}

// meResponse is the response body for GET /api/me.
type meResponse struct {
	ID    string    `json:"id"`
	Email string    `json:"email"`
	Role  auth.Role `json:"role"`
}

// handleSignup registers a principal through the self-service path.
func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req auth.SignupRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	p, err := s.auth.Signup(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	s.recordAudit(r, audit.ActionSignup, audit.EntityPrincipal, p.ID.String(), p.ID.String(), map[string]any{
		"role": p.Role,
	})

	writeJSON(w, http.StatusOK, signupResponse{Email: p.Email, Phone: p.Phone, Role: p.Role})
}

// handleLogin checks credentials and returns a token (token mode) or sets
// the session cookie (session mode).
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req auth.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	result, err := s.auth.Login(r.Context(), req)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			s.recordAudit(r, audit.ActionLoginFailed, audit.EntityPrincipal, "", "", map[string]any{
				"email": req.Email,
			})
		}
		s.writeServiceError(w, r, err)
		return
	}

	if result.SessionID != "" {
		http.SetCookie(w, s.sessionCookie(result.SessionID, result.ExpiresAt))
	}

	s.recordAudit(r, audit.ActionLogin, audit.EntityPrincipal, result.PrincipalID.String(), result.PrincipalID.String(), map[string]any{
		"mode": s.auth.Mode(),
	})

	writeJSON(w, http.StatusOK, result)
}

// handleLogout ends the server-side session when one is presented and
// clears the session cookie. Stateless tokens simply expire.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if s.auth.Mode() == auth.ModeSession {
		if cookie, err := r.Cookie(s.cookieName()); err == nil && cookie.Value != "" {
			if err := s.auth.Logout(r.Context(), cookie.Value); err != nil {
				s.writeServiceError(w, r, err)
				return
			}
		}
		http.SetCookie(w, s.sessionCookie("", time.Unix(0, 0)))
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "logged out"})
}

// handleMe returns the authenticated principal.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	identity, _ := principalFromContext(r.Context())

	p, err := s.auth.Principal(r.Context(), identity.PrincipalID)
	if errors.Is(err, auth.ErrPrincipalNotFound) {
		writeUnauthorized(w, "principal no longer exists")
		return
	}
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, meResponse{ID: p.ID.String(), Email: p.Email, Role: p.Role})
}

// handleWSTicket issues a single-use WebSocket ticket bound to the caller.
// The client passes it as ?ticket= so the credential never appears in a URL.
func (s *Server) handleWSTicket(w http.ResponseWriter, r *http.Request) {
	identity, _ := principalFromContext(r.Context())

	ticket, err := s.tickets.issue(identity)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ticket":    ticket,
		"expiresIn": int(ticketTTL.Seconds()),
	})
}

// sessionCookie builds the session cookie. An empty value with a past
// expiry deletes it.
func (s *Server) sessionCookie(value string, expires time.Time) *http.Cookie {
	cookie := &http.Cookie{
		Name:     s.cookieName(),
		Value:    value,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   s.secCfg.Session.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	}
	if value == "" {
		cookie.MaxAge = -1
	}
	return cookie
}

// ticketStore holds pending WebSocket authentication tickets.
// Tickets are single-use and expire after ticketTTL.
type ticketStore struct {
	tickets map[string]ticketEntry
	mu      sync.Mutex
	now     func() time.Time
}

type ticketEntry struct {
	identity  auth.Identity
	expiresAt time.Time
}

func newTicketStore(now func() time.Time) *ticketStore {
	return &ticketStore{
		tickets: make(map[string]ticketEntry),
		now:     now,
	}
}

// issue creates a ticket for identity.
func (t *ticketStore) issue(identity auth.Identity) (string, error) {
	ticket, err := generateTicket()
	if err != nil {
		return "", err
	}

	t.mu.Lock()
	t.tickets[ticket] = ticketEntry{identity: identity, expiresAt: t.now().Add(ticketTTL)}
	t.mu.Unlock()

	return ticket, nil
}

// consume validates a ticket and removes it (single-use).
func (t *ticketStore) consume(ticket string) (auth.Identity, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.tickets[ticket]
	if !ok {
		return auth.Identity{}, false
	}
	delete(t.tickets, ticket)

	if !t.now().Before(entry.expiresAt) {
		return auth.Identity{}, false
	}
	return entry.identity, true
}

// cleanExpired removes expired tickets from the store.
func (t *ticketStore) cleanExpired() {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	for ticket, entry := range t.tickets {
		if !now.Before(entry.expiresAt) {
			delete(t.tickets, ticket)
		}
	}
}

// ticketBytes is the number of random bytes used for WebSocket tickets.
const ticketBytes = 32

// generateTicket creates a cryptographically random ticket string.
func generateTicket() (string, error) {
	b := make([]byte, ticketBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// size returns the number of pending tickets.
func (t *ticketStore) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.tickets)
}
