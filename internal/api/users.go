package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/nerrad567/farmra-core/internal/audit"
	"github.com/nerrad567/farmra-core/internal/auth"
)

// handleListUsers returns principals, optionally filtered by ?role=.
// The role filter must name a known role.
func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	var role auth.Role
	if name := r.URL.Query().Get("role"); name != "" {
		parsed, ok := auth.ParseRole(name)
		if !ok {
			writeBadRequest(w, "unknown role: "+name)
			return
		}
		role = parsed
	}

	users, err := s.auth.Principals(r.Context(), role)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if users == nil {
		users = []auth.Principal{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"users": users,
		"count": len(users),
	})
}

// handleGetUser returns a single principal.
func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeBadRequest(w, "invalid user id")
		return
	}

	p, err := s.auth.Principal(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, p)
}

// handleCreateUser registers a principal with an explicit role. Unlike
// signup, an unknown role is rejected rather than defaulted.
func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req auth.SignupRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	p, err := s.auth.CreatePrincipal(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	identity, _ := principalFromContext(r.Context())
	s.recordAudit(r, audit.ActionPrincipalCreate, audit.EntityPrincipal, p.ID.String(), identity.PrincipalID.String(), map[string]any{
		"email": p.Email,
		"role":  p.Role,
	})

	writeJSON(w, http.StatusCreated, p)
}
