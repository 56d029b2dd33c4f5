package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/farmra-core/internal/audit"
	"github.com/nerrad567/farmra-core/internal/auth"
)

func TestSignupLoginScenario(t *testing.T) {
	f := newAPIFixture(t)

	signup := map[string]string{
		"email":    "a@b.com",
		"phone":    "0123456789",
		"password": "Abcdef1!",
		"role":     "technician",
	}
	w := f.do(t, http.MethodPost, "/api/signup", "", signup)
	if w.Code != http.StatusOK {
		t.Fatalf("signup status = %d, body = %s", w.Code, w.Body.String())
	}
	var created signupResponse
	decodeBody(t, w, &created)
	if created.Email != "a@b.com" || created.Phone != "0123456789" || created.Role != auth.RoleTechnician {
		t.Errorf("signup response = %+v", created)
	}
	if strings.Contains(w.Body.String(), "password") {
		t.Errorf("signup response leaks password: %s", w.Body.String())
	}

	if w := f.do(t, http.MethodPost, "/api/signup", "", signup); w.Code != http.StatusConflict {
		t.Errorf("duplicate signup status = %d, want %d", w.Code, http.StatusConflict)
	}

	wrong := f.do(t, http.MethodPost, "/api/login", "", map[string]string{"email": "a@b.com", "password": "Wrong1!x"})
	if wrong.Code != http.StatusUnauthorized {
		t.Errorf("wrong password status = %d, want %d", wrong.Code, http.StatusUnauthorized)
	}

	w = f.do(t, http.MethodPost, "/api/login", "", map[string]string{"email": "a@b.com", "password": "Abcdef1!"})
	if w.Code != http.StatusOK {
		t.Fatalf("login status = %d, body = %s", w.Code, w.Body.String())
	}
	var result auth.LoginResult
	decodeBody(t, w, &result)
	if result.Token == "" || result.Role != auth.RoleTechnician {
		t.Fatalf("login result = %+v", result)
	}
	if ttl := time.Until(result.ExpiresAt); ttl < 119*time.Minute || ttl > 121*time.Minute {
		t.Errorf("token lifetime = %v, want about 120m", ttl)
	}

	me := f.do(t, http.MethodGet, "/api/me", result.Token, nil)
	if me.Code != http.StatusOK {
		t.Fatalf("me status = %d, body = %s", me.Code, me.Body.String())
	}
	var meResp meResponse
	decodeBody(t, me, &meResp)
	if meResp.Email != "a@b.com" || meResp.Role != auth.RoleTechnician || meResp.ID != result.PrincipalID.String() {
		t.Errorf("me = %+v", meResp)
	}
}

func TestSignup_Rejections(t *testing.T) {
	f := newAPIFixture(t)

	tests := []struct {
		name string
		body any
	}{
		{"invalid JSON", `{"email":`},
		{"unknown field", `{"email":"x@y.com","password":"Abcdef1!","admin":true}`},
		{"missing email", map[string]string{"password": "Abcdef1!"}},
		{"bad email", map[string]string{"email": "not-an-email", "password": "Abcdef1!"}},
		{"weak password", map[string]string{"email": "x@y.com", "password": "abcdefgh"}},
		{"bad phone", map[string]string{"email": "x@y.com", "password": "Abcdef1!", "phone": "12ab"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(t, http.MethodPost, "/api/signup", "", tt.body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want %d (body %s)", w.Code, http.StatusBadRequest, w.Body.String())
			}
			if errorMessage(t, w) == "" {
				t.Error("expected error message")
			}
		})
	}
}

func TestSignup_UnknownRoleDefaultsToFarmer(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, http.MethodPost, "/api/signup", "", map[string]string{
		"email": "grower@farm.example", "password": testPassword, "role": "overlord",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var created signupResponse
	decodeBody(t, w, &created)
	if created.Role != auth.RoleFarmer {
		t.Errorf("role = %q, want %q", created.Role, auth.RoleFarmer)
	}
}

func TestLogin_Failures(t *testing.T) {
	f := newAPIFixture(t)
	f.principal(t, "farmer@farm.example", auth.RoleFarmer)

	tests := []struct {
		name string
		body map[string]string
		want int
	}{
		{"empty password", map[string]string{"email": "farmer@farm.example"}, http.StatusBadRequest},
		{"empty email", map[string]string{"password": testPassword}, http.StatusBadRequest},
		{"unknown email", map[string]string{"email": "ghost@farm.example", "password": testPassword}, http.StatusUnauthorized},
		{"wrong password", map[string]string{"email": "farmer@farm.example", "password": "Wrong1!x"}, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(t, http.MethodPost, "/api/login", "", tt.body)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}

	// Unknown email and wrong password are indistinguishable.
	unknown := f.do(t, http.MethodPost, "/api/login", "", tests[2].body)
	wrong := f.do(t, http.MethodPost, "/api/login", "", tests[3].body)
	if errorMessage(t, unknown) != errorMessage(t, wrong) {
		t.Errorf("messages differ: %q vs %q", errorMessage(t, unknown), errorMessage(t, wrong))
	}
}

func TestLogin_AuditTrail(t *testing.T) {
	f := newAPIFixture(t)
	p := f.principal(t, "farmer@farm.example", auth.RoleFarmer)

	f.login(t, p.Email)
	f.do(t, http.MethodPost, "/api/login", "", map[string]string{"email": p.Email, "password": "Wrong1!x"})
	f.flushAudit()

	result, err := f.auditRepo.List(context.Background(), audit.Filter{EntityType: audit.EntityPrincipal})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	actions := map[string]int{}
	for _, e := range result.Entries {
		actions[e.Action]++
		if e.Action == audit.ActionLogin && e.UserID != p.ID.String() {
			t.Errorf("login entry user = %q, want %q", e.UserID, p.ID)
		}
		if e.Details["password"] != nil {
			t.Error("audit entry records a password")
		}
	}
	if actions[audit.ActionLogin] != 1 || actions[audit.ActionLoginFailed] != 1 {
		t.Errorf("actions = %v, want one login and one login_failed", actions)
	}
}

func TestAuthMiddleware_Credentials(t *testing.T) {
	f := newAPIFixture(t)
	token, _ := f.as(t, auth.RoleFarmer)

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"no credential", "", http.StatusUnauthorized},
		{"not bearer", "Basic " + token, http.StatusUnauthorized},
		{"empty bearer", "Bearer ", http.StatusUnauthorized},
		{"garbage token", "Bearer not.a.token", http.StatusUnauthorized},
		{"tampered token", "Bearer " + token[:len(token)-2] + "xx", http.StatusUnauthorized},
		{"valid token", "Bearer " + token, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			f.router.ServeHTTP(w, req)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestAuthMiddleware_ExpiredToken(t *testing.T) {
	f := newAPIFixture(t)
	token, _ := f.as(t, auth.RoleFarmer)

	f.srv.now = func() time.Time { return time.Now().Add(3 * time.Hour) }

	if w := f.do(t, http.MethodGet, "/api/me", token, nil); w.Code != http.StatusUnauthorized {
		t.Errorf("expired token status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestAuthMiddleware_InvalidCredentialOnPublicRoute(t *testing.T) {
	f := newAPIFixture(t)

	if w := f.do(t, http.MethodGet, "/api/health", "garbage", nil); w.Code != http.StatusOK {
		t.Errorf("health with bad token status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestMe_DeletedPrincipal(t *testing.T) {
	f := newAPIFixture(t)
	token, p := f.as(t, auth.RoleFarmer)

	if _, err := f.srv.db.Exec(`DELETE FROM principals WHERE id = ?`, p.ID.String()); err != nil {
		t.Fatalf("deleting principal: %v", err)
	}

	if w := f.do(t, http.MethodGet, "/api/me", token, nil); w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestLogout_TokenMode(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, http.MethodPost, "/api/logout", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var resp map[string]string
	decodeBody(t, w, &resp)
	if resp["status"] != "logged out" {
		t.Errorf("status = %q, want logged out", resp["status"])
	}
}

func TestSessionMode(t *testing.T) {
	f := newAPIFixture(t, withSessionMode())
	f.principal(t, "tech@farm.example", auth.RoleTechnician)

	w := f.do(t, http.MethodPost, "/api/login", "", map[string]string{"email": "tech@farm.example", "password": testPassword})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var result auth.LoginResult
	decodeBody(t, w, &result)
	assert.Empty(t, result.Token, "session mode must not return a token")

	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	cookie := cookies[0]
	assert.Equal(t, "farmra_session", cookie.Name)
	assert.True(t, cookie.HttpOnly)
	assert.NotEmpty(t, cookie.Value)

	withCookie := func(method, path string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, nil)
		req.AddCookie(cookie)
		rec := httptest.NewRecorder()
		f.router.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusOK, withCookie(http.MethodGet, "/api/me").Code)

	// A bearer header is not a credential in session mode.
	assert.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodGet, "/api/me", "anything", nil).Code)

	logout := withCookie(http.MethodPost, "/api/logout")
	require.Equal(t, http.StatusOK, logout.Code)
	cleared := logout.Result().Cookies()
	require.Len(t, cleared, 1)
	assert.Equal(t, -1, cleared[0].MaxAge)

	assert.Equal(t, http.StatusUnauthorized, withCookie(http.MethodGet, "/api/me").Code)
}

func TestRateLimit_Login(t *testing.T) {
	f := newAPIFixture(t, withRateLimit(2))
	body := map[string]string{"email": "ghost@farm.example", "password": testPassword}

	for i := range 2 {
		w := f.do(t, http.MethodPost, "/api/login", "", body)
		require.Equal(t, http.StatusUnauthorized, w.Code, "attempt %d", i+1)
	}

	w := f.do(t, http.MethodPost, "/api/login", "", body)
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))

	// Other routes are not throttled.
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/api/health", "", nil).Code)
}

func TestClientLimiter(t *testing.T) {
	now := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	l := newClientLimiter(60, 1, func() time.Time { return now })

	ok, _ := l.reserve("10.0.0.1")
	assert.True(t, ok)

	ok, wait := l.reserve("10.0.0.1")
	assert.False(t, ok)
	assert.InDelta(t, time.Second.Seconds(), wait.Seconds(), 0.01)

	ok, _ = l.reserve("10.0.0.2")
	assert.True(t, ok, "clients are limited independently")

	now = now.Add(time.Second)
	ok, _ = l.reserve("10.0.0.1")
	assert.True(t, ok, "token refills after one second")

	now = now.Add(limiterIdleTTL + time.Minute)
	l.cleanIdle()
	assert.Equal(t, 0, l.size())
}

func TestWSTicket(t *testing.T) {
	f := newAPIFixture(t)

	if w := f.do(t, http.MethodPost, "/api/ws-ticket", "", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("anonymous ticket status = %d, want %d", w.Code, http.StatusUnauthorized)
	}

	token, p := f.as(t, auth.RoleCustomer)
	w := f.do(t, http.MethodPost, "/api/ws-ticket", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp struct {
		Ticket    string `json:"ticket"`
		ExpiresIn int    `json:"expiresIn"`
	}
	decodeBody(t, w, &resp)
	if resp.Ticket == "" || resp.ExpiresIn != int(ticketTTL.Seconds()) {
		t.Fatalf("ticket response = %+v", resp)
	}

	identity, ok := f.srv.tickets.consume(resp.Ticket)
	if !ok {
		t.Fatal("ticket should be valid on first use")
	}
	if identity.PrincipalID != p.ID || identity.Role != auth.RoleCustomer {
		t.Errorf("ticket identity = %+v", identity)
	}
	if _, ok := f.srv.tickets.consume(resp.Ticket); ok {
		t.Error("ticket should not be valid on second use")
	}
}

func TestTicketStore_Expiry(t *testing.T) {
	now := time.Now()
	store := newTicketStore(func() time.Time { return now })

	expired, err := store.issue(auth.Identity{Role: auth.RoleAdmin})
	if err != nil {
		t.Fatalf("issue() error = %v", err)
	}
	now = now.Add(ticketTTL)
	if _, ok := store.consume(expired); ok {
		t.Error("expired ticket should not be valid")
	}

	if _, err := store.issue(auth.Identity{Role: auth.RoleAdmin}); err != nil {
		t.Fatalf("issue() error = %v", err)
	}
	now = now.Add(ticketTTL)
	store.cleanExpired()
	if store.size() != 0 {
		t.Errorf("size after cleanup = %d, want 0", store.size())
	}
}
