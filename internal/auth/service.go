package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Logger is the logging surface the auth service needs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Credential modes. A deployment uses exactly one.
const (
	ModeToken   = "token"
	ModeSession = "session"
)

// ServiceConfig configures a Service.
type ServiceConfig struct {
	Mode       string
	SessionTTL time.Duration
	Policy     PasswordPolicy
}

// Service validates credentials, registers principals and turns a
// presented credential back into an Identity.
type Service struct {
	store    CredentialStore
	codec    *TokenCodec
	sessions SessionStore
	cfg      ServiceConfig
	logger   Logger
	now      func() time.Time
}

// Option customises a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(l Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService builds the auth service. sessions may be nil in token mode.
func NewService(store CredentialStore, codec *TokenCodec, sessions SessionStore, cfg ServiceConfig, opts ...Option) (*Service, error) {
	switch cfg.Mode {
	case "", ModeToken:
		cfg.Mode = ModeToken
	case ModeSession:
		if sessions == nil {
			return nil, errors.New("session mode requires a session store")
		}
		if cfg.SessionTTL <= 0 {
			cfg.SessionTTL = DefaultTokenTTL
		}
	default:
		return nil, fmt.Errorf("unknown credential mode %q", cfg.Mode)
	}
	if cfg.Policy.MinLength == 0 {
		cfg.Policy = DefaultPasswordPolicy()
	}

	s := &Service{
		store:    store,
		codec:    codec,
		sessions: sessions,
		cfg:      cfg,
		logger:   noopLogger{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Mode returns the configured credential mode.
func (s *Service) Mode() string { return s.cfg.Mode }

// SessionTTL returns the lifetime of server-side sessions.
func (s *Service) SessionTTL() time.Duration { return s.cfg.SessionTTL }

// LoginResult is returned by a successful login. Token is set in token
// mode and SessionID in session mode.
type LoginResult struct {
	PrincipalID uuid.UUID `json:"principalId"`
	Email       string    `json:"email"`
	Role        Role      `json:"role"`
	Token       string    `json:"token,omitempty"`
	ExpiresAt   time.Time `json:"expiresAt"`
	SessionID   string    `json:"-"`
}

// Login checks email and password and establishes a credential.
// An unknown email and a wrong password both fail with
// ErrInvalidCredentials after the same amount of hashing work.
func (s *Service) Login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	p, err := s.store.GetByEmail(ctx, req.Email)
	if errors.Is(err, ErrPrincipalNotFound) {
		burnPasswordCheck(req.Password)
		s.logger.Info("login failed", "email", req.Email, "reason", "unknown email")
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("looking up principal: %w", err)
	}

	ok, err := VerifyPassword(req.Password, p.PasswordHash)
	if err != nil {
		s.logger.Error("stored password hash unreadable", "principal_id", p.ID, "error", err)
		return nil, fmt.Errorf("verifying password: %w", err)
	}
	if !ok {
		s.logger.Info("login failed", "email", req.Email, "reason", "wrong password")
		return nil, ErrInvalidCredentials
	}

	now := s.now()
	result := &LoginResult{PrincipalID: p.ID, Email: p.Email, Role: p.Role}

	switch s.cfg.Mode {
	case ModeSession:
		id, err := NewSessionID()
		if err != nil {
			return nil, err
		}
		sess := &Session{
			ID:          id,
			PrincipalID: p.ID,
			Role:        p.Role,
			CreatedAt:   now,
			ExpiresAt:   now.Add(s.cfg.SessionTTL),
		}
		if err := s.sessions.Create(ctx, sess); err != nil {
			return nil, fmt.Errorf("creating session: %w", err)
		}
		result.SessionID = id
		result.ExpiresAt = sess.ExpiresAt
	default:
		token, exp, err := s.codec.Mint(p.ID.String(), p.Role, now)
		if err != nil {
			return nil, err
		}
		result.Token = token
		result.ExpiresAt = exp
	}

	s.logger.Info("login succeeded", "principal_id", p.ID, "role", p.Role, "mode", s.cfg.Mode)
	return result, nil
}

// Signup registers a principal through the self-service path. Unknown
// role names fall back to FARMER; the fallback is logged.
func (s *Service) Signup(ctx context.Context, req SignupRequest) (*Principal, error) {
	role, fellBack := NormalizeRole(req.Role)
	if fellBack {
		s.logger.Info("signup role not recognised, defaulting to FARMER", "requested_role", req.Role)
	}
	return s.register(ctx, req, role)
}

// CreatePrincipal registers a principal through the administrative path.
// The role must name one of the known roles.
func (s *Service) CreatePrincipal(ctx context.Context, req SignupRequest) (*Principal, error) {
	role, ok := ParseRole(req.Role)
	if !ok {
		return nil, fmt.Errorf("%w: %w: %q", ErrInvalidInput, ErrUnknownRole, req.Role)
	}
	return s.register(ctx, req, role)
}

func (s *Service) register(ctx context.Context, req SignupRequest, role Role) (*Principal, error) {
	req.Normalize()
	if err := req.Validate(s.cfg.Policy); err != nil {
		return nil, err
	}

	exists, err := s.store.ExistsByEmail(ctx, req.Email)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrEmailExists
	}

	hash, err := HashPassword(req.Password)
	if err != nil {
		return nil, err
	}

	p := &Principal{
		Email:        req.Email,
		Phone:        req.Phone,
		PasswordHash: hash,
		Role:         role,
		CreatedAt:    s.now().UTC().Truncate(time.Second),
	}
	if err := s.store.Insert(ctx, p); err != nil {
		return nil, err
	}

	s.logger.Info("principal registered", "principal_id", p.ID, "role", p.Role)
	return p, nil
}

// Logout ends a server-side session. In token mode, or without a
// session id, it does nothing.
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	if s.cfg.Mode != ModeSession || sessionID == "" {
		return nil
	}
	if err := s.sessions.Delete(ctx, sessionID); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}

// Authenticate verifies a bearer token as of now.
func (s *Service) Authenticate(token string, now time.Time) (Identity, error) {
	claims, err := s.codec.Verify(token, now)
	if err != nil {
		return Identity{}, err
	}
	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: subject is not a principal id", ErrTokenInvalid)
	}
	return Identity{PrincipalID: id, Role: claims.Role}, nil
}

// ResolveSession looks up a live server-side session as of now.
func (s *Service) ResolveSession(ctx context.Context, sessionID string, now time.Time) (Identity, error) {
	if s.cfg.Mode != ModeSession {
		return Identity{}, ErrSessionNotFound
	}
	sess, err := s.sessions.Get(ctx, sessionID, now)
	if err != nil {
		return Identity{}, err
	}
	if !sess.Role.Valid() {
		return Identity{}, fmt.Errorf("%w: session role %q", ErrSessionNotFound, sess.Role)
	}
	return Identity{PrincipalID: sess.PrincipalID, Role: sess.Role, SessionID: sessionID}, nil
}

// Principal returns the stored principal for id.
func (s *Service) Principal(ctx context.Context, id uuid.UUID) (*Principal, error) {
	return s.store.GetByID(ctx, id)
}

// Principals lists principals, optionally filtered by role.
func (s *Service) Principals(ctx context.Context, role Role) ([]Principal, error) {
	return s.store.List(ctx, role)
}
