package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	// sessionIDBytes is the entropy of a session id (256 bits).
	sessionIDBytes = 32

	// sessionTimeLayout is fixed width so stored timestamps sort as text.
	sessionTimeLayout = "2006-01-02T15:04:05.000000000Z"
)

// SessionStore persists server-side sessions for cookie session mode.
// Get returns ErrSessionNotFound for unknown and expired sessions alike.
type SessionStore interface {
	Create(ctx context.Context, s *Session) error
	Get(ctx context.Context, id string, now time.Time) (*Session, error)
	Delete(ctx context.Context, id string) error
}

// NewSessionID returns a random 256-bit session id as hex.
func NewSessionID() (string, error) {
	b := make([]byte, sessionIDBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating session id: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// HashToken computes the SHA-256 hash of a raw session id for storage.
// Raw ids are never stored, only their hashes.
func HashToken(raw string) string {
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])
}

// SQLiteSessionStore implements SessionStore over the sessions table.
type SQLiteSessionStore struct {
	db *sql.DB
}

// NewSQLiteSessionStore creates a SQLite-backed session store.
func NewSQLiteSessionStore(db *sql.DB) *SQLiteSessionStore {
	return &SQLiteSessionStore{db: db}
}

// Create stores the session under the hash of s.ID.
func (s *SQLiteSessionStore) Create(ctx context.Context, sess *Session) error {
	if sess.ID == "" {
		return errors.New("session id is empty")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id_hash, principal_id, role, created_at, expires_at) VALUES (?, ?, ?, ?, ?)`,
		HashToken(sess.ID), sess.PrincipalID.String(), string(sess.Role),
		sess.CreatedAt.UTC().Format(sessionTimeLayout),
		sess.ExpiresAt.UTC().Format(sessionTimeLayout),
	)
	if err != nil {
		return fmt.Errorf("creating session: %w", err)
	}
	return nil
}

// Get returns the live session for id.
func (s *SQLiteSessionStore) Get(ctx context.Context, id string, now time.Time) (*Session, error) {
	var principalID, role, createdAt, expiresAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT principal_id, role, created_at, expires_at FROM sessions WHERE id_hash = ?`,
		HashToken(id),
	).Scan(&principalID, &role, &createdAt, &expiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("getting session: %w", err)
	}

	pid, err := uuid.Parse(principalID)
	if err != nil {
		return nil, fmt.Errorf("parsing session principal %q: %w", principalID, err)
	}
	sess := &Session{ID: id, PrincipalID: pid, Role: Role(role)}
	sess.CreatedAt, _ = time.Parse(sessionTimeLayout, createdAt) //nolint:errcheck // format is controlled
	if sess.ExpiresAt, err = time.Parse(sessionTimeLayout, expiresAt); err != nil {
		return nil, fmt.Errorf("parsing session expiry: %w", err)
	}

	if sess.Expired(now) {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// Delete removes the session. Deleting an unknown session is not an error.
func (s *SQLiteSessionStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE id_hash = ?", HashToken(id)); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}

// DeleteExpired purges sessions that expired before now and returns how
// many were removed.
func (s *SQLiteSessionStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE expires_at <= ?", now.UTC().Format(sessionTimeLayout))
	if err != nil {
		return 0, fmt.Errorf("deleting expired sessions: %w", err)
	}
	n, _ := res.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	return n, nil
}
