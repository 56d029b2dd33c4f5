package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// CredentialStore persists principals.
type CredentialStore interface {
	Insert(ctx context.Context, p *Principal) error
	GetByEmail(ctx context.Context, email string) (*Principal, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Principal, error)
	ExistsByEmail(ctx context.Context, email string) (bool, error)
	ExistsByID(ctx context.Context, id uuid.UUID) (bool, error)
	List(ctx context.Context, role Role) ([]Principal, error)
	Count(ctx context.Context) (int, error)
}

// SQLiteCredentialStore implements CredentialStore over the principals table.
type SQLiteCredentialStore struct {
	db *sql.DB
}

// NewSQLiteCredentialStore creates a SQLite-backed credential store.
func NewSQLiteCredentialStore(db *sql.DB) *SQLiteCredentialStore {
	return &SQLiteCredentialStore{db: db}
}

const principalColumns = "id, email, phone, password_hash, role, created_at"

// Insert stores a new principal, assigning an ID and creation time when
// they are unset. A duplicate email returns ErrEmailExists.
func (s *SQLiteCredentialStore) Insert(ctx context.Context, p *Principal) error {
	if !p.Role.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownRole, p.Role)
	}
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC().Truncate(time.Second)
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO principals (`+principalColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		p.ID.String(), p.Email, nullString(p.Phone), p.PasswordHash, string(p.Role),
		p.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrEmailExists
		}
		return fmt.Errorf("inserting principal: %w", err)
	}
	return nil
}

// GetByEmail returns the principal with exactly this email.
func (s *SQLiteCredentialStore) GetByEmail(ctx context.Context, email string) (*Principal, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+principalColumns+" FROM principals WHERE email = ?", email)
	return scanPrincipal(row)
}

// GetByID returns the principal with the given id.
func (s *SQLiteCredentialStore) GetByID(ctx context.Context, id uuid.UUID) (*Principal, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+principalColumns+" FROM principals WHERE id = ?", id.String())
	return scanPrincipal(row)
}

// ExistsByEmail reports whether a principal holds this email.
func (s *SQLiteCredentialStore) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	return s.exists(ctx, "SELECT EXISTS (SELECT 1 FROM principals WHERE email = ?)", email)
}

// ExistsByID reports whether a principal with this id exists.
func (s *SQLiteCredentialStore) ExistsByID(ctx context.Context, id uuid.UUID) (bool, error) {
	return s.exists(ctx, "SELECT EXISTS (SELECT 1 FROM principals WHERE id = ?)", id.String())
}

func (s *SQLiteCredentialStore) exists(ctx context.Context, query string, arg any) (bool, error) {
	var found int
	if err := s.db.QueryRowContext(ctx, query, arg).Scan(&found); err != nil {
		return false, fmt.Errorf("checking principal: %w", err)
	}
	return found == 1, nil
}

// List returns principals ordered by creation time. An empty role lists all.
func (s *SQLiteCredentialStore) List(ctx context.Context, role Role) ([]Principal, error) {
	query := "SELECT " + principalColumns + " FROM principals"
	var args []any
	if role != "" {
		query += " WHERE role = ?"
		args = append(args, string(role))
	}
	query += " ORDER BY created_at ASC, email ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing principals: %w", err)
	}
	defer rows.Close()

	principals := []Principal{}
	for rows.Next() {
		p, err := scanPrincipal(rows)
		if err != nil {
			return nil, err
		}
		principals = append(principals, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating principals: %w", err)
	}
	return principals, nil
}

// Count returns the number of principals.
func (s *SQLiteCredentialStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM principals").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting principals: %w", err)
	}
	return n, nil
}

// ResolvePrincipal reports whether id names an existing principal.
// It lets the device lifecycle manager validate assignments without
// importing this package's storage types.
func (s *SQLiteCredentialStore) ResolvePrincipal(ctx context.Context, id string) (bool, error) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return false, nil
	}
	return s.ExistsByID(ctx, parsed)
}

// scanner is an interface for sql.Row and sql.Rows Scan methods.
type scanner interface {
	Scan(dest ...any) error
}

func scanPrincipal(s scanner) (*Principal, error) {
	var p Principal
	var id, role, createdAt string
	var phone sql.NullString

	if err := s.Scan(&id, &p.Email, &phone, &p.PasswordHash, &role, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPrincipalNotFound
		}
		return nil, fmt.Errorf("scanning principal: %w", err)
	}

	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("parsing principal id %q: %w", id, err)
	}
	p.ID = parsed
	p.Role = Role(role)
	if phone.Valid {
		p.Phone = phone.String
	}
	p.CreatedAt, _ = time.Parse(time.RFC3339, createdAt) //nolint:errcheck // format is controlled
	return &p, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// isUniqueViolation checks if a SQLite error is a UNIQUE constraint violation.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
