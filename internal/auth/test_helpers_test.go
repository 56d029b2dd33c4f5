package auth

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/nerrad567/farmra-core/internal/infrastructure/database"
	_ "github.com/nerrad567/farmra-core/migrations"
)

// testDB opens a temporary SQLite database with every migration applied.
func testDB(t *testing.T) *sql.DB {
	t.Helper()

	ctx := context.Background()
	db, err := database.Open(ctx, database.Config{
		Path:        filepath.Join(t.TempDir(), "auth.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("migrating test db: %v", err)
	}
	return db.DB
}

// seedTestPrincipal inserts a principal with the given password and role.
func seedTestPrincipal(t *testing.T, store CredentialStore, email, password string, role Role) *Principal {
	t.Helper()

	hash, err := HashPassword(password)
	if err != nil {
		t.Fatalf("hashing password: %v", err)
	}
	p := &Principal{Email: email, PasswordHash: hash, Role: role}
	if err := store.Insert(context.Background(), p); err != nil {
		t.Fatalf("inserting principal %s: %v", email, err)
	}
	return p
}

// fixedClock returns a clock frozen at t that advance can move forward.
type fixedClock struct{ t time.Time }

func (c *fixedClock) Now() time.Time          { return c.t }
func (c *fixedClock) advance(d time.Duration) { c.t = c.t.Add(d) }

// recordingLogger keeps the messages it was given.
type recordingLogger struct{ msgs []string }

func (l *recordingLogger) Debug(msg string, _ ...any) { l.msgs = append(l.msgs, msg) }
func (l *recordingLogger) Info(msg string, _ ...any)  { l.msgs = append(l.msgs, msg) }
func (l *recordingLogger) Warn(msg string, _ ...any)  { l.msgs = append(l.msgs, msg) }
func (l *recordingLogger) Error(msg string, _ ...any) { l.msgs = append(l.msgs, msg) }

func (l *recordingLogger) has(msg string) bool {
	for _, m := range l.msgs {
		if m == msg {
			return true
		}
	}
	return false
}
