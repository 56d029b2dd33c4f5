package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// seedPasswordBytes is the number of random bytes for the seed password.
const seedPasswordBytes = 16

// SeedPrincipal creates the bootstrap principal when the credential store
// is empty. The generated password is logged once and must be changed.
// It returns the password, or "" when seeding was skipped.
func SeedPrincipal(ctx context.Context, store CredentialStore, email string, role Role, logger Logger) (string, error) {
	if logger == nil {
		logger = noopLogger{}
	}

	count, err := store.Count(ctx)
	if err != nil {
		return "", fmt.Errorf("checking principal count: %w", err)
	}
	if count > 0 {
		logger.Info("principals exist, skipping seed")
		return "", nil
	}
	if email == "" {
		logger.Warn("credential store is empty and no seed email is configured")
		return "", nil
	}
	if role == "" {
		role = RoleAdmin
	}

	buf := make([]byte, seedPasswordBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating seed password: %w", err)
	}
	password := hex.EncodeToString(buf)

	hash, err := HashPassword(password)
	if err != nil {
		return "", fmt.Errorf("hashing seed password: %w", err)
	}

	p := &Principal{Email: email, PasswordHash: hash, Role: role}
	if err := store.Insert(ctx, p); err != nil {
		return "", fmt.Errorf("creating seed principal: %w", err)
	}

	logger.Warn("seed principal created",
		"email", email,
		"role", role,
		"password", password,
		"action_required", "change this password immediately",
	)
	return password, nil
}
