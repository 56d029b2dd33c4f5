package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// DefaultTokenTTL is used when a codec is built with a non-positive TTL.
const DefaultTokenTTL = 120 * time.Minute

// Claims is the signed payload of a session token.
type Claims struct {
	jwt.RegisteredClaims
	Role Role `json:"role"`
}

// TokenCodec mints and verifies HS256 session tokens. It holds no
// mutable state and is safe for concurrent use.
type TokenCodec struct {
	secret []byte
	ttl    time.Duration
	leeway time.Duration
}

// NewTokenCodec builds a codec signing with secret. leeway is the clock
// skew tolerated when checking expiry.
func NewTokenCodec(secret string, ttl, leeway time.Duration) (*TokenCodec, error) {
	if secret == "" {
		return nil, errors.New("token secret is empty")
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	if leeway < 0 {
		leeway = 0
	}
	return &TokenCodec{secret: []byte(secret), ttl: ttl, leeway: leeway}, nil
}

// TTL returns the lifetime of minted tokens.
func (c *TokenCodec) TTL() time.Duration { return c.ttl }

// Mint signs a token for subject and role issued at now. The returned
// expiry is the exact exp claim, truncated to whole seconds.
func (c *TokenCodec) Mint(subject string, role Role, now time.Time) (string, time.Time, error) {
	if subject == "" {
		return "", time.Time{}, fmt.Errorf("%w: empty subject", ErrTokenInvalid)
	}
	if !role.Valid() {
		return "", time.Time{}, fmt.Errorf("%w: %q", ErrUnknownRole, role)
	}

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.ttl)),
			ID:        uuid.NewString(),
		},
		Role: role,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("signing token: %w", err)
	}
	return signed, claims.ExpiresAt.Time, nil
}

// Verify checks the signature and expiry of token as of now and returns
// its claims. A token is valid up to and including its expiry instant.
// Expired tokens fail with an error matching both
// ErrTokenExpired and ErrTokenInvalid.
func (c *TokenCodec) Verify(token string, now time.Time) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(*jwt.Token) (any, error) {
		return c.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(func() time.Time { return now }),
		// jwt rejects now == exp; the extra nanosecond keeps exp itself valid.
		jwt.WithLeeway(c.leeway+time.Nanosecond),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithStrictDecoding(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %w", ErrTokenInvalid, ErrTokenExpired)
		}
		return nil, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrTokenInvalid
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrTokenInvalid)
	}
	if !claims.Role.Valid() {
		return nil, fmt.Errorf("%w: unknown role %q", ErrTokenInvalid, claims.Role)
	}
	return claims, nil
}
