package auth

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	validation "github.com/go-ozzo/ozzo-validation"
)

var (
	emailPattern = regexp.MustCompile(`^[A-Za-z0-9+_.-]+@[A-Za-z0-9.-]+$`)
	phonePattern = regexp.MustCompile(`^\d{10,15}$`)
)

// PasswordPolicy is the minimum strength a new password must meet.
type PasswordPolicy struct {
	MinLength     int
	RequireUpper  bool
	RequireDigit  bool
	RequireSymbol bool
	Symbols       string
}

// DefaultPasswordPolicy requires eight characters with an uppercase
// letter, a digit and one of @$!%*?&.
func DefaultPasswordPolicy() PasswordPolicy {
	return PasswordPolicy{
		MinLength:     8,
		RequireUpper:  true,
		RequireDigit:  true,
		RequireSymbol: true,
		Symbols:       "@$!%*?&",
	}
}

// Check returns nil when password satisfies the policy, otherwise one
// error naming every unmet requirement.
func (p PasswordPolicy) Check(password string) error {
	var missing []string

	if len([]rune(password)) < p.MinLength {
		missing = append(missing, fmt.Sprintf("at least %d characters", p.MinLength))
	}
	if p.RequireUpper && !strings.ContainsFunc(password, unicode.IsUpper) {
		missing = append(missing, "an uppercase letter")
	}
	if p.RequireDigit && !strings.ContainsFunc(password, unicode.IsDigit) {
		missing = append(missing, "a digit")
	}
	if p.RequireSymbol && !strings.ContainsAny(password, p.Symbols) {
		missing = append(missing, "one of "+p.Symbols)
	}

	if len(missing) == 0 {
		return nil
	}
	return errors.New("must contain " + strings.Join(missing, ", "))
}

// rule adapts the policy to an ozzo-validation rule.
func (p PasswordPolicy) rule() validation.Rule {
	return validation.By(func(value interface{}) error {
		s, _ := value.(string)
		return p.Check(s)
	})
}

// SignupRequest is the self-service registration payload.
type SignupRequest struct {
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

// Normalize trims surrounding whitespace from the email and phone.
// Email matching stays case-sensitive.
func (r *SignupRequest) Normalize() {
	r.Email = strings.TrimSpace(r.Email)
	r.Phone = strings.TrimSpace(r.Phone)
}

// Validate checks the request against the syntactic rules and policy.
// The returned error wraps ErrInvalidInput.
func (r SignupRequest) Validate(policy PasswordPolicy) error {
	err := validation.ValidateStruct(&r,
		validation.Field(&r.Email,
			validation.Required,
			validation.Length(3, 254),
			validation.Match(emailPattern).Error("must be a valid email address"),
		),
		validation.Field(&r.Phone,
			validation.Match(phonePattern).Error("must be 10 to 15 digits"),
		),
		validation.Field(&r.Password,
			validation.Required,
			policy.rule(),
		),
	)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	return nil
}

// LoginRequest is the credential pair submitted to log in.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Normalize trims surrounding whitespace from the email, as signup does.
func (r *LoginRequest) Normalize() {
	r.Email = strings.TrimSpace(r.Email)
}

// Validate rejects a request with an empty email or password.
func (r LoginRequest) Validate() error {
	err := validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required),
		validation.Field(&r.Password, validation.Required),
	)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	return nil
}
