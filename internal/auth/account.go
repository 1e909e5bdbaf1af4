// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"net/mail"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Input limits.
const (
	MaxEmailLength      = 254
	MaxPasswordLength   = 256
	MaxSecretNoteLength = 4096
)

// Account is the durable identity record shared by local and federated logins.
type Account struct {
	ID    ulid.ULID
	Email string
	// PasswordHash is nil for accounts created through federation only.
	PasswordHash *string
	SecretNote   *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NewAccount creates a validated Account. passwordHash may be nil for a
// federation-only account but must not be blank when provided.
func NewAccount(email string, passwordHash *string) (*Account, error) {
	normalized := NormalizeEmail(email)
	if err := ValidateEmail(normalized); err != nil {
		return nil, err
	}
	if passwordHash != nil && strings.TrimSpace(*passwordHash) == "" {
		return nil, oops.Code("AUTH_INVALID_PASSWORD").
			Wrapf(ErrInvalidInput, "password hash cannot be blank when provided")
	}

	now := time.Now()
	return &Account{
		ID:           ulid.Make(),
		Email:        normalized,
		PasswordHash: passwordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// HasLocalCredential reports whether the account can log in with a password.
func (a *Account) HasLocalCredential() bool {
	return a.PasswordHash != nil && *a.PasswordHash != ""
}

// NormalizeEmail trims surrounding whitespace and lower-cases the address so
// the same mailbox always maps to the same account.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidateEmail checks that email is a bare, normalized address.
func ValidateEmail(email string) error {
	if email == "" {
		return oops.Code("AUTH_INVALID_EMAIL").Wrapf(ErrInvalidInput, "email cannot be empty")
	}
	if len(email) > MaxEmailLength {
		return oops.Code("AUTH_INVALID_EMAIL").
			With("max", MaxEmailLength).
			Wrapf(ErrInvalidInput, "email must be at most %d characters", MaxEmailLength)
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || addr.Name != "" {
		return oops.Code("AUTH_INVALID_EMAIL").Wrapf(ErrInvalidInput, "email is not a valid address")
	}
	return nil
}

// ValidatePassword checks a plaintext password before it is hashed.
func ValidatePassword(password string) error {
	if password == "" {
		return oops.Code("AUTH_INVALID_PASSWORD").Wrapf(ErrInvalidInput, "password cannot be empty")
	}
	if len(password) > MaxPasswordLength {
		return oops.Code("AUTH_INVALID_PASSWORD").
			With("max", MaxPasswordLength).
			Wrapf(ErrInvalidInput, "password must be at most %d bytes", MaxPasswordLength)
	}
	return nil
}

// AccountRepository manages account persistence.
//
// Implementations must enforce email uniqueness themselves (a constraint, not a
// check-then-insert) and report a violation with an error wrapping ErrConflict.
type AccountRepository interface {
	// Create stores a new account.
	Create(ctx context.Context, account *Account) error

	// GetByID retrieves an account by ID.
	GetByID(ctx context.Context, id ulid.ULID) (*Account, error)

	// GetByEmail retrieves an account by normalized email.
	// Returns ErrNotFound if no account has the given email.
	GetByEmail(ctx context.Context, email string) (*Account, error)

	// UpdateSecretNote replaces the secret note. A nil note clears it.
	UpdateSecretNote(ctx context.Context, id ulid.ULID, note *string) error

	// UpdatePassword replaces the password hash.
	UpdatePassword(ctx context.Context, id ulid.ULID, passwordHash string) error
}
