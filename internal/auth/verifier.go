// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"crypto/rand"
	"errors"
	"log/slog"
	"sync"

	"github.com/samber/oops"
)

// CredentialVerifier checks an email and password against the stored account.
type CredentialVerifier struct {
	accounts AccountRepository
	hasher   PasswordHasher
	logger   *slog.Logger

	// dummy is verified when there is no real hash to check, so the time
	// taken does not reveal whether an email is registered. It is produced
	// by hasher, so it carries the configured cost, and matches no password
	// a client can know.
	dummyMu sync.Mutex
	dummy   string
}

// NewCredentialVerifier creates a CredentialVerifier.
func NewCredentialVerifier(accounts AccountRepository, hasher PasswordHasher, opts ...Option) (*CredentialVerifier, error) {
	if accounts == nil {
		return nil, oops.Code("AUTH_INVALID_CONFIG").Errorf("accounts repository is required")
	}
	if hasher == nil {
		return nil, oops.Code("AUTH_INVALID_CONFIG").Errorf("password hasher is required")
	}
	s := newSettings(opts)
	return &CredentialVerifier{accounts: accounts, hasher: hasher, logger: s.logger}, nil
}

// VerifyLocal resolves email and password to an account. Failures wrap
// ErrNotRegistered, ErrNoLocalCredential, ErrWrongSecret or ErrStoreUnavailable.
// The three credential failures are distinguishable here and must be collapsed
// into one generic error before reaching a client.
func (v *CredentialVerifier) VerifyLocal(ctx context.Context, email, password string) (*Account, error) {
	normalized := NormalizeEmail(email)

	account, err := v.accounts.GetByEmail(ctx, normalized)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, storeUnavailable(v.logger, "get account by email", err)
	}

	registered := err == nil
	hasCredential := registered && account.HasLocalCredential()

	var targetHash string
	if hasCredential {
		targetHash = *account.PasswordHash
	} else {
		targetHash, err = v.dummyHash()
		if err != nil {
			return nil, err
		}
	}

	// Always verify so every path costs one hash computation.
	valid, verifyErr := v.hasher.Verify(password, targetHash)

	switch {
	case !registered:
		return nil, oops.Code(CodeNotRegistered).
			With("email", normalized).
			Wrap(ErrNotRegistered)
	case !hasCredential:
		return nil, oops.Code(CodeNoLocalCredential).
			With("account_id", account.ID.String()).
			Wrap(ErrNoLocalCredential)
	case verifyErr != nil:
		return nil, oops.Code("AUTH_VERIFY_FAILED").
			With("operation", "verify password").
			With("account_id", account.ID.String()).
			Wrap(verifyErr)
	case !valid:
		return nil, oops.Code(CodeWrongSecret).
			With("account_id", account.ID.String()).
			Wrap(ErrWrongSecret)
	}

	return account, nil
}

// dummyHash returns the cached dummy hash, creating it on first use. A failed
// attempt is retried on the next call.
func (v *CredentialVerifier) dummyHash() (string, error) {
	v.dummyMu.Lock()
	defer v.dummyMu.Unlock()

	if v.dummy != "" {
		return v.dummy, nil
	}
	hash, err := v.hasher.Hash(rand.Text())
	if err != nil {
		return "", oops.Code(CodeHashFailed).With("operation", "hash dummy password").Wrap(err)
	}
	v.dummy = hash
	return hash, nil
}
