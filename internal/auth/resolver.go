// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"

	"github.com/samber/oops"
)

// FederatedProfile is the identity an external provider vouched for, already
// decoded from the provider's protocol.
type FederatedProfile struct {
	Provider      string
	Subject       string
	Email         string
	EmailVerified bool
	DisplayName   string
	Attributes    map[string]string
}

// IdentityResolver maps federated profiles onto local accounts. It is the only
// place local and federated identities merge, always on the normalized email.
type IdentityResolver struct {
	accounts AccountRepository
	logger   *slog.Logger
}

// NewIdentityResolver creates an IdentityResolver.
func NewIdentityResolver(accounts AccountRepository, opts ...Option) (*IdentityResolver, error) {
	if accounts == nil {
		return nil, oops.Code("AUTH_INVALID_CONFIG").Errorf("accounts repository is required")
	}
	s := newSettings(opts)
	return &IdentityResolver{accounts: accounts, logger: s.logger}, nil
}

// ResolveFederated finds the account for profile's email or creates one with
// no local credential. An existing account is returned unchanged, keeping its
// password hash and secret note.
func (r *IdentityResolver) ResolveFederated(ctx context.Context, profile FederatedProfile) (*Account, error) {
	email := NormalizeEmail(profile.Email)
	if err := ValidateEmail(email); err != nil {
		return nil, oops.Code("AUTH_FEDERATED_PROFILE_INVALID").
			With("provider", profile.Provider).
			Wrap(err)
	}
	if !profile.EmailVerified {
		return nil, oops.Code("AUTH_FEDERATED_PROFILE_INVALID").
			With("provider", profile.Provider).
			Wrapf(ErrInvalidInput, "provider did not verify the email address")
	}

	account, err := r.lookup(ctx, email)
	if err != nil {
		return nil, err
	}
	if account != nil {
		return account, nil
	}

	account, err = NewAccount(email, nil)
	if err != nil {
		return nil, err
	}

	err = r.accounts.Create(ctx, account)
	switch {
	case err == nil:
		r.logger.InfoContext(ctx, "created account from federated login",
			"account_id", account.ID.String(),
			"provider", profile.Provider)
		return account, nil
	case errors.Is(err, ErrConflict):
		// Another request created the account first; use theirs.
		existing, lookupErr := r.lookup(ctx, email)
		if lookupErr != nil {
			return nil, lookupErr
		}
		if existing == nil {
			return nil, storeUnavailable(r.logger, "re-read account after conflict", err)
		}
		return existing, nil
	default:
		return nil, storeUnavailable(r.logger, "create federated account", err)
	}
}

// lookup returns (nil, nil) when no account has email.
func (r *IdentityResolver) lookup(ctx context.Context, email string) (*Account, error) {
	account, err := r.accounts.GetByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, storeUnavailable(r.logger, "get account by email", err)
	}
	return account, nil
}
