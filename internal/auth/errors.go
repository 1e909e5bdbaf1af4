// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"errors"
	"log/slog"

	"github.com/samber/oops"

	"github.com/holomush/secrets/pkg/errutil"
)

// Storage sentinels returned (wrapped) by repository implementations.
var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when a write violates a uniqueness constraint.
	ErrConflict = errors.New("conflict")
)

// Failure kinds surfaced by the auth components. Callers classify with errors.Is;
// the oops code on the wrapping error carries the same information for logs.
var (
	ErrNotRegistered      = errors.New("account not registered")
	ErrNoLocalCredential  = errors.New("account has no local credential")
	ErrWrongSecret        = errors.New("wrong password")
	ErrAlreadyRegistered  = errors.New("account already registered")
	ErrStoreUnavailable   = errors.New("store unavailable")
	ErrUnauthenticated    = errors.New("unauthenticated")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrInvalidInput       = errors.New("invalid input")
)

// Error codes attached with oops.Code.
const (
	CodeNotRegistered      = "AUTH_NOT_REGISTERED"
	CodeNoLocalCredential  = "AUTH_NO_LOCAL_CREDENTIAL"
	CodeWrongSecret        = "AUTH_WRONG_SECRET"
	CodeAlreadyRegistered  = "AUTH_ALREADY_REGISTERED"
	CodeStoreUnavailable   = "AUTH_STORE_UNAVAILABLE"
	CodeUnauthenticated    = "AUTH_UNAUTHENTICATED"
	CodeInvalidCredentials = "AUTH_INVALID_CREDENTIALS"
	CodeHashFailed         = "AUTH_HASH_FAILED"
)

// IsCredentialFailure reports whether err is one of the local verification
// failures that must be presented to clients as a generic authentication error.
func IsCredentialFailure(err error) bool {
	return errors.Is(err, ErrNotRegistered) ||
		errors.Is(err, ErrNoLocalCredential) ||
		errors.Is(err, ErrWrongSecret) ||
		errors.Is(err, ErrInvalidCredentials)
}

// storeUnavailable logs the full store error and returns an opaque error that
// only tells the caller the store could not serve the request.
func storeUnavailable(logger *slog.Logger, operation string, err error) error {
	errutil.LogError(logger, "auth store failure", oops.With("operation", operation).Wrap(err))
	return oops.Code(CodeStoreUnavailable).
		With("operation", operation).
		Wrap(ErrStoreUnavailable)
}
