// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package auth provides accounts, credentials and sessions for the secrets
// service.
//
// # Domain Types
//
// Domain types (Account, Session) should be created using their respective
// constructors:
//   - NewAccount - creates an Account with a normalized, validated email and an
//     optional password hash
//   - NewSession - creates a Session with validated account and expiry
//
// Direct struct initialization bypasses validation and may create invalid state.
// Repository implementations receive pre-validated types from these constructors.
//
// # Components
//
// Components coordinate domain operations:
//   - CredentialVerifier - local email and password checks
//   - IdentityResolver - maps federated profiles onto accounts by email
//   - SessionManager - issues, resolves and invalidates session tokens
//   - Service - registration, login, federated login, logout and the
//     secret note
//
// Components are created with New* constructors that validate dependencies.
//
// # Errors
//
// Failures wrap the sentinels in errors.go and are classified with errors.Is.
// Local credential failures (not registered, no local credential, wrong
// password) are distinct inside the package and collapse to
// ErrInvalidCredentials at the Service boundary.
package auth
