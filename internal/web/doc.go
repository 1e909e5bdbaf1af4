// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package web exposes the authentication flows and the secret note over HTTP.
//
// Clients authenticate with a session token carried in the secrets_session
// cookie. Responses are JSON.
package web
