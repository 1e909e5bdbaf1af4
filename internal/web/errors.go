// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package web

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/render"

	"github.com/holomush/secrets/internal/auth"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Client-facing error messages. They never say which part of a login was wrong.
const (
	msgAuthFailed    = "authentication failed"
	msgRegistered    = "account already registered"
	msgUnavailable   = "service unavailable"
	msgBadRequest    = "invalid request"
	msgUnknownIdP    = "unknown identity provider"
	msgFederationBad = "federated login failed"
)

// statusFor maps an auth error to its HTTP status and public message.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials),
		errors.Is(err, auth.ErrUnauthenticated),
		auth.IsCredentialFailure(err):
		return http.StatusUnauthorized, msgAuthFailed
	case errors.Is(err, auth.ErrAlreadyRegistered):
		return http.StatusConflict, msgRegistered
	case errors.Is(err, auth.ErrInvalidInput):
		return http.StatusBadRequest, inputMessage(err)
	default:
		return http.StatusServiceUnavailable, msgUnavailable
	}
}

// inputMessage returns the validation message of err, which names the field
// but never echoes its value.
func inputMessage(err error) string {
	msg := strings.TrimSuffix(err.Error(), ": "+auth.ErrInvalidInput.Error())
	if msg == "" || msg == auth.ErrInvalidInput.Error() {
		return msgBadRequest
	}
	return msg
}

func (s *Server) renderError(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.ErrorContext(r.Context(), "request failed",
			"route", routePattern(r),
			"status", status,
			"error", err)
	}
	if errors.Is(err, auth.ErrUnauthenticated) {
		clearSessionToken(w, s.secureCookies)
	}
	writeError(w, r, status, msg)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	render.Status(r, status)
	render.JSON(w, r, ErrorResponse{Error: msg})
}
