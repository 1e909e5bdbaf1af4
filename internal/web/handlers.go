// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package web

import (
	"net/http"
	"time"

	"github.com/go-chi/render"

	"github.com/holomush/secrets/internal/auth"
)

// SessionResponse is returned after a successful registration or login.
type SessionResponse struct {
	AccountID string    `json:"account_id"`
	Email     string    `json:"email"`
	ExpiresAt time.Time `json:"expires_at"`
}

// SecretResponse carries the secret note. Secret is null until one is written.
type SecretResponse struct {
	Secret *string `json:"secret"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	email, password, ok := credentialsForm(w, r)
	if !ok {
		return
	}
	result, err := s.auth.Register(r.Context(), email, password, clientMeta(r))
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	s.startSession(w, r, http.StatusCreated, result)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	email, password, ok := credentialsForm(w, r)
	if !ok {
		return
	}
	result, err := s.auth.Login(r.Context(), email, password, clientMeta(r))
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	s.startSession(w, r, http.StatusOK, result)
}

// handleLogout always clears the cookie, even without a valid session.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if token, ok := readSessionToken(r); ok {
		if err := s.auth.Logout(r.Context(), token); err != nil {
			s.renderError(w, r, err)
			return
		}
	}
	clearSessionToken(w, s.secureCookies)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	if err := s.auth.LogoutAll(r.Context(), tokenFrom(r.Context())); err != nil {
		s.renderError(w, r, err)
		return
	}
	clearSessionToken(w, s.secureCookies)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleReadSecret(w http.ResponseWriter, r *http.Request) {
	note, err := s.auth.ReadSecret(r.Context(), tokenFrom(r.Context()))
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	render.JSON(w, r, SecretResponse{Secret: note})
}

func (s *Server) handleWriteSecret(w http.ResponseWriter, r *http.Request) {
	if !parseForm(w, r) {
		return
	}
	secret := r.PostForm.Get("secret")
	if err := s.auth.WriteSecret(r.Context(), tokenFrom(r.Context()), secret); err != nil {
		s.renderError(w, r, err)
		return
	}
	render.JSON(w, r, SecretResponse{Secret: &secret})
}

func (s *Server) startSession(w http.ResponseWriter, r *http.Request, status int, result *auth.LoginResult) {
	writeSessionToken(w, result.Token, result.Session.ExpiresAt, s.secureCookies)
	render.Status(r, status)
	render.JSON(w, r, SessionResponse{
		AccountID: result.Account.ID.String(),
		Email:     result.Account.Email,
		ExpiresAt: result.Session.ExpiresAt,
	})
}

// credentialsForm reads the username and password form fields. The username
// is the account email.
func credentialsForm(w http.ResponseWriter, r *http.Request) (email, password string, ok bool) {
	if !parseForm(w, r) {
		return "", "", false
	}
	return r.PostForm.Get("username"), r.PostForm.Get("password"), true
}

func parseForm(w http.ResponseWriter, r *http.Request) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
	if err := r.ParseForm(); err != nil {
		writeError(w, r, http.StatusBadRequest, msgBadRequest)
		return false
	}
	return true
}
