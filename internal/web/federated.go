// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package web

import (
	"crypto/rand"
	"encoding/base64"
	"net/http"

	"github.com/go-chi/chi/v5"
	"golang.org/x/oauth2"

	"github.com/holomush/secrets/internal/federation"
)

// PostLoginPath is where a browser lands after a federated login.
const PostLoginPath = "/secrets"

const stateBytes = 32

func (s *Server) provider(w http.ResponseWriter, r *http.Request) (*federation.Provider, bool) {
	name := chi.URLParam(r, "provider")
	p, ok := s.providers.Get(name)
	if !ok {
		writeError(w, r, http.StatusNotFound, msgUnknownIdP)
		return nil, false
	}
	return p, true
}

// handleFederatedStart redirects the browser to the provider's consent page.
func (s *Server) handleFederatedStart(w http.ResponseWriter, r *http.Request) {
	p, ok := s.provider(w, r)
	if !ok {
		return
	}

	state, err := randomState()
	if err != nil {
		s.logger.ErrorContext(r.Context(), "generate oauth state", "error", err)
		writeError(w, r, http.StatusServiceUnavailable, msgUnavailable)
		return
	}
	pending := oauthState{Provider: p.Name(), State: state, Verifier: oauth2.GenerateVerifier()}
	writeOAuthState(w, pending, s.secureCookies)

	http.Redirect(w, r, p.AuthCodeURL(pending.State, pending.Verifier), http.StatusFound)
}

// handleFederatedCallback completes the handshake and starts a session.
func (s *Server) handleFederatedCallback(w http.ResponseWriter, r *http.Request) {
	p, ok := s.provider(w, r)
	if !ok {
		return
	}

	// A mismatched callback keeps the cookie, so a forged request cannot
	// cancel a pending login. A matching one consumes it.
	pending, ok := readOAuthState(r)
	query := r.URL.Query()
	if !ok || !pending.matches(p.Name(), query.Get("state")) {
		s.logger.InfoContext(r.Context(), "federated login rejected",
			"provider", p.Name(), "reason", "state mismatch")
		writeError(w, r, http.StatusBadRequest, msgFederationBad)
		return
	}
	clearOAuthState(w, s.secureCookies)
	if denied := query.Get("error"); denied != "" {
		s.logger.InfoContext(r.Context(), "federated login rejected",
			"provider", p.Name(), "reason", denied)
		writeError(w, r, http.StatusUnauthorized, msgAuthFailed)
		return
	}
	code := query.Get("code")
	if code == "" {
		writeError(w, r, http.StatusBadRequest, msgBadRequest)
		return
	}

	profile, err := p.Authenticate(r.Context(), code, pending.Verifier)
	if err != nil {
		s.logger.WarnContext(r.Context(), "federated handshake failed",
			"provider", p.Name(), "error", err)
		writeError(w, r, http.StatusBadGateway, msgFederationBad)
		return
	}

	result, err := s.auth.FederatedLogin(r.Context(), profile, clientMeta(r))
	if err != nil {
		s.renderError(w, r, err)
		return
	}

	writeSessionToken(w, result.Token, result.Session.ExpiresAt, s.secureCookies)
	http.Redirect(w, r, PostLoginPath, http.StatusSeeOther)
}

func randomState() (string, error) {
	b := make([]byte, stateBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
