// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package web

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"
)

const (
	// SessionCookieName carries the plaintext session token.
	SessionCookieName = "secrets_session"
	// OAuthCookieName carries the pending federated login state and PKCE verifier.
	OAuthCookieName = "secrets_oauth"

	oauthCookieTTL  = 10 * time.Minute
	oauthCookiePath = "/auth/"
)

// readSessionToken returns the session token from r.
func readSessionToken(r *http.Request) (string, bool) {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil {
		return "", false
	}
	token := strings.TrimSpace(cookie.Value)
	if token == "" {
		return "", false
	}
	return token, true
}

// writeSessionToken sets the session cookie to expire with the session.
func writeSessionToken(w http.ResponseWriter, token string, expiresAt time.Time, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    token,
		Path:     "/",
		Expires:  expiresAt,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// clearSessionToken removes the session cookie.
func clearSessionToken(w http.ResponseWriter, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// oauthState is the pending state of a federated login between the redirect
// to the provider and its callback.
type oauthState struct {
	Provider string
	State    string
	Verifier string
}

// encode joins the fields with dots. State and verifier are base64url and
// never contain one, so the provider name goes last.
func (s oauthState) encode() string {
	return s.State + "." + s.Verifier + "." + s.Provider
}

func decodeOAuthState(value string) (oauthState, bool) {
	parts := strings.SplitN(value, ".", 3)
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return oauthState{}, false
	}
	return oauthState{State: parts[0], Verifier: parts[1], Provider: parts[2]}, true
}

// matches reports whether the callback for provider carried the expected state.
func (s oauthState) matches(provider, state string) bool {
	if s.Provider != provider {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(s.State), []byte(state)) == 1
}

func readOAuthState(r *http.Request) (oauthState, bool) {
	cookie, err := r.Cookie(OAuthCookieName)
	if err != nil {
		return oauthState{}, false
	}
	return decodeOAuthState(strings.TrimSpace(cookie.Value))
}

func writeOAuthState(w http.ResponseWriter, s oauthState, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     OAuthCookieName,
		Value:    s.encode(),
		Path:     oauthCookiePath,
		MaxAge:   int(oauthCookieTTL.Seconds()),
		HttpOnly: true,
		Secure:   secure,
		// Lax so the cookie survives the top-level redirect back from the provider.
		SameSite: http.SameSiteLaxMode,
	})
}

func clearOAuthState(w http.ResponseWriter, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     OAuthCookieName,
		Value:    "",
		Path:     oauthCookiePath,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}
