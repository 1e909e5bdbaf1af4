// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package web

import (
	"context"
	"net"
	"net/http"

	"github.com/holomush/secrets/internal/auth"
)

type tokenKey struct{}

// requireSession rejects requests without a session cookie. Whether the token
// is still valid is decided by the auth service on each call.
func requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := readSessionToken(r)
		if !ok {
			writeError(w, r, http.StatusUnauthorized, msgAuthFailed)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), tokenKey{}, token)))
	})
}

func tokenFrom(ctx context.Context) string {
	token, _ := ctx.Value(tokenKey{}).(string)
	return token
}

// clientMeta describes the caller. RemoteAddr holds the forwarded address only
// when proxy headers are trusted.
func clientMeta(r *http.Request) auth.ClientMeta {
	ip := r.RemoteAddr
	if host, _, err := net.SplitHostPort(ip); err == nil {
		ip = host
	}
	return auth.ClientMeta{UserAgent: r.UserAgent(), IPAddress: ip}
}
