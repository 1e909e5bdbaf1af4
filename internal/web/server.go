// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package web

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/samber/oops"

	"github.com/holomush/secrets/internal/auth"
	"github.com/holomush/secrets/internal/federation"
)

// maxFormBytes bounds request bodies. The largest legitimate form is a
// secret note of auth.MaxSecretNoteLength bytes.
const maxFormBytes = 64 << 10

// RequestObserver receives one observation per served request.
type RequestObserver interface {
	ObserveHTTP(route string, code int, elapsed time.Duration)
}

// Server serves the HTTP API.
type Server struct {
	auth          *auth.Service
	providers     *federation.Registry
	observer      RequestObserver
	logger        *slog.Logger
	secureCookies bool
	trustProxy    bool
}

// Option configures a Server.
type Option func(*Server)

// WithProviders enables federated login through the registry's providers.
func WithProviders(r *federation.Registry) Option {
	return func(s *Server) {
		s.providers = r
	}
}

// WithObserver sets where request metrics are reported.
func WithObserver(o RequestObserver) Option {
	return func(s *Server) {
		s.observer = o
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithSecureCookies marks cookies Secure, for deployments behind TLS.
func WithSecureCookies(secure bool) Option {
	return func(s *Server) {
		s.secureCookies = secure
	}
}

// WithTrustProxyHeaders takes the client address from X-Forwarded-For or
// X-Real-IP. Enable it only behind a proxy that overwrites those headers.
func WithTrustProxyHeaders(trust bool) Option {
	return func(s *Server) {
		s.trustProxy = trust
	}
}

// NewServer creates a Server around svc.
func NewServer(svc *auth.Service, opts ...Option) (*Server, error) {
	if svc == nil {
		return nil, oops.Code("WEB_INVALID_CONFIG").Errorf("auth service is required")
	}
	s := &Server{auth: svc}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s, nil
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	if s.trustProxy {
		r.Use(middleware.RealIP)
	}
	r.Use(s.observe)
	r.Use(middleware.Recoverer)

	r.Post("/register", s.handleRegister)
	r.Post("/login", s.handleLogin)
	r.Post("/logout", s.handleLogout)

	r.Group(func(r chi.Router) {
		r.Use(requireSession)
		r.Post("/logout/all", s.handleLogoutAll)
		r.Get("/secrets", s.handleReadSecret)
		r.Post("/submit", s.handleWriteSecret)
	})

	r.Get("/auth/{provider}", s.handleFederatedStart)
	r.Get("/auth/{provider}/callback", s.handleFederatedCallback)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, http.StatusText(http.StatusNotFound))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, http.StatusText(http.StatusMethodNotAllowed))
	})

	return r
}

// observe logs every request and reports it to the observer, labelled with
// the matched route pattern so label cardinality stays bounded.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := routePattern(r)
		elapsed := time.Since(start)

		s.logger.DebugContext(r.Context(), "http request",
			"method", r.Method,
			"route", route,
			"status", status,
			"duration", elapsed,
			"request_id", middleware.GetReqID(r.Context()))
		if s.observer != nil {
			s.observer.ObserveHTTP(route, status, elapsed)
		}
	})
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unmatched"
}
