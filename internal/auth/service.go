// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/holomush/secrets/pkg/errutil"
)

const tracerName = "github.com/holomush/secrets/internal/auth"

// LoginResult is returned by every flow that authenticates a client.
type LoginResult struct {
	Account *Account
	Session *Session
	// Token is the plaintext session token for the client. It is not stored.
	Token string
}

// Service composes verification, federation and sessions into the public
// authentication flows.
type Service struct {
	accounts AccountRepository
	hasher   PasswordHasher
	verifier *CredentialVerifier
	resolver *IdentityResolver
	sessions *SessionManager
	recorder Recorder
	logger   *slog.Logger
	tracer   trace.Tracer
}

// NewService creates a new Service.
func NewService(accounts AccountRepository, sessions SessionRepository, hasher PasswordHasher, opts ...Option) (*Service, error) {
	if accounts == nil {
		return nil, oops.Code("AUTH_INVALID_CONFIG").Errorf("accounts repository is required")
	}
	if sessions == nil {
		return nil, oops.Code("AUTH_INVALID_CONFIG").Errorf("sessions repository is required")
	}
	if hasher == nil {
		return nil, oops.Code("AUTH_INVALID_CONFIG").Errorf("password hasher is required")
	}

	s := newSettings(opts)

	verifier, err := NewCredentialVerifier(accounts, hasher, opts...)
	if err != nil {
		return nil, err
	}
	resolver, err := NewIdentityResolver(accounts, opts...)
	if err != nil {
		return nil, err
	}
	manager, err := NewSessionManager(accounts, sessions, opts...)
	if err != nil {
		return nil, err
	}

	return &Service{
		accounts: accounts,
		hasher:   hasher,
		verifier: verifier,
		resolver: resolver,
		sessions: manager,
		recorder: s.recorder,
		logger:   s.logger,
		tracer:   otel.Tracer(tracerName),
	}, nil
}

// Sessions exposes the session manager for maintenance tasks.
func (s *Service) Sessions() *SessionManager {
	return s.sessions
}

// Register creates an account with a local password and logs it in.
func (s *Service) Register(ctx context.Context, email, password string, meta ClientMeta) (result *LoginResult, err error) {
	ctx, span := s.tracer.Start(ctx, "auth.Register")
	defer func() { s.finish(span, FlowRegister, err) }()

	if err := ValidatePassword(password); err != nil {
		return nil, err
	}
	normalized := NormalizeEmail(email)
	if err := ValidateEmail(normalized); err != nil {
		return nil, err
	}

	_, lookupErr := s.accounts.GetByEmail(ctx, normalized)
	switch {
	case lookupErr == nil:
		return nil, oops.Code(CodeAlreadyRegistered).Wrap(ErrAlreadyRegistered)
	case !errors.Is(lookupErr, ErrNotFound):
		return nil, storeUnavailable(s.logger, "get account by email", lookupErr)
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		errutil.LogErrorContext(ctx, s.logger, "password hashing failed", err)
		return nil, oops.Code(CodeHashFailed).With("operation", "hash password").Wrap(err)
	}

	account, err := NewAccount(normalized, &hash)
	if err != nil {
		return nil, err
	}

	if err := s.accounts.Create(ctx, account); err != nil {
		if errors.Is(err, ErrConflict) {
			// Lost a race with a concurrent registration or federated login.
			return nil, oops.Code(CodeAlreadyRegistered).Wrap(ErrAlreadyRegistered)
		}
		return nil, storeUnavailable(s.logger, "create account", err)
	}

	s.logger.InfoContext(ctx, "account registered", "account_id", account.ID.String())

	return s.startSession(ctx, FlowRegister, account, meta)
}

// Login verifies a local password and starts a session. Every credential
// failure is returned as ErrInvalidCredentials; the specific reason is logged.
func (s *Service) Login(ctx context.Context, email, password string, meta ClientMeta) (result *LoginResult, err error) {
	ctx, span := s.tracer.Start(ctx, "auth.Login")
	defer func() { s.finish(span, FlowLogin, err) }()

	account, err := s.verifier.VerifyLocal(ctx, email, password)
	if err != nil {
		if IsCredentialFailure(err) {
			s.logger.InfoContext(ctx, "login rejected", "reason", reasonCode(err))
			return nil, oops.Code(CodeInvalidCredentials).Wrap(ErrInvalidCredentials)
		}
		if errors.Is(err, ErrStoreUnavailable) {
			return nil, err
		}
		errutil.LogErrorContext(ctx, s.logger, "login verification failed", err)
		return nil, oops.Code("AUTH_LOGIN_FAILED").With("operation", "verify credentials").Wrap(err)
	}

	s.upgradeHash(ctx, account, password)

	return s.startSession(ctx, FlowLogin, account, meta)
}

// FederatedLogin resolves a provider profile to an account, creating one on
// first sight of the email, and starts a session.
func (s *Service) FederatedLogin(ctx context.Context, profile FederatedProfile, meta ClientMeta) (result *LoginResult, err error) {
	ctx, span := s.tracer.Start(ctx, "auth.FederatedLogin",
		trace.WithAttributes(attribute.String("auth.provider", profile.Provider)))
	defer func() { s.finish(span, FlowFederated, err) }()

	account, err := s.resolver.ResolveFederated(ctx, profile)
	if err != nil {
		return nil, err
	}
	return s.startSession(ctx, FlowFederated, account, meta)
}

// Logout invalidates the session behind token. It is idempotent.
func (s *Service) Logout(ctx context.Context, token string) error {
	return s.sessions.Invalidate(ctx, token)
}

// LogoutAll invalidates every session of the account behind token.
func (s *Service) LogoutAll(ctx context.Context, token string) error {
	account, err := s.CurrentAccount(ctx, token)
	if err != nil {
		return err
	}
	return s.sessions.InvalidateAll(ctx, account.ID)
}

// CurrentAccount returns the account the token is authenticated as, or an
// error wrapping ErrUnauthenticated.
func (s *Service) CurrentAccount(ctx context.Context, token string) (*Account, error) {
	identity, ok, err := s.sessions.Resolve(ctx, token)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, oops.Code(CodeUnauthenticated).Wrap(ErrUnauthenticated)
	}
	return identity.Account, nil
}

// ReadSecret returns the secret note of the authenticated account. A nil note
// means none has been written.
func (s *Service) ReadSecret(ctx context.Context, token string) (*string, error) {
	account, err := s.CurrentAccount(ctx, token)
	if err != nil {
		return nil, err
	}
	return account.SecretNote, nil
}

// WriteSecret replaces the secret note of the authenticated account. With
// concurrent writers the last write wins.
func (s *Service) WriteSecret(ctx context.Context, token, text string) error {
	account, err := s.CurrentAccount(ctx, token)
	if err != nil {
		return err
	}
	if len(text) > MaxSecretNoteLength {
		return oops.Code("AUTH_INVALID_SECRET").
			With("max", MaxSecretNoteLength).
			Wrapf(ErrInvalidInput, "secret must be at most %d bytes", MaxSecretNoteLength)
	}
	if !utf8.ValidString(text) || strings.ContainsRune(text, 0) {
		return oops.Code("AUTH_INVALID_SECRET").
			Wrapf(ErrInvalidInput, "secret must be UTF-8 text without NUL bytes")
	}
	if err := s.accounts.UpdateSecretNote(ctx, account.ID, &text); err != nil {
		return storeUnavailable(s.logger, "update secret note", err)
	}
	return nil
}

func (s *Service) startSession(ctx context.Context, flow string, account *Account, meta ClientMeta) (*LoginResult, error) {
	session, token, err := s.sessions.Start(ctx, account, meta)
	if err != nil {
		return nil, err
	}
	s.recorder.RecordSessionStarted(flow)
	return &LoginResult{Account: account, Session: session, Token: token}, nil
}

// upgradeHash re-hashes a verified password when the stored hash uses an
// outdated algorithm or cost. Failure leaves the old, still valid hash.
func (s *Service) upgradeHash(ctx context.Context, account *Account, password string) {
	if !account.HasLocalCredential() || !s.hasher.NeedsUpgrade(*account.PasswordHash) {
		return
	}
	newHash, err := s.hasher.Hash(password)
	if err != nil {
		s.logger.WarnContext(ctx, "password hash upgrade failed",
			"account_id", account.ID.String(), "error", err)
		return
	}
	if err := s.accounts.UpdatePassword(ctx, account.ID, newHash); err != nil {
		s.logger.WarnContext(ctx, "storing upgraded password hash failed",
			"account_id", account.ID.String(), "error", err)
		return
	}
	account.PasswordHash = &newHash
	s.logger.InfoContext(ctx, "password hash upgraded", "account_id", account.ID.String())
}

// finish ends a flow span and records the outcome.
func (s *Service) finish(span trace.Span, flow string, err error) {
	defer span.End()

	outcome := OutcomeSuccess
	switch {
	case err == nil:
	case errors.Is(err, ErrStoreUnavailable):
		outcome = OutcomeUnavailable
	case IsCredentialFailure(err), errors.Is(err, ErrAlreadyRegistered), errors.Is(err, ErrInvalidInput):
		outcome = OutcomeRejected
	default:
		outcome = OutcomeUnavailable
	}
	if err != nil {
		span.SetStatus(codes.Error, outcome)
	}
	span.SetAttributes(attribute.String("auth.outcome", outcome))
	s.recorder.RecordAttempt(flow, outcome)
}

// reasonCode extracts the oops code of a credential failure for logging.
func reasonCode(err error) string {
	if oopsErr, ok := oops.AsOops(err); ok {
		if code, ok := oopsErr.Code().(string); ok {
			return code
		}
	}
	return "unknown"
}
