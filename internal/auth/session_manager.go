// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Identity is a resolved session together with the current state of its account.
type Identity struct {
	Account *Account
	Session *Session
}

// SessionManager owns session validity: issuing tokens, resolving them back
// to accounts, and invalidating them. Expiry is checked lazily on Resolve.
type SessionManager struct {
	accounts AccountRepository
	sessions SessionRepository
	ttl      time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

// NewSessionManager creates a SessionManager.
func NewSessionManager(accounts AccountRepository, sessions SessionRepository, opts ...Option) (*SessionManager, error) {
	if accounts == nil {
		return nil, oops.Code("AUTH_INVALID_CONFIG").Errorf("accounts repository is required")
	}
	if sessions == nil {
		return nil, oops.Code("AUTH_INVALID_CONFIG").Errorf("sessions repository is required")
	}
	s := newSettings(opts)
	if s.ttl <= 0 {
		return nil, oops.Code("AUTH_INVALID_CONFIG").With("ttl", s.ttl).Errorf("session TTL must be positive")
	}
	return &SessionManager{
		accounts: accounts,
		sessions: sessions,
		ttl:      s.ttl,
		now:      s.now,
		logger:   s.logger,
	}, nil
}

// TTL returns the validity of newly started sessions.
func (m *SessionManager) TTL() time.Duration {
	return m.ttl
}

// Start creates a session bound to account and returns it with the plaintext
// token. The caller transmits the token; only its hash is stored.
func (m *SessionManager) Start(ctx context.Context, account *Account, meta ClientMeta) (*Session, string, error) {
	if account == nil {
		return nil, "", oops.Code("SESSION_INVALID_ACCOUNT").Errorf("account is required")
	}

	token, tokenHash, err := GenerateSessionToken()
	if err != nil {
		return nil, "", err
	}

	now := m.now()
	session, err := NewSession(account.ID, tokenHash, meta, now, now.Add(m.ttl))
	if err != nil {
		return nil, "", err
	}

	if err := m.sessions.Create(ctx, session); err != nil {
		return nil, "", storeUnavailable(m.logger, "persist session", err)
	}

	return session, token, nil
}

// Resolve returns the identity behind token. It reports false, without an
// error, for an empty or unknown token, an expired session, or a session whose
// account no longer exists. Errors are reserved for store failures.
func (m *SessionManager) Resolve(ctx context.Context, token string) (Identity, bool, error) {
	if token == "" {
		return Identity{}, false, nil
	}

	session, err := m.sessions.GetByTokenHash(ctx, HashSessionToken(token))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Identity{}, false, nil
		}
		return Identity{}, false, storeUnavailable(m.logger, "get session by token hash", err)
	}
	if !VerifySessionToken(token, session.TokenHash) {
		return Identity{}, false, nil
	}

	now := m.now()
	if session.IsExpiredAt(now) {
		m.logger.DebugContext(ctx, "session expired",
			"session_id", session.ID.String(),
			"expired_at", session.ExpiresAt)
		return Identity{}, false, nil
	}

	account, err := m.accounts.GetByID(ctx, session.AccountID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			m.logger.WarnContext(ctx, "session bound to missing account",
				"session_id", session.ID.String(),
				"account_id", session.AccountID.String())
			return Identity{}, false, nil
		}
		return Identity{}, false, storeUnavailable(m.logger, "get session account", err)
	}

	if err := m.sessions.UpdateLastSeen(ctx, session.ID, now); err != nil {
		m.logger.WarnContext(ctx, "failed to update session last seen",
			"session_id", session.ID.String(),
			"error", err)
	} else {
		session.LastSeenAt = now
	}

	return Identity{Account: account, Session: session}, true, nil
}

// Invalidate ends the session behind token immediately. Invalidating an
// unknown, already invalidated or empty token is not an error.
func (m *SessionManager) Invalidate(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	err := m.sessions.DeleteByTokenHash(ctx, HashSessionToken(token))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return storeUnavailable(m.logger, "delete session", err)
	}
	return nil
}

// InvalidateAll ends every session of an account.
func (m *SessionManager) InvalidateAll(ctx context.Context, accountID ulid.ULID) error {
	if err := m.sessions.DeleteByAccount(ctx, accountID); err != nil {
		return storeUnavailable(m.logger, "delete account sessions", err)
	}
	return nil
}

// PurgeExpired removes expired sessions from storage. Correctness never
// depends on it; it only keeps the session table small.
func (m *SessionManager) PurgeExpired(ctx context.Context) (int64, error) {
	n, err := m.sessions.DeleteExpired(ctx, m.now())
	if err != nil {
		return 0, storeUnavailable(m.logger, "delete expired sessions", err)
	}
	return n, nil
}
