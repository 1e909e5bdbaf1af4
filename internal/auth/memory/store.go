// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package memory provides in-process implementations of the auth
// repositories. State is lost on restart; it is meant for development and
// tests.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/secrets/internal/auth"
)

// Store holds accounts and sessions behind one lock, so account deletion
// semantics match the database's cascading foreign key.
type Store struct {
	mu       sync.RWMutex
	accounts map[ulid.ULID]*auth.Account
	byEmail  map[string]ulid.ULID
	sessions map[string]*auth.Session // keyed by token hash
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		accounts: make(map[ulid.ULID]*auth.Account),
		byEmail:  make(map[string]ulid.ULID),
		sessions: make(map[string]*auth.Session),
	}
}

// Accounts returns the store's AccountRepository.
func (s *Store) Accounts() *AccountRepository {
	return &AccountRepository{store: s}
}

// Sessions returns the store's SessionRepository.
func (s *Store) Sessions() *SessionRepository {
	return &SessionRepository{store: s}
}

// AccountRepository implements auth.AccountRepository in memory.
type AccountRepository struct {
	store *Store
}

// Compile-time interface checks.
var (
	_ auth.AccountRepository = (*AccountRepository)(nil)
	_ auth.SessionRepository = (*SessionRepository)(nil)
)

// Create stores a copy of account.
func (r *AccountRepository) Create(_ context.Context, account *auth.Account) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byEmail[account.Email]; exists {
		return oops.Code("ACCOUNT_EMAIL_TAKEN").With("email", account.Email).Wrap(auth.ErrConflict)
	}
	if _, exists := s.accounts[account.ID]; exists {
		return oops.Code("ACCOUNT_ID_TAKEN").With("id", account.ID.String()).Wrap(auth.ErrConflict)
	}
	s.accounts[account.ID] = cloneAccount(account)
	s.byEmail[account.Email] = account.ID
	return nil
}

// GetByID retrieves an account by ID.
func (r *AccountRepository) GetByID(_ context.Context, id ulid.ULID) (*auth.Account, error) {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	account, ok := s.accounts[id]
	if !ok {
		return nil, oops.Code("ACCOUNT_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	return cloneAccount(account), nil
}

// GetByEmail retrieves an account by normalized email.
func (r *AccountRepository) GetByEmail(_ context.Context, email string) (*auth.Account, error) {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byEmail[email]
	if !ok {
		return nil, oops.Code("ACCOUNT_NOT_FOUND").With("email", email).Wrap(auth.ErrNotFound)
	}
	return cloneAccount(s.accounts[id]), nil
}

// UpdateSecretNote replaces the secret note.
func (r *AccountRepository) UpdateSecretNote(_ context.Context, id ulid.ULID, note *string) error {
	return r.update(id, func(a *auth.Account) {
		a.SecretNote = cloneString(note)
	})
}

// UpdatePassword replaces the password hash.
func (r *AccountRepository) UpdatePassword(_ context.Context, id ulid.ULID, passwordHash string) error {
	return r.update(id, func(a *auth.Account) {
		a.PasswordHash = &passwordHash
	})
}

func (r *AccountRepository) update(id ulid.ULID, apply func(*auth.Account)) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accounts[id]
	if !ok {
		return oops.Code("ACCOUNT_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	apply(account)
	account.UpdatedAt = time.Now()
	return nil
}

// SessionRepository implements auth.SessionRepository in memory.
type SessionRepository struct {
	store *Store
}

// Create stores a copy of session.
func (r *SessionRepository) Create(_ context.Context, session *auth.Session) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[session.AccountID]; !ok {
		return oops.Code("SESSION_ACCOUNT_NOT_FOUND").
			With("account_id", session.AccountID.String()).
			Wrap(auth.ErrNotFound)
	}
	if _, exists := s.sessions[session.TokenHash]; exists {
		return oops.Code("SESSION_TOKEN_TAKEN").Wrap(auth.ErrConflict)
	}
	copied := *session
	s.sessions[session.TokenHash] = &copied
	return nil
}

// GetByTokenHash retrieves a session by its token hash.
func (r *SessionRepository) GetByTokenHash(_ context.Context, tokenHash string) (*auth.Session, error) {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[tokenHash]
	if !ok {
		return nil, oops.Code("SESSION_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	copied := *session
	return &copied, nil
}

// UpdateLastSeen updates the LastSeenAt timestamp for a session.
func (r *SessionRepository) UpdateLastSeen(_ context.Context, id ulid.ULID, lastSeen time.Time) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, session := range s.sessions {
		if session.ID == id {
			session.LastSeenAt = lastSeen
			return nil
		}
	}
	return oops.Code("SESSION_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
}

// DeleteByTokenHash removes the session with the given token hash.
func (r *SessionRepository) DeleteByTokenHash(_ context.Context, tokenHash string) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[tokenHash]; !ok {
		return oops.Code("SESSION_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	delete(s.sessions, tokenHash)
	return nil
}

// DeleteByAccount removes all sessions for an account.
func (r *SessionRepository) DeleteByAccount(_ context.Context, accountID ulid.ULID) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	for hash, session := range s.sessions {
		if session.AccountID == accountID {
			delete(s.sessions, hash)
		}
	}
	return nil
}

// DeleteExpired removes sessions that expired before now.
func (r *SessionRepository) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for hash, session := range s.sessions {
		if session.IsExpiredAt(now) {
			delete(s.sessions, hash)
			n++
		}
	}
	return n, nil
}

func cloneAccount(a *auth.Account) *auth.Account {
	copied := *a
	copied.PasswordHash = cloneString(a.PasswordHash)
	copied.SecretNote = cloneString(a.SecretNote)
	return &copied
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
