// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/holomush/secrets/internal/auth"
	"github.com/holomush/secrets/internal/auth/memory"
	"github.com/holomush/secrets/internal/auth/mocks"
	"github.com/holomush/secrets/pkg/errutil"
)

var testMeta = auth.ClientMeta{UserAgent: "Mozilla/5.0", IPAddress: "192.168.1.1"}

type serviceFixture struct {
	store    *memory.Store
	svc      *auth.Service
	recorder *fakeRecorder
	logs     *bytes.Buffer
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	store := memory.NewStore()
	recorder := &fakeRecorder{}
	logs := new(bytes.Buffer)
	logger := slog.New(slog.NewJSONHandler(logs, &slog.HandlerOptions{Level: slog.LevelDebug}))

	svc, err := auth.NewService(store.Accounts(), store.Sessions(), testHasher(t),
		auth.WithRecorder(recorder),
		auth.WithLogger(logger))
	require.NoError(t, err)
	return &serviceFixture{store: store, svc: svc, recorder: recorder, logs: logs}
}

func TestNewService_NilDependencies(t *testing.T) {
	tests := []struct {
		name        string
		accounts    auth.AccountRepository
		sessions    auth.SessionRepository
		hasher      auth.PasswordHasher
		expectError string
	}{
		{
			name:        "nil accounts repository",
			sessions:    mocks.NewMockSessionRepository(t),
			hasher:      mocks.NewMockPasswordHasher(t),
			expectError: "accounts repository is required",
		},
		{
			name:        "nil sessions repository",
			accounts:    mocks.NewMockAccountRepository(t),
			hasher:      mocks.NewMockPasswordHasher(t),
			expectError: "sessions repository is required",
		},
		{
			name:        "nil password hasher",
			accounts:    mocks.NewMockAccountRepository(t),
			sessions:    mocks.NewMockSessionRepository(t),
			expectError: "password hasher is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, err := auth.NewService(tt.accounts, tt.sessions, tt.hasher)
			require.Error(t, err)
			assert.Nil(t, svc)
			assert.Contains(t, err.Error(), tt.expectError)
		})
	}
}

func TestService_Register(t *testing.T) {
	ctx := context.Background()

	t.Run("creates account and session", func(t *testing.T) {
		f := newServiceFixture(t)

		result, err := f.svc.Register(ctx, " Alice@Example.com ", "pw-1", testMeta)
		require.NoError(t, err)
		assert.Equal(t, "alice@example.com", result.Account.Email)
		assert.True(t, result.Account.HasLocalCredential())
		assert.Len(t, result.Token, 64)
		assert.Equal(t, result.Account.ID, result.Session.AccountID)
		assert.Equal(t, testMeta.IPAddress, result.Session.IPAddress)

		stored, err := f.store.Accounts().GetByEmail(ctx, "alice@example.com")
		require.NoError(t, err)
		require.NotNil(t, stored.PasswordHash)
		assert.NotContains(t, *stored.PasswordHash, "pw-1")

		assert.Equal(t, recordedAttempt{auth.FlowRegister, auth.OutcomeSuccess}, f.recorder.lastAttempt())
		assert.Equal(t, []string{auth.FlowRegister}, f.recorder.sessions)
	})

	t.Run("second registration is rejected", func(t *testing.T) {
		f := newServiceFixture(t)
		_, err := f.svc.Register(ctx, "bob@example.com", "pw", testMeta)
		require.NoError(t, err)

		_, err = f.svc.Register(ctx, "BOB@example.com", "other", testMeta)
		errutil.AssertSentinel(t, err, auth.ErrAlreadyRegistered, auth.CodeAlreadyRegistered)
		assert.Equal(t, recordedAttempt{auth.FlowRegister, auth.OutcomeRejected}, f.recorder.lastAttempt())

		// The original password is untouched.
		_, err = f.svc.Login(ctx, "bob@example.com", "pw", testMeta)
		require.NoError(t, err)
	})

	t.Run("invalid input", func(t *testing.T) {
		f := newServiceFixture(t)
		for _, tc := range [][2]string{{"", "pw"}, {"bad", "pw"}, {"carol@example.com", ""}} {
			_, err := f.svc.Register(ctx, tc[0], tc[1], testMeta)
			require.Error(t, err)
			assert.True(t, errors.Is(err, auth.ErrInvalidInput), "%q/%q", tc[0], tc[1])
		}
	})

	t.Run("create conflict maps to already registered", func(t *testing.T) {
		accounts := mocks.NewMockAccountRepository(t)
		sessions := mocks.NewMockSessionRepository(t)
		hasher := mocks.NewMockPasswordHasher(t)
		svc, err := auth.NewService(accounts, sessions, hasher, auth.WithLogger(discardLogger()))
		require.NoError(t, err)

		accounts.On("GetByEmail", mock.Anything, "race@example.com").Return(nil, auth.ErrNotFound)
		hasher.On("Hash", "pw").Return("$argon2id$hash", nil)
		accounts.On("Create", mock.Anything, mock.AnythingOfType("*auth.Account")).Return(auth.ErrConflict)

		_, err = svc.Register(ctx, "race@example.com", "pw", testMeta)
		require.Error(t, err)
		assert.True(t, errors.Is(err, auth.ErrAlreadyRegistered))
	})

	t.Run("hash failure", func(t *testing.T) {
		accounts := mocks.NewMockAccountRepository(t)
		sessions := mocks.NewMockSessionRepository(t)
		hasher := mocks.NewMockPasswordHasher(t)
		recorder := &fakeRecorder{}
		svc, err := auth.NewService(accounts, sessions, hasher,
			auth.WithLogger(discardLogger()), auth.WithRecorder(recorder))
		require.NoError(t, err)

		accounts.On("GetByEmail", mock.Anything, "dave@example.com").Return(nil, auth.ErrNotFound)
		hasher.On("Hash", "pw").Return("", errors.New("entropy exhausted"))

		_, err = svc.Register(ctx, "dave@example.com", "pw", testMeta)
		require.Error(t, err)
		assert.Equal(t, recordedAttempt{auth.FlowRegister, auth.OutcomeUnavailable}, recorder.lastAttempt())
	})

	t.Run("store failure", func(t *testing.T) {
		accounts := mocks.NewMockAccountRepository(t)
		svc, err := auth.NewService(accounts, mocks.NewMockSessionRepository(t), mocks.NewMockPasswordHasher(t),
			auth.WithLogger(discardLogger()))
		require.NoError(t, err)

		accounts.On("GetByEmail", mock.Anything, "erin@example.com").Return(nil, errors.New("db down"))

		_, err = svc.Register(ctx, "erin@example.com", "pw", testMeta)
		require.Error(t, err)
		assert.True(t, errors.Is(err, auth.ErrStoreUnavailable))
	})
}

func TestService_Login(t *testing.T) {
	ctx := context.Background()

	t.Run("credential failures are indistinguishable", func(t *testing.T) {
		f := newServiceFixture(t)
		_, err := f.svc.Register(ctx, "alice@example.com", "right", testMeta)
		require.NoError(t, err)
		_, err = f.svc.FederatedLogin(ctx, googleProfile("fed@example.com"), testMeta)
		require.NoError(t, err)

		_, wrongErr := f.svc.Login(ctx, "alice@example.com", "wrong", testMeta)
		_, unknownErr := f.svc.Login(ctx, "nobody@example.com", "right", testMeta)
		_, noCredErr := f.svc.Login(ctx, "fed@example.com", "right", testMeta)

		for _, err := range []error{wrongErr, unknownErr, noCredErr} {
			require.Error(t, err)
			assert.True(t, errors.Is(err, auth.ErrInvalidCredentials))
			assert.False(t, errors.Is(err, auth.ErrWrongSecret))
			assert.False(t, errors.Is(err, auth.ErrNotRegistered))
			assert.False(t, errors.Is(err, auth.ErrNoLocalCredential))
			errutil.AssertErrorCode(t, err, auth.CodeInvalidCredentials)
		}
		assert.Equal(t, wrongErr.Error(), unknownErr.Error())
		assert.Equal(t, wrongErr.Error(), noCredErr.Error())
		assert.Equal(t, recordedAttempt{auth.FlowLogin, auth.OutcomeRejected}, f.recorder.lastAttempt())
	})

	t.Run("rejection reason is logged without the password", func(t *testing.T) {
		f := newServiceFixture(t)
		_, err := f.svc.Register(ctx, "bob@example.com", "right", testMeta)
		require.NoError(t, err)

		_, err = f.svc.Login(ctx, "bob@example.com", "hunter2-guess", testMeta)
		require.Error(t, err)

		logs := f.logs.String()
		assert.Contains(t, logs, "login rejected")
		assert.Contains(t, logs, auth.CodeWrongSecret)
		assert.NotContains(t, logs, "hunter2-guess")
	})

	t.Run("email is normalized", func(t *testing.T) {
		f := newServiceFixture(t)
		registered, err := f.svc.Register(ctx, "carol@example.com", "pw", testMeta)
		require.NoError(t, err)

		result, err := f.svc.Login(ctx, "  CAROL@Example.com", "pw", testMeta)
		require.NoError(t, err)
		assert.Equal(t, registered.Account.ID, result.Account.ID)
		assert.NotEqual(t, registered.Token, result.Token)
	})

	t.Run("legacy bcrypt hash is upgraded", func(t *testing.T) {
		f := newServiceFixture(t)
		legacy, err := bcrypt.GenerateFromPassword([]byte("old-pw"), bcrypt.MinCost)
		require.NoError(t, err)
		account := localAccount(t, "legacy@example.com", string(legacy))
		require.NoError(t, f.store.Accounts().Create(ctx, account))

		_, err = f.svc.Login(ctx, "legacy@example.com", "old-pw", testMeta)
		require.NoError(t, err)

		stored, err := f.store.Accounts().GetByID(ctx, account.ID)
		require.NoError(t, err)
		require.NotNil(t, stored.PasswordHash)
		assert.True(t, strings.HasPrefix(*stored.PasswordHash, "$argon2id$"))

		_, err = f.svc.Login(ctx, "legacy@example.com", "old-pw", testMeta)
		require.NoError(t, err, "upgraded hash still verifies")
	})

	t.Run("failed upgrade still logs in", func(t *testing.T) {
		accounts := mocks.NewMockAccountRepository(t)
		sessions := mocks.NewMockSessionRepository(t)
		hasher := mocks.NewMockPasswordHasher(t)
		svc, err := auth.NewService(accounts, sessions, hasher, auth.WithLogger(discardLogger()))
		require.NoError(t, err)

		account := localAccount(t, "dave@example.com", "$2a$old")
		accounts.On("GetByEmail", mock.Anything, "dave@example.com").Return(account, nil)
		hasher.On("Verify", "pw", "$2a$old").Return(true, nil)
		hasher.On("NeedsUpgrade", "$2a$old").Return(true)
		hasher.On("Hash", "pw").Return("$argon2id$new", nil)
		accounts.On("UpdatePassword", mock.Anything, account.ID, "$argon2id$new").Return(errors.New("read only"))
		sessions.On("Create", mock.Anything, mock.AnythingOfType("*auth.Session")).Return(nil)

		result, err := svc.Login(ctx, "dave@example.com", "pw", testMeta)
		require.NoError(t, err)
		assert.Equal(t, "$2a$old", *result.Account.PasswordHash)
	})

	t.Run("store failure is not a credential failure", func(t *testing.T) {
		accounts := mocks.NewMockAccountRepository(t)
		recorder := &fakeRecorder{}
		svc, err := auth.NewService(accounts, mocks.NewMockSessionRepository(t), mocks.NewMockPasswordHasher(t),
			auth.WithLogger(discardLogger()), auth.WithRecorder(recorder))
		require.NoError(t, err)

		accounts.On("GetByEmail", mock.Anything, "erin@example.com").Return(nil, errors.New("db down"))

		_, err = svc.Login(ctx, "erin@example.com", "pw", testMeta)
		require.Error(t, err)
		assert.True(t, errors.Is(err, auth.ErrStoreUnavailable))
		assert.False(t, errors.Is(err, auth.ErrInvalidCredentials))
		assert.Equal(t, recordedAttempt{auth.FlowLogin, auth.OutcomeUnavailable}, recorder.lastAttempt())
	})
}

func TestService_SecretNote(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t)

	first, err := f.svc.Register(ctx, "alice@example.com", "pw", testMeta)
	require.NoError(t, err)
	second, err := f.svc.Login(ctx, "alice@example.com", "pw", testMeta)
	require.NoError(t, err)

	note, err := f.svc.ReadSecret(ctx, first.Token)
	require.NoError(t, err)
	assert.Nil(t, note, "no note until one is written")

	require.NoError(t, f.svc.WriteSecret(ctx, first.Token, "first"))
	require.NoError(t, f.svc.WriteSecret(ctx, second.Token, "second"))

	// Every session of the account sees the latest write.
	for _, token := range []string{first.Token, second.Token} {
		note, err := f.svc.ReadSecret(ctx, token)
		require.NoError(t, err)
		require.NotNil(t, note)
		assert.Equal(t, "second", *note)
	}

	t.Run("empty note is stored", func(t *testing.T) {
		require.NoError(t, f.svc.WriteSecret(ctx, first.Token, ""))
		note, err := f.svc.ReadSecret(ctx, first.Token)
		require.NoError(t, err)
		require.NotNil(t, note)
		assert.Empty(t, *note)
	})

	t.Run("note is stored verbatim", func(t *testing.T) {
		text := "  <b>line one</b>\nline two 🔒  "
		require.NoError(t, f.svc.WriteSecret(ctx, first.Token, text))
		note, err := f.svc.ReadSecret(ctx, first.Token)
		require.NoError(t, err)
		assert.Equal(t, text, *note)
	})

	t.Run("too long is rejected and keeps the old note", func(t *testing.T) {
		require.NoError(t, f.svc.WriteSecret(ctx, first.Token, "keep"))
		err := f.svc.WriteSecret(ctx, first.Token, strings.Repeat("x", auth.MaxSecretNoteLength+1))
		require.Error(t, err)
		assert.True(t, errors.Is(err, auth.ErrInvalidInput))

		note, err := f.svc.ReadSecret(ctx, first.Token)
		require.NoError(t, err)
		assert.Equal(t, "keep", *note)
	})

	t.Run("NUL bytes and invalid UTF-8 are rejected", func(t *testing.T) {
		require.NoError(t, f.svc.WriteSecret(ctx, first.Token, "keep"))
		for _, text := range []string{"\x00", "before\x00after", "\xff", "ok \xc3\x28"} {
			err := f.svc.WriteSecret(ctx, first.Token, text)
			errutil.AssertSentinel(t, err, auth.ErrInvalidInput, "AUTH_INVALID_SECRET")
		}

		note, err := f.svc.ReadSecret(ctx, first.Token)
		require.NoError(t, err)
		assert.Equal(t, "keep", *note)
	})

	t.Run("maximum length is accepted", func(t *testing.T) {
		require.NoError(t, f.svc.WriteSecret(ctx, first.Token, strings.Repeat("x", auth.MaxSecretNoteLength)))
	})

	t.Run("unauthenticated", func(t *testing.T) {
		_, err := f.svc.ReadSecret(ctx, "bogus")
		errutil.AssertSentinel(t, err, auth.ErrUnauthenticated, auth.CodeUnauthenticated)

		err = f.svc.WriteSecret(ctx, "", "x")
		require.Error(t, err)
		assert.True(t, errors.Is(err, auth.ErrUnauthenticated))
	})
}

func TestService_Logout(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t)

	first, err := f.svc.Register(ctx, "bob@example.com", "pw", testMeta)
	require.NoError(t, err)
	second, err := f.svc.Login(ctx, "bob@example.com", "pw", testMeta)
	require.NoError(t, err)
	third, err := f.svc.Login(ctx, "bob@example.com", "pw", testMeta)
	require.NoError(t, err)

	require.NoError(t, f.svc.Logout(ctx, first.Token))
	require.NoError(t, f.svc.Logout(ctx, first.Token))

	_, err = f.svc.CurrentAccount(ctx, first.Token)
	assert.True(t, errors.Is(err, auth.ErrUnauthenticated))
	_, err = f.svc.CurrentAccount(ctx, second.Token)
	require.NoError(t, err)

	require.NoError(t, f.svc.LogoutAll(ctx, second.Token))
	for _, token := range []string{second.Token, third.Token} {
		_, err = f.svc.CurrentAccount(ctx, token)
		assert.True(t, errors.Is(err, auth.ErrUnauthenticated))
	}

	err = f.svc.LogoutAll(ctx, second.Token)
	assert.True(t, errors.Is(err, auth.ErrUnauthenticated))
}

func TestService_FederatedLogin(t *testing.T) {
	ctx := context.Background()

	t.Run("twice yields the same account and note", func(t *testing.T) {
		f := newServiceFixture(t)

		first, err := f.svc.FederatedLogin(ctx, googleProfile("fed@example.com"), testMeta)
		require.NoError(t, err)
		require.NoError(t, f.svc.WriteSecret(ctx, first.Token, "from first"))

		second, err := f.svc.FederatedLogin(ctx, googleProfile("fed@example.com"), testMeta)
		require.NoError(t, err)
		assert.Equal(t, first.Account.ID, second.Account.ID)

		note, err := f.svc.ReadSecret(ctx, second.Token)
		require.NoError(t, err)
		require.NotNil(t, note)
		assert.Equal(t, "from first", *note)
		assert.Equal(t, []string{auth.FlowFederated, auth.FlowFederated}, f.recorder.sessions)
	})

	t.Run("register after federation is rejected", func(t *testing.T) {
		f := newServiceFixture(t)
		_, err := f.svc.FederatedLogin(ctx, googleProfile("fed@example.com"), testMeta)
		require.NoError(t, err)

		_, err = f.svc.Register(ctx, "fed@example.com", "pw", testMeta)
		assert.True(t, errors.Is(err, auth.ErrAlreadyRegistered))
	})

	t.Run("unverified profile is rejected", func(t *testing.T) {
		f := newServiceFixture(t)
		profile := googleProfile("fed@example.com")
		profile.EmailVerified = false

		_, err := f.svc.FederatedLogin(ctx, profile, testMeta)
		require.Error(t, err)
		assert.True(t, errors.Is(err, auth.ErrInvalidInput))
		assert.Equal(t, recordedAttempt{auth.FlowFederated, auth.OutcomeRejected}, f.recorder.lastAttempt())
	})
}

// TestService_LocalAndFederatedScenario walks one user through every flow.
func TestService_LocalAndFederatedScenario(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t)

	registered, err := f.svc.Register(ctx, "Heidi@Example.com", "correct horse", testMeta)
	require.NoError(t, err)
	require.NoError(t, f.svc.WriteSecret(ctx, registered.Token, "battery staple"))

	loggedIn, err := f.svc.Login(ctx, "heidi@example.com", "correct horse", testMeta)
	require.NoError(t, err)
	assert.Equal(t, registered.Account.ID, loggedIn.Account.ID)

	_, err = f.svc.Login(ctx, "heidi@example.com", "wrong horse", testMeta)
	require.Error(t, err)
	assert.True(t, errors.Is(err, auth.ErrInvalidCredentials))

	federated, err := f.svc.FederatedLogin(ctx, googleProfile("HEIDI@example.com"), testMeta)
	require.NoError(t, err)
	assert.Equal(t, registered.Account.ID, federated.Account.ID)

	note, err := f.svc.ReadSecret(ctx, federated.Token)
	require.NoError(t, err)
	require.NotNil(t, note)
	assert.Equal(t, "battery staple", *note)

	// The federated merge did not remove the password.
	_, err = f.svc.Login(ctx, "heidi@example.com", "correct horse", testMeta)
	require.NoError(t, err)
}
