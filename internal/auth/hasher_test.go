// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/holomush/secrets/internal/auth"
	"github.com/holomush/secrets/pkg/errutil"
)

func TestHashPassword(t *testing.T) {
	hasher := auth.NewArgon2idHasher()

	t.Run("produces valid hash", func(t *testing.T) {
		hash, err := hasher.Hash("password123")
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(hash, "$argon2id$"))
	})

	t.Run("different passwords produce different hashes", func(t *testing.T) {
		hash1, err := hasher.Hash("password1")
		require.NoError(t, err)
		hash2, err := hasher.Hash("password2")
		require.NoError(t, err)
		assert.NotEqual(t, hash1, hash2)
	})

	t.Run("same password produces different hashes (salt)", func(t *testing.T) {
		hash1, err := hasher.Hash("samepassword")
		require.NoError(t, err)
		hash2, err := hasher.Hash("samepassword")
		require.NoError(t, err)
		assert.NotEqual(t, hash1, hash2)
	})

	t.Run("rejects empty password", func(t *testing.T) {
		_, err := hasher.Hash("")
		assert.Error(t, err)
	})
}

func TestVerifyPassword(t *testing.T) {
	hasher := auth.NewArgon2idHasher()

	t.Run("correct password verifies", func(t *testing.T) {
		hash, err := hasher.Hash("correctpassword")
		require.NoError(t, err)

		ok, err := hasher.Verify("correctpassword", hash)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("incorrect password fails", func(t *testing.T) {
		hash, err := hasher.Hash("correctpassword")
		require.NoError(t, err)

		ok, err := hasher.Verify("wrongpassword", hash)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("invalid hash format returns error", func(t *testing.T) {
		_, err := hasher.Verify("password", "not-a-valid-hash")
		assert.Error(t, err)
	})

	t.Run("wrong algorithm returns error", func(t *testing.T) {
		_, err := hasher.Verify("password", "$argon2i$v=19$m=65536,t=1,p=4$c2FsdA$aGFzaA")
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "unsupported hash algorithm")
	})

	t.Run("invalid version format returns error", func(t *testing.T) {
		_, err := hasher.Verify("password", "$argon2id$vXX$m=65536,t=1,p=4$c2FsdA$aGFzaA")
		assert.Error(t, err)
	})

	t.Run("invalid parameters format returns error", func(t *testing.T) {
		_, err := hasher.Verify("password", "$argon2id$v=19$invalid$c2FsdA$aGFzaA")
		assert.Error(t, err)
	})

	t.Run("invalid salt base64 returns error", func(t *testing.T) {
		_, err := hasher.Verify("password", "$argon2id$v=19$m=65536,t=1,p=4$!!!invalid!!!$aGFzaA")
		assert.Error(t, err)
	})

	t.Run("invalid hash base64 returns error", func(t *testing.T) {
		_, err := hasher.Verify("password", "$argon2id$v=19$m=65536,t=1,p=4$c2FsdA$!!!invalid!!!")
		assert.Error(t, err)
	})

	t.Run("threads overflow returns error", func(t *testing.T) {
		// threads=256 exceeds uint8 max (255)
		_, err := hasher.Verify("password", "$argon2id$v=19$m=65536,t=1,p=256$c2FsdA$aGFzaA")
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "threads value")
	})
}

func TestVerifyBcryptUpgrade(t *testing.T) {
	hasher := auth.NewArgon2idHasher()

	// This is a valid bcrypt hash for testing upgrade detection
	bcryptHash := "$2a$10$N9qo8uLOickgx2ZMRZoMyeIvNq.Uf3hE9tQALNP1Qn9sNp5x5x5x5"

	t.Run("detects bcrypt hash needing upgrade", func(t *testing.T) {
		needsUpgrade := hasher.NeedsUpgrade(bcryptHash)
		assert.True(t, needsUpgrade)
	})

	t.Run("argon2id hash does not need upgrade", func(t *testing.T) {
		hash, err := hasher.Hash("password")
		require.NoError(t, err)
		assert.False(t, hasher.NeedsUpgrade(hash))
	})

	t.Run("argon2id hash with other params needs upgrade", func(t *testing.T) {
		cheap := testHasher(t)
		hash, err := cheap.Hash("password")
		require.NoError(t, err)
		assert.True(t, hasher.NeedsUpgrade(hash))
		assert.False(t, cheap.NeedsUpgrade(hash))
	})

	t.Run("garbage needs upgrade", func(t *testing.T) {
		assert.True(t, hasher.NeedsUpgrade("$argon2id$broken"))
	})
}

func TestVerifyLegacyBcrypt(t *testing.T) {
	hasher := testHasher(t)
	legacy, err := bcrypt.GenerateFromPassword([]byte("old-password"), bcrypt.MinCost)
	require.NoError(t, err)

	ok, err := hasher.Verify("old-password", string(legacy))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = hasher.Verify("other", string(legacy))
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = hasher.Verify("old-password", "$2a$10$short")
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "AUTH_INVALID_HASH")
}

func TestHashEncodesParams(t *testing.T) {
	hasher, err := auth.NewArgon2idHasherWithParams(auth.Argon2Params{Time: 2, Memory: 128, Threads: 2})
	require.NoError(t, err)
	assert.Equal(t, auth.Argon2Params{Time: 2, Memory: 128, Threads: 2}, hasher.Params())

	hash, err := hasher.Hash("pw")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(hash, "$argon2id$v=19$m=128,t=2,p=2$"), hash)

	// Verification reads the parameters from the hash, not the hasher.
	ok, err := auth.NewArgon2idHasher().Verify("pw", hash)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestArgon2Params_Validate(t *testing.T) {
	tests := []struct {
		name   string
		params auth.Argon2Params
		valid  bool
	}{
		{"defaults", auth.DefaultArgon2Params(), true},
		{"minimum", auth.Argon2Params{Time: 1, Memory: 8, Threads: 1}, true},
		{"zero time", auth.Argon2Params{Time: 0, Memory: 64, Threads: 1}, false},
		{"zero threads", auth.Argon2Params{Time: 1, Memory: 64, Threads: 0}, false},
		{"memory below threads", auth.Argon2Params{Time: 1, Memory: 15, Threads: 2}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.params.Validate()
			if tt.valid {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			errutil.AssertErrorCode(t, err, "AUTH_INVALID_HASH_PARAMS")

			_, err = auth.NewArgon2idHasherWithParams(tt.params)
			assert.Error(t, err)
		})
	}
}
