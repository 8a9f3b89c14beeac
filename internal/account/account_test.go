// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatelock Contributors

package account_test

import (
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatelock/gatelock/internal/account"
	"github.com/gatelock/gatelock/pkg/errutil"
)

func TestNew(t *testing.T) {
	acct := account.New("Alice", "$2a$10$hash", "192.0.2.1")

	assert.Equal(t, "Alice", acct.Nickname)
	assert.Equal(t, "alice", acct.LowercaseNickname)
	assert.Equal(t, "$2a$10$hash", acct.Hash)
	assert.Equal(t, "192.0.2.1", acct.IP)
	assert.Equal(t, "192.0.2.1", acct.LoginIP)
	assert.False(t, acct.RegDate.IsZero())
	assert.NotEqual(t, acct.UUID.String(), "00000000-0000-0000-0000-000000000000")
	assert.Nil(t, acct.PremiumUUID)
}

func TestHasLocalPassword(t *testing.T) {
	acct := account.New("alice", "", "192.0.2.1")
	assert.False(t, acct.HasLocalPassword(), "empty hash means premium-only")

	acct.Hash = "$2a$10$hash"
	assert.True(t, acct.HasLocalPassword())
}

func TestSetHash_BumpsTokenIssuedAt(t *testing.T) {
	acct := account.New("alice", "old", "192.0.2.1")
	before := acct.TokenIssuedAt

	time.Sleep(time.Millisecond)
	acct.SetHash("new")

	assert.Equal(t, "new", acct.Hash)
	assert.True(t, acct.TokenIssuedAt.After(before))
}

func TestConsumeRecoveryCode(t *testing.T) {
	acct := account.New("alice", "hash", "192.0.2.1")
	acct.RecoveryCodes = []string{"aaaa", "bbbb", "cccc"}

	assert.True(t, acct.ConsumeRecoveryCode("bbbb"))
	assert.Equal(t, []string{"aaaa", "cccc"}, acct.RecoveryCodes)

	assert.False(t, acct.ConsumeRecoveryCode("bbbb"), "a recovery code is single-use")
	assert.False(t, acct.ConsumeRecoveryCode("zzzz"))
}

func TestValidateNickname(t *testing.T) {
	pattern := regexp.MustCompile(`^[A-Za-z0-9_]{3,16}$`)

	tests := []struct {
		name     string
		nickname string
		wantErr  bool
	}{
		{"valid", "Alice_99", false},
		{"too short", "ab", true},
		{"too long", "abcdefghijklmnopq", true},
		{"forbidden characters", "al ice", true},
		{"empty", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := account.ValidateNickname(tt.nickname, pattern)
			if tt.wantErr {
				require.Error(t, err)
				errutil.AssertErrorCode(t, err, "AUTH_INVALID_NICKNAME")
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestValidateNickname_NilPattern(t *testing.T) {
	require.NoError(t, account.ValidateNickname("anything goes", nil))
}
