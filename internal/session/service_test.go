// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatelock Contributors

package session_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	ptotp "github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/gatelock/gatelock/internal/account"
	"github.com/gatelock/gatelock/internal/credential"
	"github.com/gatelock/gatelock/internal/premium"
	"github.com/gatelock/gatelock/internal/session"
	"github.com/gatelock/gatelock/pkg/errutil"
)

func TestHandleConnection_BruteforceBlocked(t *testing.T) {
	env := newTestEnv(t, testSessionConfig(), nil)
	for range 10 {
		env.bruteforce.Increment("192.0.2.1")
	}

	conn := newFakeConn("alice", "192.0.2.1:25565")
	sess, err := env.svc.HandleConnection(context.Background(), conn, false, nil)

	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "AUTH_BRUTEFORCE_BLOCKED")
	assert.Nil(t, sess)
	disconnected, reason := conn.isDisconnected()
	assert.True(t, disconnected)
	assert.Contains(t, reason, "Too many failed attempts")
}

func TestHandleConnection_InvalidNickname(t *testing.T) {
	env := newTestEnv(t, testSessionConfig(), nil)

	conn := newFakeConn("a b", "192.0.2.1:25565")
	sess, err := env.svc.HandleConnection(context.Background(), conn, false, nil)

	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "AUTH_INVALID_NICKNAME")
	assert.Nil(t, sess)
	disconnected, _ := conn.isDisconnected()
	assert.True(t, disconnected)
}

func TestHandleConnection_CachedSessionAdmit(t *testing.T) {
	env := newTestEnv(t, testSessionConfig(), nil)
	env.repo.accounts["alice"] = account.New("Alice", env.hashOf(t, "s3cret"), "192.0.2.1")
	env.sessions.Record("Alice", "192.0.2.1")

	conn := newFakeConn("Alice", "192.0.2.1:25565")
	sess, err := env.svc.HandleConnection(context.Background(), conn, false, nil)

	require.NoError(t, err)
	assert.Nil(t, sess, "cached session admits without an interactive flow")
	assert.True(t, conn.gotMessage("successfully logged in"))

	// Address change forces re-authentication.
	conn2 := newFakeConn("Alice", "198.51.100.7:25565")
	sess2, err := env.svc.HandleConnection(context.Background(), conn2, false, nil)
	require.NoError(t, err)
	require.NotNil(t, sess2)
	sess2.Disconnect()

	// Case-variant name forces re-authentication too.
	conn3 := newFakeConn("ALICE", "192.0.2.1:25565")
	sess3, err := env.svc.HandleConnection(context.Background(), conn3, false, nil)
	require.NoError(t, err)
	require.NotNil(t, sess3)
	sess3.Disconnect()
}

func TestHandleConnection_VerifiedNewIdentity(t *testing.T) {
	env := newTestEnv(t, testSessionConfig(), nil)
	verified := uuid.New()

	conn := newFakeConn("Premi", "192.0.2.1:25565")
	sess, err := env.svc.HandleConnection(context.Background(), conn, true, &verified)

	require.NoError(t, err)
	assert.Nil(t, sess)
	assert.True(t, conn.gotMessage("successfully logged in"))

	acct := env.repo.get("premi")
	require.NotNil(t, acct, "save_accounts creates the premium account")
	assert.False(t, acct.HasLocalPassword())
	require.NotNil(t, acct.PremiumUUID)
	assert.Equal(t, verified, *acct.PremiumUUID)

	cached, ok := env.premium.Get("premi")
	require.True(t, ok)
	assert.True(t, cached.Premium)
	assert.True(t, cached.Forced)
}

func TestHandleConnection_VerifiedAdoptsUUID(t *testing.T) {
	env := newTestEnv(t, testSessionConfig(), nil)
	env.repo.accounts["premi"] = account.New("Premi", "", "192.0.2.1")
	verified := uuid.New()

	conn := newFakeConn("Premi", "192.0.2.1:25565")
	_, err := env.svc.HandleConnection(context.Background(), conn, true, &verified)
	require.NoError(t, err)

	acct := env.repo.get("premi")
	require.NotNil(t, acct.PremiumUUID)
	assert.Equal(t, verified, *acct.PremiumUUID, "verified uuid adopted onto the account")
}

func TestHandleConnection_VerifiedWithPasswordStillAuths(t *testing.T) {
	env := newTestEnv(t, testSessionConfig(), nil)
	env.repo.accounts["alice"] = account.New("Alice", env.hashOf(t, "s3cret"), "192.0.2.1")
	verified := uuid.New()

	conn := newFakeConn("Alice", "192.0.2.1:25565")
	sess, err := env.svc.HandleConnection(context.Background(), conn, true, &verified)

	require.NoError(t, err)
	require.NotNil(t, sess, "a local password with online_mode_need_auth keeps the interactive flow")
	assert.Equal(t, session.StateAwaitingPassword, sess.State())
	sess.Disconnect()
}

func TestHandleConnection_VerifiedNoAuthNeeded(t *testing.T) {
	cfg := testSessionConfig()
	cfg.OnlineModeNeedAuth = false
	env := newTestEnv(t, cfg, nil)
	env.repo.accounts["alice"] = account.New("Alice", env.hashOf(t, "s3cret"), "192.0.2.1")
	verified := uuid.New()

	conn := newFakeConn("Alice", "192.0.2.1:25565")
	sess, err := env.svc.HandleConnection(context.Background(), conn, true, &verified)

	require.NoError(t, err)
	assert.Nil(t, sess)
	assert.True(t, conn.gotMessage("successfully logged in"))
}

func TestHandleConnection_PremiumReconnectKick(t *testing.T) {
	// Internal check resolves premium (registered, no local password) without
	// touching the external directory.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	env := newTestEnvPremium(t, testSessionConfig(), nil, premium.Config{
		InternalFirst:       true,
		OnlineModeNeedAuth:  true,
		LookupURL:           srv.URL + "/%s",
		LookupTimeout:       time.Second,
		StatusUserExists:    []int{200},
		StatusUserNotExists: []int{204, 404},
		StatusRateLimit:     []int{429},
		UUIDField:           "id",
	})
	env.repo.accounts["premi"] = account.New("Premi", "", "192.0.2.1")

	conn := newFakeConn("Premi", "192.0.2.1:25565")
	sess, err := env.svc.HandleConnection(context.Background(), conn, false, nil)

	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "AUTH_RECONNECT_PREMIUM")
	assert.Nil(t, sess)
	_, reason := conn.isDisconnected()
	assert.Contains(t, reason, "reconnect")
	assert.True(t, env.pending.Pending("premi"), "marker survives for the next offline visit")

	// Second offline visit is kicked straight from the marker.
	conn2 := newFakeConn("Premi", "192.0.2.1:25565")
	_, err = env.svc.HandleConnection(context.Background(), conn2, false, nil)
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "AUTH_RECONNECT_PREMIUM")

	// A verified visit clears the marker and admits.
	verified := uuid.New()
	conn3 := newFakeConn("Premi", "192.0.2.1:25565")
	sess3, err := env.svc.HandleConnection(context.Background(), conn3, true, &verified)
	require.NoError(t, err)
	assert.Nil(t, sess3)
	assert.False(t, env.pending.Pending("premi"))
}

// steeredHooks answers every pre hook with a fixed result.
type steeredHooks struct {
	preRegister  session.HookResult
	preAuthorize session.HookResult
}

func (h *steeredHooks) PreRegister(context.Context, string, string) session.HookResult {
	return h.preRegister
}
func (h *steeredHooks) PostRegister(context.Context, string) {}
func (h *steeredHooks) PreAuthorize(context.Context, string, string) session.HookResult {
	return h.preAuthorize
}
func (h *steeredHooks) PostAuthorize(context.Context, string) {}

func TestHooks_PreRegisterCancel(t *testing.T) {
	hooks := &steeredHooks{preRegister: session.HookResult{
		Outcome: session.OutcomeCancel,
		Reason:  "not today",
	}}
	env := newTestEnv(t, testSessionConfig(), hooks)

	conn := newFakeConn("alice", "192.0.2.1:25565")
	sess := env.spawn(t, conn)

	sess.HandleRegister(context.Background(), "abcd", "abcd")

	disconnected, reason := conn.isDisconnected()
	assert.True(t, disconnected)
	assert.Equal(t, "not today", reason)
	assert.Nil(t, env.repo.get("alice"), "cancelled registration creates nothing")
}

func TestHooks_PreRegisterBypass(t *testing.T) {
	hooks := &steeredHooks{preRegister: session.HookResult{Outcome: session.OutcomeBypass}}
	env := newTestEnv(t, testSessionConfig(), hooks)

	conn := newFakeConn("alice", "192.0.2.1:25565")
	sess := env.spawn(t, conn)

	sess.HandleRegister(context.Background(), "abcd", "abcd")

	assert.Equal(t, session.StateCompleted, sess.State())
	assert.Nil(t, env.repo.get("alice"), "bypass skips account creation")
	assert.True(t, env.sessions.Valid("alice", "192.0.2.1"), "login metadata still recorded")
}

func TestHooks_PreAuthorizeBypass(t *testing.T) {
	hooks := &steeredHooks{preAuthorize: session.HookResult{Outcome: session.OutcomeBypass}}
	env := newTestEnv(t, testSessionConfig(), hooks)
	env.repo.accounts["alice"] = account.New("alice", env.hashOf(t, "s3cret"), "198.51.100.9")

	conn := newFakeConn("alice", "192.0.2.1:25565")
	sess := env.spawn(t, conn)

	sess.HandlePassword(context.Background(), "s3cret", "")

	assert.Equal(t, session.StateCompleted, sess.State())
	assert.True(t, env.sessions.Valid("alice", "192.0.2.1"), "bypass still caches the session")
	assert.Equal(t, "192.0.2.1", env.repo.get("alice").LoginIP, "bypass still persists login metadata")
}

func TestHooks_PreAuthorizeCancel(t *testing.T) {
	hooks := &steeredHooks{preAuthorize: session.HookResult{
		Outcome: session.OutcomeCancel,
		Reason:  "banned",
	}}
	env := newTestEnv(t, testSessionConfig(), hooks)
	env.repo.accounts["alice"] = account.New("alice", env.hashOf(t, "s3cret"), "192.0.2.1")

	conn := newFakeConn("alice", "192.0.2.1:25565")
	sess := env.spawn(t, conn)

	sess.HandlePassword(context.Background(), "s3cret", "")

	disconnected, reason := conn.isDisconnected()
	assert.True(t, disconnected)
	assert.Equal(t, "banned", reason)
	assert.NotEqual(t, session.StateCompleted, sess.State())
}

func TestForceLogin_SkipsPreAuthorizeHook(t *testing.T) {
	hooks := &steeredHooks{preAuthorize: session.HookResult{
		Outcome: session.OutcomeCancel,
		Reason:  "banned",
	}}
	env := newTestEnv(t, testSessionConfig(), hooks)
	env.repo.accounts["alice"] = account.New("alice", env.hashOf(t, "s3cret"), "192.0.2.1")

	conn := newFakeConn("alice", "192.0.2.1:25565")
	sess := env.spawn(t, conn)

	require.NoError(t, env.svc.ForceLogin(context.Background(), "alice"))
	assert.Equal(t, session.StateCompleted, sess.State())
	disconnected, _ := conn.isDisconnected()
	assert.False(t, disconnected, "administrative completion is not cancellable")
	assert.True(t, env.sessions.Valid("alice", "192.0.2.1"))
}

func TestForceRegister(t *testing.T) {
	env := newTestEnv(t, testSessionConfig(), nil)

	require.NoError(t, env.svc.ForceRegister(context.Background(), "Alice", "s3cret"))
	acct := env.repo.get("alice")
	require.NotNil(t, acct)
	assert.True(t, acct.HasLocalPassword())

	err := env.svc.ForceRegister(context.Background(), "Alice", "other1")
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "AUTH_NICKNAME_TAKEN")

	err = env.svc.ForceRegister(context.Background(), "Bob", "ab")
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "AUTH_VALIDATION_PASSWORD_LENGTH")
}

func TestForceUnregister(t *testing.T) {
	env := newTestEnv(t, testSessionConfig(), nil)
	env.repo.accounts["alice"] = account.New("Alice", env.hashOf(t, "s3cret"), "192.0.2.1")
	env.sessions.Record("Alice", "192.0.2.1")
	env.premium.Set("alice", false)

	require.NoError(t, env.svc.ForceUnregister(context.Background(), "Alice"))
	assert.Nil(t, env.repo.get("alice"))
	assert.False(t, env.sessions.Valid("Alice", "192.0.2.1"))
	_, ok := env.premium.Get("alice")
	assert.False(t, ok)

	err := env.svc.ForceUnregister(context.Background(), "Alice")
	require.Error(t, err)
}

func TestForceChangePassword(t *testing.T) {
	env := newTestEnv(t, testSessionConfig(), nil)
	acct := account.New("Alice", env.hashOf(t, "old-pass"), "192.0.2.1")
	issued := acct.TokenIssuedAt
	env.repo.accounts["alice"] = acct
	env.sessions.Record("Alice", "192.0.2.1")

	require.NoError(t, env.svc.ForceChangePassword(context.Background(), "Alice", "new-pass"))

	assert.False(t, env.sessions.Valid("Alice", "192.0.2.1"), "old session proof is purged")

	updated := env.repo.get("alice")
	ok, err := credential.NewBcryptHasher(bcrypt.MinCost).Verify("new-pass", updated.Hash)
	require.NoError(t, err)
	assert.True(t, ok, "new password verifies against the stored hash")
	assert.False(t, updated.TokenIssuedAt.Before(issued))
}

func TestChangePassword(t *testing.T) {
	cfg := testSessionConfig()
	cfg.ChangePasswordNeedOld = true
	env := newTestEnv(t, cfg, nil)
	env.repo.accounts["alice"] = account.New("Alice", env.hashOf(t, "old-pass"), "192.0.2.1")

	err := env.svc.ChangePassword(context.Background(), "Alice", "wrong", "new-pass")
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "AUTH_WRONG_PASSWORD")

	require.NoError(t, env.svc.ChangePassword(context.Background(), "Alice", "old-pass", "new-pass"))
	updated := env.repo.get("alice")
	ok, err := credential.NewBcryptHasher(bcrypt.MinCost).Verify("new-pass", updated.Hash)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestChangePassword_NoOldNeeded(t *testing.T) {
	cfg := testSessionConfig()
	cfg.ChangePasswordNeedOld = false
	env := newTestEnv(t, cfg, nil)
	env.repo.accounts["alice"] = account.New("Alice", env.hashOf(t, "old-pass"), "192.0.2.1")

	require.NoError(t, env.svc.ChangePassword(context.Background(), "Alice", "", "new-pass"))
	updated := env.repo.get("alice")
	ok, err := credential.NewBcryptHasher(bcrypt.MinCost).Verify("new-pass", updated.Hash)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestChangePassword_UnknownAccount(t *testing.T) {
	env := newTestEnv(t, testSessionConfig(), nil)
	err := env.svc.ChangePassword(context.Background(), "Ghost", "old", "new-pass")
	require.Error(t, err)
	assert.ErrorIs(t, err, account.ErrNotFound)
}

func TestEnableTOTP(t *testing.T) {
	env := newTestEnv(t, testSessionConfig(), nil)
	acct := account.New("Alice", env.hashOf(t, "s3cret"), "192.0.2.1")
	issued := acct.TokenIssuedAt
	env.repo.accounts["alice"] = acct

	_, err := env.svc.EnableTOTP(context.Background(), "Alice", "wrong")
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "AUTH_WRONG_PASSWORD")

	enrollment, err := env.svc.EnableTOTP(context.Background(), "Alice", "s3cret")
	require.NoError(t, err)
	assert.NotEmpty(t, enrollment.Secret)
	assert.Contains(t, enrollment.URI, "otpauth://")
	assert.Len(t, enrollment.RecoveryCodes, 2)

	stored := env.repo.get("alice")
	assert.Equal(t, enrollment.Secret, stored.TOTPSecret)
	assert.Equal(t, enrollment.RecoveryHashes, stored.RecoveryCodes)
	assert.False(t, stored.TokenIssuedAt.Before(issued))

	_, err = env.svc.EnableTOTP(context.Background(), "Alice", "s3cret")
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "AUTH_TOTP_ALREADY_ENABLED")
}

func TestEnableTOTP_Rejections(t *testing.T) {
	cfg := testSessionConfig()
	cfg.EnableTOTP = false
	env := newTestEnv(t, cfg, nil)
	env.repo.accounts["alice"] = account.New("Alice", env.hashOf(t, "s3cret"), "192.0.2.1")

	_, err := env.svc.EnableTOTP(context.Background(), "Alice", "s3cret")
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "AUTH_TOTP_DISABLED")

	env2 := newTestEnv(t, testSessionConfig(), nil)
	env2.repo.accounts["premi"] = account.New("Premi", "", "192.0.2.1")
	_, err = env2.svc.EnableTOTP(context.Background(), "Premi", "anything")
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "AUTH_TOTP_NO_PASSWORD")
}

func TestDisableTOTP(t *testing.T) {
	env := newTestEnv(t, testSessionConfig(), nil)
	env.repo.accounts["alice"] = account.New("Alice", env.hashOf(t, "s3cret"), "192.0.2.1")

	err := env.svc.DisableTOTP(context.Background(), "Alice", "000000")
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "AUTH_TOTP_NOT_ENABLED")

	enrollment, err := env.svc.EnableTOTP(context.Background(), "Alice", "s3cret")
	require.NoError(t, err)

	err = env.svc.DisableTOTP(context.Background(), "Alice", "000000")
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "AUTH_WRONG_TOTP")

	code, err := ptotp.GenerateCode(enrollment.Secret, time.Now())
	require.NoError(t, err)
	require.NoError(t, env.svc.DisableTOTP(context.Background(), "Alice", code))

	stored := env.repo.get("alice")
	assert.False(t, stored.TOTPEnabled())
	assert.Empty(t, stored.RecoveryCodes)
}
