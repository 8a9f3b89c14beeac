// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatelock Contributors

package session

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/samber/oops"

	"github.com/gatelock/gatelock/internal/account"
	"github.com/gatelock/gatelock/internal/cache"
	"github.com/gatelock/gatelock/internal/credential"
	"github.com/gatelock/gatelock/internal/premium"
	"github.com/gatelock/gatelock/internal/totp"
	"github.com/gatelock/gatelock/pkg/errutil"
)

// Recorder receives flow outcomes for metrics.
type Recorder interface {
	RecordAuthEvent(event string)
}

// Deps bundles the service's collaborators.
type Deps struct {
	Repo       account.Repository
	Verifier   *credential.Verifier
	Hasher     credential.Hasher
	Resolver   *premium.Resolver
	TOTP       *totp.Manager
	Hooks      Hooks
	Sessions   *cache.SessionCache
	Bruteforce *cache.BruteforceCache
	Pending    *cache.PendingCache
	Premium    *cache.PremiumCache
	Recorder   Recorder
	Logger     *slog.Logger
}

// Service owns the authentication entry point for every connection and the
// administrative operations around accounts.
type Service struct {
	cfg          Config
	repo         account.Repository
	verifier     *credential.Verifier
	hasher       credential.Hasher
	resolver     *premium.Resolver
	totp         *totp.Manager
	hooks        Hooks
	registry     *Registry
	sessions     *cache.SessionCache
	bruteforce   *cache.BruteforceCache
	pending      *cache.PendingCache
	premiumCache *cache.PremiumCache
	recorder     Recorder
	logger       *slog.Logger
}

// NewService creates the Service. Hooks and Logger default to no-ops.
func NewService(cfg Config, deps Deps) *Service {
	if deps.Hooks == nil {
		deps.Hooks = NoopHooks{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Service{
		cfg:          cfg,
		repo:         deps.Repo,
		verifier:     deps.Verifier,
		hasher:       deps.Hasher,
		resolver:     deps.Resolver,
		totp:         deps.TOTP,
		hooks:        deps.Hooks,
		registry:     NewRegistry(),
		sessions:     deps.Sessions,
		bruteforce:   deps.Bruteforce,
		pending:      deps.Pending,
		premiumCache: deps.Premium,
		recorder:     deps.Recorder,
		logger:       deps.Logger,
	}
}

// Registry exposes the live-session registry for administrative surfaces.
func (s *Service) Registry() *Registry {
	return s.registry
}

func (s *Service) record(event string) {
	if s.recorder != nil {
		s.recorder.RecordAuthEvent(event)
	}
}

// HandleConnection classifies a connecting identity and either admits it,
// kicks it, or creates an interactive AuthSession. onlineMode is true when
// the proxy verified the connection externally; verifiedUUID is the proven
// identity in that case.
//
// The returned session is nil when the connection was decided without an
// interactive flow.
func (s *Service) HandleConnection(ctx context.Context, conn Connection, onlineMode bool, verifiedUUID *uuid.UUID) (*AuthSession, error) {
	nickname := conn.Username()
	lowercase := strings.ToLower(nickname)
	host := hostOf(conn.RemoteAddr())
	msgs := s.cfg.Messages

	if s.bruteforce.Blocked(host) {
		s.record("bruteforce_blocked")
		conn.Disconnect(msgs.KickBruteforce)
		return nil, oops.Code("AUTH_BRUTEFORCE_BLOCKED").
			With("addr", host).
			Errorf("address is over the attempt limit")
	}

	// A marker from a previous offline visit means the identity resolved
	// premium and was told to reconnect verified. Clear it once they do.
	if onlineMode {
		s.pending.Release(lowercase)
	} else if s.pending.Pending(lowercase) {
		conn.Disconnect(msgs.KickReconnectPremium)
		return nil, oops.Code("AUTH_RECONNECT_PREMIUM").
			With("nickname", lowercase).
			Errorf("identity must reconnect in verified mode")
	}

	if err := account.ValidateNickname(nickname, s.cfg.NicknamePattern); err != nil {
		conn.Disconnect(msgs.KickInvalidNickname)
		return nil, err
	}

	acct, err := s.repo.GetByLowercaseNickname(ctx, lowercase)
	if err != nil && !errors.Is(err, account.ErrNotFound) {
		errutil.LogError(s.logger, "account lookup failed", err)
		conn.Disconnect(msgs.ErrorOccurred)
		return nil, err
	}
	if errors.Is(err, account.ErrNotFound) {
		acct = nil
	}

	if s.sessions.Valid(nickname, host) {
		s.admit(ctx, conn, acct, false, "session_cache_admit")
		return nil, nil
	}

	if onlineMode && verifiedUUID != nil {
		if done := s.handleVerified(ctx, conn, acct, lowercase, host, verifiedUUID); done {
			return nil, nil
		}
	} else {
		// Offline classification; the marker keeps a concurrent duplicate
		// connection from racing a second resolution.
		if !s.pending.TryAcquire(lowercase) {
			conn.Disconnect(msgs.KickSessionExists)
			return nil, oops.Code("AUTH_CLASSIFICATION_PENDING").
				With("nickname", lowercase).
				Errorf("premium classification already in flight")
		}
		if s.resolver.IsPremium(ctx, nickname) {
			// Keep the marker: the next offline visit is kicked straight
			// away, and a verified visit clears it.
			s.record("premium_reconnect_kick")
			conn.Disconnect(msgs.KickReconnectPremium)
			return nil, oops.Code("AUTH_RECONNECT_PREMIUM").
				With("nickname", lowercase).
				Errorf("identity must reconnect in verified mode")
		}
		s.pending.Release(lowercase)
	}

	sess := newAuthSession(s, conn, acct)
	if err := s.registry.add(sess); err != nil {
		conn.Disconnect(msgs.KickSessionExists)
		return nil, err
	}
	s.record("session_started")
	sess.start()
	return sess, nil
}

// handleVerified performs premium bookkeeping for an externally verified
// connection. Returns true when the connection was admitted without an
// interactive flow.
func (s *Service) handleVerified(ctx context.Context, conn Connection, acct *account.Account, lowercase, host string, verifiedUUID *uuid.UUID) bool {
	if acct == nil {
		if s.cfg.SaveAccounts {
			fresh := account.New(conn.Username(), "", host)
			fresh.PremiumUUID = verifiedUUID
			if err := s.repo.Create(ctx, fresh); err != nil && !errutil.HasCode(err, "AUTH_NICKNAME_TAKEN") {
				errutil.LogError(s.logger, "premium account persist failed", err)
			}
		}
		s.premiumCache.SetForced(lowercase, true)
		s.admit(ctx, conn, nil, true, "premium_admit")
		return true
	}

	if !acct.HasLocalPassword() {
		if acct.PremiumUUID == nil {
			acct.PremiumUUID = verifiedUUID
			if err := s.repo.Update(ctx, acct); err != nil {
				errutil.LogError(s.logger, "premium uuid adopt failed", err)
			}
		}
		s.premiumCache.SetForced(lowercase, true)
		s.admit(ctx, conn, acct, true, "premium_admit")
		return true
	}

	if !s.cfg.OnlineModeNeedAuth {
		s.admit(ctx, conn, acct, true, "premium_no_auth_admit")
		return true
	}

	// Verified but with a local password and auth required: interactive flow.
	return false
}

// admit lets a connection through without an interactive session, recording
// login metadata and firing the post-authorize hook.
func (s *Service) admit(ctx context.Context, conn Connection, acct *account.Account, cacheSession bool, outcome string) {
	host := hostOf(conn.RemoteAddr())
	if cacheSession {
		s.sessions.Record(conn.Username(), host)
	}
	if acct != nil {
		acct.RecordLogin(host)
		if err := s.repo.Update(ctx, acct); err != nil {
			errutil.LogError(s.logger, "login metadata persist failed", err)
		}
	}
	s.record(outcome)
	conn.SendMessage(s.cfg.Messages.LoginSuccessful)
	go s.hooks.PostAuthorize(context.WithoutCancel(ctx), conn.Username())
}

// ForceRegister creates an account administratively.
func (s *Service) ForceRegister(ctx context.Context, nickname, password string) error {
	if err := account.ValidateNickname(nickname, s.cfg.NicknamePattern); err != nil {
		return err
	}
	if len(password) < s.cfg.MinPasswordLength || len(password) > s.cfg.MaxPasswordLength {
		return oops.Code("AUTH_VALIDATION_PASSWORD_LENGTH").
			With("min", s.cfg.MinPasswordLength).
			With("max", s.cfg.MaxPasswordLength).
			Errorf("password length out of bounds")
	}
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return err
	}
	if err := s.repo.Create(ctx, account.New(nickname, hash, "")); err != nil {
		return err
	}
	// A cracked account now exists; any cached premium verdict is stale.
	s.premiumCache.Invalidate(nickname)
	return nil
}

// ForceUnregister deletes an account and purges every cache that could
// still admit it.
func (s *Service) ForceUnregister(ctx context.Context, nickname string) error {
	lowercase := strings.ToLower(nickname)
	if err := s.repo.Delete(ctx, lowercase); err != nil {
		return err
	}
	s.sessions.Invalidate(lowercase)
	s.premiumCache.Invalidate(lowercase)
	return nil
}

// ChangePassword replaces an account's password on the holder's request.
// The old password is verified first unless the flow is configured not to
// require it. The cached session is purged so the old proof stops working.
func (s *Service) ChangePassword(ctx context.Context, nickname, oldPassword, newPassword string) error {
	lowercase := strings.ToLower(nickname)
	acct, err := s.repo.GetByLowercaseNickname(ctx, lowercase)
	if err != nil {
		return err
	}

	if s.cfg.ChangePasswordNeedOld {
		ok, verr := s.verifier.Verify(ctx, oldPassword, acct)
		if verr != nil {
			return verr
		}
		if !ok {
			return oops.Code("AUTH_WRONG_PASSWORD").
				With("nickname", lowercase).
				Errorf("old password does not match")
		}
	}

	return s.ForceChangePassword(ctx, nickname, newPassword)
}

// ForceChangePassword replaces an account's password administratively. The
// cached session is purged so the old proof stops working.
func (s *Service) ForceChangePassword(ctx context.Context, nickname, newPassword string) error {
	lowercase := strings.ToLower(nickname)
	if len(newPassword) < s.cfg.MinPasswordLength || len(newPassword) > s.cfg.MaxPasswordLength {
		return oops.Code("AUTH_VALIDATION_PASSWORD_LENGTH").
			With("min", s.cfg.MinPasswordLength).
			With("max", s.cfg.MaxPasswordLength).
			Errorf("password length out of bounds")
	}
	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return err
	}
	if err := s.repo.UpdateHash(ctx, lowercase, hash, time.Now()); err != nil {
		return err
	}
	s.sessions.Invalidate(lowercase)
	return nil
}

// EnableTOTP enrolls a second factor for an account after verifying its
// password. The returned enrollment carries the plaintext recovery codes;
// only their hashes are persisted.
func (s *Service) EnableTOTP(ctx context.Context, nickname, password string) (*totp.Enrollment, error) {
	lowercase := strings.ToLower(nickname)
	if !s.cfg.EnableTOTP {
		return nil, oops.Code("AUTH_TOTP_DISABLED").
			Errorf("second-factor support is disabled")
	}
	acct, err := s.repo.GetByLowercaseNickname(ctx, lowercase)
	if err != nil {
		return nil, err
	}
	if !acct.HasLocalPassword() {
		return nil, oops.Code("AUTH_TOTP_NO_PASSWORD").
			With("nickname", lowercase).
			Errorf("premium account has no password to protect")
	}
	if acct.TOTPEnabled() {
		return nil, oops.Code("AUTH_TOTP_ALREADY_ENABLED").
			With("nickname", lowercase).
			Errorf("second factor already enrolled")
	}

	ok, err := s.verifier.Verify(ctx, password, acct)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, oops.Code("AUTH_WRONG_PASSWORD").
			With("nickname", lowercase).
			Errorf("password does not match")
	}

	enrollment, err := s.totp.Enroll(acct.Nickname)
	if err != nil {
		return nil, err
	}
	acct.TOTPSecret = enrollment.Secret
	acct.RecoveryCodes = append([]string{}, enrollment.RecoveryHashes...)
	acct.TokenIssuedAt = time.Now()
	if err := s.repo.Update(ctx, acct); err != nil {
		return nil, err
	}
	return enrollment, nil
}

// DisableTOTP removes an account's second factor. A current TOTP code proves
// the holder still controls the authenticator.
func (s *Service) DisableTOTP(ctx context.Context, nickname, code string) error {
	lowercase := strings.ToLower(nickname)
	acct, err := s.repo.GetByLowercaseNickname(ctx, lowercase)
	if err != nil {
		return err
	}
	if !acct.TOTPEnabled() {
		return oops.Code("AUTH_TOTP_NOT_ENABLED").
			With("nickname", lowercase).
			Errorf("no second factor enrolled")
	}
	if !s.totp.Validate(code, acct.TOTPSecret) {
		return oops.Code("AUTH_WRONG_TOTP").
			With("nickname", lowercase).
			Errorf("second-factor code does not match")
	}

	acct.TOTPSecret = ""
	acct.RecoveryCodes = nil
	acct.TokenIssuedAt = time.Now()
	return s.repo.Update(ctx, acct)
}

// ForceLogin completes the live session for an identity, bypassing the
// remaining credential checks.
func (s *Service) ForceLogin(ctx context.Context, nickname string) error {
	return s.registry.ForceComplete(ctx, nickname)
}
