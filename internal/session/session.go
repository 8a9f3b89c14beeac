// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatelock Contributors

// Package session drives the interactive authentication flow: one state
// machine per connecting identity, a registry enforcing a single live
// session per identity, and the service that decides which flow a
// connection enters.
package session

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/gatelock/gatelock/internal/account"
	"github.com/gatelock/gatelock/internal/totp"
	"github.com/gatelock/gatelock/pkg/errutil"
)

// State is an AuthSession lifecycle stage.
type State int

const (
	StateSpawned State = iota
	StateAwaitingRegistration
	StateAwaitingPassword
	StateAwaitingTOTP
	StateCompleted
	StateTimedOut
	StateDisconnected
)

// String returns the lowercase state name for logs.
func (s State) String() string {
	switch s {
	case StateSpawned:
		return "spawned"
	case StateAwaitingRegistration:
		return "awaiting_registration"
	case StateAwaitingPassword:
		return "awaiting_password"
	case StateAwaitingTOTP:
		return "awaiting_totp"
	case StateCompleted:
		return "completed"
	case StateTimedOut:
		return "timed_out"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateTimedOut || s == StateDisconnected
}

// Connection is the proxy-side collaborator for one connecting identity.
// Implementations must tolerate calls from timer goroutines.
type Connection interface {
	Username() string
	RemoteAddr() string
	SendMessage(msg string)
	Disconnect(reason string)
}

// hostOf strips the port from a remote address; bruteforce counters and
// session cache entries are keyed per host.
func hostOf(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}

// AuthSession is the per-connection authentication state machine. Input
// handling runs on the connection's goroutine; timeout and countdown
// callbacks run on timer goroutines. All shared state is guarded by mu.
type AuthSession struct {
	ID ulid.ULID

	svc       *Service
	conn      Connection
	nickname  string
	lowercase string
	host      string

	mu                    sync.Mutex
	state                 State
	acct                  *account.Account // nil while registering
	attempts              int
	passwordAuthenticated bool
	timer                 *time.Timer
	ticker                *time.Ticker
	tickerStop            chan struct{}
	deadline              time.Time
}

func newAuthSession(svc *Service, conn Connection, acct *account.Account) *AuthSession {
	nickname := conn.Username()
	return &AuthSession{
		ID:        ulid.Make(),
		svc:       svc,
		conn:      conn,
		nickname:  nickname,
		lowercase: strings.ToLower(nickname),
		host:      hostOf(conn.RemoteAddr()),
		state:     StateSpawned,
		acct:      acct,
	}
}

// State returns the current lifecycle stage.
func (s *AuthSession) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// start arms the timeout, optionally the countdown, and sends the first
// prompt. Called once by the service after registry insertion.
func (s *AuthSession) start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg := s.svc.cfg
	s.deadline = time.Now().Add(cfg.Timeout)
	s.timer = time.AfterFunc(cfg.Timeout, s.onTimeout)
	if cfg.EnableCountdown {
		// The goroutine reads only its arguments; stopTimersLocked may clear
		// the fields while it runs.
		s.ticker = time.NewTicker(time.Second)
		s.tickerStop = make(chan struct{})
		go s.countdown(s.ticker.C, s.tickerStop)
	}

	if s.acct == nil {
		s.state = StateAwaitingRegistration
		s.conn.SendMessage(cfg.Messages.RegisterPrompt)
		if cfg.RegisterNeedRepeatPassword {
			s.conn.SendMessage(cfg.Messages.RegisterConfirmHint)
		}
	} else {
		s.state = StateAwaitingPassword
		s.conn.SendMessage(fmt.Sprintf(cfg.Messages.LoginPrompt, cfg.LoginAttempts))
	}
}

func (s *AuthSession) countdown(tick <-chan time.Time, stop <-chan struct{}) {
	for {
		select {
		case <-tick:
			s.mu.Lock()
			terminal := s.state.Terminal()
			remaining := int(time.Until(s.deadline).Seconds())
			s.mu.Unlock()
			if terminal {
				return
			}
			if remaining > 0 {
				s.conn.SendMessage(fmt.Sprintf(s.svc.cfg.Messages.Countdown, remaining))
			}
		case <-stop:
			return
		}
	}
}

func (s *AuthSession) stopTimersLocked() {
	if s.timer != nil {
		s.timer.Stop()
	}
	if s.ticker != nil {
		s.ticker.Stop()
	}
	if s.tickerStop != nil {
		close(s.tickerStop)
		s.tickerStop = nil
	}
}

func (s *AuthSession) onTimeout() {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return
	}
	s.state = StateTimedOut
	s.stopTimersLocked()
	s.mu.Unlock()

	s.svc.registry.remove(s.lowercase)
	s.svc.record("timeout")
	s.conn.Disconnect(s.svc.cfg.Messages.KickTimedOut)
}

// handleExpiredLocked covers the race where input arrives after the deadline
// but before the timer callback ran. Returns true when the session is done.
func (s *AuthSession) handleExpiredLocked() bool {
	if s.state.Terminal() {
		return true
	}
	if !s.deadline.IsZero() && time.Now().After(s.deadline) {
		s.state = StateTimedOut
		s.stopTimersLocked()
		s.svc.registry.remove(s.lowercase)
		s.svc.record("timeout")
		s.conn.Disconnect(s.svc.cfg.Messages.KickTimedOut)
		return true
	}
	return false
}

// disconnectLocked terminates the session with a kick message.
func (s *AuthSession) disconnectLocked(reason string) {
	s.state = StateDisconnected
	s.stopTimersLocked()
	s.svc.registry.remove(s.lowercase)
	s.conn.Disconnect(reason)
}

// Disconnect handles the connection closing from the outside. Terminal from
// any state; releases timers and the registry slot.
func (s *AuthSession) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Terminal() {
		return
	}
	s.state = StateDisconnected
	s.stopTimersLocked()
	s.svc.registry.remove(s.lowercase)
	s.svc.record("disconnected")
}

// HandleRegister processes a registration submission. Validation failures
// re-prompt without consuming an attempt or changing state.
func (s *AuthSession) HandleRegister(ctx context.Context, password, confirm string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handleExpiredLocked() {
		return
	}
	if s.state != StateAwaitingRegistration {
		s.svc.logger.WarnContext(ctx, "register input in unexpected state",
			"state", s.state.String(), "nickname", s.lowercase)
		return
	}

	cfg := s.svc.cfg
	msgs := cfg.Messages
	switch {
	case cfg.DisableRegistrations:
		s.conn.SendMessage(msgs.RegisterDisabled)
		return
	case cfg.RegisterNeedRepeatPassword && password != confirm:
		s.conn.SendMessage(msgs.RegisterDifferent)
		return
	case len(password) < cfg.MinPasswordLength:
		s.conn.SendMessage(msgs.RegisterTooShort)
		return
	case len(password) > cfg.MaxPasswordLength:
		s.conn.SendMessage(msgs.RegisterTooLong)
		return
	}
	if cfg.CheckPasswordStrength && cfg.UnsafePasswords != nil {
		if _, unsafe := cfg.UnsafePasswords[strings.ToLower(password)]; unsafe {
			s.conn.SendMessage(msgs.RegisterUnsafe)
			return
		}
	}

	if cfg.IPLimitRegistrations > 0 {
		count, err := s.svc.repo.CountByRegistrationIP(ctx, s.host, time.Now().Add(-cfg.IPLimitWindow))
		if err != nil {
			errutil.LogError(s.svc.logger, "registration ip-limit query failed", err)
			s.conn.SendMessage(msgs.ErrorOccurred)
			return
		}
		if count >= cfg.IPLimitRegistrations {
			s.conn.SendMessage(msgs.RegisterIPLimit)
			return
		}
	}

	switch res := s.svc.hooks.PreRegister(ctx, s.nickname, s.host); res.Outcome {
	case OutcomeCancel:
		s.svc.record("register_cancelled")
		s.disconnectLocked(res.Reason)
		return
	case OutcomeBypass:
		s.completeLocked(ctx, true, false)
		return
	case OutcomeNormal:
	}

	hash, err := s.svc.hasher.Hash(password)
	if err != nil {
		errutil.LogError(s.svc.logger, "registration hash failed", err)
		s.conn.SendMessage(msgs.ErrorOccurred)
		return
	}
	acct := account.New(s.nickname, hash, s.host)
	if err := s.svc.repo.Create(ctx, acct); err != nil {
		if errutil.HasCode(err, "AUTH_NICKNAME_TAKEN") {
			s.disconnectLocked(msgs.RegisterNicknameTaken)
			return
		}
		errutil.LogError(s.svc.logger, "registration persist failed", err)
		s.conn.SendMessage(msgs.ErrorOccurred)
		return
	}
	s.acct = acct
	s.svc.record("registered")
	s.completeLocked(ctx, true, false)
}

// HandlePassword processes a login submission. inlineCode, when non-empty,
// is verified as the TOTP second factor in the same invocation.
func (s *AuthSession) HandlePassword(ctx context.Context, password, inlineCode string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handleExpiredLocked() {
		return
	}
	if s.state != StateAwaitingPassword {
		s.svc.logger.WarnContext(ctx, "password input in unexpected state",
			"state", s.state.String(), "nickname", s.lowercase)
		return
	}

	msgs := s.svc.cfg.Messages
	if !s.acct.HasLocalPassword() {
		s.conn.SendMessage(msgs.CrackedCommand)
		return
	}

	ok, err := s.svc.verifier.Verify(ctx, password, s.acct)
	if err != nil {
		// Migration-write and storage failures are not wrong passwords; no
		// attempt is consumed and no success is reported.
		errutil.LogError(s.svc.logger, "credential verification failed", err)
		s.conn.SendMessage(msgs.ErrorOccurred)
		return
	}
	if !ok {
		s.failAttemptLocked(fmt.Sprintf(msgs.LoginWrongPassword, s.remainingLocked()-1), msgs.KickWrongPassword)
		return
	}

	s.passwordAuthenticated = true
	if s.svc.cfg.EnableTOTP && s.acct.TOTPEnabled() {
		s.state = StateAwaitingTOTP
		if inlineCode != "" {
			s.verifyTOTPLocked(ctx, inlineCode)
			return
		}
		s.conn.SendMessage(msgs.TOTPPrompt)
		return
	}
	s.completeLocked(ctx, false, false)
}

// HandleTOTP processes a second-factor submission: a TOTP code or an unused
// recovery code.
func (s *AuthSession) HandleTOTP(ctx context.Context, code string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handleExpiredLocked() {
		return
	}
	if s.state != StateAwaitingTOTP {
		s.svc.logger.WarnContext(ctx, "totp input in unexpected state",
			"state", s.state.String(), "nickname", s.lowercase)
		return
	}
	s.verifyTOTPLocked(ctx, code)
}

func (s *AuthSession) verifyTOTPLocked(ctx context.Context, code string) {
	msgs := s.svc.cfg.Messages

	if s.svc.totp.Validate(code, s.acct.TOTPSecret) {
		s.completeLocked(ctx, false, false)
		return
	}

	if s.svc.totp.ConsumeRecovery(s.acct, code) {
		if err := s.svc.repo.Update(ctx, s.acct); err != nil {
			// The code must not remain spendable if we could not burn it.
			s.acct.RecoveryCodes = append(s.acct.RecoveryCodes, totp.HashRecoveryCode(code))
			errutil.LogError(s.svc.logger, "recovery code persist failed", err)
			s.conn.SendMessage(msgs.ErrorOccurred)
			return
		}
		s.completeLocked(ctx, false, false)
		return
	}

	// The password stays proven on a wrong code: the shared attempt budget
	// still bounds abuse, and re-typing the password adds no security.
	s.failAttemptLocked(fmt.Sprintf(msgs.LoginWrongPassword, s.remainingLocked()-1), msgs.KickWrongPassword)
}

func (s *AuthSession) remainingLocked() int {
	return s.svc.cfg.LoginAttempts - s.attempts
}

// failAttemptLocked consumes one attempt from the shared budget. Exhaustion
// disconnects and records exactly one bruteforce hit for the source address.
func (s *AuthSession) failAttemptLocked(reprompt, kick string) {
	s.attempts++
	if s.attempts >= s.svc.cfg.LoginAttempts {
		s.svc.bruteforce.Increment(s.host)
		s.svc.record("attempts_exhausted")
		s.disconnectLocked(kick)
		return
	}
	s.conn.SendMessage(reprompt)
}

// completeLocked finishes the flow exactly once: hooks, timer release, cache
// of the fresh session, registry removal, login metadata persistence, and
// the success notice. A bypass verdict from the pre-authorize hook skips the
// remaining checks but still records the session and login metadata. Forced
// completions skip the pre-authorize hook entirely; only real player flows
// are cancellable.
func (s *AuthSession) completeLocked(ctx context.Context, viaRegistration, forced bool) {
	if s.state.Terminal() {
		return
	}

	msgs := s.svc.cfg.Messages
	if !viaRegistration && !forced {
		switch res := s.svc.hooks.PreAuthorize(ctx, s.nickname, s.host); res.Outcome {
		case OutcomeCancel:
			s.svc.record("authorize_cancelled")
			s.disconnectLocked(res.Reason)
			return
		case OutcomeBypass, OutcomeNormal:
		}
	}

	s.state = StateCompleted
	s.stopTimersLocked()
	s.svc.registry.remove(s.lowercase)

	s.svc.sessions.Record(s.nickname, s.host)
	if s.acct != nil {
		s.acct.RecordLogin(s.host)
		if err := s.svc.repo.Update(ctx, s.acct); err != nil {
			errutil.LogError(s.svc.logger, "login metadata persist failed", err)
		}
	}
	s.svc.bruteforce.Clear(s.host)

	hooks, nickname := s.svc.hooks, s.nickname
	if viaRegistration {
		s.svc.record("register_completed")
		s.conn.SendMessage(msgs.RegisterSuccessful)
		go hooks.PostRegister(context.WithoutCancel(ctx), nickname)
	} else {
		s.svc.record("login_completed")
		s.conn.SendMessage(msgs.LoginSuccessful)
		go hooks.PostAuthorize(context.WithoutCancel(ctx), nickname)
	}
}

// ForceComplete administratively finishes a login session, bypassing the
// remaining credential checks. Only valid while awaiting password or TOTP.
func (s *AuthSession) ForceComplete(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateAwaitingPassword && s.state != StateAwaitingTOTP {
		return errSessionState(s.state)
	}
	s.passwordAuthenticated = true
	s.completeLocked(ctx, false, true)
	return nil
}
