// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatelock Contributors

// Package account defines the persistent account model and its repository contract.
package account

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/samber/oops"
)

// Account is the persistent record for one identity. The lowercase nickname is
// the primary identity and is immutable once the account exists. An empty Hash
// means the account has no local credential (premium-only) and must never be
// asked for a password.
type Account struct {
	Nickname          string
	LowercaseNickname string
	Hash              string
	TOTPSecret        string
	RecoveryCodes     []string
	IP                string
	LoginIP           string
	RegDate           time.Time
	LoginDate         time.Time
	UUID              uuid.UUID
	PremiumUUID       *uuid.UUID
	TokenIssuedAt     time.Time
}

// New creates an account record for a fresh registration.
func New(nickname, hash, ip string) *Account {
	now := time.Now()
	return &Account{
		Nickname:          nickname,
		LowercaseNickname: strings.ToLower(nickname),
		Hash:              hash,
		IP:                ip,
		LoginIP:           ip,
		RegDate:           now,
		LoginDate:         now,
		UUID:              uuid.New(),
		TokenIssuedAt:     now,
	}
}

// HasLocalPassword reports whether the account carries a local credential.
func (a *Account) HasLocalPassword() bool {
	return a.Hash != ""
}

// TOTPEnabled reports whether a second factor is configured.
func (a *Account) TOTPEnabled() bool {
	return a.TOTPSecret != ""
}

// SetHash replaces the password hash and bumps the credential issue time so
// previously issued proofs can be invalidated.
func (a *Account) SetHash(hash string) {
	a.Hash = hash
	a.TokenIssuedAt = time.Now()
}

// RecordLogin updates the login metadata after a successful authentication.
func (a *Account) RecordLogin(ip string) {
	a.LoginIP = ip
	a.LoginDate = time.Now()
}

// ConsumeRecoveryCode removes code from the stored recovery codes. Returns
// false if the code is not present (already used or never issued).
func (a *Account) ConsumeRecoveryCode(code string) bool {
	for i, c := range a.RecoveryCodes {
		if c == code {
			a.RecoveryCodes = append(a.RecoveryCodes[:i], a.RecoveryCodes[i+1:]...)
			return true
		}
	}
	return false
}

// ValidateNickname validates a nickname against the configured pattern.
// The pattern is compiled once by the caller; an empty pattern accepts anything.
func ValidateNickname(nickname string, pattern *regexp.Regexp) error {
	if nickname == "" {
		return oops.Code("AUTH_INVALID_NICKNAME").Errorf("nickname cannot be empty")
	}
	if pattern != nil && !pattern.MatchString(nickname) {
		return oops.Code("AUTH_INVALID_NICKNAME").
			With("nickname", nickname).
			Errorf("nickname does not match the allowed pattern")
	}
	return nil
}

// Repository manages account persistence. Lookups by nickname are keyed on the
// lowercase form; implementations must treat it case-insensitively.
type Repository interface {
	// Create stores a new account. Returns an AUTH_NICKNAME_TAKEN coded error
	// when the lowercase nickname already exists.
	Create(ctx context.Context, acct *Account) error

	// GetByLowercaseNickname retrieves an account by its lowercase nickname.
	GetByLowercaseNickname(ctx context.Context, nickname string) (*Account, error)

	// GetByUUID retrieves an account by its general-purpose UUID.
	GetByUUID(ctx context.Context, id uuid.UUID) (*Account, error)

	// GetByPremiumUUID retrieves an account by its externally verified UUID.
	GetByPremiumUUID(ctx context.Context, id uuid.UUID) (*Account, error)

	// Update rewrites all mutable fields of an existing account.
	Update(ctx context.Context, acct *Account) error

	// UpdateHash replaces only the password hash and credential issue time.
	UpdateHash(ctx context.Context, lowercaseNickname, hash string, issuedAt time.Time) error

	// Delete removes an account by its lowercase nickname.
	Delete(ctx context.Context, lowercaseNickname string) error

	// CountByRegistrationIP counts accounts registered from ip since the given time.
	CountByRegistrationIP(ctx context.Context, ip string, since time.Time) (int, error)
}
