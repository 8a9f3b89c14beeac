// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatelock Contributors

// Package totp provides time-based one-time password enrollment and
// verification, with single-use recovery codes as a fallback.
package totp

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"

	"github.com/pquerna/otp/totp"
	"github.com/samber/oops"

	"github.com/gatelock/gatelock/internal/account"
)

const recoveryCodeBytes = 4 // 8 hex chars per code

// Enrollment is the result of enabling a second factor: the shared secret,
// the otpauth:// provisioning URI, and the plaintext recovery codes shown to
// the user exactly once. Only hashes of the codes are stored.
type Enrollment struct {
	Secret         string
	URI            string
	RecoveryCodes  []string
	RecoveryHashes []string
}

// Manager issues and checks second factors.
type Manager struct {
	issuer    string
	codeCount int
}

// NewManager creates a Manager. codeCount is the number of recovery codes
// issued per enrollment.
func NewManager(issuer string, codeCount int) *Manager {
	return &Manager{issuer: issuer, codeCount: codeCount}
}

// Enroll creates a fresh secret and recovery codes for nickname.
func (m *Manager) Enroll(nickname string) (*Enrollment, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      m.issuer,
		AccountName: nickname,
	})
	if err != nil {
		return nil, oops.Code("AUTH_TOTP_ENROLL_FAILED").With("nickname", nickname).Wrap(err)
	}

	enrollment := &Enrollment{
		Secret: key.Secret(),
		URI:    key.URL(),
	}
	for range m.codeCount {
		buf := make([]byte, recoveryCodeBytes)
		if _, err := rand.Read(buf); err != nil {
			return nil, oops.Code("AUTH_TOTP_ENROLL_FAILED").Wrap(err)
		}
		code := hex.EncodeToString(buf)
		enrollment.RecoveryCodes = append(enrollment.RecoveryCodes, code)
		enrollment.RecoveryHashes = append(enrollment.RecoveryHashes, HashRecoveryCode(code))
	}
	return enrollment, nil
}

// Validate checks a TOTP code against the shared secret.
func (m *Manager) Validate(code, secret string) bool {
	return totp.Validate(code, secret)
}

// HashRecoveryCode computes the stored form of a recovery code.
func HashRecoveryCode(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}

// ConsumeRecovery checks code against the account's stored recovery hashes
// and removes the matching one. The caller persists the account on success.
func (m *Manager) ConsumeRecovery(acct *account.Account, code string) bool {
	return acct.ConsumeRecoveryCode(HashRecoveryCode(code))
}
