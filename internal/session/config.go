// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatelock Contributors

package session

import (
	"regexp"
	"time"
)

// Config holds the flow's behavior knobs. UnsafePasswords is the pre-loaded
// deny set; nil disables the strength check regardless of
// CheckPasswordStrength.
type Config struct {
	Timeout         time.Duration
	EnableCountdown bool
	LoginAttempts   int

	MinPasswordLength     int
	MaxPasswordLength     int
	CheckPasswordStrength bool
	UnsafePasswords       map[string]struct{}

	RegisterNeedRepeatPassword bool
	ChangePasswordNeedOld      bool
	DisableRegistrations       bool
	NicknamePattern            *regexp.Regexp
	IPLimitRegistrations       int
	IPLimitWindow              time.Duration

	EnableTOTP bool

	// SaveAccounts creates a local account the first time a verified premium
	// identity connects.
	SaveAccounts bool
	// OnlineModeNeedAuth forces verified connections with a local password
	// through the interactive flow anyway.
	OnlineModeNeedAuth bool

	Messages Messages
}
