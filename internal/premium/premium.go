// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatelock Contributors

// Package premium decides whether a nickname belongs to an externally
// verified (premium) identity or a local (cracked) one.
package premium

import (
	"github.com/google/uuid"
)

// State classifies the outcome of a single premium check.
type State int

const (
	// StateUnknown means the check had no information about the nickname.
	StateUnknown State = iota
	// StatePremium means an authoritative internal fact marks the identity premium.
	StatePremium
	// StatePremiumUsername means the external directory knows the username.
	StatePremiumUsername
	// StateCracked means the identity is local-only.
	StateCracked
	// StateRateLimit means the external directory refused the lookup.
	StateRateLimit
	// StateError means the check failed.
	StateError
)

// String returns the lowercase state name for logs and metrics labels.
func (s State) String() string {
	switch s {
	case StatePremium:
		return "premium"
	case StatePremiumUsername:
		return "premium_username"
	case StateCracked:
		return "cracked"
	case StateRateLimit:
		return "rate_limit"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Response is the outcome of one premium check. UUID is set when the check
// learned the identity's verified UUID.
type Response struct {
	State State
	UUID  *uuid.UUID
}
