// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatelock Contributors

package credential

import (
	"context"
	"log/slog"
	"time"

	"github.com/samber/oops"

	"github.com/gatelock/gatelock/internal/account"
)

// Verifier checks plaintext passwords against stored hashes, migrating legacy
// hashes to the modern scheme on successful login.
type Verifier struct {
	hasher     Hasher
	legacy     LegacyVerifier // nil when migration is disabled
	legacyName string
	repo       account.Repository
	logger     *slog.Logger
}

// NewVerifier creates a Verifier. legacyScheme selects the migration scheme
// from the registry; an empty scheme disables migration. An unknown scheme
// name is an error so a typo cannot silently lock out migrated users.
func NewVerifier(hasher Hasher, registry *LegacyRegistry, legacyScheme string, repo account.Repository, logger *slog.Logger) (*Verifier, error) {
	v := &Verifier{
		hasher: hasher,
		repo:   repo,
		logger: logger,
	}
	if legacyScheme != "" {
		legacy, ok := registry.Get(legacyScheme)
		if !ok {
			return nil, oops.Code("AUTH_UNKNOWN_SCHEME").
				With("scheme", legacyScheme).
				With("known", registry.Names()).
				Errorf("unknown legacy hash scheme")
		}
		v.legacy = legacy
		v.legacyName = legacyScheme
	}
	return v, nil
}

// Verify checks password against the account's stored hash. An account with
// no stored hash always fails. A legacy-scheme match re-hashes the password
// and persists the new hash before reporting success; if that write fails the
// result is (false, AUTH_MIGRATION_WRITE_FAILED) so the caller neither admits
// the user nor counts it as a wrong password.
func (v *Verifier) Verify(ctx context.Context, password string, acct *account.Account) (bool, error) {
	if !acct.HasLocalPassword() {
		v.logger.WarnContext(ctx, "password check against account without local credential",
			"nickname", acct.LowercaseNickname)
		return false, nil
	}

	ok, err := v.hasher.Verify(password, acct.Hash)
	if err == nil && ok {
		return true, nil
	}
	// An invalid-format error usually means a legacy hash; fall through to
	// the migration path if one is configured.
	if v.legacy == nil {
		return false, nil
	}

	if !v.legacy(acct.Hash, password) {
		return false, nil
	}

	newHash, hashErr := v.hasher.Hash(password)
	if hashErr != nil {
		return false, oops.Code("AUTH_MIGRATION_WRITE_FAILED").
			With("nickname", acct.LowercaseNickname).
			With("scheme", v.legacyName).
			Wrap(hashErr)
	}

	issuedAt := time.Now()
	if updateErr := v.repo.UpdateHash(ctx, acct.LowercaseNickname, newHash, issuedAt); updateErr != nil {
		return false, oops.Code("AUTH_MIGRATION_WRITE_FAILED").
			With("nickname", acct.LowercaseNickname).
			With("scheme", v.legacyName).
			Wrap(updateErr)
	}

	acct.Hash = newHash
	acct.TokenIssuedAt = issuedAt
	v.logger.InfoContext(ctx, "migrated legacy password hash",
		"nickname", acct.LowercaseNickname,
		"scheme", v.legacyName)
	return true, nil
}
