// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatelock Contributors

// Package postgres implements account persistence using PostgreSQL.
package postgres

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/samber/oops"

	"github.com/gatelock/gatelock/internal/account"
)

// DB is the pgx surface the repository needs; satisfied by *pgxpool.Pool and
// by pgxmock in tests.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// AccountRepository implements account.Repository using PostgreSQL.
type AccountRepository struct {
	db DB
}

// NewAccountRepository creates a new AccountRepository.
func NewAccountRepository(db DB) *AccountRepository {
	return &AccountRepository{db: db}
}

var _ account.Repository = (*AccountRepository)(nil)

const accountColumns = `lowercase_nickname, nickname, hash, totp_secret, recovery_codes,
	       ip, login_ip, reg_date, login_date, uuid, premium_uuid, token_issued_at`

// Create stores a new account.
func (r *AccountRepository) Create(ctx context.Context, acct *account.Account) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO accounts (
			lowercase_nickname, nickname, hash, totp_secret, recovery_codes,
			ip, login_ip, reg_date, login_date, uuid, premium_uuid, token_issued_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		acct.LowercaseNickname,
		acct.Nickname,
		acct.Hash,
		acct.TOTPSecret,
		strings.Join(acct.RecoveryCodes, ","),
		acct.IP,
		acct.LoginIP,
		acct.RegDate,
		acct.LoginDate,
		acct.UUID.String(),
		uuidPtr(acct.PremiumUUID),
		acct.TokenIssuedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return oops.Code("AUTH_NICKNAME_TAKEN").
				With("nickname", acct.LowercaseNickname).
				Wrap(err)
		}
		return oops.Code("STORAGE_CREATE_FAILED").
			With("operation", "insert account").
			With("nickname", acct.LowercaseNickname).
			Wrap(err)
	}
	return nil
}

// GetByLowercaseNickname retrieves an account by its lowercase nickname.
func (r *AccountRepository) GetByLowercaseNickname(ctx context.Context, nickname string) (*account.Account, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE lowercase_nickname = $1
	`, strings.ToLower(nickname))

	acct, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("STORAGE_NOT_FOUND").
			With("nickname", nickname).
			Wrap(account.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("STORAGE_GET_FAILED").
			With("operation", "get account by nickname").
			With("nickname", nickname).
			Wrap(err)
	}
	return acct, nil
}

// GetByUUID retrieves an account by its general-purpose UUID.
func (r *AccountRepository) GetByUUID(ctx context.Context, id uuid.UUID) (*account.Account, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE uuid = $1
	`, id.String())

	acct, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("STORAGE_NOT_FOUND").
			With("uuid", id.String()).
			Wrap(account.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("STORAGE_GET_FAILED").
			With("operation", "get account by uuid").
			With("uuid", id.String()).
			Wrap(err)
	}
	return acct, nil
}

// GetByPremiumUUID retrieves an account by its externally verified UUID.
func (r *AccountRepository) GetByPremiumUUID(ctx context.Context, id uuid.UUID) (*account.Account, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE premium_uuid = $1
	`, id.String())

	acct, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("STORAGE_NOT_FOUND").
			With("premium_uuid", id.String()).
			Wrap(account.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("STORAGE_GET_FAILED").
			With("operation", "get account by premium uuid").
			With("premium_uuid", id.String()).
			Wrap(err)
	}
	return acct, nil
}

// Update rewrites the mutable fields of an existing account.
func (r *AccountRepository) Update(ctx context.Context, acct *account.Account) error {
	result, err := r.db.Exec(ctx, `
		UPDATE accounts SET
			nickname = $2,
			hash = $3,
			totp_secret = $4,
			recovery_codes = $5,
			login_ip = $6,
			login_date = $7,
			premium_uuid = $8,
			token_issued_at = $9
		WHERE lowercase_nickname = $1
	`,
		acct.LowercaseNickname,
		acct.Nickname,
		acct.Hash,
		acct.TOTPSecret,
		strings.Join(acct.RecoveryCodes, ","),
		acct.LoginIP,
		acct.LoginDate,
		uuidPtr(acct.PremiumUUID),
		acct.TokenIssuedAt,
	)
	if err != nil {
		return oops.Code("STORAGE_UPDATE_FAILED").
			With("operation", "update account").
			With("nickname", acct.LowercaseNickname).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("STORAGE_NOT_FOUND").
			With("nickname", acct.LowercaseNickname).
			Wrap(account.ErrNotFound)
	}
	return nil
}

// UpdateHash replaces only the password hash and credential issue time.
func (r *AccountRepository) UpdateHash(ctx context.Context, lowercaseNickname, hash string, issuedAt time.Time) error {
	result, err := r.db.Exec(ctx, `
		UPDATE accounts SET hash = $2, token_issued_at = $3
		WHERE lowercase_nickname = $1
	`, lowercaseNickname, hash, issuedAt)
	if err != nil {
		return oops.Code("STORAGE_UPDATE_FAILED").
			With("operation", "update hash").
			With("nickname", lowercaseNickname).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("STORAGE_NOT_FOUND").
			With("nickname", lowercaseNickname).
			Wrap(account.ErrNotFound)
	}
	return nil
}

// Delete removes an account.
func (r *AccountRepository) Delete(ctx context.Context, lowercaseNickname string) error {
	result, err := r.db.Exec(ctx, `
		DELETE FROM accounts WHERE lowercase_nickname = $1
	`, lowercaseNickname)
	if err != nil {
		return oops.Code("STORAGE_DELETE_FAILED").
			With("operation", "delete account").
			With("nickname", lowercaseNickname).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("STORAGE_NOT_FOUND").
			With("nickname", lowercaseNickname).
			Wrap(account.ErrNotFound)
	}
	return nil
}

// CountByRegistrationIP counts accounts registered from ip since the given time.
func (r *AccountRepository) CountByRegistrationIP(ctx context.Context, ip string, since time.Time) (int, error) {
	var count int
	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM accounts WHERE ip = $1 AND reg_date >= $2
	`, ip, since).Scan(&count)
	if err != nil {
		return 0, oops.Code("STORAGE_GET_FAILED").
			With("operation", "count accounts by ip").
			With("ip", ip).
			Wrap(err)
	}
	return count, nil
}

func uuidPtr(id *uuid.UUID) *string {
	if id == nil {
		return nil
	}
	s := id.String()
	return &s
}

// scanAccount scans a single row into an Account.
// Callers are responsible for handling pgx.ErrNoRows.
func scanAccount(row pgx.Row) (*account.Account, error) {
	var (
		acct           account.Account
		recoveryCodes  string
		uuidStr        string
		premiumUUIDStr *string
	)

	err := row.Scan(
		&acct.LowercaseNickname,
		&acct.Nickname,
		&acct.Hash,
		&acct.TOTPSecret,
		&recoveryCodes,
		&acct.IP,
		&acct.LoginIP,
		&acct.RegDate,
		&acct.LoginDate,
		&uuidStr,
		&premiumUUIDStr,
		&acct.TokenIssuedAt,
	)
	if err != nil {
		return nil, err
	}

	if recoveryCodes != "" {
		acct.RecoveryCodes = strings.Split(recoveryCodes, ",")
	}
	if acct.UUID, err = uuid.Parse(uuidStr); err != nil {
		return nil, oops.Code("STORAGE_SCAN_FAILED").
			With("operation", "parse uuid").
			Wrap(err)
	}
	if premiumUUIDStr != nil {
		id, parseErr := uuid.Parse(*premiumUUIDStr)
		if parseErr != nil {
			return nil, oops.Code("STORAGE_SCAN_FAILED").
				With("operation", "parse premium uuid").
				Wrap(parseErr)
		}
		acct.PremiumUUID = &id
	}
	return &acct, nil
}
