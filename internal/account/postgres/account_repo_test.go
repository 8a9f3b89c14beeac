// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatelock Contributors

package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatelock/gatelock/internal/account"
	"github.com/gatelock/gatelock/pkg/errutil"
)

var accountCols = []string{
	"lowercase_nickname", "nickname", "hash", "totp_secret", "recovery_codes",
	"ip", "login_ip", "reg_date", "login_date", "uuid", "premium_uuid", "token_issued_at",
}

func testAccount() *account.Account {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &account.Account{
		LowercaseNickname: "steve",
		Nickname:          "Steve",
		Hash:              "$2a$10$abcdefghijklmnopqrstuv",
		RecoveryCodes:     []string{"aaaa", "bbbb"},
		IP:                "203.0.113.7",
		LoginIP:           "203.0.113.7",
		RegDate:           now,
		LoginDate:         now,
		UUID:              uuid.MustParse("c06f8906-4c8a-4911-9c29-ea1dbd1aab82"),
		TokenIssuedAt:     now,
	}
}

func strPtr(s string) *string { return &s }

// anyArgs returns n pgxmock.AnyArg matchers; pgxmock requires the expected
// argument count to match even when the values are irrelevant to the test.
func anyArgs(n int) []interface{} {
	args := make([]interface{}, n)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	return args
}

func accountRow(acct *account.Account) *pgxmock.Rows {
	var premium *string
	if acct.PremiumUUID != nil {
		premium = strPtr(acct.PremiumUUID.String())
	}
	return pgxmock.NewRows(accountCols).AddRow(
		acct.LowercaseNickname, acct.Nickname, acct.Hash, acct.TOTPSecret, "aaaa,bbbb",
		acct.IP, acct.LoginIP, acct.RegDate, acct.LoginDate,
		acct.UUID.String(), premium, acct.TokenIssuedAt,
	)
}

func TestAccountRepository_Create(t *testing.T) {
	t.Run("inserts new account", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		acct := testAccount()
		mock.ExpectExec(`INSERT INTO accounts`).
			WithArgs(
				acct.LowercaseNickname, acct.Nickname, acct.Hash, acct.TOTPSecret, "aaaa,bbbb",
				acct.IP, acct.LoginIP, acct.RegDate, acct.LoginDate,
				acct.UUID.String(), (*string)(nil), acct.TokenIssuedAt,
			).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		repo := NewAccountRepository(mock)
		require.NoError(t, repo.Create(context.Background(), acct))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("maps unique violation to nickname taken", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectExec(`INSERT INTO accounts`).
			WithArgs(anyArgs(12)...).
			WillReturnError(&pgconn.PgError{Code: pgerrcode.UniqueViolation})

		repo := NewAccountRepository(mock)
		err = repo.Create(context.Background(), testAccount())
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "AUTH_NICKNAME_TAKEN")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("wraps other errors as create failure", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectExec(`INSERT INTO accounts`).
			WithArgs(anyArgs(12)...).
			WillReturnError(errors.New("connection refused"))

		repo := NewAccountRepository(mock)
		err = repo.Create(context.Background(), testAccount())
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "STORAGE_CREATE_FAILED")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestAccountRepository_GetByLowercaseNickname(t *testing.T) {
	t.Run("returns account and splits recovery codes", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		acct := testAccount()
		mock.ExpectQuery(`SELECT .+ FROM accounts`).
			WithArgs("steve").
			WillReturnRows(accountRow(acct))

		repo := NewAccountRepository(mock)
		got, err := repo.GetByLowercaseNickname(context.Background(), "Steve")
		require.NoError(t, err)
		assert.Equal(t, "steve", got.LowercaseNickname)
		assert.Equal(t, "Steve", got.Nickname)
		assert.Equal(t, []string{"aaaa", "bbbb"}, got.RecoveryCodes)
		assert.Equal(t, acct.UUID, got.UUID)
		assert.Nil(t, got.PremiumUUID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("returns ErrNotFound for missing account", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectQuery(`SELECT .+ FROM accounts`).
			WithArgs("ghost").
			WillReturnError(pgx.ErrNoRows)

		repo := NewAccountRepository(mock)
		got, err := repo.GetByLowercaseNickname(context.Background(), "ghost")
		assert.Nil(t, got)
		assert.ErrorIs(t, err, account.ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestAccountRepository_GetByPremiumUUID(t *testing.T) {
	t.Run("returns account with premium uuid", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		premiumID := uuid.MustParse("069a79f4-44e9-4726-a5be-fca90e38aaf5")
		acct := testAccount()
		acct.PremiumUUID = &premiumID
		mock.ExpectQuery(`SELECT .+ FROM accounts`).
			WithArgs(premiumID.String()).
			WillReturnRows(accountRow(acct))

		repo := NewAccountRepository(mock)
		got, err := repo.GetByPremiumUUID(context.Background(), premiumID)
		require.NoError(t, err)
		require.NotNil(t, got.PremiumUUID)
		assert.Equal(t, premiumID, *got.PremiumUUID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("returns ErrNotFound for unknown uuid", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		id := uuid.New()
		mock.ExpectQuery(`SELECT .+ FROM accounts`).
			WithArgs(id.String()).
			WillReturnError(pgx.ErrNoRows)

		repo := NewAccountRepository(mock)
		got, err := repo.GetByPremiumUUID(context.Background(), id)
		assert.Nil(t, got)
		assert.ErrorIs(t, err, account.ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestAccountRepository_Update(t *testing.T) {
	t.Run("updates mutable fields", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		acct := testAccount()
		mock.ExpectExec(`UPDATE accounts SET`).
			WithArgs(
				acct.LowercaseNickname, acct.Nickname, acct.Hash, acct.TOTPSecret, "aaaa,bbbb",
				acct.LoginIP, acct.LoginDate, (*string)(nil), acct.TokenIssuedAt,
			).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		repo := NewAccountRepository(mock)
		require.NoError(t, repo.Update(context.Background(), acct))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("returns ErrNotFound when nothing updated", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectExec(`UPDATE accounts SET`).
			WithArgs(anyArgs(9)...).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))

		repo := NewAccountRepository(mock)
		err = repo.Update(context.Background(), testAccount())
		assert.ErrorIs(t, err, account.ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestAccountRepository_UpdateHash(t *testing.T) {
	t.Run("updates hash and issue time only", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		issuedAt := time.Now().UTC()
		mock.ExpectExec(`UPDATE accounts SET hash`).
			WithArgs("steve", "$2a$10$newhash", issuedAt).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		repo := NewAccountRepository(mock)
		require.NoError(t, repo.UpdateHash(context.Background(), "steve", "$2a$10$newhash", issuedAt))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("returns ErrNotFound for missing account", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectExec(`UPDATE accounts SET hash`).
			WithArgs(anyArgs(3)...).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))

		repo := NewAccountRepository(mock)
		err = repo.UpdateHash(context.Background(), "ghost", "h", time.Now())
		assert.ErrorIs(t, err, account.ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestAccountRepository_Delete(t *testing.T) {
	t.Run("deletes existing account", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectExec(`DELETE FROM accounts`).
			WithArgs("steve").
			WillReturnResult(pgxmock.NewResult("DELETE", 1))

		repo := NewAccountRepository(mock)
		require.NoError(t, repo.Delete(context.Background(), "steve"))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("returns ErrNotFound for missing account", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectExec(`DELETE FROM accounts`).
			WithArgs("ghost").
			WillReturnResult(pgxmock.NewResult("DELETE", 0))

		repo := NewAccountRepository(mock)
		err = repo.Delete(context.Background(), "ghost")
		assert.ErrorIs(t, err, account.ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestAccountRepository_CountByRegistrationIP(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	since := time.Now().Add(-6 * time.Hour)
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM accounts`).
		WithArgs("203.0.113.7", since).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(2))

	repo := NewAccountRepository(mock)
	count, err := repo.CountByRegistrationIP(context.Background(), "203.0.113.7", since)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.NoError(t, mock.ExpectationsWereMet())
}
