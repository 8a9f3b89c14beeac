// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatelock Contributors

// Package config loads gatelock configuration from defaults, a YAML file,
// and command line flags, in that order of precedence.
package config

import (
	"bufio"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/gatelock/gatelock/internal/premium"
	"github.com/gatelock/gatelock/internal/session"
)

// Config is the root configuration.
type Config struct {
	Database      Database      `koanf:"database"`
	Frontend      Frontend      `koanf:"frontend"`
	Observability Observability `koanf:"observability"`
	Log           Log           `koanf:"log"`
	Auth          Auth          `koanf:"auth"`
	Premium       Premium       `koanf:"premium"`
	Cache         Cache         `koanf:"cache"`
	Messages      Messages      `koanf:"messages"`
}

// Database holds storage settings.
type Database struct {
	URL string `koanf:"url"`
}

// Frontend holds the line-protocol listener settings.
type Frontend struct {
	Addr string `koanf:"addr"`
}

// Observability holds the metrics and health endpoint settings.
type Observability struct {
	Addr string `koanf:"addr"`
}

// Log holds logging settings.
type Log struct {
	Format string `koanf:"format"` // "json" or "text"
	Level  string `koanf:"level"`
}

// Auth holds the interactive flow settings.
type Auth struct {
	Timeout               time.Duration `koanf:"timeout"`
	EnableCountdown       bool          `koanf:"enable_countdown"`
	LoginAttempts         int           `koanf:"login_attempts"`
	BruteforceMaxAttempts int           `koanf:"bruteforce_max_attempts"`

	MinPasswordLength     int    `koanf:"min_password_length"`
	MaxPasswordLength     int    `koanf:"max_password_length"`
	CheckPasswordStrength bool   `koanf:"check_password_strength"`
	UnsafePasswordsFile   string `koanf:"unsafe_passwords_file"`

	RegisterNeedRepeatPassword bool          `koanf:"register_need_repeat_password"`
	ChangePasswordNeedOld      bool          `koanf:"change_password_need_old"`
	NicknamePattern            string        `koanf:"nickname_pattern"`
	DisableRegistrations       bool          `koanf:"disable_registrations"`
	IPLimitRegistrations       int           `koanf:"ip_limit_registrations"`
	IPLimitWindow              time.Duration `koanf:"ip_limit_window"`

	BcryptCost    int    `koanf:"bcrypt_cost"`
	MigrationHash string `koanf:"migration_hash"`

	EnableTOTP        bool   `koanf:"enable_totp"`
	TOTPIssuer        string `koanf:"totp_issuer"`
	TOTPRecoveryCodes int    `koanf:"totp_recovery_codes"`
}

// Premium holds the premium resolution settings.
type Premium struct {
	ForceOfflineMode   bool `koanf:"force_offline_mode"`
	InternalFirst      bool `koanf:"internal_first"`
	OnlineModeNeedAuth bool `koanf:"online_mode_need_auth"`
	SaveAccounts       bool `koanf:"save_accounts"`
	OnRateLimit        bool `koanf:"on_rate_limit"`
	OnError            bool `koanf:"on_error"`

	LookupURL     string        `koanf:"lookup_url"`
	LookupTimeout time.Duration `koanf:"lookup_timeout"`
	RetryAttempts uint64        `koanf:"retry_attempts"`
	RetryBase     time.Duration `koanf:"retry_base"`

	StatusUserExists    []int    `koanf:"status_user_exists"`
	StatusUserNotExists []int    `koanf:"status_user_not_exists"`
	StatusRateLimit     []int    `koanf:"status_rate_limit"`
	UserExistsFields    []string `koanf:"user_exists_fields"`
	UserNotExistsFields []string `koanf:"user_not_exists_fields"`
	UUIDField           string   `koanf:"uuid_field"`
}

// Cache holds the TTLs of the in-memory caches.
type Cache struct {
	SessionTTL    time.Duration `koanf:"session_ttl"`
	PremiumTTL    time.Duration `koanf:"premium_ttl"`
	BruteforceTTL time.Duration `koanf:"bruteforce_ttl"`
	PendingTTL    time.Duration `koanf:"pending_ttl"`
}

// Messages holds overrides for the user-facing flow strings. Empty fields
// keep the built-in default.
type Messages struct {
	LoginPrompt           string `koanf:"login_prompt"`
	LoginWrongPassword    string `koanf:"login_wrong_password"`
	LoginSuccessful       string `koanf:"login_successful"`
	KickWrongPassword     string `koanf:"kick_wrong_password"`
	KickTimedOut          string `koanf:"kick_timed_out"`
	KickBruteforce        string `koanf:"kick_bruteforce"`
	KickInvalidNickname   string `koanf:"kick_invalid_nickname"`
	KickReconnectPremium  string `koanf:"kick_reconnect_premium"`
	KickSessionExists     string `koanf:"kick_session_exists"`
	RegisterPrompt        string `koanf:"register_prompt"`
	RegisterConfirmHint   string `koanf:"register_confirm_hint"`
	RegisterDifferent     string `koanf:"register_different"`
	RegisterTooShort      string `koanf:"register_too_short"`
	RegisterTooLong       string `koanf:"register_too_long"`
	RegisterUnsafe        string `koanf:"register_unsafe"`
	RegisterDisabled      string `koanf:"register_disabled"`
	RegisterIPLimit       string `koanf:"register_ip_limit"`
	RegisterSuccessful    string `koanf:"register_successful"`
	RegisterNicknameTaken string `koanf:"register_nickname_taken"`
	TOTPPrompt            string `koanf:"totp_prompt"`
	CrackedCommand        string `koanf:"cracked_command"`
	Countdown             string `koanf:"countdown"`
	ErrorOccurred         string `koanf:"error_occurred"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Database:      Database{URL: "postgres://localhost:5432/gatelock"},
		Frontend:      Frontend{Addr: "127.0.0.1:25570"},
		Observability: Observability{Addr: "127.0.0.1:9100"},
		Log:           Log{Format: "json", Level: "info"},
		Auth: Auth{
			Timeout:                    60 * time.Second,
			EnableCountdown:            true,
			LoginAttempts:              3,
			BruteforceMaxAttempts:      10,
			MinPasswordLength:          4,
			MaxPasswordLength:          71,
			CheckPasswordStrength:      true,
			RegisterNeedRepeatPassword: true,
			ChangePasswordNeedOld:      true,
			NicknamePattern:            `^[A-Za-z0-9_]{3,16}$`,
			IPLimitRegistrations:       3,
			IPLimitWindow:              6 * time.Hour,
			BcryptCost:                 10,
			EnableTOTP:                 true,
			TOTPIssuer:                 "gatelock",
			TOTPRecoveryCodes:          16,
		},
		Premium: Premium{
			InternalFirst:       true,
			OnlineModeNeedAuth:  true,
			SaveAccounts:        true,
			OnRateLimit:         true,
			OnError:             true,
			LookupURL:           "https://api.mojang.com/users/profiles/minecraft/%s",
			LookupTimeout:       5 * time.Second,
			RetryAttempts:       2,
			RetryBase:           100 * time.Millisecond,
			StatusUserExists:    []int{200},
			StatusUserNotExists: []int{204, 404},
			StatusRateLimit:     []int{429},
			UserExistsFields:    []string{"name", "id"},
			UserNotExistsFields: []string{},
			UUIDField:           "id",
		},
		Cache: Cache{
			SessionTTL:    time.Hour,
			PremiumTTL:    8 * time.Hour,
			BruteforceTTL: 8 * time.Hour,
			PendingTTL:    5 * time.Minute,
		},
	}
}

// Load builds the configuration from defaults, then the YAML file at path
// (when non-empty), then GATELOCK_* environment variables, then set flags.
// Environment variables use __ as the section separator, so
// GATELOCK_DATABASE__URL maps to database.url.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	cfg := Default()

	k := koanf.New(".")
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, oops.Code("CONFIG_FILE_FAILED").With("path", path).Wrap(err)
		}
	}
	if err := k.Load(env.Provider("GATELOCK_", ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, "GATELOCK_")), "__", ".")
	}), nil); err != nil {
		return nil, oops.Code("CONFIG_ENV_FAILED").Wrap(err)
	}
	if flags != nil {
		if err := k.Load(posflag.Provider(flags, ".", k), nil); err != nil {
			return nil, oops.Code("CONFIG_FLAGS_FAILED").Wrap(err)
		}
	}
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, oops.Code("CONFIG_PARSE_FAILED").Wrap(err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if _, err := regexp.Compile(c.Auth.NicknamePattern); err != nil {
		return oops.Code("CONFIG_INVALID").
			With("key", "auth.nickname_pattern").
			Wrap(err)
	}
	if c.Auth.MinPasswordLength < 1 || c.Auth.MaxPasswordLength < c.Auth.MinPasswordLength {
		return oops.Code("CONFIG_INVALID").
			With("key", "auth.min_password_length").
			Errorf("password length bounds are inconsistent")
	}
	if c.Auth.LoginAttempts < 1 {
		return oops.Code("CONFIG_INVALID").
			With("key", "auth.login_attempts").
			Errorf("at least one login attempt is required")
	}
	if c.Premium.LookupURL != "" && !strings.Contains(c.Premium.LookupURL, "%s") {
		return oops.Code("CONFIG_INVALID").
			With("key", "premium.lookup_url").
			Errorf("lookup url needs a %%s nickname placeholder")
	}
	return nil
}

// SessionConfig maps the configuration onto the flow's knobs. unsafe is the
// pre-loaded password deny set; pass nil when the strength check is off.
func (c *Config) SessionConfig(unsafe map[string]struct{}) session.Config {
	return session.Config{
		Timeout:                    c.Auth.Timeout,
		EnableCountdown:            c.Auth.EnableCountdown,
		LoginAttempts:              c.Auth.LoginAttempts,
		MinPasswordLength:          c.Auth.MinPasswordLength,
		MaxPasswordLength:          c.Auth.MaxPasswordLength,
		CheckPasswordStrength:      c.Auth.CheckPasswordStrength,
		UnsafePasswords:            unsafe,
		RegisterNeedRepeatPassword: c.Auth.RegisterNeedRepeatPassword,
		ChangePasswordNeedOld:      c.Auth.ChangePasswordNeedOld,
		DisableRegistrations:       c.Auth.DisableRegistrations,
		NicknamePattern:            regexp.MustCompile(c.Auth.NicknamePattern),
		IPLimitRegistrations:       c.Auth.IPLimitRegistrations,
		IPLimitWindow:              c.Auth.IPLimitWindow,
		EnableTOTP:                 c.Auth.EnableTOTP,
		SaveAccounts:               c.Premium.SaveAccounts,
		OnlineModeNeedAuth:         c.Premium.OnlineModeNeedAuth,
		Messages:                   c.Messages.toMessages(),
	}
}

// PremiumConfig maps the configuration onto the resolver's knobs.
func (c *Config) PremiumConfig() premium.Config {
	return premium.Config{
		ForceOfflineMode:    c.Premium.ForceOfflineMode,
		InternalFirst:       c.Premium.InternalFirst,
		OnlineModeNeedAuth:  c.Premium.OnlineModeNeedAuth,
		OnRateLimit:         c.Premium.OnRateLimit,
		OnError:             c.Premium.OnError,
		LookupURL:           c.Premium.LookupURL,
		LookupTimeout:       c.Premium.LookupTimeout,
		RetryAttempts:       c.Premium.RetryAttempts,
		RetryBase:           c.Premium.RetryBase,
		StatusUserExists:    c.Premium.StatusUserExists,
		StatusUserNotExists: c.Premium.StatusUserNotExists,
		StatusRateLimit:     c.Premium.StatusRateLimit,
		UserExistsFields:    c.Premium.UserExistsFields,
		UserNotExistsFields: c.Premium.UserNotExistsFields,
		UUIDField:           c.Premium.UUIDField,
	}
}

func (m Messages) toMessages() session.Messages {
	out := session.DefaultMessages()
	override := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	override(&out.LoginPrompt, m.LoginPrompt)
	override(&out.LoginWrongPassword, m.LoginWrongPassword)
	override(&out.LoginSuccessful, m.LoginSuccessful)
	override(&out.KickWrongPassword, m.KickWrongPassword)
	override(&out.KickTimedOut, m.KickTimedOut)
	override(&out.KickBruteforce, m.KickBruteforce)
	override(&out.KickInvalidNickname, m.KickInvalidNickname)
	override(&out.KickReconnectPremium, m.KickReconnectPremium)
	override(&out.KickSessionExists, m.KickSessionExists)
	override(&out.RegisterPrompt, m.RegisterPrompt)
	override(&out.RegisterConfirmHint, m.RegisterConfirmHint)
	override(&out.RegisterDifferent, m.RegisterDifferent)
	override(&out.RegisterTooShort, m.RegisterTooShort)
	override(&out.RegisterTooLong, m.RegisterTooLong)
	override(&out.RegisterUnsafe, m.RegisterUnsafe)
	override(&out.RegisterDisabled, m.RegisterDisabled)
	override(&out.RegisterIPLimit, m.RegisterIPLimit)
	override(&out.RegisterSuccessful, m.RegisterSuccessful)
	override(&out.RegisterNicknameTaken, m.RegisterNicknameTaken)
	override(&out.TOTPPrompt, m.TOTPPrompt)
	override(&out.CrackedCommand, m.CrackedCommand)
	override(&out.Countdown, m.Countdown)
	override(&out.ErrorOccurred, m.ErrorOccurred)
	return out
}

// LoadUnsafePasswords reads a newline-separated deny list. Blank lines and
// lines starting with # are skipped; entries are lowercased.
func LoadUnsafePasswords(path string) (map[string]struct{}, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, oops.Code("CONFIG_FILE_FAILED").With("path", path).Wrap(err)
	}
	defer f.Close()

	set := make(map[string]struct{})
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		set[strings.ToLower(line)] = struct{}{}
	}
	if err := scanner.Err(); err != nil {
		return nil, oops.Code("CONFIG_FILE_FAILED").With("path", path).Wrap(err)
	}
	return set, nil
}
