// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatelock Contributors

package premium

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"

	"github.com/gatelock/gatelock/internal/account"
	"github.com/gatelock/gatelock/internal/cache"
	"github.com/gatelock/gatelock/pkg/errutil"
)

// Config holds the resolver's behavior knobs.
type Config struct {
	ForceOfflineMode   bool
	InternalFirst      bool
	OnlineModeNeedAuth bool
	OnRateLimit        bool // verdict when every check was rate limited
	OnError            bool // verdict when every check errored

	LookupURL     string // fmt template with one %s for the escaped nickname
	LookupTimeout time.Duration
	RetryAttempts uint64
	RetryBase     time.Duration

	StatusUserExists    []int
	StatusUserNotExists []int
	StatusRateLimit     []int

	UserExistsFields    []string
	UserNotExistsFields []string
	UUIDField           string
}

// Recorder receives the outcome of each premium check for metrics.
type Recorder interface {
	RecordPremiumCheck(source string, state State)
}

// Resolver combines the internal account store and the external directory
// into a single premium verdict per nickname, memoized in the premium cache.
type Resolver struct {
	cfg      Config
	repo     account.Repository
	cache    *cache.PremiumCache
	client   *http.Client
	logger   *slog.Logger
	recorder Recorder // optional
}

// NewResolver creates a Resolver. client may be nil, in which case a client
// bounded by cfg.LookupTimeout is used. recorder may be nil.
func NewResolver(cfg Config, repo account.Repository, premiumCache *cache.PremiumCache, client *http.Client, logger *slog.Logger, recorder Recorder) *Resolver {
	if client == nil {
		client = &http.Client{Timeout: cfg.LookupTimeout}
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 100 * time.Millisecond
	}
	return &Resolver{
		cfg:      cfg,
		repo:     repo,
		cache:    premiumCache,
		client:   client,
		logger:   logger,
		recorder: recorder,
	}
}

func (r *Resolver) record(source string, state State) {
	if r.recorder != nil {
		r.recorder.RecordPremiumCheck(source, state)
	}
}

// CheckInternal classifies a nickname from the account store alone: an
// account without a local password is premium, one with a password is
// cracked, and an unregistered nickname is unknown.
func (r *Resolver) CheckInternal(ctx context.Context, nickname string) Response {
	acct, err := r.repo.GetByLowercaseNickname(ctx, strings.ToLower(nickname))
	switch {
	case errors.Is(err, account.ErrNotFound):
		r.record("internal", StateUnknown)
		return Response{State: StateUnknown}
	case err != nil:
		errutil.LogError(r.logger, "internal premium check failed", err)
		r.record("internal", StateError)
		return Response{State: StateError}
	case !acct.HasLocalPassword():
		r.record("internal", StatePremium)
		return Response{State: StatePremium, UUID: acct.PremiumUUID}
	default:
		r.record("internal", StateCracked)
		return Response{State: StateCracked}
	}
}

// CheckExternal asks the external directory about a nickname. Transport
// failures are retried with capped fibonacci backoff; an exhausted retry
// budget yields StateError, never a panic or a guess.
func (r *Resolver) CheckExternal(ctx context.Context, nickname string) Response {
	resp := r.checkExternal(ctx, nickname)
	r.record("external", resp.State)
	return resp
}

func (r *Resolver) checkExternal(ctx context.Context, nickname string) Response {
	lookupURL := fmt.Sprintf(r.cfg.LookupURL, url.QueryEscape(nickname))

	ctx, cancel := context.WithTimeout(ctx, r.cfg.LookupTimeout)
	defer cancel()

	var (
		status int
		body   []byte
	)
	backoff := retry.WithMaxRetries(r.cfg.RetryAttempts, retry.NewFibonacci(r.cfg.RetryBase))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		req, reqErr := http.NewRequestWithContext(ctx, http.MethodGet, lookupURL, nil)
		if reqErr != nil {
			return reqErr
		}
		httpResp, doErr := r.client.Do(req)
		if doErr != nil {
			return retry.RetryableError(doErr)
		}
		defer httpResp.Body.Close()

		status = httpResp.StatusCode
		body, reqErr = io.ReadAll(httpResp.Body)
		if reqErr != nil {
			return retry.RetryableError(reqErr)
		}
		return nil
	})
	if err != nil {
		r.logger.ErrorContext(ctx, "external premium lookup failed",
			"nickname", nickname, "error", err)
		return Response{State: StateError}
	}

	if slices.Contains(r.cfg.StatusRateLimit, status) {
		return Response{State: StateRateLimit}
	}

	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		if slices.Contains(r.cfg.StatusUserNotExists, status) {
			return Response{State: StateCracked}
		}
		r.logger.WarnContext(ctx, "external premium lookup returned empty body",
			"nickname", nickname, "status", status)
		return Response{State: StateError}
	}

	var payload map[string]json.RawMessage
	if jsonErr := json.Unmarshal([]byte(trimmed), &payload); jsonErr != nil {
		r.logger.WarnContext(ctx, "external premium lookup returned malformed body",
			"nickname", nickname, "status", status)
		return Response{State: StateError}
	}

	if slices.Contains(r.cfg.StatusUserExists, status) && hasFields(payload, r.cfg.UserExistsFields) {
		var raw string
		if jsonErr := json.Unmarshal(payload[r.cfg.UUIDField], &raw); jsonErr != nil {
			r.logger.WarnContext(ctx, "external premium lookup uuid field unreadable",
				"nickname", nickname, "field", r.cfg.UUIDField)
			return Response{State: StateError}
		}
		id, parseErr := uuid.Parse(raw)
		if parseErr != nil {
			r.logger.WarnContext(ctx, "external premium lookup uuid unparseable",
				"nickname", nickname, "uuid", raw)
			return Response{State: StateError}
		}
		return Response{State: StatePremiumUsername, UUID: &id}
	}

	if slices.Contains(r.cfg.StatusUserNotExists, status) && hasFields(payload, r.cfg.UserNotExistsFields) {
		return Response{State: StateCracked}
	}

	r.logger.WarnContext(ctx, "external premium lookup returned unexpected response",
		"nickname", nickname, "status", status)
	return Response{State: StateError}
}

func hasFields(payload map[string]json.RawMessage, fields []string) bool {
	for _, f := range fields {
		if _, ok := payload[f]; !ok {
			return false
		}
	}
	return true
}

// IsPremiumUUID reports whether an account holds this verified UUID without
// a local password.
func (r *Resolver) IsPremiumUUID(ctx context.Context, id uuid.UUID) bool {
	acct, err := r.repo.GetByPremiumUUID(ctx, id)
	if err != nil {
		if !errors.Is(err, account.ErrNotFound) {
			errutil.LogError(r.logger, "premium uuid lookup failed", err)
		}
		return false
	}
	return !acct.HasLocalPassword()
}

// IsPremium resolves the composite verdict for a nickname. Forced offline
// mode wins outright; otherwise a cached verdict is returned when live, and
// the internal and external checks run in configured order. Cracked
// short-circuits to false, Premium to a forced true. All decided verdicts
// are cached, including outage fallbacks, so reconnect storms stay off the
// external directory.
func (r *Resolver) IsPremium(ctx context.Context, nickname string) bool {
	if r.cfg.ForceOfflineMode {
		return false
	}

	lowercase := strings.ToLower(nickname)
	if cached, ok := r.cache.Get(lowercase); ok {
		return cached.Premium
	}

	checks := []func(context.Context, string) Response{r.CheckInternal, r.CheckExternal}
	if !r.cfg.InternalFirst {
		checks[0], checks[1] = checks[1], checks[0]
	}

	var (
		premiumUsername bool
		unknown         bool
		rateLimited     bool
		errored         bool
		externalUUID    *uuid.UUID
	)

	for _, check := range checks {
		resp := check(ctx, lowercase)
		if resp.UUID != nil {
			externalUUID = resp.UUID
		}

		switch resp.State {
		case StateCracked:
			r.cache.Set(lowercase, false)
			return false
		case StatePremium:
			r.cache.SetForced(lowercase, true)
			return true
		case StatePremiumUsername:
			premiumUsername = true
		case StateUnknown:
			unknown = true
		case StateRateLimit:
			rateLimited = true
		case StateError:
			errored = true
		}
	}

	if premiumUsername {
		r.cache.Set(lowercase, true)
		return true
	}

	if unknown {
		if externalUUID != nil && r.IsPremiumUUID(ctx, *externalUUID) {
			r.cache.SetForced(lowercase, true)
			return true
		}
		if !r.cfg.OnlineModeNeedAuth {
			r.cache.Set(lowercase, false)
			return false
		}
	}

	if rateLimited && !unknown {
		r.cache.Set(lowercase, r.cfg.OnRateLimit)
		return r.cfg.OnRateLimit
	}

	if errored && !unknown && !rateLimited {
		r.cache.Set(lowercase, r.cfg.OnError)
		return r.cfg.OnError
	}

	r.cache.Set(lowercase, false)
	return false
}
