// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatelock Contributors

package session

import "context"

// Outcome is the verdict of an event hook.
type Outcome int

const (
	// OutcomeNormal continues the standard flow.
	OutcomeNormal Outcome = iota
	// OutcomeBypass skips the remaining standard flow; login metadata is
	// still recorded.
	OutcomeBypass
	// OutcomeCancel aborts the flow and disconnects with the given reason.
	OutcomeCancel
)

// HookResult carries a hook's outcome. Reason is only meaningful for
// OutcomeCancel.
type HookResult struct {
	Outcome Outcome
	Reason  string
}

// Hooks lets the embedding host observe and steer the authentication flow.
// Pre hooks are awaited before the flow continues; a slow hook should watch
// ctx. Post hooks are fire-and-forget.
type Hooks interface {
	PreRegister(ctx context.Context, nickname, addr string) HookResult
	PostRegister(ctx context.Context, nickname string)
	PreAuthorize(ctx context.Context, nickname, addr string) HookResult
	PostAuthorize(ctx context.Context, nickname string)
}

// NoopHooks lets every flow proceed unmodified.
type NoopHooks struct{}

var _ Hooks = NoopHooks{}

func (NoopHooks) PreRegister(context.Context, string, string) HookResult { return HookResult{} }
func (NoopHooks) PostRegister(context.Context, string)                   {}
func (NoopHooks) PreAuthorize(context.Context, string, string) HookResult {
	return HookResult{}
}
func (NoopHooks) PostAuthorize(context.Context, string) {}
