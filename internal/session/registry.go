// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatelock Contributors

package session

import (
	"context"
	"strings"
	"sync"

	"github.com/samber/oops"
)

func errSessionState(state State) error {
	return oops.Code("AUTH_SESSION_STATE").
		With("state", state.String()).
		Errorf("operation not valid in this session state")
}

// Registry enforces one live AuthSession per lowercase identity. Per-identity
// ordering of transitions follows from this uniqueness.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*AuthSession
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*AuthSession)}
}

// add inserts a session, failing when the identity already has a live one.
func (r *Registry) add(s *AuthSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sessions[s.lowercase]; exists {
		return oops.Code("AUTH_SESSION_EXISTS").
			With("nickname", s.lowercase).
			Errorf("an authentication session is already running for this identity")
	}
	r.sessions[s.lowercase] = s
	return nil
}

// Get returns the live session for an identity.
func (r *Registry) Get(nickname string) (*AuthSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[strings.ToLower(nickname)]
	return s, ok
}

func (r *Registry) remove(lowercase string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, lowercase)
}

// Remove drops the session for an identity without touching its state.
func (r *Registry) Remove(nickname string) {
	r.remove(strings.ToLower(nickname))
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// ForceComplete administratively completes the live session for an identity.
func (r *Registry) ForceComplete(ctx context.Context, nickname string) error {
	s, ok := r.Get(nickname)
	if !ok {
		return oops.Code("AUTH_SESSION_NOT_FOUND").
			With("nickname", strings.ToLower(nickname)).
			Errorf("no authentication session for this identity")
	}
	return s.ForceComplete(ctx)
}
