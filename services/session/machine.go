// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package session owns the process-local source of truth for "who is the
// current caller".
//
// Two independent event sources write this state: explicit calls (sign-in,
// sign-up, sign-out, profile refresh) and the identity provider's push
// channel. Both may fire for the same logical transition; instead of
// trying to suppress the duplicate (suppression-by-flag is itself
// race-prone), both paths run the identical resolve-and-replace sequence,
// which makes duplicate application a no-op in effect. The redundant
// profile fetch on the explicit path is the accepted cost.
//
// There is no lock protecting a transition end to end, only last-applied-
// write-wins on an atomically replaced snapshot. Readers never observe a
// torn record because the snapshot is rebuilt wholesale on every
// transition, never mutated in place.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianDrive/services/identity"
	"github.com/AleutianAI/AleutianDrive/services/profile"
)

// State labels for the machine.
type State string

const (
	// StateInitializing holds until the provider's first push arrives.
	// The machine never polls; a provider that fails to deliver its
	// startup push leaves the machine here, which is a correctness
	// requirement on the provider, not something recoverable locally.
	StateInitializing State = "initializing"

	StateAnonymous     State = "anonymous"
	StateAuthenticated State = "authenticated"

	// StateAuthenticatedNoProfile means the identity is valid but profile
	// resolution failed; callers degrade to default entitlements.
	StateAuthenticatedNoProfile State = "authenticated_no_profile"

	// StateTransientError records a failed explicit action. The previous
	// identity and profile are carried over so a failed mutation never
	// silently signs a user out.
	StateTransientError State = "transient_error"
)

// Snapshot is the immutable session record. It is replaced wholesale on
// every transition.
type Snapshot struct {
	State    State
	Identity *identity.Identity
	Profile  *profile.Profile
	Loading  bool
	Err      string
}

// Authenticated reports whether the snapshot carries a valid identity,
// regardless of transient errors layered on top.
func (s Snapshot) Authenticated() bool {
	return s.Identity != nil
}

// Operation deadlines. A timeout fails the operation locally; the remote
// call is not cancelled and may still complete and deliver a push later,
// which the machine applies like any other push.
const (
	defaultSignInTimeout  = 15 * time.Second
	defaultSignUpTimeout  = 10 * time.Second
	defaultResolveTimeout = 10 * time.Second
)

// Machine reconciles provider pushes with explicit user actions.
type Machine struct {
	provider identity.Provider
	resolver *profile.Resolver
	store    profile.Store

	signInTimeout  time.Duration
	signUpTimeout  time.Duration
	resolveTimeout time.Duration

	mu          sync.RWMutex
	snap        Snapshot
	unsubscribe func()
}

// Option configures a Machine.
type Option func(*Machine)

// WithSignInTimeout bounds explicit sign-in calls.
func WithSignInTimeout(d time.Duration) Option {
	return func(m *Machine) {
		if d > 0 {
			m.signInTimeout = d
		}
	}
}

// WithSignUpTimeout bounds explicit sign-up calls.
func WithSignUpTimeout(d time.Duration) Option {
	return func(m *Machine) {
		if d > 0 {
			m.signUpTimeout = d
		}
	}
}

// WithResolveTimeout bounds profile resolution triggered by pushes.
func WithResolveTimeout(d time.Duration) Option {
	return func(m *Machine) {
		if d > 0 {
			m.resolveTimeout = d
		}
	}
}

// NewMachine builds a machine in the Initializing state. Call Start to
// subscribe to the provider.
func NewMachine(provider identity.Provider, resolver *profile.Resolver, store profile.Store, opts ...Option) *Machine {
	m := &Machine{
		provider:       provider,
		resolver:       resolver,
		store:          store,
		signInTimeout:  defaultSignInTimeout,
		signUpTimeout:  defaultSignUpTimeout,
		resolveTimeout: defaultResolveTimeout,
		snap:           Snapshot{State: StateInitializing, Loading: true},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start subscribes to the provider's push channel. The provider delivers
// the current session immediately, which moves the machine out of
// Initializing.
func (m *Machine) Start() {
	m.unsubscribe = m.provider.Subscribe(func(sess *identity.AuthSession) {
		m.applySession(sess)
	})
}

// Stop detaches from the provider.
func (m *Machine) Stop() {
	if m.unsubscribe != nil {
		m.unsubscribe()
		m.unsubscribe = nil
	}
}

// Current returns the session snapshot.
func (m *Machine) Current() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snap
}

// replace swaps in a new snapshot wholesale.
func (m *Machine) replace(snap Snapshot) {
	m.mu.Lock()
	m.snap = snap
	m.mu.Unlock()
}

// applySession is the single transition path shared by pushes and
// explicit calls: resolve the profile for the session's identity, then
// replace the whole snapshot. Applying the same session twice yields the
// same snapshot, so duplicate push/explicit delivery is harmless.
func (m *Machine) applySession(sess *identity.AuthSession) {
	if sess == nil || sess.Identity == nil {
		m.replace(Snapshot{State: StateAnonymous})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.resolveTimeout)
	defer cancel()

	p, err := m.resolver.Resolve(ctx, sess.Identity)
	if err != nil {
		slog.Warn("profile resolution failed, continuing without profile",
			"user_id", sess.Identity.ID, "error", err)
		m.replace(Snapshot{State: StateAuthenticatedNoProfile, Identity: sess.Identity})
		return
	}
	m.replace(Snapshot{State: StateAuthenticated, Identity: sess.Identity, Profile: p})
}

// failTransient replaces the snapshot with a transient error while
// keeping whatever identity and profile were already established.
func (m *Machine) failTransient(err error) {
	prev := m.Current()
	m.replace(Snapshot{
		State:    StateTransientError,
		Identity: prev.Identity,
		Profile:  prev.Profile,
		Err:      err.Error(),
	})
}

// setLoading rebuilds the snapshot with the loading flag raised.
func (m *Machine) setLoading() {
	prev := m.Current()
	prev.Loading = true
	prev.Err = ""
	m.replace(prev)
}

// SignIn authenticates with email and password. On success the machine
// performs the full resolve-and-replace itself rather than waiting for
// the provider's own push of the same change; the caller therefore reads
// fresh state as soon as SignIn returns. The push still arrives later and
// re-applies the same session, by design.
func (m *Machine) SignIn(ctx context.Context, email, password string) error {
	m.setLoading()

	opCtx, cancel := context.WithTimeout(ctx, m.signInTimeout)
	defer cancel()

	sess, err := m.provider.SignInWithPassword(opCtx, email, password)
	if err != nil {
		m.failTransient(err)
		return fmt.Errorf("session: sign in: %w", err)
	}
	m.applySession(sess)
	return nil
}

// SignUp registers a new identity. Providers with email confirmation
// enabled return no session; the machine drops back to Anonymous until
// the confirmation push arrives (possibly from another tab).
func (m *Machine) SignUp(ctx context.Context, email, password, name string) error {
	m.setLoading()

	opCtx, cancel := context.WithTimeout(ctx, m.signUpTimeout)
	defer cancel()

	var metadata map[string]any
	if name != "" {
		metadata = map[string]any{"name": name}
	}
	sess, err := m.provider.SignUp(opCtx, email, password, metadata)
	if err != nil {
		m.failTransient(err)
		return fmt.Errorf("session: sign up: %w", err)
	}
	m.applySession(sess)
	return nil
}

// SignOut terminates the session. The local state goes Anonymous even if
// the remote revocation failed.
func (m *Machine) SignOut(ctx context.Context) error {
	err := m.provider.SignOut(ctx)
	m.applySession(nil)
	if err != nil {
		return fmt.Errorf("session: sign out: %w", err)
	}
	return nil
}

// ResetPassword proxies the provider's recovery flow; it does not touch
// session state.
func (m *Machine) ResetPassword(ctx context.Context, email string) error {
	if err := m.provider.ResetPassword(ctx, email); err != nil {
		return fmt.Errorf("session: reset password: %w", err)
	}
	return nil
}

// RefreshProfile re-resolves the current identity's profile. A failure
// keeps the established session intact.
func (m *Machine) RefreshProfile(ctx context.Context) error {
	prev := m.Current()
	if prev.Identity == nil {
		return fmt.Errorf("session: refresh profile: not signed in")
	}

	opCtx, cancel := context.WithTimeout(ctx, m.resolveTimeout)
	defer cancel()

	p, err := m.resolver.Resolve(opCtx, prev.Identity)
	if err != nil {
		m.failTransient(err)
		return fmt.Errorf("session: refresh profile: %w", err)
	}
	m.replace(Snapshot{State: StateAuthenticated, Identity: prev.Identity, Profile: p})
	return nil
}

// UpdateProfile applies a partial profile update and refreshes. A failed
// update must never clear the authenticated session as a side effect.
func (m *Machine) UpdateProfile(ctx context.Context, patch profile.Patch) error {
	prev := m.Current()
	if prev.Identity == nil {
		return fmt.Errorf("session: update profile: not signed in")
	}

	opCtx, cancel := context.WithTimeout(ctx, m.resolveTimeout)
	defer cancel()

	if err := m.store.Update(opCtx, prev.Identity.ID, patch); err != nil {
		m.failTransient(err)
		return fmt.Errorf("session: update profile: %w", err)
	}
	return m.RefreshProfile(ctx)
}
