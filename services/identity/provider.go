// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package identity defines the contract AleutianDrive requires from an
// identity provider, plus an HTTP client for GoTrue-compatible providers.
//
// The provider owns identities outright: this system never mutates an
// Identity, only reads it. Provider-specific error shapes are normalized
// into the small closed set below at this boundary so no raw provider
// error ever reaches the session machine or the entitlement gate.
package identity

import (
	"context"
	"errors"
	"time"
)

// ErrUnauthorized is returned for invalid credentials or invalid tokens.
var ErrUnauthorized = errors.New("identity: unauthorized")

// ErrProviderUnavailable is returned when the provider cannot be reached
// or answers with a server-side failure.
var ErrProviderUnavailable = errors.New("identity: provider unavailable")

// ErrEmailTaken is returned by SignUp when the email is already registered.
var ErrEmailTaken = errors.New("identity: email already registered")

// Identity is an authenticated principal issued by the provider.
type Identity struct {
	// ID is the provider's opaque identifier. Never empty.
	ID string

	// Email is the address the identity signed up with.
	Email string

	// Metadata carries provider-side user metadata (display name etc).
	Metadata map[string]any
}

// Name returns the display name from metadata, or "" when absent.
func (i *Identity) Name() string {
	if i == nil || i.Metadata == nil {
		return ""
	}
	if name, ok := i.Metadata["name"].(string); ok {
		return name
	}
	return ""
}

// AuthSession is the provider's view of a signed-in principal.
type AuthSession struct {
	Identity    *Identity
	AccessToken string
	ExpiresAt   time.Time
}

// SessionCallback receives session-change pushes. A nil session means the
// principal signed out (or the token was revoked). Callbacks must not
// block; providers deliver them from a dedicated goroutine per subscriber.
type SessionCallback func(session *AuthSession)

// Provider is the identity-provider contract.
//
// Subscribe must deliver the current session exactly once when the
// subscription is registered; the session state machine depends on that
// first push to leave its Initializing state. Implementations must be
// safe for concurrent use.
type Provider interface {
	// CurrentSession returns the session as the provider sees it right
	// now, or nil when signed out.
	CurrentSession(ctx context.Context) (*AuthSession, error)

	// Subscribe registers a session-change callback and returns an
	// unsubscribe function. The current session is pushed immediately.
	Subscribe(cb SessionCallback) (unsubscribe func())

	// SignInWithPassword authenticates with email and password.
	SignInWithPassword(ctx context.Context, email, password string) (*AuthSession, error)

	// SignUp registers a new identity. Metadata is stored verbatim on the
	// identity (display name and similar).
	SignUp(ctx context.Context, email, password string, metadata map[string]any) (*AuthSession, error)

	// SignOut terminates the current session.
	SignOut(ctx context.Context) error

	// ResetPassword asks the provider to start a password recovery flow.
	ResetPassword(ctx context.Context, email string) error
}

// Validator checks a bearer token server-side and returns the identity it
// belongs to. This is the half of the contract the HTTP middleware uses;
// it is split from Provider because the server never signs anyone in.
type Validator interface {
	Validate(ctx context.Context, token string) (*Identity, error)
}
