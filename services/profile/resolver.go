// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package profile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/AleutianAI/AleutianDrive/services/identity"
)

// Default deadlines for resolver store calls. A timeout fails the local
// operation but does not cancel whatever the store is still doing.
const (
	defaultFetchTimeout  = 10 * time.Second
	defaultCreateTimeout = 10 * time.Second
)

// Resolver bridges the identity provider and the profile store: it
// fetches the profile for an identity, lazily creating the default row
// the first time an identity is seen.
type Resolver struct {
	store         Store
	fetchTimeout  time.Duration
	createTimeout time.Duration
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithFetchTimeout bounds the profile fetch.
func WithFetchTimeout(d time.Duration) ResolverOption {
	return func(r *Resolver) {
		if d > 0 {
			r.fetchTimeout = d
		}
	}
}

// WithCreateTimeout bounds the lazy profile insert.
func WithCreateTimeout(d time.Duration) ResolverOption {
	return func(r *Resolver) {
		if d > 0 {
			r.createTimeout = d
		}
	}
}

// NewResolver builds a Resolver over the given store.
func NewResolver(store Store, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		store:         store,
		fetchTimeout:  defaultFetchTimeout,
		createTimeout: defaultCreateTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// DefaultProfile is the row created for a newly seen identity.
func DefaultProfile(ident *identity.Identity) *Profile {
	return &Profile{
		ID:           ident.ID,
		Email:        ident.Email,
		Name:         ident.Name(),
		Tier:         TierBasic,
		Status:       "inactive",
		MessagesUsed: 0,
	}
}

// Resolve fetches or lazily creates the profile for an identity.
//
// Losing the creation race to a concurrent resolver is not an error:
// when Create reports ErrConflict the row is re-fetched, so N
// simultaneous resolutions of a new identity converge on whichever
// insert won. Any other store error propagates; the caller stays
// authenticated without a profile.
func (r *Resolver) Resolve(ctx context.Context, ident *identity.Identity) (*Profile, error) {
	if ident == nil || ident.ID == "" {
		return nil, fmt.Errorf("profile: resolve requires an identity")
	}

	fetchCtx, cancel := context.WithTimeout(ctx, r.fetchTimeout)
	defer cancel()

	p, err := r.store.Get(fetchCtx, ident.ID)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("profile: resolve %s: %w", ident.ID, err)
	}

	createCtx, cancel := context.WithTimeout(ctx, r.createTimeout)
	defer cancel()

	created, err := r.store.Create(createCtx, DefaultProfile(ident))
	if err == nil {
		slog.Info("created profile", "user_id", created.ID, "tier", created.Tier)
		return created, nil
	}
	if !errors.Is(err, ErrConflict) {
		return nil, fmt.Errorf("profile: create %s: %w", ident.ID, err)
	}

	// Lost the creation race; the winner's row is authoritative.
	p, err = r.store.Get(createCtx, ident.ID)
	if err != nil {
		return nil, fmt.Errorf("profile: refetch after conflict %s: %w", ident.ID, err)
	}
	return p, nil
}
