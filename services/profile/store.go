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
)

// ErrNotFound is the distinguished "no row" outcome. It is not a store
// failure; the resolver reacts to it by creating the default profile.
var ErrNotFound = errors.New("profile: not found")

// ErrConflict is returned by Create when a row for the id already exists.
// Creation races are expected; callers re-fetch instead of failing.
var ErrConflict = errors.New("profile: already exists")

// Store is the durable profile record store.
//
// Get and Create return the typed outcomes above so callers can tell
// "no row" and "lost the creation race" apart from genuine store
// failures. Implementations must be safe for concurrent use.
type Store interface {
	// Get fetches the profile for an identity id, or ErrNotFound.
	Get(ctx context.Context, id string) (*Profile, error)

	// Create inserts a new profile row, or ErrConflict when one exists.
	// The stored row is returned.
	Create(ctx context.Context, p *Profile) (*Profile, error)

	// Update applies a partial update to an existing row.
	Update(ctx context.Context, id string, patch Patch) error

	// IncrementUsage atomically bumps messages_used by one and returns
	// the new value.
	IncrementUsage(ctx context.Context, id string) (int, error)

	// AppendMessage persists one conversation turn for a profile.
	// Callers treat failures as best-effort (logged, not surfaced).
	AppendMessage(ctx context.Context, profileID string, m Message) error

	// History returns the most recent turns for a profile, oldest first.
	History(ctx context.Context, profileID string, limit int) ([]Message, error)
}
