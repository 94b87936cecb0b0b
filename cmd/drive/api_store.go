// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"

	"github.com/AleutianAI/AleutianDrive/services/profile"
)

// errServerOwned guards store operations that only the assistant
// service itself may perform.
var errServerOwned = errors.New("drive: operation is server-owned")

// apiProfileStore adapts the assistant's HTTP API to profile.Store so
// the session machine can run client-side against the remote profile.
//
// The server resolves (and lazily creates) the row on every profile
// read, so Get never reports ErrNotFound for a valid session and Create
// is answered with ErrConflict, so the resolver re-fetches and converges
// on the server's row, exactly as it would against a racing peer.
type apiProfileStore struct {
	api *APIClient
}

func newAPIProfileStore(api *APIClient) *apiProfileStore {
	return &apiProfileStore{api: api}
}

func (s *apiProfileStore) Get(ctx context.Context, _ string) (*profile.Profile, error) {
	resp, err := s.api.Profile(ctx)
	if err != nil {
		return nil, err
	}
	return &profile.Profile{
		ID:           resp.ID,
		Email:        resp.Email,
		Name:         resp.Name,
		Tier:         profile.Tier(resp.Tier),
		Status:       resp.Status,
		MessagesUsed: resp.MessagesUsed,
	}, nil
}

func (s *apiProfileStore) Create(context.Context, *profile.Profile) (*profile.Profile, error) {
	return nil, profile.ErrConflict
}

func (s *apiProfileStore) Update(ctx context.Context, _ string, patch profile.Patch) error {
	if patch.Tier != nil || patch.Status != nil || patch.MessagesUsed != nil {
		return errServerOwned
	}
	if patch.Name == nil {
		return nil
	}
	_, err := s.api.UpdateProfile(ctx, *patch.Name)
	return err
}

func (s *apiProfileStore) IncrementUsage(context.Context, string) (int, error) {
	return 0, errServerOwned
}

func (s *apiProfileStore) AppendMessage(context.Context, string, profile.Message) error {
	return errServerOwned
}

func (s *apiProfileStore) History(ctx context.Context, _ string, limit int) ([]profile.Message, error) {
	resp, err := s.api.History(ctx, limit)
	if err != nil {
		return nil, err
	}
	out := make([]profile.Message, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		out = append(out, profile.Message{
			ID:        m.ID,
			SessionID: m.SessionID,
			Role:      m.Role,
			Content:   m.Content,
			CreatedAt: m.CreatedAt,
		})
	}
	return out, nil
}
