// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package main contains the AleutianDrive CLI.
//
// The CLI is a thin terminal client for the assistant service: it keeps
// the caller's session via the identity provider, renders a line-oriented
// chat transcript, and talks to the assistant over its HTTP API.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/AleutianAI/AleutianDrive/services/assistant/datatypes"
)

// Typed API outcomes the controller reacts to.
var (
	// ErrNeedsAuth means the server refused the message until the caller
	// signs in (guest trial spent, or token invalid).
	ErrNeedsAuth = errors.New("drive: authentication required")

	// ErrQuotaExceeded means the caller's tier allowance is exhausted.
	ErrQuotaExceeded = errors.New("drive: message quota exceeded")

	// ErrRateLimited means the server asked the client to slow down.
	ErrRateLimited = errors.New("drive: rate limited")
)

// TokenSource supplies the current access token, or "" when anonymous.
type TokenSource func() string

// APIClient talks to the assistant service's HTTP API.
type APIClient struct {
	baseURL string
	httpc   *http.Client
	token   TokenSource
}

// NewAPIClient builds a client for the assistant at baseURL. token may
// be nil for a permanently anonymous client.
func NewAPIClient(baseURL string, token TokenSource) *APIClient {
	if token == nil {
		token = func() string { return "" }
	}
	return &APIClient{
		baseURL: baseURL,
		httpc:   &http.Client{Timeout: 60 * time.Second},
		token:   token,
	}
}

// Chat sends one message and returns the assistant's reply.
func (c *APIClient) Chat(ctx context.Context, req datatypes.ChatRequest) (*datatypes.ChatResponse, error) {
	var resp datatypes.ChatResponse
	if err := c.do(ctx, http.MethodPost, "/v1/chat", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Profile fetches the caller's profile and quota standing.
func (c *APIClient) Profile(ctx context.Context) (*datatypes.ProfileResponse, error) {
	var resp datatypes.ProfileResponse
	if err := c.do(ctx, http.MethodGet, "/v1/profile", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// UpdateProfile changes the caller's display name.
func (c *APIClient) UpdateProfile(ctx context.Context, name string) (*datatypes.ProfileResponse, error) {
	var resp datatypes.ProfileResponse
	body := datatypes.UpdateProfileRequest{Name: name}
	if err := c.do(ctx, http.MethodPatch, "/v1/profile", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// History fetches the caller's recent turns, oldest first.
func (c *APIClient) History(ctx context.Context, limit int) (*datatypes.HistoryResponse, error) {
	path := "/v1/chat/history"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var resp datatypes.HistoryResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// do runs one request, attaching the bearer token when present and
// mapping error statuses to the typed outcomes above.
func (c *APIClient) do(ctx context.Context, method, path string, body, out any) error {
	var rdr io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("drive: encode request: %w", err)
		}
		rdr = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tok := c.token(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("drive: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil {
			return nil
		}
		return json.NewDecoder(resp.Body).Decode(out)
	}

	var apiErr datatypes.ErrorResponse
	_ = json.NewDecoder(resp.Body).Decode(&apiErr)
	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return ErrNeedsAuth
	case http.StatusForbidden:
		return ErrQuotaExceeded
	case http.StatusTooManyRequests:
		return ErrRateLimited
	}
	if apiErr.Error != "" {
		return fmt.Errorf("drive: %s %s: %s", method, path, apiErr.Error)
	}
	return fmt.Errorf("drive: %s %s: status %d", method, path, resp.StatusCode)
}
