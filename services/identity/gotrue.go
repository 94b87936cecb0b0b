// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

// HTTPProvider implements Provider and Validator against a
// GoTrue-compatible identity endpoint (Supabase Auth and friends).
//
// The provider keeps the last known session in memory and broadcasts
// every change to subscribers. Each subscriber gets its own delivery
// goroutine fed by a one-slot channel: a slow subscriber only ever sees
// the latest state, which matches the last-write-wins semantics the
// session machine applies anyway.
type HTTPProvider struct {
	baseURL string
	apiKey  string
	client  *http.Client

	mu      sync.Mutex
	current *AuthSession
	subs    map[int]chan *AuthSession
	nextSub int
}

// HTTPProviderConfig configures an HTTPProvider.
type HTTPProviderConfig struct {
	// BaseURL is the auth endpoint root, e.g. "https://x.supabase.co/auth/v1".
	BaseURL string

	// APIKey is sent as the "apikey" header on every request.
	APIKey string

	// Timeout bounds each HTTP round trip. Default 15s.
	Timeout time.Duration
}

// NewHTTPProvider builds a provider client for the given endpoint.
func NewHTTPProvider(cfg HTTPProviderConfig) (*HTTPProvider, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("identity: BaseURL is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPProvider{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: timeout},
		subs:    make(map[int]chan *AuthSession),
	}, nil
}

// gotrueUser mirrors the provider's user object.
type gotrueUser struct {
	ID           string         `json:"id"`
	Email        string         `json:"email"`
	UserMetadata map[string]any `json:"user_metadata"`
}

func (u *gotrueUser) identity() *Identity {
	return &Identity{ID: u.ID, Email: u.Email, Metadata: u.UserMetadata}
}

// gotrueSession mirrors the provider's token grant response.
type gotrueSession struct {
	AccessToken string      `json:"access_token"`
	ExpiresIn   int         `json:"expires_in"`
	User        *gotrueUser `json:"user"`
}

// gotrueError covers both error shapes GoTrue deployments emit.
type gotrueError struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	Msg              string `json:"msg"`
}

func (e *gotrueError) message() string {
	if e.ErrorDescription != "" {
		return e.ErrorDescription
	}
	if e.Msg != "" {
		return e.Msg
	}
	return e.Error
}

// CurrentSession implements Provider.
func (p *HTTPProvider) CurrentSession(_ context.Context) (*AuthSession, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current, nil
}

// Subscribe implements Provider. The current session is pushed before
// Subscribe returns, so a machine that subscribes at startup always
// receives its initializing push.
func (p *HTTPProvider) Subscribe(cb SessionCallback) func() {
	p.mu.Lock()
	id := p.nextSub
	p.nextSub++
	ch := make(chan *AuthSession, 1)
	p.subs[id] = ch
	ch <- p.current
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		for {
			select {
			case sess, ok := <-ch:
				if !ok {
					return
				}
				cb(sess)
			case <-done:
				return
			}
		}
	}()

	// The registration check doubles as the idempotence guard: a second
	// call finds the sub gone and closes nothing.
	return func() {
		p.mu.Lock()
		sub, ok := p.subs[id]
		if ok {
			delete(p.subs, id)
			close(sub)
		}
		p.mu.Unlock()
		if ok {
			close(done)
		}
	}
}

// setSession replaces the stored session and broadcasts the change.
func (p *HTTPProvider) setSession(sess *AuthSession) {
	p.mu.Lock()
	p.current = sess
	for _, ch := range p.subs {
		// Drop the stale value if the subscriber has not drained yet.
		select {
		case <-ch:
		default:
		}
		ch <- sess
	}
	p.mu.Unlock()
}

// SignInWithPassword implements Provider.
func (p *HTTPProvider) SignInWithPassword(ctx context.Context, email, password string) (*AuthSession, error) {
	body := map[string]string{"email": email, "password": password}
	var grant gotrueSession
	if err := p.do(ctx, http.MethodPost, "/token?grant_type=password", "", body, &grant); err != nil {
		return nil, err
	}
	sess := grantSession(&grant)
	if sess == nil {
		return nil, fmt.Errorf("%w: empty grant response", ErrProviderUnavailable)
	}
	p.setSession(sess)
	slog.Info("signed in", "user_id", sess.Identity.ID)
	return sess, nil
}

// SignUp implements Provider. Providers with email confirmation enabled
// return a user without a token; the caller stays signed out until the
// confirmation push arrives.
func (p *HTTPProvider) SignUp(ctx context.Context, email, password string, metadata map[string]any) (*AuthSession, error) {
	body := map[string]any{"email": email, "password": password}
	if len(metadata) > 0 {
		body["data"] = metadata
	}
	var grant gotrueSession
	if err := p.do(ctx, http.MethodPost, "/signup", "", body, &grant); err != nil {
		return nil, err
	}
	sess := grantSession(&grant)
	if sess != nil {
		p.setSession(sess)
		slog.Info("signed up", "user_id", sess.Identity.ID)
	} else {
		slog.Info("signed up, awaiting confirmation", "email", email)
	}
	return sess, nil
}

// SignOut implements Provider. The local session is cleared even when the
// remote revocation fails; holding on to a token the user asked us to
// drop is worse than leaking an already-expiring one remotely.
func (p *HTTPProvider) SignOut(ctx context.Context) error {
	p.mu.Lock()
	token := ""
	if p.current != nil {
		token = p.current.AccessToken
	}
	p.mu.Unlock()

	var remoteErr error
	if token != "" {
		remoteErr = p.do(ctx, http.MethodPost, "/logout", token, nil, nil)
	}
	p.setSession(nil)
	slog.Info("signed out")
	return remoteErr
}

// ResetPassword implements Provider.
func (p *HTTPProvider) ResetPassword(ctx context.Context, email string) error {
	return p.do(ctx, http.MethodPost, "/recover", "", map[string]string{"email": email}, nil)
}

// Validate implements Validator by asking the provider who the token
// belongs to. Any authentication failure comes back as ErrUnauthorized.
func (p *HTTPProvider) Validate(ctx context.Context, token string) (*Identity, error) {
	if token == "" {
		return nil, ErrUnauthorized
	}
	var user gotrueUser
	if err := p.do(ctx, http.MethodGet, "/user", token, nil, &user); err != nil {
		return nil, err
	}
	if user.ID == "" {
		return nil, ErrUnauthorized
	}
	return user.identity(), nil
}

func grantSession(grant *gotrueSession) *AuthSession {
	if grant.AccessToken == "" || grant.User == nil || grant.User.ID == "" {
		return nil
	}
	return &AuthSession{
		Identity:    grant.User.identity(),
		AccessToken: grant.AccessToken,
		ExpiresAt:   time.Now().Add(time.Duration(grant.ExpiresIn) * time.Second),
	}
}

// do performs one round trip and normalizes failures into the package's
// closed error set.
func (p *HTTPProvider) do(ctx context.Context, method, path, token string, body, out any) error {
	var rdr io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("identity: encode request: %w", err)
		}
		rdr = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, rdr)
	if err != nil {
		return fmt.Errorf("identity: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("apikey", p.apiKey)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("%w: decode response: %v", ErrProviderUnavailable, err)
		}
		return nil
	}

	var perr gotrueError
	_ = json.NewDecoder(resp.Body).Decode(&perr)
	msg := perr.message()

	switch {
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: status %d: %s", ErrProviderUnavailable, resp.StatusCode, msg)
	case strings.Contains(strings.ToLower(msg), "already registered"),
		strings.Contains(strings.ToLower(msg), "already exists"):
		return fmt.Errorf("%w: %s", ErrEmailTaken, msg)
	default:
		return fmt.Errorf("%w: status %d: %s", ErrUnauthorized, resp.StatusCode, msg)
	}
}
