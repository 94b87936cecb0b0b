// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianDrive/services/assistant/datatypes"
	"github.com/AleutianAI/AleutianDrive/services/assistant/middleware"
	"github.com/AleutianAI/AleutianDrive/services/assistant/services"
	"github.com/AleutianAI/AleutianDrive/services/entitlement"
	"github.com/AleutianAI/AleutianDrive/services/identity"
	"github.com/AleutianAI/AleutianDrive/services/llm"
	"github.com/AleutianAI/AleutianDrive/services/profile"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeCompletion struct {
	reply string
	err   error

	mu    sync.Mutex
	calls int
}

func (f *fakeCompletion) Complete(context.Context, string, string, llm.GenerationParams) (string, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

func (f *fakeCompletion) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeValidator struct {
	token string
	ident *identity.Identity
}

func (v *fakeValidator) Validate(_ context.Context, token string) (*identity.Identity, error) {
	if token == v.token {
		return v.ident, nil
	}
	return nil, identity.ErrUnauthorized
}

type testHarness struct {
	router *gin.Engine
	store  *profile.BadgerStore
}

func newHarness(t *testing.T, client llm.CompletionClient) *testHarness {
	t.Helper()
	store, err := profile.OpenBadger(profile.InMemoryBadgerConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	resolver := profile.NewResolver(store)
	limits := entitlement.Limits{Basic: 2, Pro: 10}
	conv := services.NewConversation(resolver, store, client, entitlement.NewGuestLedger(), nil, services.ConversationConfig{
		Persona:     "You are a helpful automotive assistant.",
		MaxTokens:   256,
		Temperature: 0.7,
		Limits:      limits,
	})

	validator := &fakeValidator{token: "tok-123", ident: &identity.Identity{ID: "user-1", Email: "ada@example.com"}}
	router := gin.New()
	v1 := router.Group("/v1")
	v1.Use(middleware.Authenticate(validator))
	v1.POST("/chat", HandleChat(conv, nil))
	v1.GET("/profile", middleware.RequireIdentity(), HandleGetProfile(resolver, limits))
	v1.GET("/chat/history", middleware.RequireIdentity(), HandleGetHistory(store))
	v1.PATCH("/profile", middleware.RequireIdentity(), HandleUpdateProfile(store, resolver, limits))

	return &testHarness{router: router, store: store}
}

func (h *testHarness) postChat(t *testing.T, body string, token string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/chat", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	h.router.ServeHTTP(rec, req)
	return rec
}

func decodeChat(t *testing.T, rec *httptest.ResponseRecorder) datatypes.ChatResponse {
	t.Helper()
	var resp datatypes.ChatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestGuestFirstMessageThenAuthRequired(t *testing.T) {
	h := newHarness(t, &fakeCompletion{reply: "check the oil"})

	rec := h.postChat(t, `{"message":"my oil light is on","sessionId":"sess-1","isGuestMessage":true}`, "")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeChat(t, rec)
	assert.Equal(t, "check the oil", resp.Message)
	assert.True(t, resp.IsGuestMessage)
	assert.True(t, resp.NeedsAuthForNext)
	assert.Nil(t, resp.Usage)

	rec = h.postChat(t, `{"message":"and now?","sessionId":"sess-1","isGuestMessage":true}`, "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"error":"authentication required","needsAuth":true}`, rec.Body.String())
}

func TestAnonymousWithoutGuestFlagGets401(t *testing.T) {
	backend := &fakeCompletion{reply: "should never be generated"}
	h := newHarness(t, backend)

	rec := h.postChat(t, `{"message":"hello","sessionId":"sess-1","isGuestMessage":false}`, "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"error":"authentication required","needsAuth":true}`, rec.Body.String())
	assert.Equal(t, 0, backend.callCount())

	// The rejection must not have burned the trial.
	rec = h.postChat(t, `{"message":"hello","sessionId":"sess-1","isGuestMessage":true}`, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGuestHintIgnoredWhenTrialSpent(t *testing.T) {
	h := newHarness(t, &fakeCompletion{reply: "ok"})

	rec := h.postChat(t, `{"message":"first","sessionId":"sess-1","isGuestMessage":true}`, "")
	require.Equal(t, http.StatusOK, rec.Code)

	// The client resets its local flag and claims a fresh trial. The
	// server's ledger says otherwise.
	rec = h.postChat(t, `{"message":"second","sessionId":"sess-1","isGuestMessage":true}`, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthenticatedChatReturnsUsage(t *testing.T) {
	h := newHarness(t, &fakeCompletion{reply: "rotate your tires"})

	rec := h.postChat(t, `{"message":"maintenance tips"}`, "tok-123")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeChat(t, rec)
	assert.Equal(t, "rotate your tires", resp.Message)
	assert.False(t, resp.IsGuestMessage)
	assert.False(t, resp.NeedsAuthForNext)
	require.NotNil(t, resp.Usage)
	assert.Equal(t, 1, resp.Usage.MessagesUsed)
	assert.Equal(t, float64(2), resp.Usage.MessageLimit)
}

func TestQuotaExceededReturns403(t *testing.T) {
	h := newHarness(t, &fakeCompletion{reply: "ok"})

	for i := 0; i < 2; i++ {
		rec := h.postChat(t, `{"message":"hi"}`, "tok-123")
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec := h.postChat(t, `{"message":"one more"}`, "tok-123")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.JSONEq(t, `{"error":"message quota exceeded"}`, rec.Body.String())
}

func TestPremiumUnlimitedUsage(t *testing.T) {
	h := newHarness(t, &fakeCompletion{reply: "ok"})
	_, err := h.store.Create(context.Background(), &profile.Profile{ID: "user-1", Tier: profile.TierPremium, MessagesUsed: 50})
	require.NoError(t, err)

	rec := h.postChat(t, `{"message":"hi"}`, "tok-123")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeChat(t, rec)
	require.NotNil(t, resp.Usage)
	assert.Equal(t, "unlimited", resp.Usage.MessageLimit)
	assert.Equal(t, 51, resp.Usage.MessagesUsed)
}

func TestChatInvalidBody(t *testing.T) {
	h := newHarness(t, &fakeCompletion{reply: "ok"})

	rec := h.postChat(t, `{not json`, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.postChat(t, `{"message":""}`, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChatCompletionFailure(t *testing.T) {
	h := newHarness(t, &fakeCompletion{err: errors.New("backend down")})

	rec := h.postChat(t, `{"message":"hi"}`, "tok-123")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"assistant unavailable"}`, rec.Body.String())
}

func TestGetProfile(t *testing.T) {
	h := newHarness(t, &fakeCompletion{reply: "ok"})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/profile", nil)
	req.Header.Set("Authorization", "Bearer tok-123")
	h.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp datatypes.ProfileResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "user-1", resp.ID)
	assert.Equal(t, "ada@example.com", resp.Email)
	assert.Equal(t, "basic", resp.Tier)
	assert.Equal(t, float64(2), resp.MessageLimit)
}

func TestGetProfileAnonymous(t *testing.T) {
	h := newHarness(t, &fakeCompletion{reply: "ok"})

	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/profile", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGetHistory(t *testing.T) {
	h := newHarness(t, &fakeCompletion{reply: "topping up coolant is easy"})

	rec := h.postChat(t, `{"message":"how do I top up coolant?","sessionId":"sess-9"}`, "tok-123")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/chat/history", nil)
	req.Header.Set("Authorization", "Bearer tok-123")
	h.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp datatypes.HistoryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Messages, 2)
	assert.Equal(t, profile.RoleUser, resp.Messages[0].Role)
	assert.True(t, strings.Contains(resp.Messages[1].Content, "coolant"))
}

func TestUpdateProfileName(t *testing.T) {
	h := newHarness(t, &fakeCompletion{reply: "ok"})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPatch, "/v1/profile", bytes.NewBufferString(`{"name":"Ada L"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer tok-123")
	h.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp datatypes.ProfileResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Ada L", resp.Name)

	stored, err := h.store.Get(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, "Ada L", stored.Name)
}

func TestUpdateProfileEmptyName(t *testing.T) {
	h := newHarness(t, &fakeCompletion{reply: "ok"})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPatch, "/v1/profile", bytes.NewBufferString(`{"name":""}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer tok-123")
	h.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetHistoryBadLimit(t *testing.T) {
	h := newHarness(t, &fakeCompletion{reply: "ok"})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/chat/history?limit=zero", nil)
	req.Header.Set("Authorization", "Bearer tok-123")
	h.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
