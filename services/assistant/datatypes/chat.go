// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes provides request and response types for the
// assistant service.
package datatypes

import (
	"encoding/json"
	"time"

	"github.com/go-playground/validator/v10"
)

// MaxMessageContentBytes caps a single message body. Byte length, not
// rune count, to bound memory for pathological payloads.
const MaxMessageContentBytes = 32 * 1024

// chatValidate is the validator instance for chat datatypes.
var chatValidate *validator.Validate

func init() {
	chatValidate = validator.New()
	_ = chatValidate.RegisterValidation("maxbytes", validateMaxBytes)
}

func validateMaxBytes(fl validator.FieldLevel) bool {
	return len(fl.Field().String()) <= MaxMessageContentBytes
}

// ChatRequest is the conversation endpoint request body.
//
// IsGuestMessage is how an anonymous caller claims the guest trial. An
// unauthenticated request without it is rejected outright, and setting
// it never grants access by itself: the server re-checks the flag
// against its own ledger and the caller's verified identity.
type ChatRequest struct {
	Message        string          `json:"message" validate:"required,maxbytes"`
	SessionID      string          `json:"sessionId,omitempty" validate:"omitempty,max=128"`
	VehicleContext json.RawMessage `json:"vehicleContext,omitempty"`
	IsGuestMessage bool            `json:"isGuestMessage,omitempty"`
}

// Validate enforces the request invariants beyond JSON well-formedness.
func (r *ChatRequest) Validate() error {
	return chatValidate.Struct(r)
}

// Usage is the caller's recomputed usage snapshot. MessageLimit is a
// number for metered tiers and the string "unlimited" for premium.
type Usage struct {
	MessagesUsed int `json:"messagesUsed"`
	MessageLimit any `json:"messageLimit"`
}

// ChatResponse is the conversation endpoint success body.
type ChatResponse struct {
	Message          string `json:"message"`
	IsGuestMessage   bool   `json:"isGuestMessage"`
	NeedsAuthForNext bool   `json:"needsAuthForNext"`
	Usage            *Usage `json:"usage"`
}

// ErrorResponse is the shared error body. NeedsAuth is only set on 401s
// so clients know to open the sign-up flow rather than show an error.
type ErrorResponse struct {
	Error     string `json:"error"`
	NeedsAuth bool   `json:"needsAuth,omitempty"`
}

// UpdateProfileRequest is the body of PATCH /v1/profile. Only the
// display name is client-editable; tier and status belong to billing.
type UpdateProfileRequest struct {
	Name string `json:"name" validate:"required,max=256"`
}

// Validate checks the request against its declared rules.
func (r *UpdateProfileRequest) Validate() error {
	return chatValidate.Struct(r)
}

// ProfileResponse is the GET /v1/profile body.
type ProfileResponse struct {
	ID           string `json:"id"`
	Email        string `json:"email"`
	Name         string `json:"name,omitempty"`
	Tier         string `json:"tier"`
	Status       string `json:"status"`
	MessagesUsed int    `json:"messagesUsed"`
	MessageLimit any    `json:"messageLimit"`
}

// HistoryMessage is one persisted turn in GET /v1/chat/history.
type HistoryMessage struct {
	ID        string    `json:"id"`
	SessionID string    `json:"sessionId,omitempty"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// HistoryResponse is the GET /v1/chat/history body.
type HistoryResponse struct {
	Messages []HistoryMessage `json:"messages"`
}
