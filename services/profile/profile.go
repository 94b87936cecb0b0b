// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package profile owns the durable per-identity record: subscription tier,
// usage counter and display name. Exactly one Profile row exists per
// identity once resolved; rows are created lazily and never deleted here.
package profile

import (
	"encoding/json"
	"time"
)

// Tier is the subscription level determining the message quota.
type Tier string

const (
	TierBasic   Tier = "basic"
	TierPro     Tier = "pro"
	TierPremium Tier = "premium"
)

// Valid reports whether t is one of the known tiers.
func (t Tier) Valid() bool {
	switch t {
	case TierBasic, TierPro, TierPremium:
		return true
	}
	return false
}

// Profile is the durable record keyed 1:1 by identity id.
//
// MessagesUsed only ever increases, once per billed message. Status is
// the subscription status as reported by billing and is informational
// only for the entitlement core.
type Profile struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name,omitempty"`
	Tier         Tier      `json:"subscription_tier"`
	Status       string    `json:"subscription_status"`
	MessagesUsed int       `json:"messages_used"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Patch is a partial profile update. Nil fields are left untouched.
type Patch struct {
	Name   *string `json:"name,omitempty"`
	Tier   *Tier   `json:"subscription_tier,omitempty"`
	Status *string `json:"subscription_status,omitempty"`

	// MessagesUsed overwrites the usage counter. Prefer IncrementUsage;
	// this exists for the legacy read-then-write usage path only.
	MessagesUsed *int `json:"messages_used,omitempty"`
}

// Role labels for persisted conversation turns.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one persisted conversation turn owned by a Profile.
type Message struct {
	ID             string          `json:"id"`
	SessionID      string          `json:"session_id,omitempty"`
	Role           string          `json:"role"`
	Content        string          `json:"content"`
	VehicleContext json.RawMessage `json:"vehicle_context,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}
