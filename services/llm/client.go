// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package llm provides the completion client abstraction for AleutianDrive.
//
// The assistant never talks to a model vendor directly; it goes through
// CompletionClient so the conversation service can be tested against mocks
// and backends can be swapped without touching callers.
package llm

import (
	"context"
	"errors"
)

// ErrNoCompletion is returned when the backend produced no usable reply.
var ErrNoCompletion = errors.New("llm: no completion returned")

// GenerationParams tunes a single completion call. Nil pointer fields fall
// back to the backend's defaults.
type GenerationParams struct {
	Temperature *float32 `json:"temperature"`
	TopP        *float32 `json:"top_p"`
	MaxTokens   *int     `json:"max_tokens"`
	Stop        []string `json:"stop"`
}

// CompletionClient defines the contract for any completion backend.
//
// Implementations must be safe for concurrent use. A failed call must not
// leave any partial state behind; callers treat an error as "nothing
// happened" and bill nothing.
type CompletionClient interface {
	// Complete turns a system prompt plus one user message into a reply.
	Complete(ctx context.Context, systemPrompt, userMessage string, params GenerationParams) (string, error)
}

// Float32Ptr is a convenience helper for building GenerationParams.
func Float32Ptr(v float32) *float32 { return &v }

// IntPtr is a convenience helper for building GenerationParams.
func IntPtr(v int) *int { return &v }
