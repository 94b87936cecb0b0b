// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package services holds the assistant's application services. The
// conversation service is the single pipeline every inbound message
// flows through: resolve the caller's profile, gate the message, call
// the completion backend, then persist and bill best-effort.
package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/AleutianDrive/services/assistant/datatypes"
	"github.com/AleutianAI/AleutianDrive/services/assistant/observability"
	"github.com/AleutianAI/AleutianDrive/services/entitlement"
	"github.com/AleutianAI/AleutianDrive/services/identity"
	"github.com/AleutianAI/AleutianDrive/services/llm"
	"github.com/AleutianAI/AleutianDrive/services/profile"
)

var conversationTracer = otel.Tracer("aleutiandrive.assistant.conversation")

// Typed denial and failure outcomes. Handlers map these to HTTP status
// codes; everything else is an internal error.
var (
	// ErrAuthenticationRequired means the caller's guest trial is spent
	// and only signing in will unblock them.
	ErrAuthenticationRequired = errors.New("conversation: authentication required")

	// ErrQuotaExceeded means the caller's tier allowance is exhausted.
	ErrQuotaExceeded = errors.New("conversation: message quota exceeded")

	// ErrCompletionFailed means the completion backend produced no reply.
	// Nothing was billed or persisted for the attempt.
	ErrCompletionFailed = errors.New("conversation: completion failed")
)

// Degraded-operation labels reported in ExchangeResult.Degraded and on
// the persistence-failure counter.
const (
	DegradedProfileResolution = "profile_resolution"
	DegradedUserTurn          = "user_turn"
	DegradedAssistantTurn     = "assistant_turn"
	DegradedUsage             = "usage"
)

// ConversationConfig is the static tuning for the pipeline.
type ConversationConfig struct {
	// Persona is the system prompt prepended to every completion call.
	Persona string

	// MaxTokens and Temperature are passed through to the backend.
	MaxTokens   int
	Temperature float32

	// Limits is the per-tier quota table.
	Limits entitlement.Limits

	// CompatUsageWrites selects the legacy read-then-write usage bump
	// instead of the transactional increment. Only for rollback against
	// stores observed to misbehave under the transactional path.
	CompatUsageWrites bool
}

// Conversation runs the message pipeline. Safe for concurrent use.
type Conversation struct {
	resolver *profile.Resolver
	store    profile.Store
	client   llm.CompletionClient
	ledger   *entitlement.GuestLedger
	metrics  *observability.ChatMetrics
	cfg      ConversationConfig
	log      *slog.Logger
}

// NewConversation wires the pipeline. All collaborators are required
// except metrics, which may be nil in tests that don't assert on it.
func NewConversation(
	resolver *profile.Resolver,
	store profile.Store,
	client llm.CompletionClient,
	ledger *entitlement.GuestLedger,
	metrics *observability.ChatMetrics,
	cfg ConversationConfig,
) *Conversation {
	return &Conversation{
		resolver: resolver,
		store:    store,
		client:   client,
		ledger:   ledger,
		metrics:  metrics,
		cfg:      cfg,
		log:      slog.Default().With("component", "conversation"),
	}
}

// ExchangeResult is one completed exchange.
//
// Degraded lists best-effort operations that failed after the reply was
// produced; the exchange still succeeded and the caller may surface the
// reply. An empty slice means fully durable.
type ExchangeResult struct {
	Reply         string
	Usage         *datatypes.Usage
	GuestExchange bool
	Degraded      []string
}

// Converse runs one message through the pipeline.
//
// ident is nil for unauthenticated callers; it must come from the
// server's own token validation, never from a request field. clientKey
// identifies the caller for the guest-trial ledger (client session id
// when the request carried one, otherwise the client IP).
//
// A denial returns ErrAuthenticationRequired or ErrQuotaExceeded. A
// backend failure returns ErrCompletionFailed with no usage billed and
// no turns persisted. Persistence failures after a successful
// completion never fail the exchange; they are reported via Degraded.
func (c *Conversation) Converse(ctx context.Context, req datatypes.ChatRequest, ident *identity.Identity, clientKey string) (*ExchangeResult, error) {
	ctx, span := conversationTracer.Start(ctx, "conversation.Converse")
	defer span.End()
	span.SetAttributes(attribute.Bool("authenticated", ident != nil))

	// An anonymous caller must claim the guest path explicitly. Without
	// the flag the request is rejected before any profile or completion
	// work, so the trial is never spent on a call that did not ask for it.
	if ident == nil && !req.IsGuestMessage {
		if c.metrics != nil {
			c.metrics.DenialsTotal.WithLabelValues(string(entitlement.ReasonAuthenticationRequired)).Inc()
		}
		return nil, ErrAuthenticationRequired
	}

	var degraded []string

	var prof *profile.Profile
	if ident != nil {
		p, err := c.resolver.Resolve(ctx, ident)
		if err != nil {
			// The gate treats a missing profile as a fresh basic one, so
			// a broken profile store degrades service instead of denying
			// it. Usage written against the fallback is lost.
			c.log.Warn("profile resolution failed, using in-memory default",
				"user_id", ident.ID, "error", err)
			degraded = append(degraded, DegradedProfileResolution)
			p = profile.DefaultProfile(ident)
		}
		prof = p
	}

	decision := entitlement.Decide(entitlement.Input{
		Authenticated:      ident != nil,
		GuestTrialConsumed: c.ledger.Consumed(clientKey),
		Profile:            prof,
		Limits:             c.cfg.Limits,
	})
	if decision.ConsumesGuestTrial && !c.ledger.Consume(clientKey) {
		// Lost a race with a concurrent request for the same key.
		decision = entitlement.Decision{Allow: false, Reason: entitlement.ReasonAuthenticationRequired}
	}
	if !decision.Allow {
		if c.metrics != nil {
			c.metrics.DenialsTotal.WithLabelValues(string(decision.Reason)).Inc()
		}
		switch decision.Reason {
		case entitlement.ReasonQuotaExceeded:
			return nil, ErrQuotaExceeded
		default:
			return nil, ErrAuthenticationRequired
		}
	}

	guest := decision.Reason == entitlement.ReasonGuestTrial
	if guest && c.metrics != nil {
		c.metrics.GuestTrialsTotal.Inc()
	}

	reply, err := c.complete(ctx, req)
	if err != nil {
		if guest {
			// The trial bought nothing; hand it back.
			c.ledger.Release(clientKey)
		}
		return nil, fmt.Errorf("%w: %v", ErrCompletionFailed, err)
	}

	result := &ExchangeResult{Reply: reply, GuestExchange: guest}
	if guest {
		result.Degraded = degraded
		return result, nil
	}

	// Everything past the reply is best-effort: log, count, carry on.
	if err := c.store.AppendMessage(ctx, prof.ID, profile.Message{
		ID:             uuid.NewString(),
		SessionID:      req.SessionID,
		Role:           profile.RoleUser,
		Content:        req.Message,
		VehicleContext: req.VehicleContext,
		CreatedAt:      time.Now().UTC(),
	}); err != nil {
		c.log.Warn("persisting user turn failed", "user_id", prof.ID, "error", err)
		c.countPersistenceFailure(DegradedUserTurn)
		degraded = append(degraded, DegradedUserTurn)
	}
	if err := c.store.AppendMessage(ctx, prof.ID, profile.Message{
		ID:        uuid.NewString(),
		SessionID: req.SessionID,
		Role:      profile.RoleAssistant,
		Content:   reply,
		CreatedAt: time.Now().UTC(),
	}); err != nil {
		c.log.Warn("persisting assistant turn failed", "user_id", prof.ID, "error", err)
		c.countPersistenceFailure(DegradedAssistantTurn)
		degraded = append(degraded, DegradedAssistantTurn)
	}

	used, err := c.bumpUsage(ctx, prof.ID)
	if err != nil {
		c.log.Warn("usage increment failed", "user_id", prof.ID, "error", err)
		c.countPersistenceFailure(DegradedUsage)
		degraded = append(degraded, DegradedUsage)
		// Optimistic snapshot so the response still reflects this message.
		used = prof.MessagesUsed + 1
	}

	result.Usage = usageSnapshot(used, c.cfg.Limits.ForTier(prof.Tier))
	result.Degraded = degraded
	return result, nil
}

// complete calls the backend with the persona prompt, folding any
// vehicle context into the system prompt, and times the call.
func (c *Conversation) complete(ctx context.Context, req datatypes.ChatRequest) (string, error) {
	system := c.cfg.Persona
	if len(req.VehicleContext) > 0 {
		system += "\n\nCurrent vehicle state:\n" + string(req.VehicleContext)
	}
	params := llm.GenerationParams{
		Temperature: llm.Float32Ptr(c.cfg.Temperature),
		MaxTokens:   llm.IntPtr(c.cfg.MaxTokens),
	}

	start := time.Now()
	reply, err := c.client.Complete(ctx, system, req.Message, params)
	if c.metrics != nil {
		c.metrics.CompletionSeconds.Observe(time.Since(start).Seconds())
	}
	return reply, err
}

// bumpUsage records one billed message and returns the new counter.
func (c *Conversation) bumpUsage(ctx context.Context, id string) (int, error) {
	if !c.cfg.CompatUsageWrites {
		return c.store.IncrementUsage(ctx, id)
	}
	// Legacy path: read the row, write counter+1. Concurrent requests
	// for one identity can under-count here; the transactional path
	// above is the default for a reason.
	p, err := c.store.Get(ctx, id)
	if err != nil {
		return 0, err
	}
	used := p.MessagesUsed + 1
	if err := c.store.Update(ctx, id, profile.Patch{MessagesUsed: &used}); err != nil {
		return 0, err
	}
	return used, nil
}

func (c *Conversation) countPersistenceFailure(op string) {
	if c.metrics != nil {
		c.metrics.PersistenceFailuresTotal.WithLabelValues(op).Inc()
	}
}

// usageSnapshot builds the wire usage block for an authenticated
// exchange. Premium reports the string "unlimited" instead of a number.
func usageSnapshot(used, limit int) *datatypes.Usage {
	u := &datatypes.Usage{MessagesUsed: used}
	if limit == entitlement.Unlimited {
		u.MessageLimit = "unlimited"
	} else {
		u.MessageLimit = limit
	}
	return u
}
