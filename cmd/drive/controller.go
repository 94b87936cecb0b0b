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
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianDrive/services/assistant/datatypes"
	"github.com/AleutianAI/AleutianDrive/services/session"
)

// ChatAPI is the slice of the assistant API the controller sends
// messages through.
type ChatAPI interface {
	Chat(ctx context.Context, req datatypes.ChatRequest) (*datatypes.ChatResponse, error)
}

// Authenticator is the slice of the session machine the controller
// drives during the sign-in flow.
type Authenticator interface {
	SignIn(ctx context.Context, email, password string) error
	SignUp(ctx context.Context, email, password, name string) error
	Current() session.Snapshot
}

// NudgeScheduler runs f after d and returns a cancel func. Injectable
// so tests control time.
type NudgeScheduler func(d time.Duration, f func()) (cancel func())

func timerNudge(d time.Duration, f func()) func() {
	t := time.AfterFunc(d, f)
	return func() { t.Stop() }
}

// ErrBusy means a previous message is still in flight; the transcript
// stays strictly ordered by refusing overlapping sends.
var ErrBusy = errors.New("drive: a message is already in flight")

// signUpNudgeDelay is how long after a successful guest exchange the
// account nudge appears.
const signUpNudgeDelay = 2 * time.Second

// Transcript row roles.
const (
	RowUser      = "user"
	RowAssistant = "assistant"
	RowSystem    = "system"
)

// TranscriptEntry is one append-only transcript row.
type TranscriptEntry struct {
	Role string
	Text string
}

// Controller owns the client side of a conversation: the append-only
// transcript, the one-in-flight send gate, the process-local guest
// flag, and the sign-in flow triggered when the server demands auth.
type Controller struct {
	api      ChatAPI
	auth     Authenticator
	prompter AuthPrompter
	ui       *UI
	nudge    NudgeScheduler

	sessionID string

	mu            sync.Mutex
	transcript    []TranscriptEntry
	pending       bool
	guestConsumed bool
	cancelNudge   func()
}

// NewController builds a controller with a fresh conversation id.
func NewController(api ChatAPI, auth Authenticator, prompter AuthPrompter, ui *UI) *Controller {
	return &Controller{
		api:       api,
		auth:      auth,
		prompter:  prompter,
		ui:        ui,
		nudge:     timerNudge,
		sessionID: uuid.NewString(),
	}
}

// Transcript returns a copy of the transcript rows so far.
func (c *Controller) Transcript() []TranscriptEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]TranscriptEntry, len(c.transcript))
	copy(out, c.transcript)
	return out
}

func (c *Controller) append(role, text string) {
	c.mu.Lock()
	c.transcript = append(c.transcript, TranscriptEntry{Role: role, Text: text})
	c.mu.Unlock()

	if c.ui == nil {
		return
	}
	switch role {
	case RowUser:
		c.ui.User(text)
	case RowAssistant:
		c.ui.Assistant(text)
	default:
		c.ui.System(text)
	}
}

// Send runs one user message through the assistant.
//
// The user's row is appended optimistically before the network call, so
// the transcript shows what they said even when the exchange fails.
// While a send is pending further sends return ErrBusy. A needsAuth
// answer opens the sign-in form and, if the user authenticates, retries
// the same message once. Once the free guest message is spent, an
// unauthenticated send opens the form before any network call.
func (c *Controller) Send(ctx context.Context, text string) error {
	c.mu.Lock()
	if c.pending {
		c.mu.Unlock()
		return ErrBusy
	}
	c.pending = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.pending = false
		c.mu.Unlock()
	}()

	c.append(RowUser, text)
	return c.exchange(ctx, text, true)
}

func (c *Controller) exchange(ctx context.Context, text string, mayPromptAuth bool) error {
	snap := c.auth.Current()

	c.mu.Lock()
	isGuest := !snap.Authenticated() && !c.guestConsumed
	trialSpent := !snap.Authenticated() && c.guestConsumed
	c.mu.Unlock()

	// The server would only answer 401 here, so open the form without
	// spending the round trip.
	if trialSpent && mayPromptAuth {
		if authErr := c.runAuthFlow(ctx); authErr != nil {
			c.append(RowSystem, "sign in to continue chatting")
			return ErrNeedsAuth
		}
		return c.exchange(ctx, text, false)
	}

	resp, err := c.api.Chat(ctx, datatypes.ChatRequest{
		Message:        text,
		SessionID:      c.sessionID,
		IsGuestMessage: isGuest,
	})
	switch {
	case errors.Is(err, ErrNeedsAuth):
		if !mayPromptAuth {
			c.append(RowSystem, "sign in to continue chatting")
			return err
		}
		if authErr := c.runAuthFlow(ctx); authErr != nil {
			c.append(RowSystem, "sign in to continue chatting")
			return err
		}
		// Same message, now authenticated. One retry only.
		return c.exchange(ctx, text, false)
	case errors.Is(err, ErrQuotaExceeded):
		c.append(RowSystem, "you have used all messages in your plan; upgrade to keep chatting")
		return err
	case err != nil:
		c.append(RowSystem, "something went wrong: "+err.Error())
		return err
	}

	c.append(RowAssistant, resp.Message)
	if c.ui != nil {
		c.ui.Usage(resp.Usage)
	}

	if resp.IsGuestMessage {
		c.mu.Lock()
		c.guestConsumed = true
		prev := c.cancelNudge
		c.mu.Unlock()
		if prev != nil {
			prev()
		}
		// Scheduled outside the lock: the callback appends a row, which
		// takes the lock itself.
		cancel := c.nudge(signUpNudgeDelay, func() {
			c.append(RowSystem, "enjoying Clank? create a free account to keep chatting")
		})
		c.mu.Lock()
		c.cancelNudge = cancel
		c.mu.Unlock()
	}
	return nil
}

// runAuthFlow collects credentials and drives the session machine.
func (c *Controller) runAuthFlow(ctx context.Context) error {
	choice, err := c.prompter.PromptAuth(ctx)
	if err != nil {
		return err
	}
	switch choice.Mode {
	case AuthModeSignUp:
		err = c.auth.SignUp(ctx, choice.Email, choice.Password, choice.Name)
	default:
		err = c.auth.SignIn(ctx, choice.Email, choice.Password)
	}
	if err != nil {
		c.append(RowSystem, "sign in failed: "+err.Error())
		return err
	}
	if !c.auth.Current().Authenticated() {
		// Sign-up flows that need email confirmation land here.
		c.append(RowSystem, "check your email to confirm your account, then sign in")
		return ErrNeedsAuth
	}
	c.append(RowSystem, "signed in")
	return nil
}

// Close stops any scheduled nudge.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancelNudge != nil {
		c.cancelNudge()
		c.cancelNudge = nil
	}
}
