// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package entitlement

import (
	"context"
	"sync"
	"time"
)

// Clock abstracts time for the ledger so expiry is testable.
type Clock interface {
	Now() time.Time
}

// realClock is the production Clock.
type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// defaultGuestTTL is how long a consumed trial is remembered. Guests are
// keyed by a weak signal (client session id or IP), so entries must age
// out rather than accumulate forever.
const defaultGuestTTL = 24 * time.Hour

// GuestLedger is the server-side record of consumed guest trials.
//
// The client keeps its own trial flag, but that flag is advisory only: a
// repeat guest-flagged call must be refused using the server's own
// memory, keyed by whatever session identity signal the request carried.
type GuestLedger struct {
	mu      sync.Mutex
	entries map[string]time.Time
	ttl     time.Duration
	clock   Clock
}

// LedgerOption configures a GuestLedger.
type LedgerOption func(*GuestLedger)

// WithTTL overrides how long consumed trials are remembered.
func WithTTL(ttl time.Duration) LedgerOption {
	return func(l *GuestLedger) {
		if ttl > 0 {
			l.ttl = ttl
		}
	}
}

// WithClock injects a clock for tests.
func WithClock(c Clock) LedgerOption {
	return func(l *GuestLedger) {
		if c != nil {
			l.clock = c
		}
	}
}

// NewGuestLedger builds an empty ledger.
func NewGuestLedger(opts ...LedgerOption) *GuestLedger {
	l := &GuestLedger{
		entries: make(map[string]time.Time),
		ttl:     defaultGuestTTL,
		clock:   realClock{},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Consumed reports whether the trial for a client key was already spent.
// Expired entries read as not consumed.
func (l *GuestLedger) Consumed(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	at, ok := l.entries[key]
	if !ok {
		return false
	}
	if l.clock.Now().Sub(at) > l.ttl {
		delete(l.entries, key)
		return false
	}
	return true
}

// Consume marks the trial spent for a client key. Returns false when it
// was already spent (the caller raced another request for the same key).
func (l *GuestLedger) Consume(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	if at, ok := l.entries[key]; ok && now.Sub(at) <= l.ttl {
		return false
	}
	l.entries[key] = now
	return true
}

// Release forgets a consumed trial. Used to hand the trial back when
// the exchange it was spent on never produced a reply.
func (l *GuestLedger) Release(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, key)
}

// Sweep drops expired entries every interval until ctx is cancelled.
func (l *GuestLedger) Sweep(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.sweepOnce()
		}
	}
}

func (l *GuestLedger) sweepOnce() {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.clock.Now()
	for key, at := range l.entries {
		if now.Sub(at) > l.ttl {
			delete(l.entries, key)
		}
	}
}

// Len reports the number of live entries. Used by metrics.
func (l *GuestLedger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
