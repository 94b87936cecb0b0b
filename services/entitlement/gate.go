// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package entitlement decides, for every inbound message, whether the
// caller may send it. The decision is re-evaluated server-side on every
// request; client-supplied hints select code paths but never grant
// access by themselves.
package entitlement

import (
	"github.com/AleutianAI/AleutianDrive/services/profile"
)

// Reason explains a gate decision.
type Reason string

const (
	// ReasonGuestTrial allows the one unauthenticated trial message.
	ReasonGuestTrial Reason = "guest_trial"

	// ReasonWithinQuota allows a billed message under the tier limit.
	ReasonWithinQuota Reason = "within_quota"

	// ReasonUnlimited allows a message on the premium tier.
	ReasonUnlimited Reason = "unlimited"

	// ReasonAuthenticationRequired denies an unauthenticated caller whose
	// trial is spent.
	ReasonAuthenticationRequired Reason = "authentication_required"

	// ReasonQuotaExceeded denies a caller over their tier limit.
	ReasonQuotaExceeded Reason = "quota_exceeded"
)

// Unlimited is the sentinel limit for the premium tier.
const Unlimited = -1

// Limits holds the per-tier message quotas.
type Limits struct {
	Basic int `yaml:"basic"`
	Pro   int `yaml:"pro"`
}

// DefaultLimits mirrors the shipped plan table.
func DefaultLimits() Limits {
	return Limits{Basic: 100, Pro: 500}
}

// ForTier returns the message limit for a tier, Unlimited for premium.
// Unknown tiers get no allowance at all.
func (l Limits) ForTier(tier profile.Tier) int {
	switch tier {
	case profile.TierBasic:
		return l.Basic
	case profile.TierPro:
		return l.Pro
	case profile.TierPremium:
		return Unlimited
	default:
		return 0
	}
}

// Input is everything the gate looks at. Authenticated must come from
// the server's own authentication check, never from a client hint.
type Input struct {
	Authenticated      bool
	GuestTrialConsumed bool
	Profile            *profile.Profile
	Limits             Limits
}

// Decision is the gate's verdict. ConsumesGuestTrial tells the caller to
// commit the trial flag; the gate itself owns no state.
type Decision struct {
	Allow              bool
	Reason             Reason
	ConsumesGuestTrial bool
}

// Decide applies the entitlement rules in order:
//
//  1. unauthenticated, trial available  -> allow, consume trial
//  2. unauthenticated, trial spent      -> deny AuthenticationRequired
//  3. premium                           -> allow, unlimited
//  4. basic/pro under the tier limit    -> allow
//  5. otherwise                         -> deny QuotaExceeded
//
// Decide is pure: same input, same verdict, no side effects.
func Decide(in Input) Decision {
	if !in.Authenticated {
		if !in.GuestTrialConsumed {
			return Decision{Allow: true, Reason: ReasonGuestTrial, ConsumesGuestTrial: true}
		}
		return Decision{Allow: false, Reason: ReasonAuthenticationRequired}
	}

	// Authenticated callers without a resolved profile are treated as a
	// fresh basic profile; degraded but available.
	p := in.Profile
	if p == nil {
		p = &profile.Profile{Tier: profile.TierBasic}
	}

	limit := in.Limits.ForTier(p.Tier)
	if limit == Unlimited {
		return Decision{Allow: true, Reason: ReasonUnlimited}
	}
	if p.MessagesUsed < limit {
		return Decision{Allow: true, Reason: ReasonWithinQuota}
	}
	return Decision{Allow: false, Reason: ReasonQuotaExceeded}
}
