package entitlement

import (
	"fmt"
	"testing"

	"github.com/AleutianAI/AleutianDrive/services/profile"
	"github.com/stretchr/testify/assert"
)

func TestDecideGuestTrial(t *testing.T) {
	d := Decide(Input{Authenticated: false, GuestTrialConsumed: false, Limits: DefaultLimits()})
	assert.True(t, d.Allow)
	assert.Equal(t, ReasonGuestTrial, d.Reason)
	assert.True(t, d.ConsumesGuestTrial)
}

func TestDecideGuestTrialSpent(t *testing.T) {
	d := Decide(Input{Authenticated: false, GuestTrialConsumed: true, Limits: DefaultLimits()})
	assert.False(t, d.Allow)
	assert.Equal(t, ReasonAuthenticationRequired, d.Reason)
	assert.False(t, d.ConsumesGuestTrial)
}

// Premium is the unlimited sentinel: any usage value allows.
func TestDecidePremiumAlwaysAllows(t *testing.T) {
	for _, used := range []int{0, 100, 500, 1_000_000} {
		d := Decide(Input{
			Authenticated: true,
			Profile:       &profile.Profile{Tier: profile.TierPremium, MessagesUsed: used},
			Limits:        DefaultLimits(),
		})
		assert.True(t, d.Allow, "premium with %d used", used)
		assert.Equal(t, ReasonUnlimited, d.Reason)
	}
}

func TestDecideQuotaBoundaries(t *testing.T) {
	cases := []struct {
		tier   profile.Tier
		used   int
		allow  bool
		reason Reason
	}{
		{profile.TierBasic, 0, true, ReasonWithinQuota},
		{profile.TierBasic, 99, true, ReasonWithinQuota},
		{profile.TierBasic, 100, false, ReasonQuotaExceeded},
		{profile.TierBasic, 150, false, ReasonQuotaExceeded},
		{profile.TierPro, 499, true, ReasonWithinQuota},
		{profile.TierPro, 500, false, ReasonQuotaExceeded},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("%s_%d", tc.tier, tc.used), func(t *testing.T) {
			d := Decide(Input{
				Authenticated: true,
				Profile:       &profile.Profile{Tier: tc.tier, MessagesUsed: tc.used},
				Limits:        DefaultLimits(),
			})
			assert.Equal(t, tc.allow, d.Allow)
			assert.Equal(t, tc.reason, d.Reason)
		})
	}
}

// Authenticated caller without a resolved profile degrades to a fresh
// basic allowance instead of being refused.
func TestDecideNilProfileDegradesToBasic(t *testing.T) {
	d := Decide(Input{Authenticated: true, Profile: nil, Limits: DefaultLimits()})
	assert.True(t, d.Allow)
	assert.Equal(t, ReasonWithinQuota, d.Reason)
}

func TestDecideUnknownTierDenied(t *testing.T) {
	d := Decide(Input{
		Authenticated: true,
		Profile:       &profile.Profile{Tier: profile.Tier("trial"), MessagesUsed: 0},
		Limits:        DefaultLimits(),
	})
	assert.False(t, d.Allow)
	assert.Equal(t, ReasonQuotaExceeded, d.Reason)
}

func TestLimitsForTier(t *testing.T) {
	limits := DefaultLimits()
	assert.Equal(t, 100, limits.ForTier(profile.TierBasic))
	assert.Equal(t, 500, limits.ForTier(profile.TierPro))
	assert.Equal(t, Unlimited, limits.ForTier(profile.TierPremium))
}
