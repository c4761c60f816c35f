package model

import "strings"

// Tier is the subscription level controlling quota and AI processing depth.
type Tier string

const (
	TierFree       Tier = "free"
	TierBasic      Tier = "basic"
	TierPremium    Tier = "premium"
	TierEnterprise Tier = "enterprise"
)

// ParseTier normalizes a stored tier value, defaulting to free for anything
// unrecognized so a bad row never unlocks paid processing.
func ParseTier(value string) Tier {
	switch Tier(strings.ToLower(strings.TrimSpace(value))) {
	case TierBasic:
		return TierBasic
	case TierPremium:
		return TierPremium
	case TierEnterprise:
		return TierEnterprise
	default:
		return TierFree
	}
}

// AdvancedAI reports whether the tier is routed through the multi-model
// analysis path.
func (t Tier) AdvancedAI() bool {
	return t == TierPremium || t == TierEnterprise
}

// SubscriptionStatus mirrors the billing collaborator's view of an account.
type SubscriptionStatus string

const (
	SubscriptionActive   SubscriptionStatus = "active"
	SubscriptionExpired  SubscriptionStatus = "expired"
	SubscriptionCanceled SubscriptionStatus = "canceled"
	SubscriptionPastDue  SubscriptionStatus = "past_due"
)

// Active reports whether submissions may be processed for the account.
func (s SubscriptionStatus) Active() bool {
	return s == SubscriptionActive
}

// SenderTrust classifies a sender address relative to a receiving user.
type SenderTrust string

const (
	TrustVerified    SenderTrust = "verified"
	TrustUnverified  SenderTrust = "unverified"
	TrustBlacklisted SenderTrust = "blacklisted"
)

// Usage is the snapshot returned by the usage/subscription collaborator.
// MaxUsage < 0 means unlimited.
type Usage struct {
	Tier         Tier
	Status       SubscriptionStatus
	CurrentUsage int
	MaxUsage     int
}

// Exhausted reports whether the monthly quota is already spent.
func (u Usage) Exhausted() bool {
	return u.MaxUsage >= 0 && u.CurrentUsage >= u.MaxUsage
}
