// Package eligibility decides whether a new submission may be processed at
// all. The gate is read-only: the usage counter is incremented by the
// pipeline on a COMPLETED outcome, never here, so retries cannot
// double-charge an account.
package eligibility

import (
	"context"
	"fmt"

	"voxdrop/internal/model"
	"voxdrop/internal/rejection"
)

// UsageSource is the slice of the usage/subscription collaborator the gate
// needs. The account repository implements it.
type UsageSource interface {
	GetUsage(ctx context.Context, userID string) (model.Usage, error)
	SenderTrust(ctx context.Context, userID, email string) (model.SenderTrust, error)
}

// Result is the gate's verdict for one submission.
type Result struct {
	Allowed bool
	Reason  rejection.Code
	Usage   model.Usage
}

// Gate evaluates subscription state, quota, and sender trust.
type Gate struct {
	usage           UsageSource
	requireVerified bool
}

// NewGate builds a gate. requireVerified enables the verified-senders-only
// policy for recipients that opted into it.
func NewGate(usage UsageSource, requireVerified bool) *Gate {
	return &Gate{usage: usage, requireVerified: requireVerified}
}

// Check runs the decision order, first match wins:
// inactive subscription, exhausted quota, blacklisted sender, unverified
// sender where verification is required, otherwise allowed.
func (g *Gate) Check(ctx context.Context, userID, senderEmail string) (Result, error) {
	usage, err := g.usage.GetUsage(ctx, userID)
	if err != nil {
		return Result{}, fmt.Errorf("usage lookup: %w", err)
	}
	res := Result{Usage: usage}

	if !usage.Status.Active() {
		res.Reason = rejection.SubscriptionExpired
		return res, nil
	}
	if usage.Exhausted() {
		res.Reason = rejection.UsageLimitExceeded
		return res, nil
	}

	trust, err := g.usage.SenderTrust(ctx, userID, senderEmail)
	if err != nil {
		return Result{}, fmt.Errorf("sender trust lookup: %w", err)
	}
	switch {
	case trust == model.TrustBlacklisted:
		res.Reason = rejection.SenderBlacklisted
	case g.requireVerified && trust != model.TrustVerified:
		res.Reason = rejection.UntrustedNewSender
	default:
		res.Allowed = true
	}
	return res, nil
}
