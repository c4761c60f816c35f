package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"voxdrop/internal/model"
)

// ErrUnknownDestination is returned when no account owns an inbox address.
var ErrUnknownDestination = errors.New("no account for destination address")

// AccountRepository reads account, quota, and sender-trust state, and owns
// the atomic usage increment.
type AccountRepository struct {
	pool *pgxpool.Pool
}

// NewAccountRepository constructs an account repository.
func NewAccountRepository(pool *pgxpool.Pool) *AccountRepository {
	return &AccountRepository{pool: pool}
}

// ResolveInbox maps a custom destination address to its owning user.
func (r *AccountRepository) ResolveInbox(ctx context.Context, destination string) (string, error) {
	var userID string
	err := r.pool.QueryRow(ctx,
		`SELECT user_id FROM accounts WHERE inbox_address=$1`, destination).Scan(&userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrUnknownDestination
		}
		return "", fmt.Errorf("resolve inbox: %w", err)
	}
	return userID, nil
}

// GetUsage returns the subscription and quota snapshot for a user.
func (r *AccountRepository) GetUsage(ctx context.Context, userID string) (model.Usage, error) {
	var (
		usage  model.Usage
		tier   string
		status string
	)
	err := r.pool.QueryRow(ctx, `
		SELECT tier, subscription_status, usage_count, max_usage
		FROM accounts WHERE user_id=$1
	`, userID).Scan(&tier, &status, &usage.CurrentUsage, &usage.MaxUsage)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Usage{}, fmt.Errorf("account %s: %w", userID, ErrNotFound)
		}
		return model.Usage{}, fmt.Errorf("get usage: %w", err)
	}
	usage.Tier = model.ParseTier(tier)
	usage.Status = model.SubscriptionStatus(status)
	return usage, nil
}

// TryIncrementUsage consumes one quota slot if and only if a slot remains.
// The conditional update is the row-level compare-and-swap that keeps
// concurrent completions from both charging the last slot; max_usage < 0
// means unlimited.
func (r *AccountRepository) TryIncrementUsage(ctx context.Context, userID string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE accounts
		SET usage_count = usage_count + 1
		WHERE user_id=$1 AND (max_usage < 0 OR usage_count < max_usage)
	`, userID)
	if err != nil {
		return false, fmt.Errorf("increment usage: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// SenderTrust returns the trust state of a sender address for a user.
// Unknown senders are unverified.
func (r *AccountRepository) SenderTrust(ctx context.Context, userID, email string) (model.SenderTrust, error) {
	var trust string
	err := r.pool.QueryRow(ctx,
		`SELECT trust FROM senders WHERE user_id=$1 AND email=$2`, userID, email).Scan(&trust)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.TrustUnverified, nil
		}
		return "", fmt.Errorf("sender trust: %w", err)
	}
	switch model.SenderTrust(trust) {
	case model.TrustVerified:
		return model.TrustVerified, nil
	case model.TrustBlacklisted:
		return model.TrustBlacklisted, nil
	default:
		return model.TrustUnverified, nil
	}
}
