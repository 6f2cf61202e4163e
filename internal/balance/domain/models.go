// Package domain contains the persistence model for per-account credit balances.
package domain

import (
	"errors"
	"time"
)

// Tier identifies the subscription plan an account is on.
type Tier string

const (
	TierFree    Tier = "free"
	TierCreator Tier = "creator"
	TierStudio  Tier = "studio"
)

// MonthlyAllocation returns the subscription credits granted per renewal.
func (t Tier) MonthlyAllocation() int64 {
	switch t {
	case TierCreator:
		return 200
	case TierStudio:
		return 1000
	default:
		return 15
	}
}

// Valid reports whether the tier is one of the known plans. Unknown tiers
// are treated as free so a stale session token never blocks a paying user
// from reading their balance.
func (t Tier) Valid() bool {
	switch t {
	case TierFree, TierCreator, TierStudio:
		return true
	default:
		return false
	}
}

var (
	ErrInvalidAccount = errors.New("invalid_account")
	ErrNotFound       = errors.New("balance_not_found")
)

// CreditBalance is the authoritative spendable-credit record, one row per
// account. SubscriptionCredits renew on a monthly cadence and are consumed
// first; ExtraCreditsRemaining never expires and always equals the sum of
// remaining credits over the account's non-revoked extra-granting ledger
// entries. Both buckets stay >= 0 at all times.
type CreditBalance struct {
	AccountID                     string     `gorm:"primaryKey;type:text"`
	Tier                          Tier       `gorm:"type:text;not null"`
	SubscriptionCredits           int64      `gorm:"not null;default:0"`
	SubscriptionMonthlyAllocation int64      `gorm:"not null;default:0"`
	SubscriptionResetsAt          *time.Time `gorm:""`
	ExtraCreditsRemaining         int64      `gorm:"not null;default:0"`
	CreatedAt                     time.Time  `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt                     time.Time  `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (CreditBalance) TableName() string { return "credit_balances" }

// Total is the number of credits spendable right now.
func (b *CreditBalance) Total() int64 {
	return b.SubscriptionCredits + b.ExtraCreditsRemaining
}

// NewForTier builds the lazily-created first balance row for an account.
func NewForTier(accountID string, tier Tier, now time.Time) *CreditBalance {
	if !tier.Valid() {
		tier = TierFree
	}
	resetsAt := now.UTC().AddDate(0, 1, 0)
	return &CreditBalance{
		AccountID:                     accountID,
		Tier:                          tier,
		SubscriptionCredits:           tier.MonthlyAllocation(),
		SubscriptionMonthlyAllocation: tier.MonthlyAllocation(),
		SubscriptionResetsAt:          &resetsAt,
		ExtraCreditsRemaining:         0,
		CreatedAt:                     now.UTC(),
		UpdatedAt:                     now.UTC(),
	}
}
