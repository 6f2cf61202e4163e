// Package repository provides durable access to credit balance rows. All
// mutation goes through LockForUpdate inside the caller's transaction so two
// operations on the same account are strictly serialized by the store.
package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	balancedomain "github.com/smallcanvas/inkwell/internal/balance/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Repository struct{}

func New() *Repository {
	return &Repository{}
}

// GetOrCreate returns the balance row for accountID, creating it with
// tier-determined defaults when absent. Safe under concurrent first access:
// the insert is ON CONFLICT DO NOTHING and the authoritative row is re-read.
func (r *Repository) GetOrCreate(ctx context.Context, db *gorm.DB, accountID string, tier balancedomain.Tier, now time.Time) (*balancedomain.CreditBalance, error) {
	if strings.TrimSpace(accountID) == "" {
		return nil, balancedomain.ErrInvalidAccount
	}
	if err := r.insertIfAbsent(ctx, db, accountID, tier, now); err != nil {
		return nil, err
	}
	return r.get(ctx, db, accountID)
}

// LockForUpdate behaves like GetOrCreate but acquires an exclusive row lock
// valid for the remainder of the enclosing transaction. On sqlite the
// SELECT runs unlocked; the single-writer lock of the engine already
// serializes competing transactions.
func (r *Repository) LockForUpdate(ctx context.Context, tx *gorm.DB, accountID string, tier balancedomain.Tier, now time.Time) (*balancedomain.CreditBalance, error) {
	if strings.TrimSpace(accountID) == "" {
		return nil, balancedomain.ErrInvalidAccount
	}
	if err := r.insertIfAbsent(ctx, tx, accountID, tier, now); err != nil {
		return nil, err
	}

	query := `SELECT account_id, tier, subscription_credits, subscription_monthly_allocation,
	                 subscription_resets_at, extra_credits_remaining, created_at, updated_at
	          FROM credit_balances
	          WHERE account_id = ?`
	if !strings.EqualFold(tx.Dialector.Name(), "sqlite") {
		query += " FOR UPDATE"
	}

	var bal balancedomain.CreditBalance
	if err := tx.WithContext(ctx).Raw(query, accountID).Scan(&bal).Error; err != nil {
		return nil, err
	}
	if bal.AccountID == "" {
		return nil, balancedomain.ErrNotFound
	}
	return &bal, nil
}

// Save writes the mutated balance row back inside the caller's transaction.
func (r *Repository) Save(ctx context.Context, tx *gorm.DB, bal *balancedomain.CreditBalance) error {
	if bal == nil || bal.AccountID == "" {
		return balancedomain.ErrInvalidAccount
	}
	return tx.WithContext(ctx).Exec(
		`UPDATE credit_balances
		 SET tier = ?,
		     subscription_credits = ?,
		     subscription_monthly_allocation = ?,
		     subscription_resets_at = ?,
		     extra_credits_remaining = ?,
		     updated_at = ?
		 WHERE account_id = ?`,
		bal.Tier,
		bal.SubscriptionCredits,
		bal.SubscriptionMonthlyAllocation,
		bal.SubscriptionResetsAt,
		bal.ExtraCreditsRemaining,
		bal.UpdatedAt,
		bal.AccountID,
	).Error
}

func (r *Repository) insertIfAbsent(ctx context.Context, db *gorm.DB, accountID string, tier balancedomain.Tier, now time.Time) error {
	fresh := balancedomain.NewForTier(accountID, tier, now)
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "account_id"}},
			DoNothing: true,
		}).
		Create(fresh).Error
}

func (r *Repository) get(ctx context.Context, db *gorm.DB, accountID string) (*balancedomain.CreditBalance, error) {
	var bal balancedomain.CreditBalance
	err := db.WithContext(ctx).
		Where("account_id = ?", accountID).
		First(&bal).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, balancedomain.ErrNotFound
		}
		return nil, err
	}
	return &bal, nil
}
