// Package repository maintains the daily usage counters. Both mutators take
// the caller's open balance-mutating transaction and are never committed
// independently, so usage numbers and balance numbers cannot diverge.
package repository

import (
	"context"
	"strings"
	"time"

	usagedomain "github.com/smallcanvas/inkwell/internal/usage/domain"
	"gorm.io/gorm"
)

type Repository struct{}

func New() *Repository {
	return &Repository{}
}

// IncrementTx adds weight to the day's counter for the class, creating the
// row on first use.
func (r *Repository) IncrementTx(ctx context.Context, tx *gorm.DB, accountID, date string, class usagedomain.Class, weight int64, now time.Time) error {
	column, err := columnFor(class)
	if err != nil {
		return err
	}
	if strings.TrimSpace(accountID) == "" {
		return usagedomain.ErrInvalidAccount
	}
	if weight <= 0 {
		return nil
	}
	return tx.WithContext(ctx).Exec(
		`INSERT INTO usage_counters (account_id, usage_date, text_count, image_count, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (account_id, usage_date)
		 DO UPDATE SET `+column+` = usage_counters.`+column+` + ?, updated_at = ?`,
		accountID,
		date,
		ifClass(class, usagedomain.ClassText, weight),
		ifClass(class, usagedomain.ClassImage, weight),
		now.UTC(),
		now.UTC(),
		weight,
		now.UTC(),
	).Error
}

// DecrementFlooredTx subtracts weight from the day's counter, floored at 0.
// A decrement with no matching increment leaves the counter untouched (a
// zero row is created so later reads see a consistent shape).
func (r *Repository) DecrementFlooredTx(ctx context.Context, tx *gorm.DB, accountID, date string, class usagedomain.Class, weight int64, now time.Time) error {
	column, err := columnFor(class)
	if err != nil {
		return err
	}
	if strings.TrimSpace(accountID) == "" {
		return usagedomain.ErrInvalidAccount
	}
	if weight <= 0 {
		return nil
	}
	if err := tx.WithContext(ctx).Exec(
		`INSERT INTO usage_counters (account_id, usage_date, text_count, image_count, created_at, updated_at)
		 VALUES (?, ?, 0, 0, ?, ?)
		 ON CONFLICT (account_id, usage_date) DO NOTHING`,
		accountID,
		date,
		now.UTC(),
		now.UTC(),
	).Error; err != nil {
		return err
	}
	// CASE keeps the floor portable across postgres and sqlite.
	return tx.WithContext(ctx).Exec(
		`UPDATE usage_counters
		 SET `+column+` = CASE WHEN `+column+` > ? THEN `+column+` - ? ELSE 0 END,
		     updated_at = ?
		 WHERE account_id = ? AND usage_date = ?`,
		weight,
		weight,
		now.UTC(),
		accountID,
		date,
	).Error
}

// GetDay returns the counter row for one day, or a zero row when absent.
func (r *Repository) GetDay(ctx context.Context, db *gorm.DB, accountID, date string) (*usagedomain.UsageCounter, error) {
	if strings.TrimSpace(accountID) == "" {
		return nil, usagedomain.ErrInvalidAccount
	}
	var counter usagedomain.UsageCounter
	err := db.WithContext(ctx).
		Where("account_id = ? AND usage_date = ?", accountID, date).
		Limit(1).
		Find(&counter).Error
	if err != nil {
		return nil, err
	}
	if counter.AccountID == "" {
		return &usagedomain.UsageCounter{AccountID: accountID, UsageDate: date}, nil
	}
	return &counter, nil
}

func columnFor(class usagedomain.Class) (string, error) {
	switch class {
	case usagedomain.ClassText:
		return "text_count", nil
	case usagedomain.ClassImage:
		return "image_count", nil
	default:
		return "", usagedomain.ErrInvalidClass
	}
}

func ifClass(class, want usagedomain.Class, weight int64) int64 {
	if class == want {
		return weight
	}
	return 0
}
