// Package repository provides data access for ledger entries. Insertion is
// always insert-or-ignore on the idempotency key; races between duplicate
// submissions resolve to exactly one winner, visible to all via re-read.
package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	ledgerdomain "github.com/smallcanvas/inkwell/internal/ledger/domain"
	"github.com/smallcanvas/inkwell/pkg/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Repository struct{}

func New() *Repository {
	return &Repository{}
}

// InsertIfAbsent attempts to append the entry, ignoring the write when a row
// with the same idempotency key already exists. Returns whether this call
// inserted. Callers must re-read by key afterwards; the returned flag is
// never proof of which row is authoritative.
func (r *Repository) InsertIfAbsent(ctx context.Context, tx *gorm.DB, entry *ledgerdomain.LedgerEntry) (bool, error) {
	if entry == nil || strings.TrimSpace(entry.AccountID) == "" {
		return false, ledgerdomain.ErrInvalidAccount
	}
	if strings.TrimSpace(entry.IdempotencyKey) == "" {
		return false, ledgerdomain.ErrInvalidIdempotencyKey
	}
	result := tx.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "idempotency_key"}},
			DoNothing: true,
		}).
		Create(entry)
	if result.Error != nil {
		// Some dialects surface the conflict instead of ignoring it.
		if db.IsDuplicateKeyErr(result.Error) {
			return false, nil
		}
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// FindByIdempotencyKey returns the authoritative entry for a key.
func (r *Repository) FindByIdempotencyKey(ctx context.Context, tx *gorm.DB, key string) (*ledgerdomain.LedgerEntry, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, ledgerdomain.ErrInvalidIdempotencyKey
	}
	var entry ledgerdomain.LedgerEntry
	err := tx.WithContext(ctx).
		Where("idempotency_key = ?", key).
		First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ledgerdomain.ErrEntryNotFound
		}
		return nil, err
	}
	return &entry, nil
}

// SumRemaining recomputes the account's extra-credit pool: the sum of
// amount-consumed over all non-revoked extra-granting entries.
func (r *Repository) SumRemaining(ctx context.Context, tx *gorm.DB, accountID string) (int64, error) {
	if strings.TrimSpace(accountID) == "" {
		return 0, ledgerdomain.ErrInvalidAccount
	}
	var total int64
	err := tx.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(amount - consumed), 0)
		 FROM ledger_entries
		 WHERE account_id = ?
		   AND event_type IN ?
		   AND revoked_at IS NULL`,
		accountID,
		ledgerdomain.ExtraGrantingTypes,
	).Scan(&total).Error
	if err != nil {
		return 0, err
	}
	return total, nil
}

// ConsumeOldestFirst spreads a spend of n extra credits across the account's
// open grants, oldest occurred_at first, so per-entry remaining never goes
// negative and the pool always re-derives to the balance row. Runs inside
// the caller's balance-locked transaction.
func (r *Repository) ConsumeOldestFirst(ctx context.Context, tx *gorm.DB, accountID string, n int64) error {
	if strings.TrimSpace(accountID) == "" {
		return ledgerdomain.ErrInvalidAccount
	}
	if n <= 0 {
		return nil
	}

	var open []ledgerdomain.LedgerEntry
	err := tx.WithContext(ctx).
		Where("account_id = ? AND event_type IN ? AND revoked_at IS NULL AND amount - consumed > 0", accountID, ledgerdomain.ExtraGrantingTypes).
		Order("occurred_at ASC, id ASC").
		Find(&open).Error
	if err != nil {
		return err
	}

	remaining := n
	for _, entry := range open {
		if remaining == 0 {
			break
		}
		take := entry.Remaining()
		if take > remaining {
			take = remaining
		}
		if err := tx.WithContext(ctx).Exec(
			`UPDATE ledger_entries SET consumed = consumed + ? WHERE id = ?`,
			take,
			entry.ID,
		).Error; err != nil {
			return err
		}
		remaining -= take
	}
	return nil
}

// Revoke soft-marks an entry inside the caller's transaction. The row is
// never deleted; remaining-credit queries exclude it from then on.
func (r *Repository) Revoke(ctx context.Context, tx *gorm.DB, key, reason string, now time.Time) (*ledgerdomain.LedgerEntry, error) {
	entry, err := r.FindByIdempotencyKey(ctx, tx, key)
	if err != nil {
		return nil, err
	}
	if entry.Revoked() {
		return nil, ledgerdomain.ErrAlreadyRevoked
	}
	revokedAt := now.UTC()
	if err := tx.WithContext(ctx).Exec(
		`UPDATE ledger_entries SET revoked_at = ?, revoked_reason = ? WHERE id = ? AND revoked_at IS NULL`,
		revokedAt,
		reason,
		entry.ID,
	).Error; err != nil {
		return nil, err
	}
	entry.RevokedAt = &revokedAt
	entry.RevokedReason = &reason
	return entry, nil
}

// CountBonusesFor reports how many non-revoked welcome bonuses exist for the
// derived provider key or the device id. Used by eligibility checks.
func (r *Repository) CountBonusesFor(ctx context.Context, db *gorm.DB, key, deviceID string) (int64, error) {
	var count int64
	err := db.WithContext(ctx).
		Model(&ledgerdomain.LedgerEntry{}).
		Where("event_type = ? AND revoked_at IS NULL AND (idempotency_key = ? OR device_id = ?)",
			ledgerdomain.EventTypeWelcomeBonus, key, deviceID).
		Count(&count).Error
	return count, err
}

// ListByAccount returns the account's entries, newest first.
func (r *Repository) ListByAccount(ctx context.Context, db *gorm.DB, accountID string, limit int) ([]ledgerdomain.LedgerEntry, error) {
	if strings.TrimSpace(accountID) == "" {
		return nil, ledgerdomain.ErrInvalidAccount
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var entries []ledgerdomain.LedgerEntry
	err := db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("occurred_at DESC, id DESC").
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}
