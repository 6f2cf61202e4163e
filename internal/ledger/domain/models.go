// Package domain contains the append-only credit event log. Every credit
// grant (purchase, bonus, adjustment, subscription renewal) is one immutable
// row; revocation is a soft mark so audit history is never lost.
package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// EventType classifies a credit-granting ledger event.
type EventType string

const (
	EventTypePurchase          EventType = "purchase"
	EventTypeWelcomeBonus      EventType = "welcome_bonus"
	EventTypeAdjustment        EventType = "adjustment"
	EventTypeSubscriptionGrant EventType = "subscription_grant"
)

// ExtraGrantingTypes are the event types that feed the never-expiring extra
// pool. Subscription grants feed the renewing bucket and are excluded from
// extra-pool arithmetic.
var ExtraGrantingTypes = []EventType{
	EventTypePurchase,
	EventTypeWelcomeBonus,
	EventTypeAdjustment,
}

var (
	ErrInvalidAccount        = errors.New("invalid_account")
	ErrInvalidIdempotencyKey = errors.New("invalid_idempotency_key")
	ErrInvalidAmount         = errors.New("invalid_amount")
	ErrEntryNotFound         = errors.New("ledger_entry_not_found")
	ErrAlreadyRevoked        = errors.New("ledger_entry_already_revoked")
)

// LedgerEntry is one granted/adjusted credit event. IdempotencyKey is
// globally unique; the store's unique index is what makes ingestion
// idempotent under duplicate or concurrent submission.
type LedgerEntry struct {
	ID             snowflake.ID      `gorm:"primaryKey" json:"id"`
	AccountID      string            `gorm:"type:text;not null;index" json:"account_id"`
	EventType      EventType         `gorm:"type:text;not null;index" json:"event_type"`
	IdempotencyKey string            `gorm:"type:text;not null;uniqueIndex:ux_ledger_entries_idempotency_key" json:"idempotency_key"`
	DeviceID       *string           `gorm:"type:text;index" json:"device_id,omitempty"`
	Amount         int64             `gorm:"not null" json:"amount"`
	Consumed       int64             `gorm:"not null;default:0" json:"consumed"`
	OccurredAt     time.Time         `gorm:"not null" json:"occurred_at"`
	VerifiedAt     time.Time         `gorm:"not null" json:"verified_at"`
	RevokedAt      *time.Time        `gorm:"" json:"revoked_at,omitempty"`
	RevokedReason  *string           `gorm:"type:text" json:"revoked_reason,omitempty"`
	Metadata       datatypes.JSONMap `gorm:"type:jsonb" json:"metadata,omitempty"`
	CreatedAt      time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (LedgerEntry) TableName() string { return "ledger_entries" }

// Remaining is the unspent portion of the grant. Invariant: >= 0 for any
// non-revoked entry.
func (e *LedgerEntry) Remaining() int64 {
	return e.Amount - e.Consumed
}

// Revoked reports whether the entry has been soft-revoked.
func (e *LedgerEntry) Revoked() bool {
	return e.RevokedAt != nil
}

// BonusKey derives the deterministic idempotency key for a welcome bonus, so
// one provider identity can only ever produce one bonus entry.
func BonusKey(provider, providerUserID string) string {
	return fmt.Sprintf("%s:%s:%s", EventTypeWelcomeBonus, provider, providerUserID)
}

// SubscriptionGrantKey derives the idempotency key for one renewal period,
// making the lazy renewal replay-safe.
func SubscriptionGrantKey(accountID string, periodStart time.Time) string {
	return fmt.Sprintf("%s:%s:%s", EventTypeSubscriptionGrant, accountID, periodStart.UTC().Format(time.RFC3339))
}

// RefundKey builds the synthesized key for a refund adjustment entry. Refunds
// have no external transaction id, so uniqueness comes from the generated id.
func RefundKey(accountID string, id snowflake.ID) string {
	return fmt.Sprintf("refund:%s:%s", accountID, id.String())
}
