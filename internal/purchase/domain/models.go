// Package domain defines the purchase ingestion contract. Receipt
// verification happens upstream; this module only records already-verified
// purchase events, exactly once per idempotency key.
package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

// Platform is the storefront that verified the purchase.
type Platform string

const (
	PlatformAppStore  Platform = "app_store"
	PlatformPlayStore Platform = "play_store"
	PlatformStripe    Platform = "stripe"
	PlatformPromo     Platform = "promo"
)

func (p Platform) Valid() bool {
	switch p {
	case PlatformAppStore, PlatformPlayStore, PlatformStripe, PlatformPromo:
		return true
	default:
		return false
	}
}

var (
	ErrInvalidAccount        = errors.New("invalid_account")
	ErrInvalidIdempotencyKey = errors.New("invalid_idempotency_key")
	ErrInvalidPlatform       = errors.New("invalid_platform")
	ErrInvalidCredits        = errors.New("invalid_credit_amount")
)

// RecordRequest carries one verified purchase or bonus-pack event. The
// idempotency key is the external transaction id.
type RecordRequest struct {
	AccountID      string
	Tier           string
	IdempotencyKey string
	ProductID      string
	Platform       Platform
	Credits        int64
	OccurredAt     time.Time
	Receipt        map[string]any
}

// RecordResult reports the authoritative ledger entry and the recomputed
// extra-credit total. Retries of the same key return identical results.
type RecordResult struct {
	EntryID           snowflake.ID
	ExtraCreditsTotal int64
	AlreadyRecorded   bool
}
