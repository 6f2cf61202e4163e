// Package domain defines the one-time welcome bonus contract. Eligibility is
// enforced independently by provider identity and by device, so neither a
// fresh sign-in provider nor a fresh device alone re-opens the grant.
package domain

import "errors"

var (
	ErrInvalidAccount  = errors.New("invalid_account")
	ErrInvalidDevice   = errors.New("invalid_device")
	ErrInvalidProvider = errors.New("invalid_provider")
	ErrInvalidAmount   = errors.New("invalid_bonus_amount")
)

// GrantRequest identifies the person claiming the first-sign-in bonus.
type GrantRequest struct {
	AccountID      string
	Tier           string
	DeviceID       string
	Provider       string
	ProviderUserID string
	Amount         int64
}

// GrantResult reports whether this call applied the bonus. A repeat grant
// for an already-bonused identity is a no-op success, never an error.
type GrantResult struct {
	Granted           bool
	ExtraCreditsTotal int64
}
