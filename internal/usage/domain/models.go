// Package domain contains the per-account, per-day usage counters used for
// analytics and rate shaping. Counters reflect net usage: refunds subtract
// what debits added, floored at zero.
package domain

import (
	"errors"
	"time"
)

// Class buckets operations for counting purposes.
type Class string

const (
	ClassText  Class = "text"
	ClassImage Class = "image"
)

var (
	ErrInvalidAccount = errors.New("invalid_account")
	ErrInvalidClass   = errors.New("invalid_usage_class")
)

// DateKey is the calendar-day key format for counter rows.
const DateKey = "2006-01-02"

// UsageCounter is one row per account per calendar day. Rows are created
// lazily on first debit and retained forever for analytics; day rollover is
// implicit because the date is part of the key.
type UsageCounter struct {
	AccountID  string    `gorm:"primaryKey;type:text" json:"account_id"`
	UsageDate  string    `gorm:"primaryKey;type:text" json:"usage_date"`
	TextCount  int64     `gorm:"not null;default:0" json:"text_count"`
	ImageCount int64     `gorm:"not null;default:0" json:"image_count"`
	CreatedAt  time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"-"`
	UpdatedAt  time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"-"`
}

// TableName sets the database table name.
func (UsageCounter) TableName() string { return "usage_counters" }

// Count returns the accumulated weight for a class.
func (u *UsageCounter) Count(class Class) int64 {
	if class == ClassImage {
		return u.ImageCount
	}
	return u.TextCount
}
