// Package domain defines the costed operations and the quota results
// returned to callers. Costs are static policy, never user input.
package domain

import (
	"errors"
	"fmt"
	"time"

	usagedomain "github.com/smallcanvas/inkwell/internal/usage/domain"
)

// Operation is a costed action a request handler may attempt.
type Operation string

const (
	OperationSummarize     Operation = "summarize"
	OperationLightEdit     Operation = "light_edit"
	OperationContinueProse Operation = "continue_prose"
	OperationImageGenerate Operation = "image_generate"
)

// costTable is the fixed credit price per operation.
var costTable = map[Operation]int64{
	OperationSummarize:     1,
	OperationLightEdit:     2,
	OperationContinueProse: 5,
	OperationImageGenerate: 10,
}

// Cost returns the operation's weighted cost, or 0 for unknown operations.
func (op Operation) Cost() int64 {
	return costTable[op]
}

// Class buckets the operation for usage counting.
func (op Operation) Class() usagedomain.Class {
	if op == OperationImageGenerate {
		return usagedomain.ClassImage
	}
	return usagedomain.ClassText
}

var (
	ErrUnknownOperation = errors.New("unknown_operation")
	ErrInvalidAccount   = errors.New("invalid_account")
)

// Status is the post-operation view of an account's credits.
type Status struct {
	AccountID                     string     `json:"account_id"`
	SubscriptionCredits           int64      `json:"subscription_credits"`
	SubscriptionMonthlyAllocation int64      `json:"subscription_monthly_allocation"`
	SubscriptionResetsAt          *time.Time `json:"subscription_resets_at,omitempty"`
	ExtraCreditsRemaining         int64      `json:"extra_credits_remaining"`
	TotalCredits                  int64      `json:"total_credits"`
}

// ExceededError is the business-level outcome of a debit that would overdraw
// the balance. It carries the shortfall and both limits for client display;
// it is not an infrastructure fault.
type ExceededError struct {
	Operation           Operation
	Cost                int64
	Shortfall           int64
	SubscriptionCredits int64
	ExtraCredits        int64
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("quota exceeded: operation %s costs %d, short by %d", e.Operation, e.Cost, e.Shortfall)
}
