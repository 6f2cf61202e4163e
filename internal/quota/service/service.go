// Package service implements the quota arbiter: atomic debit and refund of
// credits against the per-account balance row. Every operation is one store
// transaction; the row lock taken by LockForUpdate serializes competing
// operations on the same account, so an overdraw race has at most one winner.
package service

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	balancedomain "github.com/smallcanvas/inkwell/internal/balance/domain"
	balancerepo "github.com/smallcanvas/inkwell/internal/balance/repository"
	"github.com/smallcanvas/inkwell/internal/clock"
	ledgerdomain "github.com/smallcanvas/inkwell/internal/ledger/domain"
	ledgerrepo "github.com/smallcanvas/inkwell/internal/ledger/repository"
	obsmetrics "github.com/smallcanvas/inkwell/internal/observability/metrics"
	quotadomain "github.com/smallcanvas/inkwell/internal/quota/domain"
	usagedomain "github.com/smallcanvas/inkwell/internal/usage/domain"
	usagerepo "github.com/smallcanvas/inkwell/internal/usage/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Balances   *balancerepo.Repository
	Ledger     *ledgerrepo.Repository
	Usage      *usagerepo.Repository
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	balances   *balancerepo.Repository
	ledger     *ledgerrepo.Repository
	usage      *usagerepo.Repository
	obsMetrics *obsmetrics.Metrics
}

func New(p Params) *Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("quota.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		balances:   p.Balances,
		ledger:     p.Ledger,
		usage:      p.Usage,
		obsMetrics: p.ObsMetrics,
	}
}

// Debit atomically charges the operation's cost against the account.
// Subscription credits are consumed first, the remainder comes from the
// extra pool, and the day's usage counter is incremented in the same
// transaction. Insufficient credits abort the transaction with
// *quotadomain.ExceededError.
func (s *Service) Debit(ctx context.Context, accountID string, tier balancedomain.Tier, op quotadomain.Operation) (*quotadomain.Status, error) {
	cost := op.Cost()
	if cost == 0 {
		return nil, quotadomain.ErrUnknownOperation
	}

	var status *quotadomain.Status
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		bal, err := s.lockAndRenew(ctx, tx, accountID, tier)
		if err != nil {
			return err
		}

		if bal.Total() < cost {
			return &quotadomain.ExceededError{
				Operation:           op,
				Cost:                cost,
				Shortfall:           cost - bal.Total(),
				SubscriptionCredits: bal.SubscriptionCredits,
				ExtraCredits:        bal.ExtraCreditsRemaining,
			}
		}

		fromSubscription := cost
		if fromSubscription > bal.SubscriptionCredits {
			fromSubscription = bal.SubscriptionCredits
		}
		fromExtra := cost - fromSubscription

		bal.SubscriptionCredits -= fromSubscription
		bal.ExtraCreditsRemaining -= fromExtra
		bal.UpdatedAt = s.clock.Now().UTC()
		if err := s.balances.Save(ctx, tx, bal); err != nil {
			return err
		}

		// Keep per-grant consumption in step with the extra pool so a later
		// ledger recompute cannot resurrect spent credits.
		if fromExtra > 0 {
			if err := s.ledger.ConsumeOldestFirst(ctx, tx, accountID, fromExtra); err != nil {
				return err
			}
		}

		if err := s.usage.IncrementTx(ctx, tx, accountID, s.today(), op.Class(), cost, s.clock.Now()); err != nil {
			return err
		}

		status = statusOf(bal)
		return nil
	})
	if err != nil {
		if exceeded, ok := errAsExceeded(err); ok {
			if s.obsMetrics != nil {
				s.obsMetrics.RecordDebit(ctx, string(op), "quota_exceeded")
			}
			return nil, exceeded
		}
		return nil, err
	}

	if s.obsMetrics != nil {
		s.obsMetrics.RecordDebit(ctx, string(op), "ok")
	}
	return status, nil
}

// Refund returns the operation's cost to the account. The full amount lands
// in the extra pool regardless of which bucket the debit drew from:
// subscription allocation is time-boxed and a refund must not extend it.
// A refund with no matching debit still succeeds.
func (s *Service) Refund(ctx context.Context, accountID string, tier balancedomain.Tier, op quotadomain.Operation) (*quotadomain.Status, error) {
	cost := op.Cost()
	if cost == 0 {
		return nil, quotadomain.ErrUnknownOperation
	}

	var status *quotadomain.Status
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		bal, err := s.lockAndRenew(ctx, tx, accountID, tier)
		if err != nil {
			return err
		}

		now := s.clock.Now().UTC()
		entryID := s.genID.Generate()
		entry := &ledgerdomain.LedgerEntry{
			ID:             entryID,
			AccountID:      accountID,
			EventType:      ledgerdomain.EventTypeAdjustment,
			IdempotencyKey: ledgerdomain.RefundKey(accountID, entryID),
			Amount:         cost,
			OccurredAt:     now,
			VerifiedAt:     now,
			Metadata: datatypes.JSONMap{
				"operation": string(op),
				"reason":    "refund",
			},
			CreatedAt: now,
		}
		if _, err := s.ledger.InsertIfAbsent(ctx, tx, entry); err != nil {
			return err
		}

		bal.ExtraCreditsRemaining += cost
		bal.UpdatedAt = now
		if err := s.balances.Save(ctx, tx, bal); err != nil {
			return err
		}

		if err := s.usage.DecrementFlooredTx(ctx, tx, accountID, s.today(), op.Class(), cost, s.clock.Now()); err != nil {
			return err
		}

		status = statusOf(bal)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.obsMetrics != nil {
		s.obsMetrics.RecordRefund(ctx, string(op))
	}
	return status, nil
}

// Summary returns the account's current credit standing for display,
// applying any pending subscription renewal on the way.
func (s *Service) Summary(ctx context.Context, accountID string, tier balancedomain.Tier) (*quotadomain.Status, error) {
	var status *quotadomain.Status
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		bal, err := s.lockAndRenew(ctx, tx, accountID, tier)
		if err != nil {
			return err
		}
		status = statusOf(bal)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return status, nil
}

// UsageToday returns the account's net usage counters for the current day.
func (s *Service) UsageToday(ctx context.Context, accountID string) (*usagedomain.UsageCounter, error) {
	return s.usage.GetDay(ctx, s.db, accountID, s.today())
}

// lockAndRenew locks the balance row and applies a lazy subscription
// renewal when the reset timestamp has passed. The renewal writes an
// idempotent subscription_grant entry keyed by the period start, so a
// rolled-back transaction replays it cleanly next time.
func (s *Service) lockAndRenew(ctx context.Context, tx *gorm.DB, accountID string, tier balancedomain.Tier) (*balancedomain.CreditBalance, error) {
	now := s.clock.Now().UTC()
	bal, err := s.balances.LockForUpdate(ctx, tx, accountID, tier, now)
	if err != nil {
		return nil, err
	}

	if bal.SubscriptionResetsAt == nil || now.Before(*bal.SubscriptionResetsAt) {
		return bal, nil
	}

	periodStart := *bal.SubscriptionResetsAt
	resetsAt := periodStart
	for !now.Before(resetsAt) {
		periodStart = resetsAt
		resetsAt = resetsAt.AddDate(0, 1, 0)
	}

	entry := &ledgerdomain.LedgerEntry{
		ID:             s.genID.Generate(),
		AccountID:      accountID,
		EventType:      ledgerdomain.EventTypeSubscriptionGrant,
		IdempotencyKey: ledgerdomain.SubscriptionGrantKey(accountID, periodStart),
		Amount:         bal.SubscriptionMonthlyAllocation,
		OccurredAt:     periodStart,
		VerifiedAt:     now,
		CreatedAt:      now,
	}
	if _, err := s.ledger.InsertIfAbsent(ctx, tx, entry); err != nil {
		return nil, err
	}

	bal.SubscriptionCredits = bal.SubscriptionMonthlyAllocation
	bal.SubscriptionResetsAt = &resetsAt
	bal.UpdatedAt = now
	if err := s.balances.Save(ctx, tx, bal); err != nil {
		return nil, err
	}

	s.log.Info("subscription credits renewed",
		zap.String("account_id", accountID),
		zap.Int64("allocation", bal.SubscriptionMonthlyAllocation),
		zap.Time("next_reset", resetsAt),
	)
	return bal, nil
}

func (s *Service) today() string {
	return s.clock.Now().UTC().Format(usagedomain.DateKey)
}

func statusOf(bal *balancedomain.CreditBalance) *quotadomain.Status {
	return &quotadomain.Status{
		AccountID:                     bal.AccountID,
		SubscriptionCredits:           bal.SubscriptionCredits,
		SubscriptionMonthlyAllocation: bal.SubscriptionMonthlyAllocation,
		SubscriptionResetsAt:          bal.SubscriptionResetsAt,
		ExtraCreditsRemaining:         bal.ExtraCreditsRemaining,
		TotalCredits:                  bal.Total(),
	}
}

func errAsExceeded(err error) (*quotadomain.ExceededError, bool) {
	var exceeded *quotadomain.ExceededError
	if errors.As(err, &exceeded) {
		return exceeded, true
	}
	return nil, false
}
