package service

import (
	"context"
	"strings"

	balancerepo "github.com/smallcanvas/inkwell/internal/balance/repository"
	"github.com/smallcanvas/inkwell/internal/clock"
	ledgerdomain "github.com/smallcanvas/inkwell/internal/ledger/domain"
	ledgerrepo "github.com/smallcanvas/inkwell/internal/ledger/repository"
	obsmetrics "github.com/smallcanvas/inkwell/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Clock      clock.Clock
	Ledger     *ledgerrepo.Repository
	Balances   *balancerepo.Repository
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

// Service exposes the audit-facing ledger operations: listing an account's
// entries and soft-revoking a grant. Grant creation lives with the purchase
// ingestor and bonus granter, which own their idempotency contracts.
type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	clock      clock.Clock
	ledger     *ledgerrepo.Repository
	balances   *balancerepo.Repository
	obsMetrics *obsmetrics.Metrics
}

func New(p Params) *Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("ledger.service"),
		clock:      p.Clock,
		ledger:     p.Ledger,
		balances:   p.Balances,
		obsMetrics: p.ObsMetrics,
	}
}

// Revoke soft-marks the entry behind idempotencyKey and re-derives the
// owning account's extra pool in the same transaction, so revoked credits
// stop being spendable the moment the mark commits.
func (s *Service) Revoke(ctx context.Context, idempotencyKey, reason string) error {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "revoked"
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		entry, err := s.ledger.FindByIdempotencyKey(ctx, tx, idempotencyKey)
		if err != nil {
			return err
		}

		bal, err := s.balances.LockForUpdate(ctx, tx, entry.AccountID, "", s.clock.Now())
		if err != nil {
			return err
		}

		if _, err := s.ledger.Revoke(ctx, tx, idempotencyKey, reason, s.clock.Now()); err != nil {
			return err
		}

		extra, err := s.ledger.SumRemaining(ctx, tx, entry.AccountID)
		if err != nil {
			return err
		}
		bal.ExtraCreditsRemaining = extra
		bal.UpdatedAt = s.clock.Now().UTC()
		return s.balances.Save(ctx, tx, bal)
	})
	if err != nil {
		return err
	}

	if s.obsMetrics != nil {
		s.obsMetrics.RecordRevocation(ctx, reason)
	}
	s.log.Info("ledger entry revoked",
		zap.String("idempotency_key", idempotencyKey),
		zap.String("reason", reason),
	)
	return nil
}

// List returns the account's ledger entries, newest first.
func (s *Service) List(ctx context.Context, accountID string, limit int) ([]ledgerdomain.LedgerEntry, error) {
	return s.ledger.ListByAccount(ctx, s.db, accountID, limit)
}
