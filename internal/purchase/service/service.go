// Package service implements the purchase ingestor. One transaction:
// insert-or-ignore the ledger entry keyed by the external transaction id,
// re-read the authoritative row, re-derive the extra-credit pool into the
// locked balance row, commit. Duplicate and concurrent submissions of one
// key all succeed with the same entry id and total; credits apply once.
package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	balancedomain "github.com/smallcanvas/inkwell/internal/balance/domain"
	balancerepo "github.com/smallcanvas/inkwell/internal/balance/repository"
	"github.com/smallcanvas/inkwell/internal/clock"
	ledgerdomain "github.com/smallcanvas/inkwell/internal/ledger/domain"
	ledgerrepo "github.com/smallcanvas/inkwell/internal/ledger/repository"
	obsmetrics "github.com/smallcanvas/inkwell/internal/observability/metrics"
	purchasedomain "github.com/smallcanvas/inkwell/internal/purchase/domain"
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
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	balances   *balancerepo.Repository
	ledger     *ledgerrepo.Repository
	obsMetrics *obsmetrics.Metrics
}

func New(p Params) *Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("purchase.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		balances:   p.Balances,
		ledger:     p.Ledger,
		obsMetrics: p.ObsMetrics,
	}
}

// Record ingests one verified purchase event exactly once.
func (s *Service) Record(ctx context.Context, req purchasedomain.RecordRequest) (*purchasedomain.RecordResult, error) {
	if strings.TrimSpace(req.AccountID) == "" {
		return nil, purchasedomain.ErrInvalidAccount
	}
	key := strings.TrimSpace(req.IdempotencyKey)
	if key == "" {
		return nil, purchasedomain.ErrInvalidIdempotencyKey
	}
	if !req.Platform.Valid() {
		return nil, purchasedomain.ErrInvalidPlatform
	}
	if req.Credits <= 0 {
		return nil, purchasedomain.ErrInvalidCredits
	}

	now := s.clock.Now().UTC()
	occurredAt := req.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = now
	}

	var result purchasedomain.RecordResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		bal, err := s.balances.LockForUpdate(ctx, tx, req.AccountID, balancedomain.Tier(req.Tier), now)
		if err != nil {
			return err
		}

		metadata := datatypes.JSONMap{
			"product_id": req.ProductID,
			"platform":   string(req.Platform),
		}
		for k, v := range req.Receipt {
			metadata["receipt_"+k] = v
		}

		entry := &ledgerdomain.LedgerEntry{
			ID:             s.genID.Generate(),
			AccountID:      req.AccountID,
			EventType:      ledgerdomain.EventTypePurchase,
			IdempotencyKey: key,
			Amount:         req.Credits,
			OccurredAt:     occurredAt,
			VerifiedAt:     now,
			Metadata:       metadata,
			CreatedAt:      now,
		}
		inserted, err := s.ledger.InsertIfAbsent(ctx, tx, entry)
		if err != nil {
			return err
		}

		// The re-read is mandatory: under a duplicate-submission race the
		// locally generated id may have lost the insert.
		authoritative, err := s.ledger.FindByIdempotencyKey(ctx, tx, key)
		if err != nil {
			return err
		}
		if !inserted && authoritative.AccountID != req.AccountID {
			s.log.Warn("idempotency key resubmitted with different payload",
				zap.String("idempotency_key", key),
				zap.String("account_id", req.AccountID),
				zap.String("recorded_account_id", authoritative.AccountID),
			)
		}

		extra, err := s.ledger.SumRemaining(ctx, tx, authoritative.AccountID)
		if err != nil {
			return err
		}

		// The entry may belong to another account when a key is replayed
		// across accounts. Only the owning account's pool changes.
		if authoritative.AccountID == req.AccountID {
			bal.ExtraCreditsRemaining = extra
			bal.UpdatedAt = now
			if err := s.balances.Save(ctx, tx, bal); err != nil {
				return err
			}
		}

		result = purchasedomain.RecordResult{
			EntryID:           authoritative.ID,
			ExtraCreditsTotal: extra,
			AlreadyRecorded:   !inserted,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.obsMetrics != nil {
		s.obsMetrics.RecordPurchase(ctx, string(req.Platform), result.AlreadyRecorded)
	}
	s.log.Info("purchase recorded",
		zap.String("account_id", req.AccountID),
		zap.String("idempotency_key", key),
		zap.Int64("credits", req.Credits),
		zap.Bool("already_recorded", result.AlreadyRecorded),
	)
	return &result, nil
}
