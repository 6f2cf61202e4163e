// Package service implements the welcome bonus granter: a policy layer over
// the ledger that decides first-time eligibility and performs the grant
// atomically. The deterministic idempotency key derived from the provider
// identity makes double grants structurally impossible.
package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	balancedomain "github.com/smallcanvas/inkwell/internal/balance/domain"
	balancerepo "github.com/smallcanvas/inkwell/internal/balance/repository"
	bonusdomain "github.com/smallcanvas/inkwell/internal/bonus/domain"
	"github.com/smallcanvas/inkwell/internal/clock"
	ledgerdomain "github.com/smallcanvas/inkwell/internal/ledger/domain"
	ledgerrepo "github.com/smallcanvas/inkwell/internal/ledger/repository"
	obsmetrics "github.com/smallcanvas/inkwell/internal/observability/metrics"
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
		log:        p.Log.Named("bonus.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		balances:   p.Balances,
		ledger:     p.Ledger,
		obsMetrics: p.ObsMetrics,
	}
}

// CheckEligibility reports whether this device/provider pairing may still
// claim the welcome bonus.
func (s *Service) CheckEligibility(ctx context.Context, deviceID, provider, providerUserID string) (bool, error) {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return false, nil
	}
	if strings.TrimSpace(provider) == "" || strings.TrimSpace(providerUserID) == "" {
		return false, bonusdomain.ErrInvalidProvider
	}

	key := ledgerdomain.BonusKey(provider, providerUserID)
	count, err := s.ledger.CountBonusesFor(ctx, s.db, key, deviceID)
	if err != nil {
		return false, err
	}
	return count == 0, nil
}

// Grant applies the welcome bonus in one transaction. Calling it again for
// an already-bonused identity is an idempotent no-op success.
func (s *Service) Grant(ctx context.Context, req bonusdomain.GrantRequest) (*bonusdomain.GrantResult, error) {
	if strings.TrimSpace(req.AccountID) == "" {
		return nil, bonusdomain.ErrInvalidAccount
	}
	deviceID := strings.TrimSpace(req.DeviceID)
	if deviceID == "" {
		return nil, bonusdomain.ErrInvalidDevice
	}
	if strings.TrimSpace(req.Provider) == "" || strings.TrimSpace(req.ProviderUserID) == "" {
		return nil, bonusdomain.ErrInvalidProvider
	}
	if req.Amount <= 0 {
		return nil, bonusdomain.ErrInvalidAmount
	}

	now := s.clock.Now().UTC()
	key := ledgerdomain.BonusKey(req.Provider, req.ProviderUserID)

	var result bonusdomain.GrantResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		bal, err := s.balances.LockForUpdate(ctx, tx, req.AccountID, balancedomain.Tier(req.Tier), now)
		if err != nil {
			return err
		}

		// One bonus per provider identity AND per device. The key's unique
		// index only covers the identity, so the device rule is re-checked
		// here rather than trusted to a prior eligibility probe.
		used, err := s.ledger.CountBonusesFor(ctx, tx, key, deviceID)
		if err != nil {
			return err
		}
		if used > 0 {
			extra, err := s.ledger.SumRemaining(ctx, tx, req.AccountID)
			if err != nil {
				return err
			}
			result = bonusdomain.GrantResult{
				Granted:           false,
				ExtraCreditsTotal: extra,
			}
			return nil
		}

		entry := &ledgerdomain.LedgerEntry{
			ID:             s.genID.Generate(),
			AccountID:      req.AccountID,
			EventType:      ledgerdomain.EventTypeWelcomeBonus,
			IdempotencyKey: key,
			DeviceID:       &deviceID,
			Amount:         req.Amount,
			OccurredAt:     now,
			VerifiedAt:     now,
			Metadata: datatypes.JSONMap{
				"provider":         req.Provider,
				"provider_user_id": req.ProviderUserID,
			},
			CreatedAt: now,
		}
		inserted, err := s.ledger.InsertIfAbsent(ctx, tx, entry)
		if err != nil {
			return err
		}

		authoritative, err := s.ledger.FindByIdempotencyKey(ctx, tx, key)
		if err != nil {
			return err
		}

		extra, err := s.ledger.SumRemaining(ctx, tx, authoritative.AccountID)
		if err != nil {
			return err
		}

		// The bonus may belong to another account (same provider identity,
		// different sign-up). Only the owning account's pool changes.
		if authoritative.AccountID == req.AccountID {
			bal.ExtraCreditsRemaining = extra
			bal.UpdatedAt = now
			if err := s.balances.Save(ctx, tx, bal); err != nil {
				return err
			}
		}

		result = bonusdomain.GrantResult{
			Granted:           inserted,
			ExtraCreditsTotal: extra,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result.Granted {
		if s.obsMetrics != nil {
			s.obsMetrics.RecordBonusGrant(ctx, req.Provider)
		}
		s.log.Info("welcome bonus granted",
			zap.String("account_id", req.AccountID),
			zap.String("provider", req.Provider),
			zap.Int64("amount", req.Amount),
		)
	}
	return &result, nil
}
