package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	balancedomain "github.com/smallcanvas/inkwell/internal/balance/domain"
	balancerepo "github.com/smallcanvas/inkwell/internal/balance/repository"
	"github.com/smallcanvas/inkwell/internal/clock"
	ledgerdomain "github.com/smallcanvas/inkwell/internal/ledger/domain"
	ledgerrepo "github.com/smallcanvas/inkwell/internal/ledger/repository"
	quotadomain "github.com/smallcanvas/inkwell/internal/quota/domain"
	usagedomain "github.com/smallcanvas/inkwell/internal/usage/domain"
	usagerepo "github.com/smallcanvas/inkwell/internal/usage/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func setupQuotaService(t *testing.T, clk clock.Clock) (*Service, *gorm.DB) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)

	require.NoError(t, db.AutoMigrate(
		&balancedomain.CreditBalance{},
		&ledgerdomain.LedgerEntry{},
		&usagedomain.UsageCounter{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	svc := New(Params{
		DB:       db,
		Log:      zap.NewNop(),
		GenID:    node,
		Clock:    clk,
		Balances: balancerepo.New(),
		Ledger:   ledgerrepo.New(),
		Usage:    usagerepo.New(),
	})
	return svc, db
}

// grantExtra seeds the account with purchased credits the way the purchase
// ingestor would: one ledger entry plus a re-derived balance.
func grantExtra(t *testing.T, svc *Service, accountID string, amount int64) {
	t.Helper()
	ctx := context.Background()
	now := svc.clock.Now().UTC()

	err := svc.db.Transaction(func(tx *gorm.DB) error {
		bal, err := svc.balances.LockForUpdate(ctx, tx, accountID, balancedomain.TierFree, now)
		if err != nil {
			return err
		}
		entryID := svc.genID.Generate()
		entry := &ledgerdomain.LedgerEntry{
			ID:             entryID,
			AccountID:      accountID,
			EventType:      ledgerdomain.EventTypePurchase,
			IdempotencyKey: fmt.Sprintf("txn-%s", entryID.String()),
			Amount:         amount,
			OccurredAt:     now,
			VerifiedAt:     now,
			CreatedAt:      now,
		}
		if _, err := svc.ledger.InsertIfAbsent(ctx, tx, entry); err != nil {
			return err
		}
		extra, err := svc.ledger.SumRemaining(ctx, tx, accountID)
		if err != nil {
			return err
		}
		bal.ExtraCreditsRemaining = extra
		return svc.balances.Save(ctx, tx, bal)
	})
	require.NoError(t, err)
}

func extraPoolFromLedger(t *testing.T, svc *Service, accountID string) int64 {
	t.Helper()
	var total int64
	err := svc.db.Transaction(func(tx *gorm.DB) error {
		sum, err := svc.ledger.SumRemaining(context.Background(), tx, accountID)
		total = sum
		return err
	})
	require.NoError(t, err)
	return total
}

func TestDebitSubscriptionFirst(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))
	svc, _ := setupQuotaService(t, clk)
	ctx := context.Background()
	const account = "acct-sub-first"

	_, err := svc.Summary(ctx, account, balancedomain.TierFree)
	require.NoError(t, err)
	grantExtra(t, svc, account, 10)

	status, err := svc.Debit(ctx, account, balancedomain.TierFree, quotadomain.OperationContinueProse)
	require.NoError(t, err)
	assert.Equal(t, int64(10), status.SubscriptionCredits)
	assert.Equal(t, int64(10), status.ExtraCreditsRemaining)

	status, err = svc.Debit(ctx, account, balancedomain.TierFree, quotadomain.OperationImageGenerate)
	require.NoError(t, err)
	assert.Equal(t, int64(0), status.SubscriptionCredits)
	assert.Equal(t, int64(10), status.ExtraCreditsRemaining)

	status, err = svc.Debit(ctx, account, balancedomain.TierFree, quotadomain.OperationSummarize)
	require.NoError(t, err)
	assert.Equal(t, int64(0), status.SubscriptionCredits)
	assert.Equal(t, int64(9), status.ExtraCreditsRemaining)

	assert.Equal(t, int64(9), extraPoolFromLedger(t, svc, account))
}

func TestDebitInsufficientCredits(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))
	svc, _ := setupQuotaService(t, clk)
	ctx := context.Background()
	const account = "acct-insufficient"

	_, err := svc.Debit(ctx, account, balancedomain.TierFree, quotadomain.OperationImageGenerate)
	require.NoError(t, err)

	_, err = svc.Debit(ctx, account, balancedomain.TierFree, quotadomain.OperationImageGenerate)
	var exceeded *quotadomain.ExceededError
	require.True(t, errors.As(err, &exceeded))
	assert.Equal(t, quotadomain.OperationImageGenerate, exceeded.Operation)
	assert.Equal(t, int64(10), exceeded.Cost)
	assert.Equal(t, int64(5), exceeded.Shortfall)

	// The failed attempt must not touch balance or usage.
	status, err := svc.Summary(ctx, account, balancedomain.TierFree)
	require.NoError(t, err)
	assert.Equal(t, int64(5), status.TotalCredits)

	usage, err := svc.UsageToday(ctx, account)
	require.NoError(t, err)
	assert.Equal(t, int64(10), usage.ImageCount)
}

func TestDebitExhaustionSequence(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))
	svc, _ := setupQuotaService(t, clk)
	ctx := context.Background()
	const account = "acct-exhaust"

	var ok, exceeded int
	for i := 0; i < 10; i++ {
		_, err := svc.Debit(ctx, account, balancedomain.TierFree, quotadomain.OperationContinueProse)
		switch {
		case err == nil:
			ok++
		case errAsExceededTest(err):
			exceeded++
		default:
			t.Fatalf("debit %d: unexpected error %v", i, err)
		}
	}

	assert.Equal(t, 3, ok)
	assert.Equal(t, 7, exceeded)

	status, err := svc.Summary(ctx, account, balancedomain.TierFree)
	require.NoError(t, err)
	assert.Equal(t, int64(0), status.TotalCredits)
}

func TestDebitConcurrentRequestsSerialize(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))
	svc, _ := setupQuotaService(t, clk)
	ctx := context.Background()
	const account = "acct-race"

	// Free tier holds 15; ten competing 5-credit debits must settle to
	// exactly three winners, never a negative balance.
	var ok, exceeded atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Debit(ctx, account, balancedomain.TierFree, quotadomain.OperationContinueProse)
			switch {
			case err == nil:
				ok.Add(1)
			case errAsExceededTest(err):
				exceeded.Add(1)
			default:
				t.Errorf("unexpected debit error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(3), ok.Load())
	assert.Equal(t, int64(7), exceeded.Load())

	status, err := svc.Summary(ctx, account, balancedomain.TierFree)
	require.NoError(t, err)
	assert.Equal(t, int64(0), status.TotalCredits)

	usage, err := svc.UsageToday(ctx, account)
	require.NoError(t, err)
	assert.Equal(t, int64(15), usage.TextCount)
}

func TestRefundRestoresToExtraPool(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))
	svc, _ := setupQuotaService(t, clk)
	ctx := context.Background()
	const account = "acct-refund"

	status, err := svc.Debit(ctx, account, balancedomain.TierFree, quotadomain.OperationImageGenerate)
	require.NoError(t, err)
	assert.Equal(t, int64(5), status.TotalCredits)

	status, err = svc.Refund(ctx, account, balancedomain.TierFree, quotadomain.OperationImageGenerate)
	require.NoError(t, err)
	assert.Equal(t, int64(5), status.SubscriptionCredits)
	assert.Equal(t, int64(10), status.ExtraCreditsRemaining)
	assert.Equal(t, int64(15), status.TotalCredits)

	status, err = svc.Debit(ctx, account, balancedomain.TierFree, quotadomain.OperationImageGenerate)
	require.NoError(t, err)
	assert.Equal(t, int64(0), status.SubscriptionCredits)
	assert.Equal(t, int64(5), status.ExtraCreditsRemaining)

	assert.Equal(t, int64(5), extraPoolFromLedger(t, svc, account))

	// Net usage reflects one charged generation, not two.
	usage, err := svc.UsageToday(ctx, account)
	require.NoError(t, err)
	assert.Equal(t, int64(10), usage.ImageCount)
}

func TestRefundWithoutDebit(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))
	svc, _ := setupQuotaService(t, clk)
	ctx := context.Background()
	const account = "acct-refund-only"

	status, err := svc.Refund(ctx, account, balancedomain.TierFree, quotadomain.OperationContinueProse)
	require.NoError(t, err)
	assert.Equal(t, int64(5), status.ExtraCreditsRemaining)

	usage, err := svc.UsageToday(ctx, account)
	require.NoError(t, err)
	assert.Equal(t, int64(0), usage.TextCount)
}

func TestDebitUnknownOperation(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))
	svc, _ := setupQuotaService(t, clk)

	_, err := svc.Debit(context.Background(), "acct-unknown", balancedomain.TierFree, quotadomain.Operation("teleport"))
	require.ErrorIs(t, err, quotadomain.ErrUnknownOperation)
}

func TestSubscriptionRenewalLazy(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	svc, _ := setupQuotaService(t, clk)
	ctx := context.Background()
	const account = "acct-renewal"

	status, err := svc.Summary(ctx, account, balancedomain.TierCreator)
	require.NoError(t, err)
	assert.Equal(t, int64(200), status.SubscriptionCredits)
	firstReset := *status.SubscriptionResetsAt

	_, err = svc.Debit(ctx, account, balancedomain.TierCreator, quotadomain.OperationImageGenerate)
	require.NoError(t, err)

	// Cross the reset boundary; the next touch renews.
	clk.Advance(32 * 24 * time.Hour)

	status, err = svc.Summary(ctx, account, balancedomain.TierCreator)
	require.NoError(t, err)
	assert.Equal(t, int64(200), status.SubscriptionCredits)
	assert.True(t, status.SubscriptionResetsAt.After(firstReset))
	assert.Equal(t, 1, countGrants(t, svc, account))

	// Touching again inside the same period must not grant twice.
	clk.Advance(time.Hour)
	_, err = svc.Summary(ctx, account, balancedomain.TierCreator)
	require.NoError(t, err)
	assert.Equal(t, 1, countGrants(t, svc, account))

	// Next period, next grant.
	clk.Advance(31 * 24 * time.Hour)
	_, err = svc.Summary(ctx, account, balancedomain.TierCreator)
	require.NoError(t, err)
	assert.Equal(t, 2, countGrants(t, svc, account))
}

func countGrants(t *testing.T, svc *Service, accountID string) int {
	t.Helper()
	var count int64
	err := svc.db.Model(&ledgerdomain.LedgerEntry{}).
		Where("account_id = ? AND event_type = ?", accountID, ledgerdomain.EventTypeSubscriptionGrant).
		Count(&count).Error
	require.NoError(t, err)
	return int(count)
}

func errAsExceededTest(err error) bool {
	var exceeded *quotadomain.ExceededError
	return errors.As(err, &exceeded)
}
