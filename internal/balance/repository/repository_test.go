package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	balancedomain "github.com/smallcanvas/inkwell/internal/balance/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func setupBalanceRepo(t *testing.T) (*Repository, *gorm.DB) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)

	require.NoError(t, db.AutoMigrate(&balancedomain.CreditBalance{}))

	return New(), db
}

func TestGetOrCreateSeedsTierDefaults(t *testing.T) {
	repo, db := setupBalanceRepo(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	bal, err := repo.GetOrCreate(ctx, db, "acct-new", balancedomain.TierCreator, now)
	require.NoError(t, err)
	assert.Equal(t, balancedomain.TierCreator, bal.Tier)
	assert.Equal(t, int64(200), bal.SubscriptionCredits)
	assert.Equal(t, int64(200), bal.SubscriptionMonthlyAllocation)
	require.NotNil(t, bal.SubscriptionResetsAt)
	assert.Equal(t, now.AddDate(0, 1, 0), bal.SubscriptionResetsAt.UTC())
	assert.Equal(t, int64(0), bal.ExtraCreditsRemaining)
}

func TestGetOrCreateDoesNotOverwrite(t *testing.T) {
	repo, db := setupBalanceRepo(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	_, err := repo.GetOrCreate(ctx, db, "acct-keep", balancedomain.TierStudio, now)
	require.NoError(t, err)

	// A later call with a different tier must not reset the row.
	bal, err := repo.GetOrCreate(ctx, db, "acct-keep", balancedomain.TierFree, now.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, balancedomain.TierStudio, bal.Tier)
	assert.Equal(t, int64(1000), bal.SubscriptionCredits)
}

func TestLockForUpdateInsideTransaction(t *testing.T) {
	repo, db := setupBalanceRepo(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	err := db.Transaction(func(tx *gorm.DB) error {
		bal, err := repo.LockForUpdate(ctx, tx, "acct-lock", balancedomain.TierFree, now)
		if err != nil {
			return err
		}
		bal.SubscriptionCredits = 7
		bal.UpdatedAt = now
		return repo.Save(ctx, tx, bal)
	})
	require.NoError(t, err)

	bal, err := repo.GetOrCreate(ctx, db, "acct-lock", balancedomain.TierFree, now)
	require.NoError(t, err)
	assert.Equal(t, int64(7), bal.SubscriptionCredits)
}

func TestInvalidAccountRejected(t *testing.T) {
	repo, db := setupBalanceRepo(t)

	_, err := repo.GetOrCreate(context.Background(), db, "  ", balancedomain.TierFree, time.Now())
	require.ErrorIs(t, err, balancedomain.ErrInvalidAccount)
}
