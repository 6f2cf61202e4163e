package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	usagedomain "github.com/smallcanvas/inkwell/internal/usage/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func setupUsageRepo(t *testing.T) (*Repository, *gorm.DB) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)

	require.NoError(t, db.AutoMigrate(&usagedomain.UsageCounter{}))

	return New(), db
}

func TestIncrementAccumulates(t *testing.T) {
	repo, db := setupUsageRepo(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	const day = "2026-03-10"

	require.NoError(t, repo.IncrementTx(ctx, db, "acct-1", day, usagedomain.ClassText, 3, now))
	require.NoError(t, repo.IncrementTx(ctx, db, "acct-1", day, usagedomain.ClassText, 2, now))
	require.NoError(t, repo.IncrementTx(ctx, db, "acct-1", day, usagedomain.ClassImage, 10, now))

	counter, err := repo.GetDay(ctx, db, "acct-1", day)
	require.NoError(t, err)
	assert.Equal(t, int64(5), counter.TextCount)
	assert.Equal(t, int64(10), counter.ImageCount)
}

func TestDecrementFloorsAtZero(t *testing.T) {
	repo, db := setupUsageRepo(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	const day = "2026-03-10"

	require.NoError(t, repo.IncrementTx(ctx, db, "acct-2", day, usagedomain.ClassText, 4, now))
	require.NoError(t, repo.DecrementFlooredTx(ctx, db, "acct-2", day, usagedomain.ClassText, 10, now))

	counter, err := repo.GetDay(ctx, db, "acct-2", day)
	require.NoError(t, err)
	assert.Equal(t, int64(0), counter.TextCount)
}

func TestDecrementWithoutRowCreatesZeroRow(t *testing.T) {
	repo, db := setupUsageRepo(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	const day = "2026-03-10"

	require.NoError(t, repo.DecrementFlooredTx(ctx, db, "acct-3", day, usagedomain.ClassImage, 10, now))

	counter, err := repo.GetDay(ctx, db, "acct-3", day)
	require.NoError(t, err)
	assert.Equal(t, int64(0), counter.ImageCount)
	assert.Equal(t, int64(0), counter.TextCount)
}

func TestGetDayAbsentReturnsZeroCounter(t *testing.T) {
	repo, db := setupUsageRepo(t)

	counter, err := repo.GetDay(context.Background(), db, "acct-none", "2026-03-10")
	require.NoError(t, err)
	assert.Equal(t, "acct-none", counter.AccountID)
	assert.Equal(t, int64(0), counter.TextCount)
	assert.Equal(t, int64(0), counter.ImageCount)
}

func TestDaysAreIndependent(t *testing.T) {
	repo, db := setupUsageRepo(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 23, 59, 0, 0, time.UTC)

	require.NoError(t, repo.IncrementTx(ctx, db, "acct-4", "2026-03-10", usagedomain.ClassText, 5, now))
	require.NoError(t, repo.IncrementTx(ctx, db, "acct-4", "2026-03-11", usagedomain.ClassText, 1, now))

	counter, err := repo.GetDay(ctx, db, "acct-4", "2026-03-11")
	require.NoError(t, err)
	assert.Equal(t, int64(1), counter.TextCount)
}
