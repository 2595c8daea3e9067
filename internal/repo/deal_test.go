package repo

import (
	"context"
	"testing"
	"time"

	"github.com/langdon0003/trading-monitor/internal/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestRepo(t *testing.T) DealRepo {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, InitTables(db))
	return NewDealRepo(db)
}

func testDeal(accountID, dealID int64, executedAt time.Time) entity.Deal {
	return entity.Deal{
		AccountID:    accountID,
		DealID:       dealID,
		PositionID:   dealID * 10,
		Symbol:       "XAUUSD",
		Side:         "BUY",
		Volume:       "1",
		Price:        "2400.00",
		GrossProfit:  "12.00",
		Swap:         "-0.30",
		Commission:   "-1.20",
		NetProfit:    "10.50",
		BalanceAfter: "1010.50",
		ExecutedAt:   executedAt,
	}
}

func TestDealCreateIgnoresDuplicates(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	at := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)

	_, err := repo.Create(ctx, testDeal(101, 1, at))
	require.NoError(t, err)

	// replayed stream delivers the same deal again
	_, err = repo.Create(ctx, testDeal(101, 1, at))
	require.NoError(t, err)

	// same deal id on another account is a distinct row
	_, err = repo.Create(ctx, testDeal(202, 1, at))
	require.NoError(t, err)

	deals, err := repo.FindByWindow(ctx, at.Add(-time.Hour), at.Add(time.Hour))
	require.NoError(t, err)
	assert.Len(t, deals, 2)
}

func TestDealFindByWindow(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	day := time.Date(2026, 8, 25, 0, 0, 0, 0, time.UTC)

	_, err := repo.Create(ctx, testDeal(101, 1, day.Add(-time.Minute))) // before window
	require.NoError(t, err)
	_, err = repo.Create(ctx, testDeal(101, 2, day.Add(2*time.Hour)))
	require.NoError(t, err)
	_, err = repo.Create(ctx, testDeal(202, 3, day.Add(20*time.Hour)))
	require.NoError(t, err)
	_, err = repo.Create(ctx, testDeal(101, 4, day.AddDate(0, 0, 1))) // at the exclusive bound
	require.NoError(t, err)

	deals, err := repo.FindByWindow(ctx, day, day.AddDate(0, 0, 1))
	require.NoError(t, err)
	require.Len(t, deals, 2)
	// ordered by account, then execution time
	assert.Equal(t, int64(2), deals[0].DealID)
	assert.Equal(t, int64(3), deals[1].DealID)
}
