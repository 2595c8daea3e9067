package repo

import (
	"context"
	"errors"

	"time"

	"github.com/langdon0003/trading-monitor/internal/entity"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type DealRepo interface {
	Create(ctx context.Context, deal entity.Deal) (int64, error)
	FindByWindow(ctx context.Context, from, to time.Time) ([]entity.Deal, error)
}

type dealRepo struct {
	db *gorm.DB
}

func NewDealRepo(db *gorm.DB) DealRepo {
	return &dealRepo{
		db: db,
	}
}

// Create inserts the deal, ignoring duplicates on (account_id, deal_id)
// so a replayed deal never produces a second digest row.
func (r *dealRepo) Create(ctx context.Context, deal entity.Deal) (int64, error) {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&deal).Error
	if err != nil && !errors.Is(err, gorm.ErrDuplicatedKey) {
		return 0, err
	}
	return deal.Id, nil
}

func (r *dealRepo) FindByWindow(ctx context.Context, from, to time.Time) ([]entity.Deal, error) {
	var deals []entity.Deal
	err := r.db.WithContext(ctx).
		Where("executed_at >= ? AND executed_at < ?", from, to).
		Order("account_id asc, executed_at asc").
		Find(&deals).Error
	if err != nil {
		return nil, err
	}
	return deals, nil
}
