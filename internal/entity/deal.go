package entity

import (
	"time"
)

// Deal 已平仓成交记录，用于聚合每日/每周报表
type Deal struct {
	Id           int64  `gorm:"primaryKey;autoIncrement"`
	AccountID    int64  `gorm:"index;uniqueIndex:idx_account_deal"`
	DealID       int64  `gorm:"uniqueIndex:idx_account_deal"`
	PositionID   int64  `gorm:"index"`
	Symbol       string `gorm:"index"`
	Side         string
	Volume       string
	Price        string
	GrossProfit  string
	Swap         string
	Commission   string
	NetProfit    string
	BalanceAfter string
	ExecutedAt   time.Time `gorm:"index"`
	CreatedAt    time.Time
}
