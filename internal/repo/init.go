package repo

import (
	"github.com/langdon0003/trading-monitor/internal/entity"
	"gorm.io/gorm"
)

func InitTables(db *gorm.DB) error {
	return db.AutoMigrate(&entity.Deal{})
}
