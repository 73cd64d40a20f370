package db

import (
	"gorm.io/gorm"

	"github.com/rootp1/Tapp/internal/models"
)

// Tables 需要迁移的全部表
func Tables() []interface{} {
	return []interface{}{
		&models.User{},
		&models.Channel{},
		&models.Post{},
		&models.PaymentIntent{},
		&models.Purchase{},
	}
}

// Migrate 创建新表或更新表结构
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(Tables()...)
}
