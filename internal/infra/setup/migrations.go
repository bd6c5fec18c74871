package setup

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"hostel-chat/internal/domain"
)

// MigrateDB 迁移聊天相关的表结构并写入默认配置。
func MigrateDB(db *gorm.DB) error {
	if db == nil {
		return fmt.Errorf("cannot migrate database with nil DB connection")
	}

	if err := db.AutoMigrate(&domain.Message{}, &domain.ChatSettings{}); err != nil {
		logrus.Errorf("Failed to auto-migrate chat tables: %v", err)
		return fmt.Errorf("failed to auto-migrate tables: %w", err)
	}

	// 首次启动时写入默认保留策略，已存在则保留管理员的设置
	defaults := domain.DefaultChatSettings()
	if err := db.Where("id = ?", defaults.ID).FirstOrCreate(&defaults).Error; err != nil {
		return fmt.Errorf("failed to seed chat settings: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"retention_hours": defaults.RetentionPeriodHours,
		"backup_enabled":  defaults.BackupEnabled,
	}).Info("Database migration completed successfully")
	return nil
}
