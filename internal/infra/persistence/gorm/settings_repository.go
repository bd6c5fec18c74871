package gormpersistence

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"hostel-chat/internal/domain"
)

// settingsRowID 配置表只有一行
const settingsRowID = 1

// GormSettingsRepository 是 SettingsRepository 接口的 GORM 实现
type GormSettingsRepository struct {
	db *gorm.DB
}

// NewGormSettingsRepository 创建 GormSettingsRepository 实例
func NewGormSettingsRepository(db *gorm.DB) *GormSettingsRepository {
	if db == nil {
		panic("database connection cannot be nil for GormSettingsRepository")
	}
	return &GormSettingsRepository{db: db}
}

// Load 读取配置，不存在时插入默认值 (并发插入由 ON CONFLICT DO NOTHING 处理)
func (r *GormSettingsRepository) Load(ctx context.Context) (domain.ChatSettings, error) {
	defaults := domain.DefaultChatSettings()
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&defaults).Error
	if err != nil {
		return domain.ChatSettings{}, fmt.Errorf("gorm: ensure default chat settings: %w", err)
	}
	var settings domain.ChatSettings
	if err := r.db.WithContext(ctx).First(&settings, settingsRowID).Error; err != nil {
		return domain.ChatSettings{}, fmt.Errorf("gorm: load chat settings: %w", err)
	}
	return settings, nil
}

// SetRetentionHours 更新保留时长
func (r *GormSettingsRepository) SetRetentionHours(ctx context.Context, hours int) (domain.ChatSettings, error) {
	return r.update(ctx, "retention_period_hours", hours)
}

// SetBackupEnabled 更新备份开关
func (r *GormSettingsRepository) SetBackupEnabled(ctx context.Context, enabled bool) (domain.ChatSettings, error) {
	return r.update(ctx, "backup_enabled", enabled)
}

func (r *GormSettingsRepository) update(ctx context.Context, column string, value interface{}) (domain.ChatSettings, error) {
	if _, err := r.Load(ctx); err != nil {
		return domain.ChatSettings{}, err
	}
	err := r.db.WithContext(ctx).Model(&domain.ChatSettings{}).
		Where("id = ?", settingsRowID).
		Update(column, value).Error
	if err != nil {
		return domain.ChatSettings{}, fmt.Errorf("gorm: update chat settings %s: %w", column, err)
	}
	return r.Load(ctx)
}
