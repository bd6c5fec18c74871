package repository

import (
	"context"

	"hostel-chat/internal/domain"
)

// SettingsRepository 读写保留策略配置。
type SettingsRepository interface {
	// Load 返回当前配置，如果还没有记录则写入并返回默认值。
	Load(ctx context.Context) (domain.ChatSettings, error)

	// SetRetentionHours 更新保留时长 (小时)。
	SetRetentionHours(ctx context.Context, hours int) (domain.ChatSettings, error)

	// SetBackupEnabled 更新备份开关。
	SetBackupEnabled(ctx context.Context, enabled bool) (domain.ChatSettings, error)
}
