package domain

import "time"

// 保留策略默认值
const (
	DefaultRetentionHours = 24
	DefaultBackupEnabled  = true
)

// ChatSettings 是聊天保留策略的持久化配置，表中只有一行 (ID = 1)。
type ChatSettings struct {
	ID                   uint      `gorm:"primaryKey"`
	RetentionPeriodHours int       `gorm:"not null;default:24"`
	BackupEnabled        bool      `gorm:"not null;default:true"`
	UpdatedAt            time.Time `gorm:"autoUpdateTime"`
}

// TableName 固定表名
func (ChatSettings) TableName() string { return "chat_settings" }

// DefaultChatSettings 返回首次启动时使用的配置
func DefaultChatSettings() ChatSettings {
	return ChatSettings{
		ID:                   1,
		RetentionPeriodHours: DefaultRetentionHours,
		BackupEnabled:        DefaultBackupEnabled,
	}
}

// RetentionPeriod 将小时数转换为 time.Duration
func (s ChatSettings) RetentionPeriod() time.Duration {
	return time.Duration(s.RetentionPeriodHours) * time.Hour
}
