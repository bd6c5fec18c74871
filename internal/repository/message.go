package repository

import (
	"context"
	"time"

	"hostel-chat/internal/domain"
)

// MessageRepository 定义了聊天消息日志的存储操作。
// 它是消息生命周期 (创建、修改、清理) 的唯一写入方。
type MessageRepository interface {
	// Append 保存一条新消息，填充 ID 和 CreatedAt。
	Append(ctx context.Context, msg *domain.Message) error

	// Get 根据房间和 ID 查找消息。不同房间的同一 ID 视为不存在 (ErrNotFound)。
	Get(ctx context.Context, room, id string) (*domain.Message, error)

	// EditContent 在一次条件更新中校验作者、删除状态和类型并修改内容。
	// 返回 ErrNotFound / ErrOwnershipMismatch / ErrNotMutable。
	EditContent(ctx context.Context, room, id, authorID, content string) (*domain.Message, error)

	// SoftDelete 在一次条件更新中校验作者并标记删除。
	// 已删除的消息按 ErrNotFound 处理。
	SoftDelete(ctx context.Context, room, id, authorID string) (*domain.Message, error)

	// RecentHistory 返回房间最近的 limit 条消息，按时间正序排列。
	RecentHistory(ctx context.Context, room string, limit int) ([]domain.Message, error)

	// OlderThan 返回所有房间中创建时间早于 cutoff 的消息，仅供保留任务使用。
	OlderThan(ctx context.Context, cutoff time.Time) ([]domain.Message, error)

	// PurgeByIDs 物理删除消息，返回删除的行数。
	PurgeByIDs(ctx context.Context, ids []string) (int64, error)

	// CountAttachmentRefs 返回仍引用该附件 URL 的消息数。
	CountAttachmentRefs(ctx context.Context, url string) (int64, error)
}
