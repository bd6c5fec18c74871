package repository

import (
	"context"

	"hostel-chat/internal/domain"
)

// ReactionRepository 存储每条消息的表情多重集合，通常由 Redis 实现。
type ReactionRepository interface {
	// AddReaction 为消息增加一次 emoji，返回更新后的完整集合。
	AddReaction(ctx context.Context, room, messageID, emoji string) (domain.Reactions, error)

	// GetReactions 返回一组消息的表情集合，没有表情的消息不出现在结果中。
	GetReactions(ctx context.Context, room string, messageIDs []string) (map[string]domain.Reactions, error)

	// DeleteReactions 清理已被物理删除的消息的表情。
	DeleteReactions(ctx context.Context, messages []domain.Message) error
}

// PresenceRepository 是在线名单的外部镜像，供管理端跨实例读取。
// 权威数据始终在 Hub 内存中。
type PresenceRepository interface {
	SaveRoster(ctx context.Context, roster domain.Roster) error
	GetRoster(ctx context.Context, room string) (domain.Roster, error)
}
