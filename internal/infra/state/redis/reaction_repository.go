package redisstate

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"hostel-chat/internal/domain"
)

// 表情数据的过期时间，略长于最大保留期即可，清理任务也会主动删除
const reactionTTL = 90 * 24 * time.Hour

// RedisReactionRepository 是 ReactionRepository 的 Redis 实现。
// 每条消息一个 Hash: field = emoji, value = 次数。
type RedisReactionRepository struct {
	client    redis.UniversalClient
	keyPrefix string
}

// NewRedisReactionRepository 创建 RedisReactionRepository 实例
func NewRedisReactionRepository(client redis.UniversalClient, keyPrefix string) *RedisReactionRepository {
	if client == nil {
		panic("redis client cannot be nil for RedisReactionRepository")
	}
	return &RedisReactionRepository{client: client, keyPrefix: normalizePrefix(keyPrefix)}
}

// AddReaction 原子地增加计数并返回完整集合
func (r *RedisReactionRepository) AddReaction(ctx context.Context, room, messageID, emoji string) (domain.Reactions, error) {
	key := reactionsKey(r.keyPrefix, room, messageID)
	pipe := r.client.TxPipeline()
	pipe.HIncrBy(ctx, key, emoji, 1)
	pipe.Expire(ctx, key, reactionTTL)
	all := pipe.HGetAll(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("redis: failed to add reaction on key %s: %w", key, err)
	}
	return parseReactions(all.Val(), key), nil
}

// GetReactions 批量读取多条消息的表情
func (r *RedisReactionRepository) GetReactions(ctx context.Context, room string, messageIDs []string) (map[string]domain.Reactions, error) {
	result := make(map[string]domain.Reactions, len(messageIDs))
	if len(messageIDs) == 0 {
		return result, nil
	}
	pipe := r.client.Pipeline()
	cmds := make(map[string]*redis.StringStringMapCmd, len(messageIDs))
	for _, id := range messageIDs {
		cmds[id] = pipe.HGetAll(ctx, reactionsKey(r.keyPrefix, room, id))
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("redis: failed to load reactions for room %s: %w", room, err)
	}
	for id, cmd := range cmds {
		if reactions := parseReactions(cmd.Val(), reactionsKey(r.keyPrefix, room, id)); len(reactions) > 0 {
			result[id] = reactions
		}
	}
	return result, nil
}

// DeleteReactions 删除已清理消息的表情数据
func (r *RedisReactionRepository) DeleteReactions(ctx context.Context, messages []domain.Message) error {
	if len(messages) == 0 {
		return nil
	}
	keys := make([]string, 0, len(messages))
	for _, m := range messages {
		keys = append(keys, reactionsKey(r.keyPrefix, m.Room, m.ID))
	}
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis: failed to delete reactions for %d messages: %w", len(keys), err)
	}
	return nil
}

func parseReactions(raw map[string]string, key string) domain.Reactions {
	reactions := make(domain.Reactions, len(raw))
	for emoji, countStr := range raw {
		count, err := strconv.ParseInt(countStr, 10, 64)
		if err != nil {
			logrus.Warnf("redis: invalid reaction count '%s' for emoji %q on key %s", countStr, emoji, key)
			continue
		}
		reactions[emoji] = count
	}
	return reactions
}
