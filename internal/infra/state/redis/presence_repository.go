package redisstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"hostel-chat/internal/domain"
)

// 名单镜像的过期时间；实例异常退出后旧名单会自动失效
const rosterTTL = 10 * time.Minute

// RedisPresenceRepository 将 Hub 中的在线名单镜像到 Redis，
// 供任意实例的管理端读取。
type RedisPresenceRepository struct {
	client    redis.UniversalClient
	keyPrefix string
}

// NewRedisPresenceRepository 创建 RedisPresenceRepository 实例
func NewRedisPresenceRepository(client redis.UniversalClient, keyPrefix string) *RedisPresenceRepository {
	if client == nil {
		panic("redis client cannot be nil for RedisPresenceRepository")
	}
	return &RedisPresenceRepository{client: client, keyPrefix: normalizePrefix(keyPrefix)}
}

// SaveRoster 写入名单，空名单直接删除 key
func (r *RedisPresenceRepository) SaveRoster(ctx context.Context, roster domain.Roster) error {
	key := rosterKey(r.keyPrefix, roster.Room)
	if roster.Count == 0 {
		if err := r.client.Del(ctx, key).Err(); err != nil {
			return fmt.Errorf("redis: failed to clear roster %s: %w", key, err)
		}
		return nil
	}
	payload, err := json.Marshal(roster)
	if err != nil {
		return fmt.Errorf("redis: failed to marshal roster for room %s: %w", roster.Room, err)
	}
	if err := r.client.Set(ctx, key, payload, rosterTTL).Err(); err != nil {
		return fmt.Errorf("redis: failed to save roster %s: %w", key, err)
	}
	return nil
}

// GetRoster 读取名单，不存在时返回空名单
func (r *RedisPresenceRepository) GetRoster(ctx context.Context, room string) (domain.Roster, error) {
	key := rosterKey(r.keyPrefix, room)
	raw, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Roster{Room: room, Names: []string{}}, nil
		}
		return domain.Roster{}, fmt.Errorf("redis: failed to get roster %s: %w", key, err)
	}
	var roster domain.Roster
	if err := json.Unmarshal(raw, &roster); err != nil {
		return domain.Roster{}, fmt.Errorf("redis: failed to unmarshal roster %s: %w", key, err)
	}
	return roster, nil
}
