package gormpersistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"hostel-chat/internal/domain"
	"hostel-chat/internal/repository"
)

// 单次 IN 查询/删除的最大 ID 数量，避免超出数据库占位符限制
const purgeBatchSize = 500

// GormMessageRepository 是 MessageRepository 接口的 GORM 实现
type GormMessageRepository struct {
	db  *gorm.DB
	now func() time.Time
}

// NewGormMessageRepository 创建 GormMessageRepository 实例
func NewGormMessageRepository(db *gorm.DB) *GormMessageRepository {
	if db == nil {
		panic("database connection cannot be nil for GormMessageRepository")
	}
	return &GormMessageRepository{db: db, now: time.Now}
}

// Append 保存新消息。ID 使用 UUID，CreatedAt 为空时取当前时间。
func (r *GormMessageRepository) Append(ctx context.Context, msg *domain.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = r.now().UTC()
	}
	msg.IsEdited = false
	msg.IsDeleted = false
	if err := r.db.WithContext(ctx).Create(msg).Error; err != nil {
		if isDuplicateEntryError(err) {
			return repository.ErrDuplicateEntry
		}
		return fmt.Errorf("gorm: append message to room %s: %w", msg.Room, err)
	}
	return nil
}

// Get 根据房间和 ID 查找消息
func (r *GormMessageRepository) Get(ctx context.Context, room, id string) (*domain.Message, error) {
	return r.get(r.db.WithContext(ctx), room, id)
}

func (r *GormMessageRepository) get(tx *gorm.DB, room, id string) (*domain.Message, error) {
	var msg domain.Message
	err := tx.Where("id = ? AND room = ?", id, room).First(&msg).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrMessageNotFound
		}
		return nil, fmt.Errorf("gorm: get message %s in room %s: %w", id, room, err)
	}
	return &msg, nil
}

// EditContent 使用条件 UPDATE 完成 "检查作者/状态 + 修改" 的原子操作，
// 影响行数为 0 时在同一事务内读取记录以区分失败原因。
func (r *GormMessageRepository) EditContent(ctx context.Context, room, id, authorID, content string) (*domain.Message, error) {
	var updated *domain.Message
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&domain.Message{}).
			Where("id = ? AND room = ? AND author_id = ? AND is_deleted = ? AND kind <> ?",
				id, room, authorID, false, domain.KindFile).
			Updates(map[string]interface{}{
				"content":    content,
				"is_edited":  true,
				"updated_at": r.now().UTC(),
			})
		if res.Error != nil {
			return fmt.Errorf("gorm: edit message %s: %w", id, res.Error)
		}
		current, err := r.get(tx, room, id)
		if err != nil {
			return err
		}
		if res.RowsAffected == 0 {
			return classifyRejectedUpdate(current, authorID)
		}
		updated = current
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// SoftDelete 标记删除。内容不做物理清除，由客户端渲染占位符。
func (r *GormMessageRepository) SoftDelete(ctx context.Context, room, id, authorID string) (*domain.Message, error) {
	var deleted *domain.Message
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&domain.Message{}).
			Where("id = ? AND room = ? AND author_id = ? AND is_deleted = ?", id, room, authorID, false).
			Updates(map[string]interface{}{
				"is_deleted": true,
				"updated_at": r.now().UTC(),
			})
		if res.Error != nil {
			return fmt.Errorf("gorm: soft delete message %s: %w", id, res.Error)
		}
		current, err := r.get(tx, room, id)
		if err != nil {
			return err
		}
		if res.RowsAffected == 0 {
			if current.AuthorID != authorID {
				return repository.ErrOwnershipMismatch
			}
			// 已删除的消息对删除操作而言不再存在
			return repository.ErrMessageNotFound
		}
		deleted = current
		return nil
	})
	if err != nil {
		return nil, err
	}
	return deleted, nil
}

// classifyRejectedUpdate 判断条件更新被拒绝的原因，作者检查优先
func classifyRejectedUpdate(current *domain.Message, authorID string) error {
	switch {
	case current.AuthorID != authorID:
		return repository.ErrOwnershipMismatch
	case current.IsDeleted, current.Kind == domain.KindFile:
		return repository.ErrNotMutable
	default:
		// 记录在两次语句之间被并发修改，按不可修改处理
		return repository.ErrNotMutable
	}
}

// RecentHistory 先按时间倒序取最近 limit 条，再反转为正序
func (r *GormMessageRepository) RecentHistory(ctx context.Context, room string, limit int) ([]domain.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	var msgs []domain.Message
	err := r.db.WithContext(ctx).
		Where("room = ?", room).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&msgs).Error
	if err != nil {
		return nil, fmt.Errorf("gorm: recent history for room %s: %w", room, err)
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// OlderThan 返回所有房间中早于 cutoff 的消息
func (r *GormMessageRepository) OlderThan(ctx context.Context, cutoff time.Time) ([]domain.Message, error) {
	var msgs []domain.Message
	err := r.db.WithContext(ctx).
		Where("created_at < ?", cutoff.UTC()).
		Order("created_at ASC").
		Find(&msgs).Error
	if err != nil {
		return nil, fmt.Errorf("gorm: find messages older than %v: %w", cutoff, err)
	}
	return msgs, nil
}

// PurgeByIDs 分批物理删除
func (r *GormMessageRepository) PurgeByIDs(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	var total int64
	for start := 0; start < len(ids); start += purgeBatchSize {
		end := start + purgeBatchSize
		if end > len(ids) {
			end = len(ids)
		}
		res := r.db.WithContext(ctx).Where("id IN ?", ids[start:end]).Delete(&domain.Message{})
		if res.Error != nil {
			return total, fmt.Errorf("gorm: purge messages (batch %d-%d): %w", start, end, res.Error)
		}
		total += res.RowsAffected
	}
	return total, nil
}

// CountAttachmentRefs 统计引用该附件的消息，包括已软删除的
func (r *GormMessageRepository) CountAttachmentRefs(ctx context.Context, url string) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).
		Model(&domain.Message{}).
		Where("attachment_url = ?", url).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("gorm: count references to attachment %s: %w", url, err)
	}
	return n, nil
}
