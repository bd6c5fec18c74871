package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"hostel-chat/internal/domain"
	"hostel-chat/internal/repository"
)

// ClearNotifier 在清空全部聊天后通知所有在线连接
type ClearNotifier interface {
	NotifyChatCleared()
}

// RetentionOptions 保留任务的可选配置
type RetentionOptions struct {
	// PurgeOnBackupFailure 为 true 时，即使归档失败也照常清理
	PurgeOnBackupFailure bool
	// Now 用于测试注入时钟
	Now func() time.Time
}

// RunReport 记录一次保留/清理运行的结果
type RunReport struct {
	RunID        string
	Cutoff       time.Time
	Candidates   int
	Backup        *domain.BackupInfo
	Purged        int64
	FilesDeleted  int
	FilesFailed   int
	FilesRetained int // 仍被保留消息引用而未删除的附件
}

// RetentionService 负责按保留期备份并清理消息，以及管理端的归档操作。
// 同一时刻只允许一个运行 (定时、立即备份、清空)，重叠的触发直接跳过。
type RetentionService struct {
	messages    repository.MessageRepository
	settings    repository.SettingsRepository
	reactions   repository.ReactionRepository
	attachments repository.AttachmentStore
	backups     repository.BackupStore
	notifier    ClearNotifier

	purgeOnBackupFailure bool
	now                  func() time.Time
	running              atomic.Bool
}

// NewRetentionService 创建 RetentionService 实例。notifier 可以为 nil。
func NewRetentionService(
	messages repository.MessageRepository,
	settings repository.SettingsRepository,
	reactions repository.ReactionRepository,
	attachments repository.AttachmentStore,
	backups repository.BackupStore,
	notifier ClearNotifier,
	opts RetentionOptions,
) *RetentionService {
	if messages == nil || settings == nil || reactions == nil || attachments == nil || backups == nil {
		panic("RetentionService requires non-nil repositories and stores")
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &RetentionService{
		messages:             messages,
		settings:             settings,
		reactions:            reactions,
		attachments:          attachments,
		backups:              backups,
		notifier:             notifier,
		purgeOnBackupFailure: opts.PurgeOnBackupFailure,
		now:                  now,
	}
}

// Running 报告当前是否有运行中的任务
func (s *RetentionService) Running() bool {
	return s.running.Load()
}

func (s *RetentionService) acquire() bool {
	return s.running.CompareAndSwap(false, true)
}

func (s *RetentionService) release() {
	s.running.Store(false)
}

// --- 配置 ---

// Settings 返回当前保留策略
func (s *RetentionService) Settings(ctx context.Context) (domain.ChatSettings, error) {
	settings, err := s.settings.Load(ctx)
	if err != nil {
		logrus.WithError(err).Error("Failed to load chat settings")
		return domain.ChatSettings{}, ErrStoreUnavailable
	}
	return settings, nil
}

// SetRetentionPeriod 设置保留时长 (小时，正整数)。下次运行生效。
func (s *RetentionService) SetRetentionPeriod(ctx context.Context, hours int) (domain.ChatSettings, error) {
	if hours <= 0 {
		return domain.ChatSettings{}, fmt.Errorf("%w: retention period must be a positive number of hours", ErrInvalidSettings)
	}
	settings, err := s.settings.SetRetentionHours(ctx, hours)
	if err != nil {
		logrus.WithError(err).WithField("hours", hours).Error("Failed to update retention period")
		return domain.ChatSettings{}, ErrStoreUnavailable
	}
	logrus.WithField("hours", hours).Info("Chat retention period updated")
	return settings, nil
}

// SetBackupEnabled 打开或关闭清理前的备份
func (s *RetentionService) SetBackupEnabled(ctx context.Context, enabled bool) (domain.ChatSettings, error) {
	settings, err := s.settings.SetBackupEnabled(ctx, enabled)
	if err != nil {
		logrus.WithError(err).WithField("enabled", enabled).Error("Failed to update backup flag")
		return domain.ChatSettings{}, ErrStoreUnavailable
	}
	logrus.WithField("enabled", enabled).Info("Chat backup flag updated")
	return settings, nil
}

// --- 运行 ---

// RunScheduled 执行一次保留任务: 计算截止时间，按配置备份，然后清理消息及其附件。
// 已有运行时返回 ErrRunInProgress。
func (s *RetentionService) RunScheduled(ctx context.Context) (*RunReport, error) {
	if !s.acquire() {
		return nil, ErrRunInProgress
	}
	defer s.release()

	settings, err := s.Settings(ctx)
	if err != nil {
		return nil, err
	}
	cutoff := s.now().UTC().Add(-settings.RetentionPeriod())
	return s.backupAndPurge(ctx, "scheduled", cutoff, settings.BackupEnabled)
}

// ClearAll 备份 (如果开启) 并清除所有消息，然后通知所有在线连接
func (s *RetentionService) ClearAll(ctx context.Context) (*RunReport, error) {
	if !s.acquire() {
		return nil, ErrRunInProgress
	}
	defer s.release()

	settings, err := s.Settings(ctx)
	if err != nil {
		return nil, err
	}
	report, err := s.backupAndPurge(ctx, "clear_all", s.now().UTC(), settings.BackupEnabled)
	if err != nil {
		return report, err
	}
	if s.notifier != nil {
		s.notifier.NotifyChatCleared()
	}
	return report, nil
}

// BackupNow 立即归档当前全部消息，不做清理
func (s *RetentionService) BackupNow(ctx context.Context) (*domain.BackupInfo, error) {
	if !s.acquire() {
		return nil, ErrRunInProgress
	}
	defer s.release()

	now := s.now().UTC()
	logCtx := logrus.WithFields(logrus.Fields{"operation": "BackupNow", "cutoff": now})
	msgs, err := s.messages.OlderThan(ctx, now)
	if err != nil {
		logCtx.WithError(err).Error("Failed to load messages for backup")
		return nil, ErrStoreUnavailable
	}
	info, err := s.writeArchive(ctx, logCtx, now, msgs)
	if err != nil {
		return nil, err
	}
	logCtx.WithField("backup_id", info.ID).Info("Manual backup written")
	return info, nil
}

func (s *RetentionService) backupAndPurge(ctx context.Context, trigger string, cutoff time.Time, backupEnabled bool) (*RunReport, error) {
	report := &RunReport{RunID: uuid.NewString(), Cutoff: cutoff}
	logCtx := logrus.WithFields(logrus.Fields{
		"run_id":    report.RunID,
		"operation": trigger,
		"cutoff":    cutoff,
	})

	candidates, err := s.messages.OlderThan(ctx, cutoff)
	if err != nil {
		logCtx.WithError(err).Error("Failed to select retention candidates")
		return report, ErrStoreUnavailable
	}
	report.Candidates = len(candidates)
	if len(candidates) == 0 {
		logCtx.Info("No messages older than cutoff, nothing to do")
		return report, nil
	}

	if backupEnabled {
		info, err := s.writeArchive(ctx, logCtx, cutoff, candidates)
		if err != nil {
			if !s.purgeOnBackupFailure {
				logCtx.WithError(err).Error("Backup failed, purge skipped for this run")
				return report, err
			}
			logCtx.WithError(err).Warn("Backup failed, purging anyway")
		} else {
			report.Backup = info
		}
	}

	ids := make([]string, len(candidates))
	for i := range candidates {
		ids[i] = candidates[i].ID
	}
	purged, err := s.messages.PurgeByIDs(ctx, ids)
	report.Purged = purged
	if err != nil {
		logCtx.WithError(err).WithField("purged", purged).Error("Failed to purge messages")
		return report, ErrStoreUnavailable
	}

	seen := make(map[string]struct{})
	for i := range candidates {
		if !candidates[i].HasAttachment() {
			continue
		}
		url := candidates[i].Attachment.URL
		if _, ok := seen[url]; ok {
			continue
		}
		seen[url] = struct{}{}
		// 保留的消息仍引用该文件时不删除
		refs, err := s.messages.CountAttachmentRefs(ctx, url)
		if err != nil {
			report.FilesFailed++
			logCtx.WithError(err).WithField("url", url).Warn("Failed to count attachment references, file kept")
			continue
		}
		if refs > 0 {
			report.FilesRetained++
			logCtx.WithFields(logrus.Fields{"url": url, "refs": refs}).Info("Attachment still referenced, file kept")
			continue
		}
		if err := s.attachments.Delete(ctx, url); err != nil {
			report.FilesFailed++
			logCtx.WithError(err).WithField("url", url).Warn("Failed to delete purged attachment")
			continue
		}
		report.FilesDeleted++
	}
	if err := s.reactions.DeleteReactions(ctx, candidates); err != nil {
		logCtx.WithError(err).Warn("Failed to delete reactions of purged messages")
	}

	logCtx.WithFields(logrus.Fields{
		"candidates":    report.Candidates,
		"purged":        report.Purged,
		"files_deleted": report.FilesDeleted,
		"files_failed":  report.FilesFailed,
		"files_kept":    report.FilesRetained,
	}).Info("Retention run finished")
	return report, nil
}

// writeArchive 写入消息集合及其引用的附件。单个附件复制失败只记录日志。
func (s *RetentionService) writeArchive(ctx context.Context, logCtx *logrus.Entry, cutoff time.Time, msgs []domain.Message) (*domain.BackupInfo, error) {
	createdAt := s.now().UTC()
	id := domain.NewBackupID(createdAt)
	w, err := s.backups.Create(ctx, id)
	if err != nil {
		logCtx.WithError(err).WithField("backup_id", id).Error("Failed to create backup archive")
		return nil, fmt.Errorf("%w: create archive %s: %v", ErrStoreUnavailable, id, err)
	}

	copied := make(map[string]struct{})
	for i := range msgs {
		if !msgs[i].HasAttachment() {
			continue
		}
		url := msgs[i].Attachment.URL
		name, err := s.attachments.StoredName(url)
		if err != nil {
			logCtx.WithError(err).WithField("url", url).Warn("Attachment outside attachment area, not archived")
			continue
		}
		if _, ok := copied[name]; ok {
			continue
		}
		if err := s.copyAttachment(ctx, w, name, url); err != nil {
			logCtx.WithError(err).WithField("url", url).Warn("Failed to archive attachment, skipping")
			continue
		}
		copied[name] = struct{}{}
	}

	manifest := domain.BackupManifest{ID: id, CreatedAt: createdAt, Cutoff: cutoff, Messages: msgs}
	if err := w.WriteManifest(manifest); err != nil {
		_ = w.Abort()
		logCtx.WithError(err).WithField("backup_id", id).Error("Failed to write backup manifest")
		return nil, fmt.Errorf("%w: write manifest %s: %v", ErrStoreUnavailable, id, err)
	}
	info, err := w.Commit()
	if err != nil {
		_ = w.Abort()
		logCtx.WithError(err).WithField("backup_id", id).Error("Failed to commit backup archive")
		return nil, fmt.Errorf("%w: commit archive %s: %v", ErrStoreUnavailable, id, err)
	}
	logCtx.WithFields(logrus.Fields{
		"backup_id": id,
		"messages":  info.MessageCount,
		"files":     info.FileCount,
	}).Info("Backup archive written")
	return info, nil
}

func (s *RetentionService) copyAttachment(ctx context.Context, w repository.BackupWriter, name, url string) error {
	rc, err := s.attachments.Open(ctx, url)
	if err != nil {
		return err
	}
	defer rc.Close()
	return w.AddFile(name, rc)
}

// --- 归档管理 ---

// ListBackups 列出所有归档 (新的在前)
func (s *RetentionService) ListBackups(ctx context.Context) ([]domain.BackupInfo, error) {
	infos, err := s.backups.List(ctx)
	if err != nil {
		logrus.WithError(err).Error("Failed to list backups")
		return nil, ErrStoreUnavailable
	}
	return infos, nil
}

// StatBackup 返回单个归档的信息
func (s *RetentionService) StatBackup(ctx context.Context, id string) (*domain.BackupInfo, error) {
	info, err := s.backups.Stat(ctx, id)
	if err != nil {
		return nil, mapBackupError(err, id, "StatBackup")
	}
	return info, nil
}

// WriteBackupBundle 将归档打包为 zip 写入 w
func (s *RetentionService) WriteBackupBundle(ctx context.Context, id string, w io.Writer) error {
	if err := s.backups.WriteBundle(ctx, id, w); err != nil {
		return mapBackupError(err, id, "WriteBackupBundle")
	}
	return nil
}

// DeleteBackup 删除归档
func (s *RetentionService) DeleteBackup(ctx context.Context, id string) error {
	if err := s.backups.Delete(ctx, id); err != nil {
		return mapBackupError(err, id, "DeleteBackup")
	}
	logrus.WithField("backup_id", id).Info("Backup archive deleted")
	return nil
}

func mapBackupError(err error, id, op string) error {
	if errors.Is(err, repository.ErrNotFound) {
		return ErrBackupNotFound
	}
	logrus.WithError(err).WithFields(logrus.Fields{"backup_id": id, "operation": op}).Error("Backup store failure")
	return ErrStoreUnavailable
}
