package http

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"hostel-chat/internal/domain"
	"hostel-chat/internal/repository"
	"hostel-chat/internal/service"
)

// RosterSource 提供本实例的在线名单，由 *hub.Hub 实现
type RosterSource interface {
	Roster(room string) domain.Roster
}

// AdminHandler 封装了聊天管理端的 HTTP 处理逻辑
type AdminHandler struct {
	retention *service.RetentionService
	rosters   RosterSource
	mirror    repository.PresenceRepository
}

// NewAdminHandler 创建 AdminHandler 实例。mirror 可以为 nil。
func NewAdminHandler(retention *service.RetentionService, rosters RosterSource, mirror repository.PresenceRepository) *AdminHandler {
	if retention == nil || rosters == nil {
		panic("AdminHandler requires retention service and roster source")
	}
	return &AdminHandler{retention: retention, rosters: rosters, mirror: mirror}
}

// Register 在给定路由组上注册管理端路由
func (h *AdminHandler) Register(rg *gin.RouterGroup) {
	rg.GET("/settings", h.GetSettings)
	rg.PUT("/settings/retention", h.UpdateRetention)
	rg.PUT("/settings/backup", h.UpdateBackup)
	rg.POST("/backups", h.CreateBackup)
	rg.GET("/backups", h.ListBackups)
	rg.GET("/backups/:id/download", h.DownloadBackup)
	rg.DELETE("/backups/:id", h.DeleteBackup)
	rg.POST("/clear", h.ClearAll)
	rg.GET("/rooms/:room/presence", h.RoomPresence)
}

// SettingsResponse 保留策略
type SettingsResponse struct {
	RetentionPeriod int  `json:"retentionPeriod"`
	BackupEnabled   bool `json:"backupEnabled"`
}

func newSettingsResponse(s domain.ChatSettings) SettingsResponse {
	return SettingsResponse{RetentionPeriod: s.RetentionPeriodHours, BackupEnabled: s.BackupEnabled}
}

// UpdateRetentionRequest 保留时长 (小时)
type UpdateRetentionRequest struct {
	RetentionPeriod int `json:"retentionPeriod" binding:"required"`
}

// UpdateBackupRequest 备份开关
type UpdateBackupRequest struct {
	BackupEnabled *bool `json:"backupEnabled" binding:"required"`
}

// RunResponse 清理运行的结果
type RunResponse struct {
	Candidates int                `json:"candidates"`
	Purged     int64              `json:"purged"`
	Backup     *domain.BackupInfo `json:"backup,omitempty"`
}

func (h *AdminHandler) GetSettings(c *gin.Context) {
	settings, err := h.retention.Settings(c.Request.Context())
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, newSettingsResponse(settings))
}

func (h *AdminHandler) UpdateRetention(c *gin.Context) {
	var req UpdateRetentionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, "retentionPeriod must be a positive integer")
		return
	}
	settings, err := h.retention.SetRetentionPeriod(c.Request.Context(), req.RetentionPeriod)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, newSettingsResponse(settings))
}

func (h *AdminHandler) UpdateBackup(c *gin.Context) {
	var req UpdateBackupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, "backupEnabled must be a boolean")
		return
	}
	settings, err := h.retention.SetBackupEnabled(c.Request.Context(), *req.BackupEnabled)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, newSettingsResponse(settings))
}

func (h *AdminHandler) CreateBackup(c *gin.Context) {
	info, err := h.retention.BackupNow(c.Request.Context())
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	logrus.WithFields(logrus.Fields{"backup_id": info.ID, "user_id": c.GetString("user_id")}).Info("Manual backup created")
	SuccessResponse(c, http.StatusCreated, info)
}

func (h *AdminHandler) ListBackups(c *gin.Context) {
	infos, err := h.retention.ListBackups(c.Request.Context())
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, gin.H{"backups": infos})
}

// DownloadBackup 以 zip 流的形式下载归档
func (h *AdminHandler) DownloadBackup(c *gin.Context) {
	id := c.Param("id")
	ctx := c.Request.Context()
	if _, err := h.retention.StatBackup(ctx, id); err != nil {
		HandleServiceError(c, err)
		return
	}
	c.Header("Content-Type", "application/zip")
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.zip"`, id))
	c.Status(http.StatusOK)
	if err := h.retention.WriteBackupBundle(ctx, id, c.Writer); err != nil {
		// 响应头已发送，只能记录日志
		logrus.WithError(err).WithField("backup_id", id).Error("Backup download interrupted")
	}
}

func (h *AdminHandler) DeleteBackup(c *gin.Context) {
	if err := h.retention.DeleteBackup(c.Request.Context(), c.Param("id")); err != nil {
		HandleServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ClearAll 备份 (如开启) 后清空所有聊天记录
func (h *AdminHandler) ClearAll(c *gin.Context) {
	report, err := h.retention.ClearAll(c.Request.Context())
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	logrus.WithFields(logrus.Fields{"run_id": report.RunID, "purged": report.Purged, "user_id": c.GetString("user_id")}).
		Warn("All chat messages cleared by admin")
	SuccessResponse(c, http.StatusOK, RunResponse{Candidates: report.Candidates, Purged: report.Purged, Backup: report.Backup})
}

// RoomPresence 返回房间在线名单。本实例没有该房间的连接时读取 Redis 镜像。
func (h *AdminHandler) RoomPresence(c *gin.Context) {
	room := c.Param("room")
	roster := h.rosters.Roster(room)
	if roster.Count == 0 && h.mirror != nil {
		if mirrored, err := h.readMirror(c.Request.Context(), room); err == nil {
			roster = mirrored
		}
	}
	if roster.Names == nil {
		roster.Names = []string{}
	}
	SuccessResponse(c, http.StatusOK, roster)
}

func (h *AdminHandler) readMirror(ctx context.Context, room string) (domain.Roster, error) {
	roster, err := h.mirror.GetRoster(ctx, room)
	if err != nil {
		logrus.WithError(err).WithField("room_id", room).Warn("Failed to read presence mirror")
	}
	return roster, err
}
