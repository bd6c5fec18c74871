package http

import (
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"hostel-chat/internal/dto"
	"hostel-chat/internal/repository"
)

// AttachmentHandler 处理聊天附件上传
type AttachmentHandler struct {
	store    repository.AttachmentStore
	maxBytes int64
}

// NewAttachmentHandler 创建 AttachmentHandler 实例
func NewAttachmentHandler(store repository.AttachmentStore, maxBytes int64) *AttachmentHandler {
	if store == nil {
		panic("AttachmentStore cannot be nil for AttachmentHandler")
	}
	if maxBytes <= 0 {
		maxBytes = 10 << 20
	}
	return &AttachmentHandler{store: store, maxBytes: maxBytes}
}

// Upload 接收 multipart 字段 "file"，返回可用于 message 事件的附件元数据
func (h *AttachmentHandler) Upload(c *gin.Context) {
	logCtx := logrus.WithField("user_id", c.GetString("user_id"))
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBytes+1<<20)

	header, err := c.FormFile("file")
	if err != nil {
		ErrorResponse(c, http.StatusBadRequest, "multipart field 'file' is required")
		return
	}
	if header.Size > h.maxBytes {
		ErrorResponse(c, http.StatusRequestEntityTooLarge, "file is too large")
		return
	}
	f, err := header.Open()
	if err != nil {
		logCtx.WithError(err).Error("Failed to open uploaded file")
		ErrorResponse(c, http.StatusBadRequest, "could not read uploaded file")
		return
	}
	defer f.Close()

	url, err := h.store.Save(c.Request.Context(), header.Filename, f)
	if err != nil {
		logCtx.WithError(err).Error("Failed to store attachment")
		ErrorResponse(c, http.StatusInternalServerError, "could not store attachment")
		return
	}

	fileName := filepath.Base(header.Filename)
	mimeType := header.Header.Get("Content-Type")
	if mimeType == "" || strings.HasPrefix(mimeType, "application/octet-stream") {
		if byExt := mime.TypeByExtension(strings.ToLower(filepath.Ext(fileName))); byExt != "" {
			mimeType = byExt
		}
	}
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	logCtx.WithFields(logrus.Fields{"url": url, "size": header.Size}).Info("Attachment uploaded")
	SuccessResponse(c, http.StatusCreated, dto.AttachmentDTO{URL: url, FileName: fileName, MimeType: mimeType})
}
