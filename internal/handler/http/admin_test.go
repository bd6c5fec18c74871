package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"hostel-chat/internal/domain"
	fsstorage "hostel-chat/internal/infra/storage/fs"
	"hostel-chat/internal/repository/mocks"
	"hostel-chat/internal/service"
)

var fixedNow = time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)

type staticRosters map[string]domain.Roster

func (s staticRosters) Roster(room string) domain.Roster {
	if r, ok := s[room]; ok {
		return r
	}
	return domain.Roster{Room: room, Names: []string{}}
}

type clearCounter struct{ calls int }

func (c *clearCounter) NotifyChatCleared() { c.calls++ }

type adminFixture struct {
	router   *gin.Engine
	messages *mocks.MessageRepository
	settings *mocks.SettingsRepository
	mirror   *mocks.PresenceRepository
	notifier *clearCounter
}

func newAdminFixture(t *testing.T, rosters staticRosters) *adminFixture {
	t.Helper()
	attachments, err := fsstorage.NewLocalAttachmentStore(t.TempDir(), "/uploads/chat/")
	require.NoError(t, err)
	backups, err := fsstorage.NewLocalBackupStore(t.TempDir())
	require.NoError(t, err)

	f := &adminFixture{
		messages: new(mocks.MessageRepository),
		settings: new(mocks.SettingsRepository),
		mirror:   new(mocks.PresenceRepository),
		notifier: &clearCounter{},
	}
	retention := service.NewRetentionService(f.messages, f.settings, new(mocks.ReactionRepository), attachments, backups,
		f.notifier, service.RetentionOptions{Now: func() time.Time { return fixedNow }})

	gin.SetMode(gin.TestMode)
	f.router = gin.New()
	NewAdminHandler(retention, rosters, f.mirror).Register(f.router.Group("/api/admin/chat"))
	return f
}

func (f *adminFixture) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func TestAdminHandler_Settings(t *testing.T) {
	// Arrange
	f := newAdminFixture(t, nil)
	f.settings.On("Load", mock.Anything).Return(domain.DefaultChatSettings(), nil)
	f.settings.On("SetRetentionHours", mock.Anything, 48).
		Return(domain.ChatSettings{ID: 1, RetentionPeriodHours: 48, BackupEnabled: true}, nil).Once()
	f.settings.On("SetBackupEnabled", mock.Anything, false).
		Return(domain.ChatSettings{ID: 1, RetentionPeriodHours: 48, BackupEnabled: false}, nil).Once()

	// Act & Assert
	w := f.do(http.MethodGet, "/api/admin/chat/settings", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"retentionPeriod":24,"backupEnabled":true}`, w.Body.String())

	w = f.do(http.MethodPut, "/api/admin/chat/settings/retention", `{"retentionPeriod":48}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"retentionPeriod":48,"backupEnabled":true}`, w.Body.String())

	w = f.do(http.MethodPut, "/api/admin/chat/settings/backup", `{"backupEnabled":false}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"retentionPeriod":48,"backupEnabled":false}`, w.Body.String())

	f.settings.AssertExpectations(t)
}

func TestAdminHandler_RejectsInvalidSettings(t *testing.T) {
	f := newAdminFixture(t, nil)

	w := f.do(http.MethodPut, "/api/admin/chat/settings/retention", `{"retentionPeriod":0}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(http.MethodPut, "/api/admin/chat/settings/retention", `{"retentionPeriod":-3}`)
	assert.Equal(t, http.StatusBadRequest, w.Code, "负数由服务层拒绝")

	w = f.do(http.MethodPut, "/api/admin/chat/settings/backup", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	f.settings.AssertNotCalled(t, "SetRetentionHours", mock.Anything, mock.Anything)
	f.settings.AssertNotCalled(t, "SetBackupEnabled", mock.Anything, mock.Anything)
}

func TestAdminHandler_StoreUnavailable(t *testing.T) {
	f := newAdminFixture(t, nil)
	f.settings.On("Load", mock.Anything).Return(domain.ChatSettings{}, errors.New("db down"))

	w := f.do(http.MethodGet, "/api/admin/chat/settings", "")

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestAdminHandler_BackupLifecycle(t *testing.T) {
	// Arrange
	f := newAdminFixture(t, nil)
	msgs := []domain.Message{
		{ID: "m1", Room: "R1", AuthorID: "u1", AuthorName: "Ann", Kind: domain.KindText, Content: "hello", CreatedAt: fixedNow.Add(-time.Hour)},
	}
	f.messages.On("OlderThan", mock.Anything, mock.Anything).Return(msgs, nil).Once()

	// Act: 立即备份
	w := f.do(http.MethodPost, "/api/admin/chat/backups", "")

	// Assert
	require.Equal(t, http.StatusCreated, w.Code)
	var info domain.BackupInfo
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &info))
	assert.Equal(t, domain.NewBackupID(fixedNow), info.ID)
	assert.Equal(t, 1, info.MessageCount)

	w = f.do(http.MethodGet, "/api/admin/chat/backups", "")
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Backups []domain.BackupInfo `json:"backups"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list.Backups, 1)
	assert.Equal(t, info.ID, list.Backups[0].ID)

	w = f.do(http.MethodGet, "/api/admin/chat/backups/"+info.ID+"/download", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/zip", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), info.ID+".zip")
	assert.True(t, bytes.HasPrefix(w.Body.Bytes(), []byte("PK")), "下载内容应为 zip")

	w = f.do(http.MethodDelete, "/api/admin/chat/backups/"+info.ID, "")
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = f.do(http.MethodGet, "/api/admin/chat/backups/"+info.ID+"/download", "")
	assert.Equal(t, http.StatusNotFound, w.Code, "删除后不能再下载")
	w = f.do(http.MethodDelete, "/api/admin/chat/backups/"+info.ID, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAdminHandler_DownloadRejectsForeignIDs(t *testing.T) {
	f := newAdminFixture(t, nil)

	for _, id := range []string{"not-a-backup", "backup-..", "backup-20240510-120000"} {
		w := f.do(http.MethodGet, "/api/admin/chat/backups/"+id+"/download", "")
		assert.Equal(t, http.StatusNotFound, w.Code, "id %q", id)
	}
}

func TestAdminHandler_ClearAll(t *testing.T) {
	f := newAdminFixture(t, nil)
	f.settings.On("Load", mock.Anything).Return(domain.ChatSettings{ID: 1, RetentionPeriodHours: 24, BackupEnabled: false}, nil)
	f.messages.On("OlderThan", mock.Anything, fixedNow).Return([]domain.Message{}, nil).Once()

	w := f.do(http.MethodPost, "/api/admin/chat/clear", "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"candidates":0,"purged":0}`, w.Body.String())
	assert.Equal(t, 1, f.notifier.calls, "清空后应通知所有连接")
}

func TestAdminHandler_RoomPresence(t *testing.T) {
	f := newAdminFixture(t, staticRosters{
		"R1": {Room: "R1", Count: 2, Names: []string{"Ann", "Bob"}},
	})
	f.mirror.On("GetRoster", mock.Anything, "R2").
		Return(domain.Roster{Room: "R2", Count: 1, Names: []string{"Cid"}}, nil).Once()
	f.mirror.On("GetRoster", mock.Anything, "R3").
		Return(domain.Roster{}, errors.New("redis down")).Once()

	w := f.do(http.MethodGet, "/api/admin/chat/rooms/R1/presence", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"room":"R1","count":2,"users":["Ann","Bob"]}`, w.Body.String())

	w = f.do(http.MethodGet, "/api/admin/chat/rooms/R2/presence", "")
	assert.JSONEq(t, `{"room":"R2","count":1,"users":["Cid"]}`, w.Body.String(), "本实例没有连接时读取镜像")

	w = f.do(http.MethodGet, "/api/admin/chat/rooms/R3/presence", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"room":"R3","count":0,"users":[]}`, w.Body.String(), "镜像不可用时返回本地空名单")
	f.mirror.AssertNotCalled(t, "GetRoster", mock.Anything, "R1")
}

func TestAdminHandler_BackupWriteFailureIsServiceUnavailable(t *testing.T) {
	// Arrange: 归档目录不可写
	messages := new(mocks.MessageRepository)
	backups := new(mocks.BackupStore)
	messages.On("OlderThan", mock.Anything, fixedNow).Return([]domain.Message{{ID: "m1", Kind: domain.KindText, Content: "hi"}}, nil).Once()
	backups.On("Create", mock.Anything, domain.NewBackupID(fixedNow)).Return(nil, errors.New("read-only file system")).Once()
	retention := service.NewRetentionService(messages, new(mocks.SettingsRepository), new(mocks.ReactionRepository),
		new(mocks.AttachmentStore), backups, nil, service.RetentionOptions{Now: func() time.Time { return fixedNow }})
	gin.SetMode(gin.TestMode)
	router := gin.New()
	NewAdminHandler(retention, staticRosters{}, new(mocks.PresenceRepository)).Register(router.Group("/api/admin/chat"))

	// Act
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/admin/chat/backups", nil))

	// Assert
	assert.Equal(t, http.StatusServiceUnavailable, w.Code, "归档写入失败应返回 503")
	backups.AssertExpectations(t)
}
