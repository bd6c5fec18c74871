package fsstorage

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hostel-chat/internal/domain"
	"hostel-chat/internal/repository"
)

func TestLocalAttachmentStore_SaveOpenDelete(t *testing.T) {
	store, err := NewLocalAttachmentStore(t.TempDir(), "/uploads/chat")
	require.NoError(t, err)
	ctx := context.Background()

	url, err := store.Save(ctx, "photo.PNG", strings.NewReader("png-bytes"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(url, "/uploads/chat/"), "URL 应带有配置的前缀")
	assert.True(t, strings.HasSuffix(url, ".png"), "应保留小写扩展名")

	rc, err := store.Open(ctx, url)
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, rc.Close())
	require.NoError(t, err)
	assert.Equal(t, "png-bytes", string(data))

	require.NoError(t, store.Delete(ctx, url))
	_, err = store.Open(ctx, url)
	assert.ErrorIs(t, err, repository.ErrFileNotFound)
	assert.ErrorIs(t, store.Delete(ctx, url), repository.ErrFileNotFound)
}

func TestLocalAttachmentStore_RejectsForeignURLs(t *testing.T) {
	store, err := NewLocalAttachmentStore(t.TempDir(), "/uploads/chat/")
	require.NoError(t, err)

	for _, url := range []string{
		"https://cdn.example.com/a.png",
		"/uploads/chat/../../etc/passwd",
		"/uploads/chat/",
		"/uploads/chat/sub/a.png",
	} {
		_, err := store.StoredName(url)
		assert.ErrorIs(t, err, repository.ErrFileNotFound, url)
	}
}

func newManifest(id string, msgs ...domain.Message) domain.BackupManifest {
	return domain.BackupManifest{ID: id, CreatedAt: time.Now().UTC(), Cutoff: time.Now().UTC(), Messages: msgs}
}

func TestLocalBackupStore_CommitListAndStat(t *testing.T) {
	dir := t.TempDir()
	store, err := NewLocalBackupStore(dir)
	require.NoError(t, err)
	ctx := context.Background()

	id := domain.NewBackupID(time.Date(2024, 3, 1, 10, 20, 30, 456e6, time.UTC))
	assert.Equal(t, "backup-20240301-102030.456", id)

	w, err := store.Create(ctx, id)
	require.NoError(t, err)
	require.NoError(t, w.AddFile("a.png", strings.NewReader("aaaa")))
	require.NoError(t, w.WriteManifest(newManifest(id, domain.Message{ID: "m1"}, domain.Message{ID: "m2"})))

	// 提交前不可见
	list, err := store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list, "未提交的归档不应出现在列表中")

	info, err := w.Commit()
	require.NoError(t, err)
	assert.Equal(t, id, info.ID)
	assert.Equal(t, 2, info.MessageCount)
	assert.Equal(t, 1, info.FileCount)
	assert.Positive(t, info.Size)
	assert.NotEmpty(t, info.SizeLabel)

	list, err = store.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, id, list[0].ID)

	_, err = os.Stat(filepath.Join(dir, tmpPrefix+id))
	assert.True(t, os.IsNotExist(err), "提交后临时目录应被重命名")

	_, err = store.Create(ctx, id)
	assert.ErrorIs(t, err, repository.ErrDuplicateEntry)
}

func TestLocalBackupStore_AbortLeavesNothing(t *testing.T) {
	dir := t.TempDir()
	store, err := NewLocalBackupStore(dir)
	require.NoError(t, err)
	ctx := context.Background()

	id := domain.NewBackupID(time.Now())
	w, err := store.Create(ctx, id)
	require.NoError(t, err)
	require.NoError(t, w.Abort())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestLocalBackupStore_BundleAndDelete(t *testing.T) {
	store, err := NewLocalBackupStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	id := domain.NewBackupID(time.Now())
	w, err := store.Create(ctx, id)
	require.NoError(t, err)
	require.NoError(t, w.AddFile("doc.pdf", strings.NewReader("pdf")))
	require.NoError(t, w.WriteManifest(newManifest(id)))
	_, err = w.Commit()
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, store.WriteBundle(ctx, id, &buf))
	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)
	names := make([]string, 0, len(zr.File))
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	assert.ElementsMatch(t, []string{id + "/messages.json", id + "/files/doc.pdf"}, names)

	require.NoError(t, store.Delete(ctx, id))
	_, err = store.Stat(ctx, id)
	assert.ErrorIs(t, err, repository.ErrBackupNotFound)
}

func TestLocalBackupStore_RejectsTraversalIDs(t *testing.T) {
	store, err := NewLocalBackupStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	for _, id := range []string{"../etc", "backup-../../x", "", "backup-2024"} {
		assert.ErrorIs(t, store.Delete(ctx, id), repository.ErrBackupNotFound, id)
		assert.ErrorIs(t, store.WriteBundle(ctx, id, io.Discard), repository.ErrBackupNotFound, id)
	}
}
