package repository

import (
	"context"
	"io"

	"hostel-chat/internal/domain"
)

// AttachmentStore 管理附件文件的字节内容，通过消息中的 URL 定位。
type AttachmentStore interface {
	// Save 写入上传的文件，返回可放入消息中的 URL。
	Save(ctx context.Context, originalName string, r io.Reader) (url string, err error)

	// Open 打开 URL 对应的文件。URL 不属于本存储或文件不存在时返回 ErrFileNotFound。
	Open(ctx context.Context, url string) (io.ReadCloser, error)

	// Delete 删除 URL 对应的文件。
	Delete(ctx context.Context, url string) error

	// StoredName 返回 URL 对应的存储文件名，用于归档内的文件命名。
	StoredName(url string) (string, error)
}

// BackupWriter 是一个正在写入的归档，Commit 之前对外不可见。
type BackupWriter interface {
	ID() string
	AddFile(name string, r io.Reader) error
	WriteManifest(manifest domain.BackupManifest) error
	Commit() (*domain.BackupInfo, error)
	Abort() error
}

// BackupStore 管理备份归档 (冷存储)。
type BackupStore interface {
	Create(ctx context.Context, id string) (BackupWriter, error)
	List(ctx context.Context) ([]domain.BackupInfo, error)
	Stat(ctx context.Context, id string) (*domain.BackupInfo, error)
	// WriteBundle 将归档及其文件打包为 zip 写入 w。
	WriteBundle(ctx context.Context, id string, w io.Writer) error
	Delete(ctx context.Context, id string) error
}
