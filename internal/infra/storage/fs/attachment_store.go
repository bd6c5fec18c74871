package fsstorage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"hostel-chat/internal/repository"
)

// LocalAttachmentStore 将附件保存在本地目录，通过 urlPrefix + 文件名 对外访问。
type LocalAttachmentStore struct {
	dir       string
	urlPrefix string
}

// NewLocalAttachmentStore 创建附件存储并确保目录存在
func NewLocalAttachmentStore(dir, urlPrefix string) (*LocalAttachmentStore, error) {
	if dir == "" {
		return nil, errors.New("attachment directory cannot be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("fs: create attachment dir %s: %w", dir, err)
	}
	if !strings.HasSuffix(urlPrefix, "/") {
		urlPrefix += "/"
	}
	return &LocalAttachmentStore{dir: dir, urlPrefix: urlPrefix}, nil
}

// Dir 返回附件根目录 (用于静态文件服务)
func (s *LocalAttachmentStore) Dir() string { return s.dir }

// URLPrefix 返回附件 URL 前缀
func (s *LocalAttachmentStore) URLPrefix() string { return s.urlPrefix }

// Save 以随机名称保存文件，保留原始扩展名
func (s *LocalAttachmentStore) Save(ctx context.Context, originalName string, r io.Reader) (string, error) {
	ext := strings.ToLower(filepath.Ext(filepath.Base(originalName)))
	if len(ext) > 16 {
		ext = ""
	}
	name := uuid.NewString() + ext
	path := filepath.Join(s.dir, name)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("fs: create attachment %s: %w", name, err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		_ = os.Remove(path)
		return "", fmt.Errorf("fs: write attachment %s: %w", name, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("fs: close attachment %s: %w", name, err)
	}
	return s.urlPrefix + name, nil
}

// StoredName 将 URL 解析为目录内的文件名，拒绝不属于本存储的 URL 和路径穿越
func (s *LocalAttachmentStore) StoredName(url string) (string, error) {
	if !strings.HasPrefix(url, s.urlPrefix) {
		return "", fmt.Errorf("fs: url %q is outside %s: %w", url, s.urlPrefix, repository.ErrFileNotFound)
	}
	name := strings.TrimPrefix(url, s.urlPrefix)
	if name == "" || name != filepath.Base(name) || name == "." || name == ".." {
		return "", fmt.Errorf("fs: invalid attachment name %q: %w", name, repository.ErrFileNotFound)
	}
	return name, nil
}

// Open 打开附件
func (s *LocalAttachmentStore) Open(ctx context.Context, url string) (io.ReadCloser, error) {
	name, err := s.StoredName(url)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(filepath.Join(s.dir, name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("fs: attachment %s: %w", name, repository.ErrFileNotFound)
		}
		return nil, fmt.Errorf("fs: open attachment %s: %w", name, err)
	}
	return f, nil
}

// Delete 删除附件
func (s *LocalAttachmentStore) Delete(ctx context.Context, url string) error {
	name, err := s.StoredName(url)
	if err != nil {
		return err
	}
	if err := os.Remove(filepath.Join(s.dir, name)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("fs: attachment %s: %w", name, repository.ErrFileNotFound)
		}
		return fmt.Errorf("fs: delete attachment %s: %w", name, err)
	}
	return nil
}
