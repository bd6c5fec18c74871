package fsstorage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"

	"github.com/dustin/go-humanize"
	"github.com/klauspost/compress/zip"
	"github.com/sirupsen/logrus"

	"hostel-chat/internal/domain"
	"hostel-chat/internal/repository"
)

const (
	manifestFile = "messages.json"
	filesDir     = "files"
	tmpPrefix    = ".tmp-"
)

// 与 domain.NewBackupID 的格式一致
var backupIDPattern = regexp.MustCompile(`^backup-\d{8}-\d{6}\.\d{3}$`)

// ValidBackupID 检查 ID 格式，同时防止路径穿越
func ValidBackupID(id string) bool {
	return backupIDPattern.MatchString(id)
}

// LocalBackupStore 每个归档一个目录: <id>/messages.json + <id>/files/
type LocalBackupStore struct {
	dir string
}

// NewLocalBackupStore 创建备份存储并确保目录存在
func NewLocalBackupStore(dir string) (*LocalBackupStore, error) {
	if dir == "" {
		return nil, errors.New("backup directory cannot be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("fs: create backup dir %s: %w", dir, err)
	}
	return &LocalBackupStore{dir: dir}, nil
}

// Create 在临时目录中开始一个新归档
func (s *LocalBackupStore) Create(ctx context.Context, id string) (repository.BackupWriter, error) {
	if !ValidBackupID(id) {
		return nil, fmt.Errorf("fs: invalid backup id %q", id)
	}
	final := filepath.Join(s.dir, id)
	if _, err := os.Stat(final); err == nil {
		return nil, repository.ErrDuplicateEntry
	}
	tmp := filepath.Join(s.dir, tmpPrefix+id)
	if err := os.RemoveAll(tmp); err != nil {
		return nil, fmt.Errorf("fs: reset temp dir for %s: %w", id, err)
	}
	if err := os.MkdirAll(filepath.Join(tmp, filesDir), 0o755); err != nil {
		return nil, fmt.Errorf("fs: create temp dir for %s: %w", id, err)
	}
	return &localBackupWriter{store: s, id: id, tmp: tmp, final: final}, nil
}

// List 按时间倒序列出已提交的归档，损坏的归档记录日志后跳过
func (s *LocalBackupStore) List(ctx context.Context) ([]domain.BackupInfo, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("fs: read backup dir %s: %w", s.dir, err)
	}
	infos := make([]domain.BackupInfo, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() || !ValidBackupID(e.Name()) {
			continue
		}
		info, err := s.Stat(ctx, e.Name())
		if err != nil {
			logrus.WithError(err).WithField("backup_id", e.Name()).Warn("Skipping unreadable backup archive")
			continue
		}
		infos = append(infos, *info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Date.After(infos[j].Date) })
	return infos, nil
}

// Stat 读取单个归档的统计信息
func (s *LocalBackupStore) Stat(ctx context.Context, id string) (*domain.BackupInfo, error) {
	root, err := s.archiveDir(id)
	if err != nil {
		return nil, err
	}
	manifest, err := readManifest(filepath.Join(root, manifestFile))
	if err != nil {
		return nil, err
	}
	var size int64
	fileCount := 0
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		size += fi.Size()
		if filepath.Base(filepath.Dir(path)) == filesDir {
			fileCount++
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("fs: stat backup %s: %w", id, err)
	}
	return &domain.BackupInfo{
		ID:           id,
		Date:         manifest.CreatedAt,
		Size:         size,
		SizeLabel:    humanize.Bytes(uint64(size)),
		MessageCount: len(manifest.Messages),
		FileCount:    fileCount,
	}, nil
}

// WriteBundle 将归档目录打包为 zip
func (s *LocalBackupStore) WriteBundle(ctx context.Context, id string, w io.Writer) error {
	root, err := s.archiveDir(id)
	if err != nil {
		return err
	}
	zw := zip.NewWriter(w)
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		return addZipEntry(zw, filepath.ToSlash(filepath.Join(id, rel)), path)
	})
	if err != nil {
		_ = zw.Close()
		return fmt.Errorf("fs: bundle backup %s: %w", id, err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("fs: finish bundle %s: %w", id, err)
	}
	return nil
}

// Delete 删除整个归档
func (s *LocalBackupStore) Delete(ctx context.Context, id string) error {
	root, err := s.archiveDir(id)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(root); err != nil {
		return fmt.Errorf("fs: delete backup %s: %w", id, err)
	}
	return nil
}

func (s *LocalBackupStore) archiveDir(id string) (string, error) {
	if !ValidBackupID(id) {
		return "", repository.ErrBackupNotFound
	}
	root := filepath.Join(s.dir, id)
	fi, err := os.Stat(root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", repository.ErrBackupNotFound
		}
		return "", fmt.Errorf("fs: stat backup %s: %w", id, err)
	}
	if !fi.IsDir() {
		return "", repository.ErrBackupNotFound
	}
	return root, nil
}

func readManifest(path string) (*domain.BackupManifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("fs: open manifest %s: %w", path, err)
	}
	defer f.Close()
	var manifest domain.BackupManifest
	if err := json.NewDecoder(f).Decode(&manifest); err != nil {
		return nil, fmt.Errorf("fs: decode manifest %s: %w", path, err)
	}
	return &manifest, nil
}

func addZipEntry(zw *zip.Writer, name, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return err
	}
	header, err := zip.FileInfoHeader(fi)
	if err != nil {
		return err
	}
	header.Name = name
	header.Method = zip.Deflate
	dst, err := zw.CreateHeader(header)
	if err != nil {
		return err
	}
	_, err = io.Copy(dst, f)
	return err
}

// localBackupWriter 写入临时目录，Commit 时原子重命名
type localBackupWriter struct {
	store    *LocalBackupStore
	id       string
	tmp      string
	final    string
	manifest bool
	done     bool
}

func (w *localBackupWriter) ID() string { return w.id }

// AddFile 复制一个附件到归档的 files 目录
func (w *localBackupWriter) AddFile(name string, r io.Reader) error {
	if name == "" || name != filepath.Base(name) {
		return fmt.Errorf("fs: invalid archive file name %q", name)
	}
	dst, err := os.OpenFile(filepath.Join(w.tmp, filesDir, name), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("fs: create archive file %s: %w", name, err)
	}
	if _, err := io.Copy(dst, r); err != nil {
		dst.Close()
		return fmt.Errorf("fs: copy archive file %s: %w", name, err)
	}
	return dst.Close()
}

// WriteManifest 写入序列化后的消息集合
func (w *localBackupWriter) WriteManifest(manifest domain.BackupManifest) error {
	payload, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("fs: marshal manifest %s: %w", w.id, err)
	}
	if err := os.WriteFile(filepath.Join(w.tmp, manifestFile), payload, 0o644); err != nil {
		return fmt.Errorf("fs: write manifest %s: %w", w.id, err)
	}
	w.manifest = true
	return nil
}

// Commit 发布归档，之后归档不可修改
func (w *localBackupWriter) Commit() (*domain.BackupInfo, error) {
	if w.done {
		return nil, fmt.Errorf("fs: backup %s already finished", w.id)
	}
	if !w.manifest {
		return nil, fmt.Errorf("fs: backup %s has no manifest", w.id)
	}
	if err := os.Rename(w.tmp, w.final); err != nil {
		return nil, fmt.Errorf("fs: commit backup %s: %w", w.id, err)
	}
	w.done = true
	return w.store.Stat(context.Background(), w.id)
}

// Abort 丢弃未提交的归档
func (w *localBackupWriter) Abort() error {
	if w.done {
		return nil
	}
	w.done = true
	return os.RemoveAll(w.tmp)
}
