package repository

import "errors"

// 通用的存储库错误
var (
	// ErrNotFound 表示请求的记录未找到
	ErrNotFound = errors.New("repository: record not found")
	// ErrDuplicateEntry 表示尝试插入或更新的数据违反了唯一约束
	ErrDuplicateEntry = errors.New("repository: duplicate entry")
	// ErrOwnershipMismatch 表示条件更新时作者不匹配
	ErrOwnershipMismatch = errors.New("repository: ownership mismatch")
	// ErrNotMutable 表示记录已被删除或其类型不允许修改
	ErrNotMutable = errors.New("repository: record is not mutable")
)

// 特定资源的错误
var (
	ErrMessageNotFound = ErrNotFound
	ErrBackupNotFound  = ErrNotFound
	ErrFileNotFound    = ErrNotFound
)
