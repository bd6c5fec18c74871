package service

import (
	"errors"

	"hostel-chat/internal/repository"
)

var (
	ErrValidation       = errors.New("invalid event data")
	ErrMessageNotFound  = errors.New("message not found")
	ErrForbidden        = errors.New("not the author of this message")
	ErrImmutable        = errors.New("message can no longer be modified")
	ErrStoreUnavailable = errors.New("message store unavailable")
	ErrNotJoined        = errors.New("join a room first")
	ErrAlreadyJoined    = errors.New("already joined a room")
	ErrUnknownEvent     = errors.New("unknown event type")
	ErrRunInProgress    = errors.New("retention run already in progress")
	ErrBackupNotFound   = errors.New("backup not found")
	ErrInvalidSettings  = errors.New("invalid chat settings")
)

// mapRepoError 将仓库层错误映射为服务层错误。
// 未识别的错误 (连接失败、超时等) 一律视为存储不可用。
func mapRepoError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrNotFound):
		return ErrMessageNotFound
	case errors.Is(err, repository.ErrOwnershipMismatch):
		return ErrForbidden
	case errors.Is(err, repository.ErrNotMutable):
		return ErrImmutable
	default:
		return ErrStoreUnavailable
	}
}
