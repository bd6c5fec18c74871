package domain

import "time"

// BackupInfo 描述一个已写入的备份归档。
type BackupInfo struct {
	ID           string    `json:"id"`
	Date         time.Time `json:"date"`
	Size         int64     `json:"size"`
	SizeLabel    string    `json:"sizeLabel"`
	MessageCount int       `json:"messageCount"`
	FileCount    int       `json:"fileCount"`
}

// BackupManifest 是归档中 messages.json 的内容
type BackupManifest struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	Cutoff    time.Time `json:"cutoff"`
	Messages  []Message `json:"messages"`
}

// NewBackupID 由 UTC 时间生成归档 ID: backup-20060102-150405.000
func NewBackupID(t time.Time) string {
	return "backup-" + t.UTC().Format("20060102-150405.000")
}
