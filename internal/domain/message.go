package domain

import (
	"errors"
	"strings"
	"time"
	"unicode/utf8"
)

// MessageKind 表示聊天消息的类型。
type MessageKind string

const (
	KindText   MessageKind = "text"
	KindFile   MessageKind = "file"
	KindSystem MessageKind = "system"
)

// 引用预览的最大字符数
const replyExcerptRunes = 100

// Attachment 是文件消息的附件元数据，创建后不可修改。
type Attachment struct {
	URL      string `gorm:"size:512" json:"url"`
	FileName string `gorm:"size:255" json:"file_name"`
	MimeType string `gorm:"size:127" json:"mime_type"`
}

// ReplyDetails 是在回复创建时对被引用消息的快照。
// 快照不会随原消息的编辑或清理而更新。
type ReplyDetails struct {
	ID         string      `gorm:"size:36" json:"id"`
	AuthorID   string      `gorm:"size:64" json:"author_id"`
	AuthorName string      `gorm:"size:191" json:"author_name"`
	Excerpt    string      `gorm:"size:512" json:"excerpt"`
	Kind       MessageKind `gorm:"size:16" json:"kind"`
}

// Message 是一条持久化的聊天消息 (按房间分区)。
// 内容按 Kind 存放在不同的列中，通过 Body() 以带标签的变体形式访问。
type Message struct {
	ID         string      `gorm:"primaryKey;size:36" json:"id"`
	Room       string      `gorm:"size:64;not null;index:idx_messages_room_created,priority:1" json:"room"`
	AuthorID   string      `gorm:"size:64;not null;index" json:"author_id"`
	AuthorName string      `gorm:"size:191;not null" json:"author_name"`
	Kind       MessageKind `gorm:"size:16;not null" json:"kind"`

	Content    string     `gorm:"type:text" json:"content"` // text / system 的正文，file 消息的说明文字
	Attachment Attachment `gorm:"embedded;embeddedPrefix:attachment_" json:"attachment"`

	ReplyToID *string      `gorm:"size:36;index" json:"reply_to,omitempty"`
	Reply     ReplyDetails `gorm:"embedded;embeddedPrefix:reply_" json:"reply_details"` // ReplyToID 为空时为零值

	IsEdited  bool      `gorm:"not null;default:false" json:"is_edited"`
	IsDeleted bool      `gorm:"not null;default:false" json:"is_deleted"`
	CreatedAt time.Time `gorm:"not null;index:idx_messages_room_created,priority:2;index" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName 固定表名
func (Message) TableName() string { return "chat_messages" }

// MessageBody 是消息内容的带标签变体：TextBody, FileBody 或 SystemBody。
type MessageBody interface {
	Kind() MessageKind
	validate() error
}

// TextBody 普通文本消息
type TextBody struct {
	Text string
}

// FileBody 文件消息，Caption 可选
type FileBody struct {
	Attachment Attachment
	Caption    string
}

// SystemBody 系统通知
type SystemBody struct {
	Text string
}

func (TextBody) Kind() MessageKind   { return KindText }
func (FileBody) Kind() MessageKind   { return KindFile }
func (SystemBody) Kind() MessageKind { return KindSystem }

var (
	ErrEmptyContent      = errors.New("message content is empty")
	ErrInvalidAttachment = errors.New("attachment requires url and file_name")
)

func (b TextBody) validate() error {
	if strings.TrimSpace(b.Text) == "" {
		return ErrEmptyContent
	}
	return nil
}

func (b FileBody) validate() error {
	if strings.TrimSpace(b.Attachment.URL) == "" || strings.TrimSpace(b.Attachment.FileName) == "" {
		return ErrInvalidAttachment
	}
	return nil
}

func (b SystemBody) validate() error {
	if strings.TrimSpace(b.Text) == "" {
		return ErrEmptyContent
	}
	return nil
}

// NewMessage 根据 body 构造一条尚未持久化的消息。ID 和 CreatedAt 由存储层填充。
func NewMessage(room, authorID, authorName string, body MessageBody) (*Message, error) {
	if body == nil {
		return nil, ErrEmptyContent
	}
	if err := body.validate(); err != nil {
		return nil, err
	}
	m := &Message{
		Room:       room,
		AuthorID:   authorID,
		AuthorName: authorName,
		Kind:       body.Kind(),
	}
	switch b := body.(type) {
	case TextBody:
		m.Content = strings.TrimSpace(b.Text)
	case SystemBody:
		m.Content = strings.TrimSpace(b.Text)
	case FileBody:
		m.Attachment = b.Attachment
		if m.Attachment.MimeType == "" {
			m.Attachment.MimeType = "application/octet-stream"
		}
		m.Content = strings.TrimSpace(b.Caption)
	}
	return m, nil
}

// Body 将列数据还原为带标签的变体
func (m *Message) Body() MessageBody {
	switch m.Kind {
	case KindFile:
		return FileBody{Attachment: m.Attachment, Caption: m.Content}
	case KindSystem:
		return SystemBody{Text: m.Content}
	default:
		return TextBody{Text: m.Content}
	}
}

// HasAttachment 报告消息是否引用了附件文件
func (m *Message) HasAttachment() bool {
	return m.Kind == KindFile && m.Attachment.URL != ""
}

// IsReply 报告消息是否是一条回复
func (m *Message) IsReply() bool {
	return m.ReplyToID != nil && *m.ReplyToID != ""
}

// SnapshotForReply 生成被引用消息的快照。
func (m *Message) SnapshotForReply() ReplyDetails {
	excerpt := m.Content
	if m.Kind == KindFile && excerpt == "" {
		excerpt = m.Attachment.FileName
	}
	return ReplyDetails{
		ID:         m.ID,
		AuthorID:   m.AuthorID,
		AuthorName: m.AuthorName,
		Excerpt:    truncateRunes(excerpt, replyExcerptRunes),
		Kind:       m.Kind,
	}
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n]) + "…"
}
