package dto

import (
	"encoding/json"
	"time"

	"hostel-chat/internal/domain"
)

// 客户端 -> 服务端事件类型
const (
	EventJoin          = "join"
	EventMessage       = "message"
	EventEditMessage   = "edit_message"
	EventDeleteMessage = "delete_message"
	EventTyping        = "typing"
	EventReaction      = "reaction"
)

// 服务端 -> 客户端事件类型
const (
	EventHistory        = "history"
	EventMessageEdited  = "message_edited"
	EventMessageDeleted = "message_deleted"
	EventUsers          = "users"
	EventError          = "error"
	EventChatCleared    = "chat_cleared"
)

// 错误码
const (
	CodeValidation       = "validation"
	CodeNotFound         = "not_found"
	CodeForbidden        = "forbidden"
	CodeImmutable        = "immutable"
	CodeStoreUnavailable = "store_unavailable"
	CodeNotJoined        = "not_joined"
	CodeUnknownEvent     = "unknown_event"
	CodeRateLimited      = "rate_limited"
)

// InboundEvent 是客户端发来的所有事件的公共信封，按 Type 取用字段
type InboundEvent struct {
	Type string `json:"type"`

	// join
	Room        string `json:"room,omitempty"`
	UserID      string `json:"user_id,omitempty"`
	DisplayName string `json:"display_name,omitempty"`

	// message / edit_message
	Content    string         `json:"content,omitempty"`
	Caption    string         `json:"caption,omitempty"`
	Attachment *AttachmentDTO `json:"attachment,omitempty"`
	ReplyTo    string         `json:"reply_to,omitempty"`

	// edit_message / delete_message
	ID string `json:"id,omitempty"`

	// reaction
	MessageID string `json:"message_id,omitempty"`
	Emoji     string `json:"emoji,omitempty"`

	// typing
	IsTyping bool `json:"isTyping,omitempty"`
}

// AttachmentDTO 附件元数据
type AttachmentDTO struct {
	URL      string `json:"url"`
	FileName string `json:"file_name"`
	MimeType string `json:"mime_type,omitempty"`
}

// ReplyDTO 回复快照
type ReplyDTO struct {
	ID         string `json:"id"`
	AuthorID   string `json:"author_id"`
	AuthorName string `json:"author_name"`
	Excerpt    string `json:"excerpt"`
	Kind       string `json:"kind"`
}

// MessageDTO 是下发给客户端的消息
type MessageDTO struct {
	ID           string           `json:"id"`
	Room         string           `json:"room"`
	AuthorID     string           `json:"author_id"`
	AuthorName   string           `json:"author_name"`
	Kind         string           `json:"kind"`
	Content      string           `json:"content"`
	Attachment   *AttachmentDTO   `json:"attachment,omitempty"`
	ReplyTo      string           `json:"reply_to,omitempty"`
	ReplyDetails *ReplyDTO        `json:"reply_details,omitempty"`
	IsEdited     bool             `json:"is_edited"`
	IsDeleted    bool             `json:"is_deleted"`
	CreatedAt    time.Time        `json:"created_at"`
	Reactions    domain.Reactions `json:"reactions,omitempty"`
}

// NewMessageDTO 由领域消息构造 DTO
func NewMessageDTO(m *domain.Message, reactions domain.Reactions) MessageDTO {
	out := MessageDTO{
		ID:         m.ID,
		Room:       m.Room,
		AuthorID:   m.AuthorID,
		AuthorName: m.AuthorName,
		Kind:       string(m.Kind),
		Content:    m.Content,
		IsEdited:   m.IsEdited,
		IsDeleted:  m.IsDeleted,
		CreatedAt:  m.CreatedAt,
		Reactions:  reactions,
	}
	if m.HasAttachment() {
		out.Attachment = &AttachmentDTO{
			URL:      m.Attachment.URL,
			FileName: m.Attachment.FileName,
			MimeType: m.Attachment.MimeType,
		}
	}
	if m.IsReply() {
		out.ReplyTo = *m.ReplyToID
		out.ReplyDetails = &ReplyDTO{
			ID:         m.Reply.ID,
			AuthorID:   m.Reply.AuthorID,
			AuthorName: m.Reply.AuthorName,
			Excerpt:    m.Reply.Excerpt,
			Kind:       string(m.Reply.Kind),
		}
	}
	return out
}

// HistoryEvent 加入房间后单播给该连接
type HistoryEvent struct {
	Type     string       `json:"type"`
	Messages []MessageDTO `json:"messages"`
}

// MessageEvent 新消息，字段与 MessageDTO 平铺
type MessageEvent struct {
	Type string `json:"type"`
	MessageDTO
}

type MessageEditedEvent struct {
	Type     string `json:"type"`
	ID       string `json:"id"`
	Content  string `json:"content"`
	IsEdited bool   `json:"is_edited"`
}

type MessageDeletedEvent struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

type TypingEvent struct {
	Type        string `json:"type"`
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	IsTyping    bool   `json:"isTyping"`
}

type ReactionEvent struct {
	Type      string           `json:"type"`
	MessageID string           `json:"message_id"`
	Reactions domain.Reactions `json:"reactions"`
}

// UsersEvent 房间在线名单
type UsersEvent struct {
	Type  string   `json:"type"`
	Count int      `json:"count"`
	Users []string `json:"users"`
}

// ErrorEvent 只发送给出错的连接
type ErrorEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

type ChatClearedEvent struct {
	Type string `json:"type"`
}

func NewHistoryEvent(msgs []domain.Message, reactions map[string]domain.Reactions) HistoryEvent {
	out := make([]MessageDTO, len(msgs))
	for i := range msgs {
		out[i] = NewMessageDTO(&msgs[i], reactions[msgs[i].ID])
	}
	return HistoryEvent{Type: EventHistory, Messages: out}
}

func NewMessageEvent(m *domain.Message) MessageEvent {
	return MessageEvent{Type: EventMessage, MessageDTO: NewMessageDTO(m, nil)}
}

func NewUsersEvent(roster domain.Roster) UsersEvent {
	users := roster.Names
	if users == nil {
		users = []string{}
	}
	return UsersEvent{Type: EventUsers, Count: roster.Count, Users: users}
}

func NewErrorEvent(code, message string) ErrorEvent {
	return ErrorEvent{Type: EventError, Message: message, Code: code}
}

// Encode 序列化出站事件。出站结构体都是可序列化的，失败说明是程序错误。
func Encode(v interface{}) []byte {
	payload, err := json.Marshal(v)
	if err != nil {
		panic("dto: encode outbound event: " + err.Error())
	}
	return payload
}

// Decode 解析入站事件
func Decode(raw []byte) (InboundEvent, error) {
	var ev InboundEvent
	err := json.Unmarshal(raw, &ev)
	return ev, err
}
