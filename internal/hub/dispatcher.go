package hub

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"hostel-chat/internal/domain"
	"hostel-chat/internal/dto"
	"hostel-chat/internal/service"
)

// ChatService 是会话处理事件所需的业务操作，由 *service.ChatService 实现
type ChatService interface {
	SendMessage(ctx context.Context, in service.SendMessageInput) (*domain.Message, error)
	EditMessage(ctx context.Context, room, id, authorID, content string) (*domain.Message, error)
	DeleteMessage(ctx context.Context, room, id, authorID string) (*domain.Message, error)
	History(ctx context.Context, room string) ([]domain.Message, map[string]domain.Reactions, error)
	React(ctx context.Context, room, messageID, emoji string) (domain.Reactions, error)
}

// Identity 是连接建立时由认证中间件提供的身份。UserID 为空表示未认证。
type Identity struct {
	UserID      string
	DisplayName string
}

// RateLimit 每个连接的入站事件限速
type RateLimit struct {
	PerSecond float64
	Burst     int
}

// DefaultRateLimit 20 个事件/秒，突发 40
var DefaultRateLimit = RateLimit{PerSecond: 20, Burst: 40}

type sessionState int

const (
	stateUnjoined sessionState = iota
	stateJoined
	stateTerminated
)

// Session 是单个连接的状态机: unjoined -> joined -> terminated。
// Handle 只由该连接的读循环调用，事件按到达顺序依次处理。
type Session struct {
	hub       *Hub
	chat      ChatService
	transport Transport
	identity  Identity
	limiter   *rate.Limiter

	state       sessionState
	room        string
	userID      string
	displayName string
}

// NewSession 创建一个尚未加入房间的会话
func NewSession(h *Hub, chat ChatService, t Transport, identity Identity, limit RateLimit) *Session {
	if h == nil || chat == nil || t == nil {
		panic("Session requires non-nil hub, chat service and transport")
	}
	if limit.PerSecond <= 0 {
		limit = DefaultRateLimit
	}
	return &Session{
		hub:       h,
		chat:      chat,
		transport: t,
		identity:  identity,
		limiter:   rate.NewLimiter(rate.Limit(limit.PerSecond), limit.Burst),
	}
}

// Room 返回已加入的房间，未加入时为空
func (s *Session) Room() string { return s.room }

// UserID 返回已加入的用户 ID，未加入时为空
func (s *Session) UserID() string { return s.userID }

func (s *Session) logCtx(event string) *logrus.Entry {
	return logrus.WithFields(logrus.Fields{
		"component": "dispatcher",
		"room_id":   s.room,
		"user_id":   s.userID,
		"event":     event,
	})
}

// Handle 处理一条原始入站消息。所有错误只单播给发送者，不会关闭连接。
func (s *Session) Handle(ctx context.Context, raw []byte) {
	if s.state == stateTerminated {
		return
	}
	if !s.limiter.Allow() {
		s.sendError(dto.CodeRateLimited, "too many events, slow down")
		return
	}
	ev, err := dto.Decode(raw)
	if err != nil {
		s.sendError(dto.CodeValidation, "malformed event")
		return
	}
	if err := s.dispatch(ctx, ev); err != nil {
		code := errorCode(err)
		if code == dto.CodeStoreUnavailable {
			s.logCtx(ev.Type).WithError(err).Warn("Event failed on store error")
		} else {
			s.logCtx(ev.Type).WithError(err).Debug("Event rejected")
		}
		s.sendError(code, err.Error())
	}
}

func (s *Session) dispatch(ctx context.Context, ev dto.InboundEvent) error {
	switch ev.Type {
	case dto.EventJoin:
		return s.handleJoin(ctx, ev)
	case dto.EventMessage, dto.EventEditMessage, dto.EventDeleteMessage, dto.EventTyping, dto.EventReaction:
	default:
		return service.ErrUnknownEvent
	}
	if s.state != stateJoined {
		return service.ErrNotJoined
	}
	switch ev.Type {
	case dto.EventMessage:
		return s.handleMessage(ctx, ev)
	case dto.EventEditMessage:
		return s.handleEdit(ctx, ev)
	case dto.EventDeleteMessage:
		return s.handleDelete(ctx, ev)
	case dto.EventTyping:
		return s.handleTyping(ev)
	default:
		return s.handleReaction(ctx, ev)
	}
}

func (s *Session) handleJoin(ctx context.Context, ev dto.InboundEvent) error {
	if s.state == stateJoined {
		return service.ErrAlreadyJoined
	}
	room := strings.TrimSpace(ev.Room)
	userID := strings.TrimSpace(ev.UserID)
	if userID == "" {
		userID = s.identity.UserID
	}
	if room == "" || userID == "" {
		return fmt.Errorf("%w: room and user_id are required", service.ErrValidation)
	}
	if s.identity.UserID != "" && userID != s.identity.UserID {
		return service.ErrForbidden
	}
	displayName := strings.TrimSpace(ev.DisplayName)
	if displayName == "" {
		displayName = s.identity.DisplayName
	}
	if displayName == "" {
		displayName = userID
	}

	s.room, s.userID, s.displayName = room, userID, displayName
	s.state = stateJoined
	s.hub.Join(room, userID, displayName, s.transport)

	msgs, reactions, err := s.chat.History(ctx, room)
	if err != nil {
		return err
	}
	s.transport.Send(dto.Encode(dto.NewHistoryEvent(msgs, reactions)))
	return nil
}

func (s *Session) handleMessage(ctx context.Context, ev dto.InboundEvent) error {
	in := service.SendMessageInput{
		Room:       s.room,
		AuthorID:   s.userID,
		AuthorName: s.displayName,
		Content:    ev.Content,
		ReplyTo:    strings.TrimSpace(ev.ReplyTo),
	}
	if ev.Attachment != nil {
		in.Attachment = &domain.Attachment{
			URL:      ev.Attachment.URL,
			FileName: ev.Attachment.FileName,
			MimeType: ev.Attachment.MimeType,
		}
		if ev.Caption != "" {
			in.Content = ev.Caption
		}
	}
	return s.hub.Commit(s.room, func() ([]byte, error) {
		msg, err := s.chat.SendMessage(ctx, in)
		if err != nil {
			return nil, err
		}
		return dto.Encode(dto.NewMessageEvent(msg)), nil
	})
}

func (s *Session) handleEdit(ctx context.Context, ev dto.InboundEvent) error {
	return s.hub.Commit(s.room, func() ([]byte, error) {
		msg, err := s.chat.EditMessage(ctx, s.room, ev.ID, s.userID, ev.Content)
		if err != nil {
			return nil, err
		}
		return dto.Encode(dto.MessageEditedEvent{
			Type:     dto.EventMessageEdited,
			ID:       msg.ID,
			Content:  msg.Content,
			IsEdited: true,
		}), nil
	})
}

func (s *Session) handleDelete(ctx context.Context, ev dto.InboundEvent) error {
	return s.hub.Commit(s.room, func() ([]byte, error) {
		msg, err := s.chat.DeleteMessage(ctx, s.room, ev.ID, s.userID)
		if err != nil {
			return nil, err
		}
		return dto.Encode(dto.MessageDeletedEvent{Type: dto.EventMessageDeleted, ID: msg.ID}), nil
	})
}

func (s *Session) handleTyping(ev dto.InboundEvent) error {
	s.hub.Broadcast(s.room, dto.Encode(dto.TypingEvent{
		Type:        dto.EventTyping,
		UserID:      s.userID,
		DisplayName: s.displayName,
		IsTyping:    ev.IsTyping,
	}))
	return nil
}

func (s *Session) handleReaction(ctx context.Context, ev dto.InboundEvent) error {
	return s.hub.Commit(s.room, func() ([]byte, error) {
		reactions, err := s.chat.React(ctx, s.room, ev.MessageID, ev.Emoji)
		if err != nil {
			return nil, err
		}
		return dto.Encode(dto.ReactionEvent{
			Type:      dto.EventReaction,
			MessageID: ev.MessageID,
			Reactions: reactions,
		}), nil
	})
}

// Close 结束会话，已加入时从注册表移除。可重复调用。
func (s *Session) Close() {
	if s.state == stateJoined {
		s.hub.Leave(s.room, s.userID, s.transport)
	}
	s.state = stateTerminated
}

func (s *Session) sendError(code, message string) {
	s.transport.Send(dto.Encode(dto.NewErrorEvent(code, message)))
}

// errorCode 将服务层错误映射为线上错误码
func errorCode(err error) string {
	switch {
	case errors.Is(err, service.ErrMessageNotFound):
		return dto.CodeNotFound
	case errors.Is(err, service.ErrForbidden):
		return dto.CodeForbidden
	case errors.Is(err, service.ErrImmutable):
		return dto.CodeImmutable
	case errors.Is(err, service.ErrStoreUnavailable):
		return dto.CodeStoreUnavailable
	case errors.Is(err, service.ErrNotJoined):
		return dto.CodeNotJoined
	case errors.Is(err, service.ErrUnknownEvent):
		return dto.CodeUnknownEvent
	default:
		return dto.CodeValidation
	}
}
