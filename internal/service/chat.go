package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"hostel-chat/internal/domain"
	"hostel-chat/internal/repository"
)

const (
	// MaxContentRunes 单条消息正文的最大字符数
	MaxContentRunes = 4000
	// MaxEmojiBytes 单个表情的最大字节数
	MaxEmojiBytes = 32
	// DefaultHistoryLimit 加入房间时下发的历史消息条数
	DefaultHistoryLimit = 50
)

// SendMessageInput 描述一条待发送的消息。Content 与 Attachment 至少有一个。
type SendMessageInput struct {
	Room       string
	AuthorID   string
	AuthorName string
	Content    string
	Attachment *domain.Attachment
	ReplyTo    string
}

// ChatService 负责消息的发送、修改、删除、历史与表情回应。
type ChatService struct {
	messages     repository.MessageRepository
	reactions    repository.ReactionRepository
	attachments  repository.AttachmentStore
	historyLimit int
}

// NewChatService 创建 ChatService 实例。
func NewChatService(
	messages repository.MessageRepository,
	reactions repository.ReactionRepository,
	attachments repository.AttachmentStore,
	historyLimit int,
) *ChatService {
	if messages == nil || reactions == nil || attachments == nil {
		panic("ChatService requires non-nil message, reaction and attachment stores")
	}
	if historyLimit <= 0 {
		historyLimit = DefaultHistoryLimit
	}
	return &ChatService{
		messages:     messages,
		reactions:    reactions,
		attachments:  attachments,
		historyLimit: historyLimit,
	}
}

// SendMessage 校验并持久化一条新消息。若为回复，在此刻对被引用消息做快照。
func (s *ChatService) SendMessage(ctx context.Context, in SendMessageInput) (*domain.Message, error) {
	logCtx := logrus.WithFields(logrus.Fields{"room_id": in.Room, "user_id": in.AuthorID, "operation": "SendMessage"})

	if err := checkContentLength(in.Content); err != nil {
		return nil, err
	}

	var body domain.MessageBody
	if in.Attachment != nil {
		if err := s.checkAttachment(ctx, logCtx, in.Attachment.URL); err != nil {
			return nil, err
		}
		body = domain.FileBody{Attachment: *in.Attachment, Caption: in.Content}
	} else {
		body = domain.TextBody{Text: in.Content}
	}

	msg, err := domain.NewMessage(in.Room, in.AuthorID, in.AuthorName, body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	if in.ReplyTo != "" {
		parent, err := s.messages.Get(ctx, in.Room, in.ReplyTo)
		if err != nil {
			if !errors.Is(err, repository.ErrNotFound) {
				logCtx.WithError(err).Error("Failed to load reply target")
			}
			return nil, mapRepoError(err)
		}
		if parent.IsDeleted {
			return nil, ErrMessageNotFound
		}
		replyTo := parent.ID
		msg.ReplyToID = &replyTo
		msg.Reply = parent.SnapshotForReply()
	}

	if err := s.messages.Append(ctx, msg); err != nil {
		logCtx.WithError(err).Error("Failed to persist message")
		return nil, ErrStoreUnavailable
	}
	logCtx.WithField("message_id", msg.ID).Debug("Message persisted")
	return msg, nil
}

// checkAttachment 要求附件是已上传、存在且尚未被任何消息引用的文件
func (s *ChatService) checkAttachment(ctx context.Context, logCtx *logrus.Entry, url string) error {
	logCtx = logCtx.WithField("url", url)
	if _, err := s.attachments.StoredName(url); err != nil {
		logCtx.Warn("Rejected attachment outside the attachment area")
		return fmt.Errorf("%w: attachment url is not a chat upload", ErrValidation)
	}
	rc, err := s.attachments.Open(ctx, url)
	if err != nil {
		if errors.Is(err, repository.ErrFileNotFound) {
			logCtx.Warn("Rejected attachment that was never uploaded")
			return fmt.Errorf("%w: attachment file does not exist", ErrValidation)
		}
		logCtx.WithError(err).Error("Failed to open attachment")
		return ErrStoreUnavailable
	}
	_ = rc.Close()

	refs, err := s.messages.CountAttachmentRefs(ctx, url)
	if err != nil {
		logCtx.WithError(err).Error("Failed to count attachment references")
		return ErrStoreUnavailable
	}
	if refs > 0 {
		logCtx.WithField("refs", refs).Warn("Rejected attachment already used by another message")
		return fmt.Errorf("%w: attachment already belongs to a message", ErrValidation)
	}
	return nil
}

// EditMessage 修改文本消息内容。仅作者可改，已删除和文件消息不可改。
func (s *ChatService) EditMessage(ctx context.Context, room, id, authorID, content string) (*domain.Message, error) {
	content = strings.TrimSpace(content)
	if id == "" || content == "" {
		return nil, fmt.Errorf("%w: id and content are required", ErrValidation)
	}
	if err := checkContentLength(content); err != nil {
		return nil, err
	}
	msg, err := s.messages.EditContent(ctx, room, id, authorID, content)
	if err != nil {
		return nil, s.logMutationError(err, room, id, authorID, "EditMessage")
	}
	return msg, nil
}

// DeleteMessage 软删除消息，仅作者可删
func (s *ChatService) DeleteMessage(ctx context.Context, room, id, authorID string) (*domain.Message, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: id is required", ErrValidation)
	}
	msg, err := s.messages.SoftDelete(ctx, room, id, authorID)
	if err != nil {
		return nil, s.logMutationError(err, room, id, authorID, "DeleteMessage")
	}
	return msg, nil
}

func (s *ChatService) logMutationError(err error, room, id, authorID, op string) error {
	mapped := mapRepoError(err)
	logCtx := logrus.WithFields(logrus.Fields{"room_id": room, "message_id": id, "user_id": authorID, "operation": op})
	if errors.Is(mapped, ErrStoreUnavailable) {
		logCtx.WithError(err).Error("Message store failure")
	} else {
		logCtx.WithError(err).Info("Mutation rejected")
	}
	return mapped
}

// History 返回房间最近的消息 (按时间正序) 及其表情统计。
// 已删除消息的正文和附件不下发。表情读取失败不影响历史。
func (s *ChatService) History(ctx context.Context, room string) ([]domain.Message, map[string]domain.Reactions, error) {
	logCtx := logrus.WithFields(logrus.Fields{"room_id": room, "operation": "History"})
	msgs, err := s.messages.RecentHistory(ctx, room, s.historyLimit)
	if err != nil {
		logCtx.WithError(err).Error("Failed to load history")
		return nil, nil, ErrStoreUnavailable
	}
	ids := make([]string, 0, len(msgs))
	for i := range msgs {
		if msgs[i].IsDeleted {
			msgs[i].Content = ""
			msgs[i].Attachment = domain.Attachment{}
		}
		ids = append(ids, msgs[i].ID)
	}
	reactions, err := s.reactions.GetReactions(ctx, room, ids)
	if err != nil {
		logCtx.WithError(err).Warn("Failed to load reactions for history")
		reactions = map[string]domain.Reactions{}
	}
	return msgs, reactions, nil
}

// React 为消息增加一个表情，返回该消息最新的表情统计
func (s *ChatService) React(ctx context.Context, room, messageID, emoji string) (domain.Reactions, error) {
	emoji = strings.TrimSpace(emoji)
	if messageID == "" || emoji == "" || len(emoji) > MaxEmojiBytes || !utf8.ValidString(emoji) {
		return nil, fmt.Errorf("%w: message_id and a short emoji are required", ErrValidation)
	}
	logCtx := logrus.WithFields(logrus.Fields{"room_id": room, "message_id": messageID, "operation": "React"})
	if _, err := s.messages.Get(ctx, room, messageID); err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			logCtx.WithError(err).Error("Failed to load reaction target")
		}
		return nil, mapRepoError(err)
	}
	reactions, err := s.reactions.AddReaction(ctx, room, messageID, emoji)
	if err != nil {
		logCtx.WithError(err).Error("Failed to store reaction")
		return nil, ErrStoreUnavailable
	}
	return reactions, nil
}

func checkContentLength(content string) error {
	if utf8.RuneCountInString(content) > MaxContentRunes {
		return fmt.Errorf("%w: content exceeds %d characters", ErrValidation, MaxContentRunes)
	}
	return nil
}
