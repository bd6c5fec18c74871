package service_test

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"hostel-chat/internal/domain"
	"hostel-chat/internal/repository"
	"hostel-chat/internal/repository/mocks"
	"hostel-chat/internal/service"
)

type chatFixture struct {
	messages    *mocks.MessageRepository
	reactions   *mocks.ReactionRepository
	attachments *mocks.AttachmentStore
	svc         *service.ChatService
}

func newChatFixture() *chatFixture {
	f := &chatFixture{
		messages:    new(mocks.MessageRepository),
		reactions:   new(mocks.ReactionRepository),
		attachments: new(mocks.AttachmentStore),
	}
	f.svc = service.NewChatService(f.messages, f.reactions, f.attachments, 50)
	return f
}

func (f *chatFixture) assertExpectations(t *testing.T) {
	f.messages.AssertExpectations(t)
	f.reactions.AssertExpectations(t)
	f.attachments.AssertExpectations(t)
}

func TestChatService_SendMessage_Text(t *testing.T) {
	// Arrange
	f := newChatFixture()
	ctx := context.Background()
	f.messages.On("Append", ctx, mock.MatchedBy(func(m *domain.Message) bool {
		return m.Room == "hostel-1" && m.AuthorID == "u1" && m.Kind == domain.KindText && m.Content == "hello"
	})).Run(func(args mock.Arguments) {
		args.Get(1).(*domain.Message).ID = "m1"
	}).Return(nil).Once()

	// Act
	msg, err := f.svc.SendMessage(ctx, service.SendMessageInput{
		Room: "hostel-1", AuthorID: "u1", AuthorName: "Ann", Content: "  hello  ",
	})

	// Assert
	require.NoError(t, err)
	assert.Equal(t, "m1", msg.ID)
	assert.False(t, msg.IsReply(), "非回复消息不应带有引用")
	f.assertExpectations(t)
}

func TestChatService_SendMessage_ReplySnapshot(t *testing.T) {
	// Arrange
	f := newChatFixture()
	ctx := context.Background()
	parent := &domain.Message{ID: "p1", Room: "hostel-1", AuthorID: "u1", AuthorName: "Ann", Kind: domain.KindText, Content: "original"}
	f.messages.On("Get", ctx, "hostel-1", "p1").Return(parent, nil).Once()
	f.messages.On("Append", ctx, mock.AnythingOfType("*domain.Message")).Return(nil).Once()

	// Act
	msg, err := f.svc.SendMessage(ctx, service.SendMessageInput{
		Room: "hostel-1", AuthorID: "u2", AuthorName: "Bob", Content: "re", ReplyTo: "p1",
	})

	// Assert
	require.NoError(t, err)
	require.True(t, msg.IsReply())
	assert.Equal(t, "p1", *msg.ReplyToID)
	assert.Equal(t, "Ann", msg.Reply.AuthorName)
	assert.Equal(t, "original", msg.Reply.Excerpt)
	f.assertExpectations(t)
}

func TestChatService_SendMessage_ReplyTargetInvalid(t *testing.T) {
	ctx := context.Background()

	t.Run("missing", func(t *testing.T) {
		f := newChatFixture()
		f.messages.On("Get", ctx, "hostel-1", "nope").Return(nil, repository.ErrNotFound).Once()

		_, err := f.svc.SendMessage(ctx, service.SendMessageInput{Room: "hostel-1", AuthorID: "u2", Content: "re", ReplyTo: "nope"})

		assert.ErrorIs(t, err, service.ErrMessageNotFound)
		f.messages.AssertNotCalled(t, "Append", mock.Anything, mock.Anything)
	})

	t.Run("deleted", func(t *testing.T) {
		f := newChatFixture()
		f.messages.On("Get", ctx, "hostel-1", "p1").
			Return(&domain.Message{ID: "p1", Room: "hostel-1", IsDeleted: true}, nil).Once()

		_, err := f.svc.SendMessage(ctx, service.SendMessageInput{Room: "hostel-1", AuthorID: "u2", Content: "re", ReplyTo: "p1"})

		assert.ErrorIs(t, err, service.ErrMessageNotFound, "回复已删除的消息应视为不存在")
		f.messages.AssertNotCalled(t, "Append", mock.Anything, mock.Anything)
	})
}

func TestChatService_SendMessage_Validation(t *testing.T) {
	ctx := context.Background()
	f := newChatFixture()

	_, err := f.svc.SendMessage(ctx, service.SendMessageInput{Room: "hostel-1", AuthorID: "u1", Content: "   "})
	assert.ErrorIs(t, err, service.ErrValidation, "空消息应被拒绝")

	_, err = f.svc.SendMessage(ctx, service.SendMessageInput{
		Room: "hostel-1", AuthorID: "u1", Content: strings.Repeat("a", service.MaxContentRunes+1),
	})
	assert.ErrorIs(t, err, service.ErrValidation, "超长消息应被拒绝")

	f.attachments.On("StoredName", "https://evil.example/x.png").Return("", repository.ErrFileNotFound).Once()
	_, err = f.svc.SendMessage(ctx, service.SendMessageInput{
		Room: "hostel-1", AuthorID: "u1",
		Attachment: &domain.Attachment{URL: "https://evil.example/x.png", FileName: "x.png"},
	})
	assert.ErrorIs(t, err, service.ErrValidation, "外部附件 URL 应被拒绝")

	f.messages.AssertNotCalled(t, "Append", mock.Anything, mock.Anything)
	f.assertExpectations(t)
}

func TestChatService_SendMessage_Attachment(t *testing.T) {
	const url = "/uploads/chat/abc.png"
	att := &domain.Attachment{URL: url, FileName: "room.png", MimeType: "image/png"}

	t.Run("新上传的文件", func(t *testing.T) {
		// Arrange
		f := newChatFixture()
		ctx := context.Background()
		f.attachments.On("StoredName", url).Return("abc.png", nil).Once()
		f.attachments.On("Open", ctx, url).Return(io.NopCloser(strings.NewReader("png")), nil).Once()
		f.messages.On("CountAttachmentRefs", ctx, url).Return(int64(0), nil).Once()
		f.messages.On("Append", ctx, mock.MatchedBy(func(m *domain.Message) bool {
			return m.Kind == domain.KindFile && m.Attachment.URL == url && m.Content == "看看"
		})).Return(nil).Once()

		// Act
		msg, err := f.svc.SendMessage(ctx, service.SendMessageInput{
			Room: "hostel-1", AuthorID: "u1", Content: "看看", Attachment: att,
		})

		// Assert
		require.NoError(t, err)
		assert.Equal(t, "room.png", msg.Attachment.FileName)
		f.assertExpectations(t)
	})

	t.Run("已被其他消息引用", func(t *testing.T) {
		f := newChatFixture()
		ctx := context.Background()
		f.attachments.On("StoredName", url).Return("abc.png", nil).Once()
		f.attachments.On("Open", ctx, url).Return(io.NopCloser(strings.NewReader("png")), nil).Once()
		f.messages.On("CountAttachmentRefs", ctx, url).Return(int64(1), nil).Once()

		_, err := f.svc.SendMessage(ctx, service.SendMessageInput{Room: "hostel-1", AuthorID: "u2", Attachment: att})

		assert.ErrorIs(t, err, service.ErrValidation, "同一文件不能被两条消息共用")
		f.messages.AssertNotCalled(t, "Append", mock.Anything, mock.Anything)
		f.assertExpectations(t)
	})

	t.Run("文件不存在", func(t *testing.T) {
		f := newChatFixture()
		ctx := context.Background()
		f.attachments.On("StoredName", url).Return("abc.png", nil).Once()
		f.attachments.On("Open", ctx, url).Return(nil, repository.ErrFileNotFound).Once()

		_, err := f.svc.SendMessage(ctx, service.SendMessageInput{Room: "hostel-1", AuthorID: "u1", Attachment: att})

		assert.ErrorIs(t, err, service.ErrValidation, "未上传的文件应被拒绝")
		f.messages.AssertNotCalled(t, "CountAttachmentRefs", mock.Anything, mock.Anything)
		f.messages.AssertNotCalled(t, "Append", mock.Anything, mock.Anything)
		f.assertExpectations(t)
	})
}

func TestChatService_SendMessage_StoreFailure(t *testing.T) {
	f := newChatFixture()
	ctx := context.Background()
	f.messages.On("Append", ctx, mock.Anything).Return(errors.New("connection refused")).Once()

	_, err := f.svc.SendMessage(ctx, service.SendMessageInput{Room: "hostel-1", AuthorID: "u1", Content: "hi"})

	assert.ErrorIs(t, err, service.ErrStoreUnavailable)
	f.assertExpectations(t)
}

func TestChatService_EditAndDelete_ErrorMapping(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		name    string
		repoErr error
		want    error
	}{
		{"not found", repository.ErrNotFound, service.ErrMessageNotFound},
		{"not author", repository.ErrOwnershipMismatch, service.ErrForbidden},
		{"immutable", repository.ErrNotMutable, service.ErrImmutable},
		{"infra", errors.New("i/o timeout"), service.ErrStoreUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newChatFixture()
			f.messages.On("EditContent", ctx, "hostel-1", "m1", "u1", "new").Return(nil, tc.repoErr).Once()
			f.messages.On("SoftDelete", ctx, "hostel-1", "m1", "u1").Return(nil, tc.repoErr).Once()

			_, err := f.svc.EditMessage(ctx, "hostel-1", "m1", "u1", "new")
			assert.ErrorIs(t, err, tc.want)
			_, err = f.svc.DeleteMessage(ctx, "hostel-1", "m1", "u1")
			assert.ErrorIs(t, err, tc.want)
			f.assertExpectations(t)
		})
	}
}

func TestChatService_EditMessage_RejectsEmpty(t *testing.T) {
	f := newChatFixture()

	_, err := f.svc.EditMessage(context.Background(), "hostel-1", "m1", "u1", " ")

	assert.ErrorIs(t, err, service.ErrValidation)
	f.messages.AssertNotCalled(t, "EditContent", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestChatService_History_RedactsDeleted(t *testing.T) {
	// Arrange
	f := newChatFixture()
	ctx := context.Background()
	msgs := []domain.Message{
		{ID: "m1", Room: "hostel-1", Content: "visible"},
		{ID: "m2", Room: "hostel-1", Kind: domain.KindFile, Content: "secret",
			Attachment: domain.Attachment{URL: "/uploads/chat/a.png", FileName: "a.png"}, IsDeleted: true},
	}
	f.messages.On("RecentHistory", ctx, "hostel-1", 50).Return(msgs, nil).Once()
	f.reactions.On("GetReactions", ctx, "hostel-1", []string{"m1", "m2"}).
		Return(nil, errors.New("redis down")).Once()

	// Act
	history, reactions, err := f.svc.History(ctx, "hostel-1")

	// Assert
	require.NoError(t, err, "表情读取失败不应影响历史")
	require.Len(t, history, 2)
	assert.Equal(t, "visible", history[0].Content)
	assert.Empty(t, history[1].Content, "已删除消息不下发正文")
	assert.Empty(t, history[1].Attachment.URL, "已删除消息不下发附件")
	assert.Empty(t, reactions)
	f.assertExpectations(t)
}

func TestChatService_React(t *testing.T) {
	ctx := context.Background()

	t.Run("adds to multiset", func(t *testing.T) {
		f := newChatFixture()
		f.messages.On("Get", ctx, "hostel-1", "m1").Return(&domain.Message{ID: "m1"}, nil).Once()
		f.reactions.On("AddReaction", ctx, "hostel-1", "m1", "👍").Return(domain.Reactions{"👍": 2}, nil).Once()

		got, err := f.svc.React(ctx, "hostel-1", "m1", "👍")

		require.NoError(t, err)
		assert.Equal(t, int64(2), got["👍"])
		f.assertExpectations(t)
	})

	t.Run("unknown message", func(t *testing.T) {
		f := newChatFixture()
		f.messages.On("Get", ctx, "hostel-1", "m9").Return(nil, repository.ErrNotFound).Once()

		_, err := f.svc.React(ctx, "hostel-1", "m9", "👍")

		assert.ErrorIs(t, err, service.ErrMessageNotFound)
		f.reactions.AssertNotCalled(t, "AddReaction", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("oversized emoji", func(t *testing.T) {
		f := newChatFixture()

		_, err := f.svc.React(ctx, "hostel-1", "m1", strings.Repeat("x", service.MaxEmojiBytes+1))

		assert.ErrorIs(t, err, service.ErrValidation)
	})
}
