package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"hostel-chat/internal/domain"
)

// MessageRepository is a mock type for the repository.MessageRepository type
type MessageRepository struct {
	mock.Mock
}

func (m *MessageRepository) Append(ctx context.Context, msg *domain.Message) error {
	ret := m.Called(ctx, msg)
	if rf, ok := ret.Get(0).(func(context.Context, *domain.Message) error); ok {
		return rf(ctx, msg)
	}
	return ret.Error(0)
}

func (m *MessageRepository) Get(ctx context.Context, room, id string) (*domain.Message, error) {
	ret := m.Called(ctx, room, id)
	var r0 *domain.Message
	if v := ret.Get(0); v != nil {
		r0 = v.(*domain.Message)
	}
	return r0, ret.Error(1)
}

func (m *MessageRepository) EditContent(ctx context.Context, room, id, authorID, content string) (*domain.Message, error) {
	ret := m.Called(ctx, room, id, authorID, content)
	var r0 *domain.Message
	if v := ret.Get(0); v != nil {
		r0 = v.(*domain.Message)
	}
	return r0, ret.Error(1)
}

func (m *MessageRepository) SoftDelete(ctx context.Context, room, id, authorID string) (*domain.Message, error) {
	ret := m.Called(ctx, room, id, authorID)
	var r0 *domain.Message
	if v := ret.Get(0); v != nil {
		r0 = v.(*domain.Message)
	}
	return r0, ret.Error(1)
}

func (m *MessageRepository) RecentHistory(ctx context.Context, room string, limit int) ([]domain.Message, error) {
	ret := m.Called(ctx, room, limit)
	var r0 []domain.Message
	if v := ret.Get(0); v != nil {
		r0 = v.([]domain.Message)
	}
	return r0, ret.Error(1)
}

func (m *MessageRepository) OlderThan(ctx context.Context, cutoff time.Time) ([]domain.Message, error) {
	ret := m.Called(ctx, cutoff)
	var r0 []domain.Message
	if v := ret.Get(0); v != nil {
		r0 = v.([]domain.Message)
	}
	return r0, ret.Error(1)
}

func (m *MessageRepository) PurgeByIDs(ctx context.Context, ids []string) (int64, error) {
	ret := m.Called(ctx, ids)
	return ret.Get(0).(int64), ret.Error(1)
}

func (m *MessageRepository) CountAttachmentRefs(ctx context.Context, url string) (int64, error) {
	ret := m.Called(ctx, url)
	return ret.Get(0).(int64), ret.Error(1)
}
