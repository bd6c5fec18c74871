package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"hostel-chat/internal/domain"
)

// ReactionRepository is a mock type for the repository.ReactionRepository type
type ReactionRepository struct {
	mock.Mock
}

func (m *ReactionRepository) AddReaction(ctx context.Context, room, messageID, emoji string) (domain.Reactions, error) {
	ret := m.Called(ctx, room, messageID, emoji)
	var r0 domain.Reactions
	if v := ret.Get(0); v != nil {
		r0 = v.(domain.Reactions)
	}
	return r0, ret.Error(1)
}

func (m *ReactionRepository) GetReactions(ctx context.Context, room string, messageIDs []string) (map[string]domain.Reactions, error) {
	ret := m.Called(ctx, room, messageIDs)
	var r0 map[string]domain.Reactions
	if v := ret.Get(0); v != nil {
		r0 = v.(map[string]domain.Reactions)
	}
	return r0, ret.Error(1)
}

func (m *ReactionRepository) DeleteReactions(ctx context.Context, messages []domain.Message) error {
	ret := m.Called(ctx, messages)
	return ret.Error(0)
}

// PresenceRepository is a mock type for the repository.PresenceRepository type
type PresenceRepository struct {
	mock.Mock
}

func (m *PresenceRepository) SaveRoster(ctx context.Context, roster domain.Roster) error {
	ret := m.Called(ctx, roster)
	return ret.Error(0)
}

func (m *PresenceRepository) GetRoster(ctx context.Context, room string) (domain.Roster, error) {
	ret := m.Called(ctx, room)
	return ret.Get(0).(domain.Roster), ret.Error(1)
}
