package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"hostel-chat/internal/domain"
)

// SettingsRepository is a mock type for the repository.SettingsRepository type
type SettingsRepository struct {
	mock.Mock
}

func (m *SettingsRepository) Load(ctx context.Context) (domain.ChatSettings, error) {
	ret := m.Called(ctx)
	return ret.Get(0).(domain.ChatSettings), ret.Error(1)
}

func (m *SettingsRepository) SetRetentionHours(ctx context.Context, hours int) (domain.ChatSettings, error) {
	ret := m.Called(ctx, hours)
	return ret.Get(0).(domain.ChatSettings), ret.Error(1)
}

func (m *SettingsRepository) SetBackupEnabled(ctx context.Context, enabled bool) (domain.ChatSettings, error) {
	ret := m.Called(ctx, enabled)
	return ret.Get(0).(domain.ChatSettings), ret.Error(1)
}
