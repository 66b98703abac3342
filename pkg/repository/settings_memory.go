package repository

import (
	"context"
	"sync"

	"github.com/dskvich/gemini-telegram-bot/pkg/domain"
)

type memorySettingsRepository struct {
	mu       sync.RWMutex
	settings map[int64]domain.Settings
}

func NewMemorySettingsRepository() *memorySettingsRepository {
	return &memorySettingsRepository{
		settings: make(map[int64]domain.Settings),
	}
}

func (m *memorySettingsRepository) Save(_ context.Context, settings domain.Settings) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.settings[settings.UserID] = settings
	return nil
}

func (m *memorySettingsRepository) GetByUserID(_ context.Context, userID int64) (*domain.Settings, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	settings, ok := m.settings[userID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &settings, nil
}
