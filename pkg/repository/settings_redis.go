package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/dskvich/gemini-telegram-bot/pkg/domain"
)

const settingsKeyPrefix = "settings:"

type redisSettingsRepository struct {
	client *redis.Client
}

func NewRedisSettingsRepository(client *redis.Client) *redisSettingsRepository {
	return &redisSettingsRepository{client: client}
}

func (r *redisSettingsRepository) Save(ctx context.Context, settings domain.Settings) error {
	key := settingsKeyPrefix + strconv.FormatInt(settings.UserID, 10)
	if err := r.client.HSet(ctx, key, "system_prompt_ref", settings.SystemPromptRef).Err(); err != nil {
		return fmt.Errorf("saving settings: %w", err)
	}
	return nil
}

func (r *redisSettingsRepository) GetByUserID(ctx context.Context, userID int64) (*domain.Settings, error) {
	key := settingsKeyPrefix + strconv.FormatInt(userID, 10)
	ref, err := r.client.HGet(ctx, key, "system_prompt_ref").Result()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetching settings by userID: %w", err)
	}
	return &domain.Settings{UserID: userID, SystemPromptRef: ref}, nil
}
