package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dskvich/gemini-telegram-bot/pkg/domain"
)

const historyKeyPrefix = "history:"

// redisHistoryRepository stores each history as one JSON document. A
// positive ttl expires histories not saved for that long.
type redisHistoryRepository struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisHistoryRepository(client *redis.Client, ttl time.Duration) *redisHistoryRepository {
	return &redisHistoryRepository{
		client: client,
		ttl:    ttl,
	}
}

func (r *redisHistoryRepository) Load(ctx context.Context, userID int64) ([]domain.Turn, error) {
	val, err := r.client.Get(ctx, r.key(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetching history: %w", err)
	}

	var turns []domain.Turn
	if err := json.Unmarshal(val, &turns); err != nil {
		return nil, fmt.Errorf("decoding history: %w", err)
	}
	return turns, nil
}

func (r *redisHistoryRepository) Save(ctx context.Context, userID int64, turns []domain.Turn) error {
	val, err := json.Marshal(turns)
	if err != nil {
		return fmt.Errorf("encoding history: %w", err)
	}
	if err := r.client.Set(ctx, r.key(userID), val, r.ttl).Err(); err != nil {
		return fmt.Errorf("storing history: %w", err)
	}
	return nil
}

func (r *redisHistoryRepository) Delete(ctx context.Context, userID int64) error {
	if err := r.client.Del(ctx, r.key(userID)).Err(); err != nil {
		return fmt.Errorf("deleting history: %w", err)
	}
	return nil
}

func (r *redisHistoryRepository) key(userID int64) string {
	return historyKeyPrefix + strconv.FormatInt(userID, 10)
}
