package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dskvich/gemini-telegram-bot/pkg/domain"
)

type postgresSettingsRepository struct {
	db *sql.DB
}

func NewPostgresSettingsRepository(db *sql.DB) *postgresSettingsRepository {
	return &postgresSettingsRepository{db: db}
}

func (s *postgresSettingsRepository) Save(ctx context.Context, settings domain.Settings) error {
	const query = `
		INSERT INTO settings (user_id, system_prompt_ref)
		VALUES ($1, $2)
		ON CONFLICT (user_id)
		DO UPDATE SET
			system_prompt_ref = EXCLUDED.system_prompt_ref
	`

	_, err := s.db.ExecContext(ctx, query, settings.UserID, settings.SystemPromptRef)
	if err != nil {
		return fmt.Errorf("saving settings: %w", err)
	}

	return nil
}

func (s *postgresSettingsRepository) GetByUserID(ctx context.Context, userID int64) (*domain.Settings, error) {
	const query = `
		SELECT user_id, system_prompt_ref
		FROM settings
		WHERE user_id = $1
	`

	var settings domain.Settings
	err := s.db.QueryRowContext(ctx, query, userID).
		Scan(&settings.UserID, &settings.SystemPromptRef)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("fetching settings by userID: %w", err)
	}

	return &settings, nil
}
