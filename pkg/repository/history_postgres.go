package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/dskvich/gemini-telegram-bot/pkg/domain"
)

type postgresHistoryRepository struct {
	db *sql.DB
}

func NewPostgresHistoryRepository(db *sql.DB) *postgresHistoryRepository {
	return &postgresHistoryRepository{db: db}
}

func (p *postgresHistoryRepository) Load(ctx context.Context, userID int64) ([]domain.Turn, error) {
	const query = `
		SELECT turn
		FROM chat_turns
		WHERE user_id = $1
		ORDER BY position
	`

	rows, err := p.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("fetching turns: %w", err)
	}
	defer rows.Close()

	var turns []domain.Turn
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scanning turn: %w", err)
		}
		var turn domain.Turn
		if err := json.Unmarshal(raw, &turn); err != nil {
			return nil, fmt.Errorf("decoding turn: %w", err)
		}
		turns = append(turns, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating turns: %w", err)
	}

	return turns, nil
}

// Save replaces the stored history with turns in one transaction.
func (p *postgresHistoryRepository) Save(ctx context.Context, userID int64, turns []domain.Turn) error {
	const (
		deleteQuery = `DELETE FROM chat_turns WHERE user_id = $1`
		insertQuery = `
			INSERT INTO chat_turns (user_id, position, turn_id, turn)
			VALUES ($1, $2, $3, $4)
		`
	)

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, deleteQuery, userID); err != nil {
		return fmt.Errorf("deleting turns: %w", err)
	}

	for i, turn := range turns {
		raw, err := json.Marshal(turn)
		if err != nil {
			return fmt.Errorf("encoding turn %s: %w", turn.ID, err)
		}
		if _, err := tx.ExecContext(ctx, insertQuery, userID, i, turn.ID, string(raw)); err != nil {
			return fmt.Errorf("inserting turn %s: %w", turn.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing turns: %w", err)
	}
	return nil
}

func (p *postgresHistoryRepository) Delete(ctx context.Context, userID int64) error {
	const query = `DELETE FROM chat_turns WHERE user_id = $1`

	if _, err := p.db.ExecContext(ctx, query, userID); err != nil {
		return fmt.Errorf("deleting turns: %w", err)
	}
	return nil
}
