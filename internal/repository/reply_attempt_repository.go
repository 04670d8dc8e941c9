package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/mailpilot-io/mailpilot-ce/internal/models"
)

// ReplyAttemptRepository records every provider call made while drafting a
// reply, successful or not. Append-only.
type ReplyAttemptRepository struct {
	db *sql.DB
}

func NewReplyAttemptRepository(db *sql.DB) *ReplyAttemptRepository {
	return &ReplyAttemptRepository{db: db}
}

func (r *ReplyAttemptRepository) Record(ctx context.Context, attempt *models.ReplyAttempt) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO reply_attempts (
			message_id, provider, ok, error_text, duration_ms, tokens_used, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		attempt.MessageID,
		attempt.Provider,
		attempt.OK,
		attempt.ErrorText,
		attempt.DurationMS,
		attempt.TokensUsed,
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to record reply attempt: %w", err)
	}
	return nil
}

// ListByMessage returns the attempt history for one message in call order.
func (r *ReplyAttemptRepository) ListByMessage(ctx context.Context, messageID int) ([]*models.ReplyAttempt, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, message_id, provider, ok, error_text, duration_ms,
			tokens_used, created_at
		FROM reply_attempts WHERE message_id = $1 ORDER BY id`, messageID)
	if err != nil {
		return nil, fmt.Errorf("failed to list reply attempts: %w", err)
	}
	defer rows.Close()

	var attempts []*models.ReplyAttempt
	for rows.Next() {
		a := &models.ReplyAttempt{}
		if err := rows.Scan(
			&a.ID,
			&a.MessageID,
			&a.Provider,
			&a.OK,
			&a.ErrorText,
			&a.DurationMS,
			&a.TokensUsed,
			&a.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan reply attempt: %w", err)
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}
