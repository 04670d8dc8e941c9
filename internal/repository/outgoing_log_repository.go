package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mailpilot-io/mailpilot-ce/internal/models"
)

// ErrLogNotFound indicates the outgoing log entry does not exist.
var ErrLogNotFound = errors.New("outgoing log not found")

// OutgoingLogRepository records send attempts. Rows are append-only; the only
// mutation after creation is status finalization.
type OutgoingLogRepository struct {
	db *sql.DB
}

func NewOutgoingLogRepository(db *sql.DB) *OutgoingLogRepository {
	return &OutgoingLogRepository{db: db}
}

// CreatePending inserts a pending entry and returns its public log id.
func (r *OutgoingLogRepository) CreatePending(ctx context.Context, log *models.OutgoingLog) (string, error) {
	logID := uuid.NewString()
	query := `
		INSERT INTO outgoing_logs (
			log_id, account_id, direction, recipient, sender, subject,
			body, status, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	direction := log.Direction
	if direction == "" {
		direction = "outbound"
	}
	_, err := r.db.ExecContext(ctx, query,
		logID,
		log.AccountID,
		direction,
		log.Recipient,
		log.Sender,
		log.Subject,
		log.Body,
		models.OutgoingStatusPending,
		time.Now().UTC(),
	)
	if err != nil {
		return "", fmt.Errorf("failed to create outgoing log: %w", err)
	}
	return logID, nil
}

// Finalize sets the terminal status (sent or error) on a pending entry.
func (r *OutgoingLogRepository) Finalize(ctx context.Context, logID, status string, errorText *string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE outgoing_logs SET status = $1, error_text = $2 WHERE log_id = $3`,
		status, errorText, logID)
	if err != nil {
		return fmt.Errorf("failed to finalize outgoing log: %w", err)
	}
	return nil
}

func (r *OutgoingLogRepository) GetByLogID(ctx context.Context, logID string) (*models.OutgoingLog, error) {
	query := `
		SELECT id, log_id, account_id, direction, recipient, sender, subject,
			body, status, error_text, created_at
		FROM outgoing_logs WHERE log_id = $1`

	log := &models.OutgoingLog{}
	err := r.db.QueryRowContext(ctx, query, logID).Scan(
		&log.ID,
		&log.LogID,
		&log.AccountID,
		&log.Direction,
		&log.Recipient,
		&log.Sender,
		&log.Subject,
		&log.Body,
		&log.Status,
		&log.ErrorText,
		&log.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrLogNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get outgoing log: %w", err)
	}
	return log, nil
}

// ListByAccount returns the send history for one mailbox, newest first.
func (r *OutgoingLogRepository) ListByAccount(ctx context.Context, accountID, limit int) ([]*models.OutgoingLog, error) {
	query := `
		SELECT id, log_id, account_id, direction, recipient, sender, subject,
			body, status, error_text, created_at
		FROM outgoing_logs WHERE account_id = $1
		ORDER BY id DESC LIMIT $2`

	rows, err := r.db.QueryContext(ctx, query, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list outgoing logs: %w", err)
	}
	defer rows.Close()

	var logs []*models.OutgoingLog
	for rows.Next() {
		log := &models.OutgoingLog{}
		if err := rows.Scan(
			&log.ID,
			&log.LogID,
			&log.AccountID,
			&log.Direction,
			&log.Recipient,
			&log.Sender,
			&log.Subject,
			&log.Body,
			&log.Status,
			&log.ErrorText,
			&log.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan outgoing log: %w", err)
		}
		logs = append(logs, log)
	}
	return logs, rows.Err()
}
