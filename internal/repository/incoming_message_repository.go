package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mailpilot-io/mailpilot-ce/internal/models"
)

// ErrMessageNotFound indicates the incoming message does not exist.
var ErrMessageNotFound = errors.New("incoming message not found")

// IncomingMessageRepository persists ingested messages. The unique
// (tenant_id, fingerprint) constraint is the final dedup backstop; callers
// should treat a constraint violation from Insert as "already ingested".
type IncomingMessageRepository struct {
	db *sql.DB
}

func NewIncomingMessageRepository(db *sql.DB) *IncomingMessageRepository {
	return &IncomingMessageRepository{db: db}
}

func (r *IncomingMessageRepository) Insert(ctx context.Context, msg *models.IncomingMessage) (int, error) {
	query := `
		INSERT INTO incoming_messages (
			tenant_id, account_id, from_address, to_address, subject,
			body, html_body, fingerprint, processed, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, FALSE, $9)
		RETURNING id`

	var id int
	err := r.db.QueryRowContext(ctx, query,
		msg.TenantID,
		msg.AccountID,
		msg.FromAddress,
		msg.ToAddress,
		msg.Subject,
		msg.Body,
		msg.HTMLBody,
		msg.Fingerprint,
		time.Now().UTC(),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert incoming message: %w", err)
	}
	return id, nil
}

// ExistsByFingerprint reports whether the tenant already ingested a message
// with this fingerprint.
func (r *IncomingMessageRepository) ExistsByFingerprint(ctx context.Context, tenantID, fingerprint string) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx,
		`SELECT 1 FROM incoming_messages WHERE tenant_id = $1 AND fingerprint = $2`,
		tenantID, fingerprint).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check message fingerprint: %w", err)
	}
	return true, nil
}

func (r *IncomingMessageRepository) GetByID(ctx context.Context, id int) (*models.IncomingMessage, error) {
	query := `
		SELECT id, tenant_id, account_id, from_address, to_address, subject,
			body, html_body, fingerprint, processed, created_at
		FROM incoming_messages WHERE id = $1`

	msg := &models.IncomingMessage{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&msg.ID,
		&msg.TenantID,
		&msg.AccountID,
		&msg.FromAddress,
		&msg.ToAddress,
		&msg.Subject,
		&msg.Body,
		&msg.HTMLBody,
		&msg.Fingerprint,
		&msg.Processed,
		&msg.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get incoming message: %w", err)
	}
	return msg, nil
}

// GetPendingByAccount returns unprocessed messages for one mailbox in
// ingestion order, bounded by limit.
func (r *IncomingMessageRepository) GetPendingByAccount(ctx context.Context, accountID, limit int) ([]*models.IncomingMessage, error) {
	query := `
		SELECT id, tenant_id, account_id, from_address, to_address, subject,
			body, html_body, fingerprint, processed, created_at
		FROM incoming_messages
		WHERE account_id = $1 AND processed = FALSE
		ORDER BY id
		LIMIT $2`

	rows, err := r.db.QueryContext(ctx, query, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get pending messages: %w", err)
	}
	defer rows.Close()

	var msgs []*models.IncomingMessage
	for rows.Next() {
		msg := &models.IncomingMessage{}
		if err := rows.Scan(
			&msg.ID,
			&msg.TenantID,
			&msg.AccountID,
			&msg.FromAddress,
			&msg.ToAddress,
			&msg.Subject,
			&msg.Body,
			&msg.HTMLBody,
			&msg.Fingerprint,
			&msg.Processed,
			&msg.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan incoming message: %w", err)
		}
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}

// MarkProcessed flips processed to true. The flag is monotonic: there is no
// operation that sets it back to false.
func (r *IncomingMessageRepository) MarkProcessed(ctx context.Context, id int) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE incoming_messages SET processed = TRUE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to mark message processed: %w", err)
	}
	return nil
}

// CountForTenant reports how many messages a tenant has ingested.
func (r *IncomingMessageRepository) CountForTenant(ctx context.Context, tenantID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM incoming_messages WHERE tenant_id = $1`, tenantID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return n, nil
}
