package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mailpilot-io/mailpilot-ce/internal/models"
)

// ErrAutomationNotFound indicates no automation record exists for the mailbox.
var ErrAutomationNotFound = errors.New("mailbox automation not found")

// MailboxAutomationRepository persists the per-mailbox automation approval
// record. The sealed credential blob is replaced whole on re-verification.
type MailboxAutomationRepository struct {
	db *sql.DB
}

func NewMailboxAutomationRepository(db *sql.DB) *MailboxAutomationRepository {
	return &MailboxAutomationRepository{db: db}
}

func (r *MailboxAutomationRepository) GetByAccount(ctx context.Context, accountID int) (*models.MailboxAutomation, error) {
	query := `
		SELECT id, account_id, credentials_sealed, automation_enabled, status,
			reject_reason, credentials_check_at, updated_at
		FROM mailbox_automations WHERE account_id = $1`

	automation := &models.MailboxAutomation{}
	err := r.db.QueryRowContext(ctx, query, accountID).Scan(
		&automation.ID,
		&automation.AccountID,
		&automation.CredentialsSealed,
		&automation.AutomationEnabled,
		&automation.Status,
		&automation.RejectReason,
		&automation.CredentialsCheckAt,
		&automation.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAutomationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get mailbox automation: %w", err)
	}
	return automation, nil
}

// UpsertVerified writes the sealed credentials from a successful live check,
// resetting the record to PENDING with automation disabled. The blob is
// written in one statement, never partially.
func (r *MailboxAutomationRepository) UpsertVerified(ctx context.Context, accountID int, sealed string) error {
	now := time.Now().UTC()
	query := `
		INSERT INTO mailbox_automations (
			account_id, credentials_sealed, automation_enabled, status,
			reject_reason, credentials_check_at, updated_at
		) VALUES ($1, $2, FALSE, $3, NULL, $4, $4)
		ON CONFLICT (account_id) DO UPDATE SET
			credentials_sealed = $2,
			automation_enabled = FALSE,
			status = $3,
			reject_reason = NULL,
			credentials_check_at = $4,
			updated_at = $4`

	_, err := r.db.ExecContext(ctx, query, accountID, sealed, models.AutomationStatusPending, now)
	if err != nil {
		return fmt.Errorf("failed to upsert mailbox automation: %w", err)
	}
	return nil
}

// Approve enables automation. Only PENDING records can be approved.
func (r *MailboxAutomationRepository) Approve(ctx context.Context, accountID int) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE mailbox_automations
		SET status = $1, automation_enabled = TRUE, reject_reason = NULL, updated_at = $2
		WHERE account_id = $3 AND status = $4`,
		models.AutomationStatusApproved, time.Now().UTC(), accountID, models.AutomationStatusPending)
	if err != nil {
		return fmt.Errorf("failed to approve mailbox automation: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to approve mailbox automation: %w", err)
	}
	if affected == 0 {
		return ErrAutomationNotFound
	}
	return nil
}

// Reject disables automation with a reason; reachable from any state.
func (r *MailboxAutomationRepository) Reject(ctx context.Context, accountID int, reason string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE mailbox_automations
		SET status = $1, automation_enabled = FALSE, reject_reason = $2, updated_at = $3
		WHERE account_id = $4`,
		models.AutomationStatusRejected, reason, time.Now().UTC(), accountID)
	if err != nil {
		return fmt.Errorf("failed to reject mailbox automation: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to reject mailbox automation: %w", err)
	}
	if affected == 0 {
		return ErrAutomationNotFound
	}
	return nil
}
