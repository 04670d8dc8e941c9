package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mailpilot-io/mailpilot-ce/internal/models"
)

var (
	// ErrAccountNotFound indicates the mail account does not exist.
	ErrAccountNotFound = errors.New("mail account not found")
	// ErrNotOwned indicates the referenced record belongs to another tenant.
	ErrNotOwned = errors.New("record not owned by tenant")
)

const mailAccountColumns = `id, tenant_id, display_name, email_address,
	imap_host, imap_port, imap_use_tls, imap_username, imap_password_encrypted,
	smtp_host, smtp_port, smtp_use_tls, smtp_username, smtp_password_encrypted,
	inbound_type, is_active, created_at, updated_at`

// MailAccountRepository persists tenant mailbox connection identities.
type MailAccountRepository struct {
	db *sql.DB
}

func NewMailAccountRepository(db *sql.DB) *MailAccountRepository {
	return &MailAccountRepository{db: db}
}

func (r *MailAccountRepository) Create(ctx context.Context, account *models.MailAccount) (int, error) {
	query := `
		INSERT INTO mail_accounts (
			tenant_id, display_name, email_address,
			imap_host, imap_port, imap_use_tls, imap_username, imap_password_encrypted,
			smtp_host, smtp_port, smtp_use_tls, smtp_username, smtp_password_encrypted,
			inbound_type, is_active, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		RETURNING id`

	now := time.Now().UTC()
	var id int
	err := r.db.QueryRowContext(ctx, query,
		account.TenantID,
		account.DisplayName,
		account.EmailAddress,
		account.IMAPHost,
		account.IMAPPort,
		account.IMAPUseTLS,
		account.IMAPUsername,
		account.IMAPPasswordEncrypted,
		account.SMTPHost,
		account.SMTPPort,
		account.SMTPUseTLS,
		account.SMTPUsername,
		account.SMTPPasswordEncrypted,
		account.InboundType,
		account.IsActive,
		now,
		now,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to create mail account: %w", err)
	}
	return id, nil
}

func (r *MailAccountRepository) GetByID(ctx context.Context, id int) (*models.MailAccount, error) {
	query := `SELECT ` + mailAccountColumns + ` FROM mail_accounts WHERE id = $1`
	return r.scanOne(r.db.QueryRowContext(ctx, query, id))
}

// GetByIDForTenant loads an account and enforces tenant ownership. A record
// owned by a different tenant returns ErrNotOwned, never the record.
func (r *MailAccountRepository) GetByIDForTenant(ctx context.Context, id int, tenantID string) (*models.MailAccount, error) {
	account, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if account.TenantID != tenantID {
		return nil, ErrNotOwned
	}
	return account, nil
}

func (r *MailAccountRepository) GetActiveAccounts(ctx context.Context) ([]*models.MailAccount, error) {
	query := `SELECT ` + mailAccountColumns + ` FROM mail_accounts WHERE is_active = TRUE ORDER BY id`
	return r.queryAccounts(ctx, query)
}

// ListByTenant returns every mailbox owned by the tenant, active or not.
func (r *MailAccountRepository) ListByTenant(ctx context.Context, tenantID string) ([]*models.MailAccount, error) {
	query := `SELECT ` + mailAccountColumns + ` FROM mail_accounts WHERE tenant_id = $1 ORDER BY id`
	return r.queryAccounts(ctx, query, tenantID)
}

func (r *MailAccountRepository) queryAccounts(ctx context.Context, query string, args ...any) ([]*models.MailAccount, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query mail accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*models.MailAccount
	for rows.Next() {
		account := &models.MailAccount{}
		if err := scanAccount(rows, account); err != nil {
			return nil, fmt.Errorf("failed to scan mail account: %w", err)
		}
		accounts = append(accounts, account)
	}
	return accounts, rows.Err()
}

func (r *MailAccountRepository) Update(ctx context.Context, account *models.MailAccount) error {
	query := `
		UPDATE mail_accounts SET
			display_name = $1,
			email_address = $2,
			imap_host = $3,
			imap_port = $4,
			imap_use_tls = $5,
			imap_username = $6,
			imap_password_encrypted = $7,
			smtp_host = $8,
			smtp_port = $9,
			smtp_use_tls = $10,
			smtp_username = $11,
			smtp_password_encrypted = $12,
			inbound_type = $13,
			is_active = $14,
			updated_at = $15
		WHERE id = $16`

	_, err := r.db.ExecContext(ctx, query,
		account.DisplayName,
		account.EmailAddress,
		account.IMAPHost,
		account.IMAPPort,
		account.IMAPUseTLS,
		account.IMAPUsername,
		account.IMAPPasswordEncrypted,
		account.SMTPHost,
		account.SMTPPort,
		account.SMTPUseTLS,
		account.SMTPUsername,
		account.SMTPPasswordEncrypted,
		account.InboundType,
		account.IsActive,
		time.Now().UTC(),
		account.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update mail account: %w", err)
	}
	return nil
}

func (r *MailAccountRepository) SetActive(ctx context.Context, id int, active bool) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE mail_accounts SET is_active = $1, updated_at = $2 WHERE id = $3`,
		active, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to set mail account active flag: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *MailAccountRepository) scanOne(row *sql.Row) (*models.MailAccount, error) {
	account := &models.MailAccount{}
	err := scanAccount(row, account)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get mail account: %w", err)
	}
	return account, nil
}

func scanAccount(row rowScanner, account *models.MailAccount) error {
	return row.Scan(
		&account.ID,
		&account.TenantID,
		&account.DisplayName,
		&account.EmailAddress,
		&account.IMAPHost,
		&account.IMAPPort,
		&account.IMAPUseTLS,
		&account.IMAPUsername,
		&account.IMAPPasswordEncrypted,
		&account.SMTPHost,
		&account.SMTPPort,
		&account.SMTPUseTLS,
		&account.SMTPUsername,
		&account.SMTPPasswordEncrypted,
		&account.InboundType,
		&account.IsActive,
		&account.CreatedAt,
		&account.UpdatedAt,
	)
}
