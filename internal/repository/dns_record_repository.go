package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/mailpilot-io/mailpilot-ce/internal/models"
)

// DNSRecordRepository persists per-mailbox SPF/DKIM/DMARC expectations and
// their observed verification statuses.
type DNSRecordRepository struct {
	db *sql.DB
}

func NewDNSRecordRepository(db *sql.DB) *DNSRecordRepository {
	return &DNSRecordRepository{db: db}
}

// SeedDefaults creates the three pending records for a freshly provisioned
// mailbox. Existing rows are left untouched.
func (r *DNSRecordRepository) SeedDefaults(ctx context.Context, accountID int, domain, dkimSelector string) error {
	records := []struct {
		recordType string
		host       string
	}{
		{models.DNSRecordSPF, domain},
		{models.DNSRecordDKIM, dkimSelector + "._domainkey." + domain},
		{models.DNSRecordDMARC, "_dmarc." + domain},
	}

	for _, rec := range records {
		_, err := r.db.ExecContext(ctx, `
			INSERT INTO mailbox_dns_records (
				account_id, domain, record_type, host, status, checked_at
			) VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (account_id, record_type) DO NOTHING`,
			accountID, domain, rec.recordType, rec.host, models.DNSStatusPending, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("failed to seed dns record %s: %w", rec.recordType, err)
		}
	}
	return nil
}

func (r *DNSRecordRepository) GetByAccount(ctx context.Context, accountID int) ([]*models.MailboxDNSRecord, error) {
	query := `
		SELECT id, account_id, domain, record_type, host, expected_value,
			observed_value, status, checked_at
		FROM mailbox_dns_records WHERE account_id = $1 ORDER BY record_type`

	rows, err := r.db.QueryContext(ctx, query, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to get dns records: %w", err)
	}
	defer rows.Close()

	var records []*models.MailboxDNSRecord
	for rows.Next() {
		rec := &models.MailboxDNSRecord{}
		if err := rows.Scan(
			&rec.ID,
			&rec.AccountID,
			&rec.Domain,
			&rec.RecordType,
			&rec.Host,
			&rec.ExpectedValue,
			&rec.ObservedValue,
			&rec.Status,
			&rec.CheckedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan dns record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// UpdateObservation stores the latest lookup outcome for one record.
func (r *DNSRecordRepository) UpdateObservation(ctx context.Context, accountID int, recordType, observed, status string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE mailbox_dns_records
		SET observed_value = $1, status = $2, checked_at = $3
		WHERE account_id = $4 AND record_type = $5`,
		observed, status, time.Now().UTC(), accountID, recordType)
	if err != nil {
		return fmt.Errorf("failed to update dns record: %w", err)
	}
	return nil
}

// SetExpected replaces the expected value for one record and resets its
// status to pending so the next verification run re-evaluates it.
func (r *DNSRecordRepository) SetExpected(ctx context.Context, accountID int, recordType, expected string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE mailbox_dns_records
		SET expected_value = $1, status = $2, checked_at = $3
		WHERE account_id = $4 AND record_type = $5`,
		expected, models.DNSStatusPending, time.Now().UTC(), accountID, recordType)
	if err != nil {
		return fmt.Errorf("failed to set expected dns value: %w", err)
	}
	return nil
}
