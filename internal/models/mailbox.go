package models

import (
	"time"
)

// MailAccount represents one tenant-owned mailbox: the inbound (IMAP/POP3)
// and outbound (SMTP) connection identity used by the sync engine.
type MailAccount struct {
	ID                    int       `json:"id" db:"id"`
	TenantID              string    `json:"tenant_id" db:"tenant_id"`
	DisplayName           string    `json:"display_name" db:"display_name"`
	EmailAddress          string    `json:"email_address" db:"email_address"`
	IMAPHost              string    `json:"imap_host" db:"imap_host"`
	IMAPPort              int       `json:"imap_port" db:"imap_port"`
	IMAPUseTLS            bool      `json:"imap_use_tls" db:"imap_use_tls"`
	IMAPUsername          string    `json:"imap_username" db:"imap_username"`
	IMAPPasswordEncrypted string    `json:"-" db:"imap_password_encrypted"`
	SMTPHost              string    `json:"smtp_host" db:"smtp_host"`
	SMTPPort              int       `json:"smtp_port" db:"smtp_port"`
	SMTPUseTLS            bool      `json:"smtp_use_tls" db:"smtp_use_tls"`
	SMTPUsername          string    `json:"smtp_username" db:"smtp_username"`
	SMTPPasswordEncrypted string    `json:"-" db:"smtp_password_encrypted"`
	InboundType           string    `json:"inbound_type" db:"inbound_type"` // imap, imaps, pop3, pop3s
	IsActive              bool      `json:"is_active" db:"is_active"`
	CreatedAt             time.Time `json:"created_at" db:"created_at"`
	UpdatedAt             time.Time `json:"updated_at" db:"updated_at"`
}

// HasInboundParams reports whether the account carries everything the
// scheduler needs to open the inbound mailbox.
func (a *MailAccount) HasInboundParams() bool {
	return a.IMAPHost != "" && a.IMAPUsername != "" && a.IMAPPasswordEncrypted != ""
}

// IncomingMessage is one ingested email. The pair (tenant_id, fingerprint)
// is unique and is the sole de-duplication key; processed only ever moves
// from false to true.
type IncomingMessage struct {
	ID          int       `json:"id" db:"id"`
	TenantID    string    `json:"tenant_id" db:"tenant_id"`
	AccountID   int       `json:"account_id" db:"account_id"`
	FromAddress string    `json:"from_address" db:"from_address"`
	ToAddress   string    `json:"to_address" db:"to_address"`
	Subject     string    `json:"subject" db:"subject"`
	Body        string    `json:"body" db:"body"`
	HTMLBody    *string   `json:"html_body,omitempty" db:"html_body"`
	Fingerprint string    `json:"fingerprint" db:"fingerprint"`
	Processed   bool      `json:"processed" db:"processed"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// Outgoing log statuses.
const (
	OutgoingStatusPending = "pending"
	OutgoingStatusSent    = "sent"
	OutgoingStatusError   = "error"
)

// OutgoingLog records one send attempt. Rows are append-only; only status
// finalization mutates an existing row.
type OutgoingLog struct {
	ID        int       `json:"id" db:"id"`
	LogID     string    `json:"log_id" db:"log_id"`
	AccountID int       `json:"account_id" db:"account_id"`
	Direction string    `json:"direction" db:"direction"`
	Recipient string    `json:"recipient" db:"recipient"`
	Sender    string    `json:"sender" db:"sender"`
	Subject   string    `json:"subject" db:"subject"`
	Body      string    `json:"body" db:"body"`
	Status    string    `json:"status" db:"status"`
	ErrorText *string   `json:"error_text,omitempty" db:"error_text"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// TenantAISettings holds the per-tenant reply generation configuration.
// FallbackProviders is an ordered list; the chain tries Provider first and
// then each fallback in turn.
type TenantAISettings struct {
	TenantID          string    `json:"tenant_id" db:"tenant_id"`
	Provider          string    `json:"provider" db:"provider"`
	FallbackProviders []string  `json:"fallback_providers" db:"-"`
	Model             string    `json:"model" db:"model"`
	ReplyTone         string    `json:"reply_tone" db:"reply_tone"`
	AutoReply         bool      `json:"auto_reply" db:"auto_reply"`
	UpdatedAt         time.Time `json:"updated_at" db:"updated_at"`
}

// ProviderOrder returns the full attempt order: primary first, then the
// configured fallbacks, duplicates removed.
func (s *TenantAISettings) ProviderOrder() []string {
	seen := make(map[string]bool, len(s.FallbackProviders)+1)
	var order []string
	for _, p := range append([]string{s.Provider}, s.FallbackProviders...) {
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		order = append(order, p)
	}
	return order
}

// DNS record kinds and statuses.
const (
	DNSRecordSPF   = "spf"
	DNSRecordDKIM  = "dkim"
	DNSRecordDMARC = "dmarc"

	DNSStatusPending = "pending"
	DNSStatusSuccess = "success"
	DNSStatusFail    = "fail"
	DNSStatusWarning = "warning"
)

// MailboxDNSRecord is one expected/observed DNS authentication record for a
// mailbox domain.
type MailboxDNSRecord struct {
	ID            int       `json:"id" db:"id"`
	AccountID     int       `json:"account_id" db:"account_id"`
	Domain        string    `json:"domain" db:"domain"`
	RecordType    string    `json:"record_type" db:"record_type"` // spf, dkim, dmarc
	Host          string    `json:"host" db:"host"`
	ExpectedValue string    `json:"expected_value" db:"expected_value"`
	ObservedValue string    `json:"observed_value" db:"observed_value"`
	Status        string    `json:"status" db:"status"`
	CheckedAt     time.Time `json:"checked_at" db:"checked_at"`
}

// Mailbox automation statuses.
const (
	AutomationStatusPending  = "PENDING"
	AutomationStatusApproved = "APPROVED"
	AutomationStatusRejected = "REJECTED"
)

// MailboxAutomation gates automated sending for one mailbox. The encrypted
// credential blob is written whole on each successful verification.
type MailboxAutomation struct {
	ID                 int       `json:"id" db:"id"`
	AccountID          int       `json:"account_id" db:"account_id"`
	CredentialsSealed  string    `json:"-" db:"credentials_sealed"`
	AutomationEnabled  bool      `json:"automation_enabled" db:"automation_enabled"`
	Status             string    `json:"status" db:"status"`
	RejectReason       *string   `json:"reject_reason,omitempty" db:"reject_reason"`
	CredentialsCheckAt time.Time `json:"credentials_check_at" db:"credentials_check_at"`
	UpdatedAt          time.Time `json:"updated_at" db:"updated_at"`
}

// Approved reports whether this mailbox may send automated mail right now.
func (m *MailboxAutomation) Approved() bool {
	return m != nil && m.Status == AutomationStatusApproved && m.AutomationEnabled
}

// Automation project statuses.
const (
	ProjectStatusDraft      = "DRAFT"
	ProjectStatusConfigured = "CONFIGURED"
	ProjectStatusRunning    = "RUNNING"
	ProjectStatusPaused     = "PAUSED"
	ProjectStatusStopped    = "STOPPED"
)

// AutomationProject ties a tenant's automation run to a branding record and
// exactly one mailbox.
type AutomationProject struct {
	ID         int       `json:"id" db:"id"`
	TenantID   string    `json:"tenant_id" db:"tenant_id"`
	Name       string    `json:"name" db:"name"`
	Status     string    `json:"status" db:"status"`
	AccountID  *int      `json:"account_id,omitempty" db:"account_id"`
	BrandingID *int      `json:"branding_id,omitempty" db:"branding_id"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time `json:"updated_at" db:"updated_at"`
}

// ReplyAttempt records one provider call during reply generation, whether or
// not it produced the final draft.
type ReplyAttempt struct {
	ID         int       `json:"id" db:"id"`
	MessageID  int       `json:"message_id" db:"message_id"`
	Provider   string    `json:"provider" db:"provider"`
	OK         bool      `json:"ok" db:"ok"`
	ErrorText  *string   `json:"error_text,omitempty" db:"error_text"`
	DurationMS int64     `json:"duration_ms" db:"duration_ms"`
	TokensUsed int       `json:"tokens_used" db:"tokens_used"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}
