// Package mailbox manages the tenant mailbox registry: connection identities
// for inbound (IMAP/POP3) and outbound (SMTP) transports, with credentials
// sealed at rest and the default DNS expectations seeded on creation.
package mailbox

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mailpilot-io/mailpilot-ce/internal/models"
	"github.com/mailpilot-io/mailpilot-ce/internal/repository"
	"github.com/mailpilot-io/mailpilot-ce/internal/secrets"
)

var (
	// ErrMissingInbound indicates incomplete inbound connection parameters.
	ErrMissingInbound = errors.New("inbound host, username and password are required")
	// ErrMissingOutbound indicates incomplete outbound connection parameters.
	ErrMissingOutbound = errors.New("outbound host, username and password are required")
	// ErrBadAddress indicates the mailbox email address is not usable.
	ErrBadAddress = errors.New("email address must contain a domain")
)

// DefaultDKIMSelector is seeded when the tenant has not chosen a selector.
const DefaultDKIMSelector = "default"

// CreateInput carries the plaintext connection parameters for a new mailbox.
// Passwords are sealed before they reach storage and are never logged.
type CreateInput struct {
	TenantID     string
	DisplayName  string
	EmailAddress string

	IMAPHost     string
	IMAPPort     int
	IMAPUseTLS   bool
	IMAPUsername string
	IMAPPassword string

	SMTPHost     string
	SMTPPort     int
	SMTPUseTLS   bool
	SMTPUsername string
	SMTPPassword string

	InboundType  string // imap, imaps, pop3, pop3s
	DKIMSelector string
}

// UpdateInput mirrors CreateInput for edits. Every field is optional: zero
// values (empty strings, zero ports, nil TLS flags) keep whatever is stored,
// so a partial update never blanks the fields it left out.
type UpdateInput struct {
	DisplayName  string
	EmailAddress string

	IMAPHost     string
	IMAPPort     int
	IMAPUseTLS   *bool
	IMAPUsername string
	IMAPPassword string

	SMTPHost     string
	SMTPPort     int
	SMTPUseTLS   *bool
	SMTPUsername string
	SMTPPassword string

	InboundType string
}

// Registry is the service layer over the mail account repository.
type Registry struct {
	accounts *repository.MailAccountRepository
	dns      *repository.DNSRecordRepository
	sealer   *secrets.Sealer
}

func NewRegistry(accounts *repository.MailAccountRepository, dns *repository.DNSRecordRepository, sealer *secrets.Sealer) *Registry {
	return &Registry{accounts: accounts, dns: dns, sealer: sealer}
}

// Create validates the input, seals both passwords, stores the account as
// active and seeds the three pending DNS records for its domain.
func (r *Registry) Create(ctx context.Context, in CreateInput) (*models.MailAccount, error) {
	if in.IMAPHost == "" || in.IMAPUsername == "" || in.IMAPPassword == "" {
		return nil, ErrMissingInbound
	}
	if in.SMTPHost == "" || in.SMTPUsername == "" || in.SMTPPassword == "" {
		return nil, ErrMissingOutbound
	}
	domain, err := domainOf(in.EmailAddress)
	if err != nil {
		return nil, err
	}

	sealedIMAP, err := r.sealer.Seal(in.IMAPPassword)
	if err != nil {
		return nil, fmt.Errorf("failed to seal inbound credential: %w", err)
	}
	sealedSMTP, err := r.sealer.Seal(in.SMTPPassword)
	if err != nil {
		return nil, fmt.Errorf("failed to seal outbound credential: %w", err)
	}

	inboundType := in.InboundType
	if inboundType == "" {
		inboundType = "imaps"
	}
	account := &models.MailAccount{
		TenantID:              in.TenantID,
		DisplayName:           in.DisplayName,
		EmailAddress:          in.EmailAddress,
		IMAPHost:              in.IMAPHost,
		IMAPPort:              in.IMAPPort,
		IMAPUseTLS:            in.IMAPUseTLS,
		IMAPUsername:          in.IMAPUsername,
		IMAPPasswordEncrypted: sealedIMAP,
		SMTPHost:              in.SMTPHost,
		SMTPPort:              in.SMTPPort,
		SMTPUseTLS:            in.SMTPUseTLS,
		SMTPUsername:          in.SMTPUsername,
		SMTPPasswordEncrypted: sealedSMTP,
		InboundType:           inboundType,
		IsActive:              true,
	}

	id, err := r.accounts.Create(ctx, account)
	if err != nil {
		return nil, err
	}
	account.ID = id

	selector := in.DKIMSelector
	if selector == "" {
		selector = DefaultDKIMSelector
	}
	if err := r.dns.SeedDefaults(ctx, id, domain, selector); err != nil {
		return nil, err
	}
	return account, nil
}

// Update edits an account owned by the tenant. Only the fields the input
// actually sets are applied; empty passwords preserve the sealed credentials
// already on file.
func (r *Registry) Update(ctx context.Context, id int, tenantID string, in UpdateInput) (*models.MailAccount, error) {
	account, err := r.accounts.GetByIDForTenant(ctx, id, tenantID)
	if err != nil {
		return nil, err
	}
	if in.EmailAddress != "" {
		if _, err := domainOf(in.EmailAddress); err != nil {
			return nil, err
		}
		account.EmailAddress = in.EmailAddress
	}

	if in.DisplayName != "" {
		account.DisplayName = in.DisplayName
	}
	if in.IMAPHost != "" {
		account.IMAPHost = in.IMAPHost
	}
	if in.IMAPPort > 0 {
		account.IMAPPort = in.IMAPPort
	}
	if in.IMAPUseTLS != nil {
		account.IMAPUseTLS = *in.IMAPUseTLS
	}
	if in.IMAPUsername != "" {
		account.IMAPUsername = in.IMAPUsername
	}
	if in.SMTPHost != "" {
		account.SMTPHost = in.SMTPHost
	}
	if in.SMTPPort > 0 {
		account.SMTPPort = in.SMTPPort
	}
	if in.SMTPUseTLS != nil {
		account.SMTPUseTLS = *in.SMTPUseTLS
	}
	if in.SMTPUsername != "" {
		account.SMTPUsername = in.SMTPUsername
	}
	if in.InboundType != "" {
		account.InboundType = in.InboundType
	}

	if in.IMAPPassword != "" {
		sealed, err := r.sealer.Seal(in.IMAPPassword)
		if err != nil {
			return nil, fmt.Errorf("failed to seal inbound credential: %w", err)
		}
		account.IMAPPasswordEncrypted = sealed
	}
	if in.SMTPPassword != "" {
		sealed, err := r.sealer.Seal(in.SMTPPassword)
		if err != nil {
			return nil, fmt.Errorf("failed to seal outbound credential: %w", err)
		}
		account.SMTPPasswordEncrypted = sealed
	}

	if err := r.accounts.Update(ctx, account); err != nil {
		return nil, err
	}
	return account, nil
}

// Get returns one mailbox owned by the tenant.
func (r *Registry) Get(ctx context.Context, id int, tenantID string) (*models.MailAccount, error) {
	return r.accounts.GetByIDForTenant(ctx, id, tenantID)
}

// List returns all mailboxes owned by the tenant.
func (r *Registry) List(ctx context.Context, tenantID string) ([]*models.MailAccount, error) {
	return r.accounts.ListByTenant(ctx, tenantID)
}

// SetActive toggles sync eligibility after an ownership check.
func (r *Registry) SetActive(ctx context.Context, id int, tenantID string, active bool) error {
	if _, err := r.accounts.GetByIDForTenant(ctx, id, tenantID); err != nil {
		return err
	}
	return r.accounts.SetActive(ctx, id, active)
}

// Domain returns the mail domain of an account's address.
func Domain(account *models.MailAccount) (string, error) {
	return domainOf(account.EmailAddress)
}

func domainOf(address string) (string, error) {
	at := strings.LastIndex(address, "@")
	if at < 0 || at == len(address)-1 {
		return "", ErrBadAddress
	}
	return strings.ToLower(address[at+1:]), nil
}
