// Package verification runs live credential checks against a mailbox's
// inbound and outbound servers and drives the automation approval gate.
package verification

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/knadh/go-pop3"

	"github.com/mailpilot-io/mailpilot-ce/internal/models"
	"github.com/mailpilot-io/mailpilot-ce/internal/repository"
	"github.com/mailpilot-io/mailpilot-ce/internal/secrets"
)

// Check stages reported on credential failure.
const (
	StageInbound  = "inbound"
	StageOutbound = "outbound"
)

var (
	// ErrDomainNotAuthenticated indicates approval was requested before all
	// DNS records verified.
	ErrDomainNotAuthenticated = errors.New("domain authentication incomplete")
	// ErrPasswordRequired indicates a verification request without a password.
	ErrPasswordRequired = errors.New("verification password is required")
)

// CheckResult reports the outcome of a live credential check. When the check
// fails, Stage names the first leg that did not authenticate.
type CheckResult struct {
	CredentialsOK bool   `json:"credentials_ok"`
	Stage         string `json:"stage,omitempty"`
	Reason        string `json:"reason,omitempty"`
}

// Dialer performs one live login against a mail server and returns an error
// when the server refuses the connection or the credentials.
type Dialer func(ctx context.Context, account *models.MailAccount, password string) error

// Service owns credential verification and the approval state machine.
type Service struct {
	accounts    *repository.MailAccountRepository
	automations *repository.MailboxAutomationRepository
	dnsRecords  *repository.DNSRecordRepository
	sealer      *secrets.Sealer
	inbound     Dialer
	outbound    Dialer
	logger      *log.Logger
	timeout     time.Duration
}

// ServiceOption customizes the verification service.
type ServiceOption func(*Service)

func NewService(
	accounts *repository.MailAccountRepository,
	automations *repository.MailboxAutomationRepository,
	dnsRecords *repository.DNSRecordRepository,
	sealer *secrets.Sealer,
	opts ...ServiceOption,
) *Service {
	s := &Service{
		accounts:    accounts,
		automations: automations,
		dnsRecords:  dnsRecords,
		sealer:      sealer,
		logger:      log.New(log.Writer(), "[VERIFY] ", log.LstdFlags),
		timeout:     30 * time.Second,
	}
	s.inbound = s.dialInbound
	s.outbound = s.dialOutbound
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// WithDialers overrides both live check legs, primarily for tests.
func WithDialers(inbound, outbound Dialer) ServiceOption {
	return func(s *Service) {
		if inbound != nil {
			s.inbound = inbound
		}
		if outbound != nil {
			s.outbound = outbound
		}
	}
}

// WithCheckTimeout bounds each live check leg.
func WithCheckTimeout(timeout time.Duration) ServiceOption {
	return func(s *Service) {
		if timeout > 0 {
			s.timeout = timeout
		}
	}
}

// VerifyCredentials performs the live check with the password supplied by the
// caller, never a previously stored one: inbound first, then outbound. The
// check is all-or-nothing; a failing outbound leg discards the inbound
// success and no automation record is written.
func (s *Service) VerifyCredentials(ctx context.Context, accountID int, tenantID, password string) (CheckResult, error) {
	if password == "" {
		return CheckResult{}, ErrPasswordRequired
	}
	account, err := s.accounts.GetByIDForTenant(ctx, accountID, tenantID)
	if err != nil {
		return CheckResult{}, err
	}

	checkCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.inbound(checkCtx, account, password); err != nil {
		s.logger.Printf("inbound check failed for account %d: %v", accountID, err)
		return CheckResult{Stage: StageInbound, Reason: err.Error()}, nil
	}

	checkCtx, cancel = context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.outbound(checkCtx, account, password); err != nil {
		s.logger.Printf("outbound check failed for account %d: %v", accountID, err)
		return CheckResult{Stage: StageOutbound, Reason: err.Error()}, nil
	}

	blob, err := json.Marshal(verifiedCredentials{
		Password:  password,
		CheckedAt: time.Now().UTC(),
	})
	if err != nil {
		return CheckResult{}, fmt.Errorf("encode verified credentials: %w", err)
	}
	sealed, err := s.sealer.Seal(string(blob))
	if err != nil {
		return CheckResult{}, fmt.Errorf("seal verified credentials: %w", err)
	}
	if err := s.automations.UpsertVerified(ctx, accountID, sealed); err != nil {
		return CheckResult{}, err
	}
	return CheckResult{CredentialsOK: true}, nil
}

// Approve enables automation for a verified mailbox. All three DNS records
// must have verified first.
func (s *Service) Approve(ctx context.Context, accountID int, tenantID string) error {
	if _, err := s.accounts.GetByIDForTenant(ctx, accountID, tenantID); err != nil {
		return err
	}
	records, err := s.dnsRecords.GetByAccount(ctx, accountID)
	if err != nil {
		return err
	}
	var failing []string
	seen := map[string]bool{}
	for _, rec := range records {
		seen[rec.RecordType] = true
		if rec.Status != models.DNSStatusSuccess {
			failing = append(failing, rec.RecordType)
		}
	}
	for _, required := range []string{models.DNSRecordSPF, models.DNSRecordDKIM, models.DNSRecordDMARC} {
		if !seen[required] {
			failing = append(failing, required)
		}
	}
	if len(failing) > 0 {
		return fmt.Errorf("%w: %s", ErrDomainNotAuthenticated, strings.Join(failing, ", "))
	}
	return s.automations.Approve(ctx, accountID)
}

// Reject disables automation with a reason. Reachable from any state.
func (s *Service) Reject(ctx context.Context, accountID int, tenantID, reason string) error {
	if _, err := s.accounts.GetByIDForTenant(ctx, accountID, tenantID); err != nil {
		return err
	}
	return s.automations.Reject(ctx, accountID, reason)
}

type verifiedCredentials struct {
	Password  string    `json:"password"`
	CheckedAt time.Time `json:"checked_at"`
}

func (s *Service) dialInbound(ctx context.Context, account *models.MailAccount, password string) error {
	if strings.HasPrefix(strings.ToLower(account.InboundType), "pop3") {
		return s.dialPOP3(ctx, account, password)
	}
	return s.dialIMAP(ctx, account, password)
}

func (s *Service) dialIMAP(ctx context.Context, account *models.MailAccount, password string) error {
	port := account.IMAPPort
	if port == 0 {
		if account.IMAPUseTLS {
			port = 993
		} else {
			port = 143
		}
	}
	addr := net.JoinHostPort(account.IMAPHost, strconv.Itoa(port))
	opts := &imapclient.Options{Dialer: &net.Dialer{Timeout: s.timeout}}

	var client *imapclient.Client
	var err error
	if account.IMAPUseTLS {
		client, err = imapclient.DialTLS(addr, opts)
	} else {
		client, err = imapclient.DialInsecure(addr, opts)
	}
	if err != nil {
		return fmt.Errorf("imap connect: %w", err)
	}
	defer client.Close()

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := client.Login(account.IMAPUsername, password).Wait(); err != nil {
		return fmt.Errorf("imap auth: %w", err)
	}
	return client.Logout().Wait()
}

func (s *Service) dialPOP3(ctx context.Context, account *models.MailAccount, password string) error {
	port := account.IMAPPort
	if port == 0 {
		if account.IMAPUseTLS {
			port = 995
		} else {
			port = 110
		}
	}
	client := pop3.New(pop3.Opt{
		Host:        account.IMAPHost,
		Port:        port,
		DialTimeout: s.timeout,
		TLSEnabled:  account.IMAPUseTLS,
	})
	conn, err := client.NewConn()
	if err != nil {
		return fmt.Errorf("pop3 connect: %w", err)
	}
	defer conn.Quit()

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := conn.Auth(account.IMAPUsername, password); err != nil {
		return fmt.Errorf("pop3 auth: %w", err)
	}
	return nil
}

func (s *Service) dialOutbound(ctx context.Context, account *models.MailAccount, password string) error {
	port := account.SMTPPort
	if port == 0 {
		port = 587
	}
	addr := net.JoinHostPort(account.SMTPHost, strconv.Itoa(port))
	tlsConfig := &tls.Config{ServerName: account.SMTPHost}

	var client *smtp.Client
	if account.SMTPUseTLS && port == 465 {
		conn, err := tls.DialWithDialer(&net.Dialer{Timeout: s.timeout}, "tcp", addr, tlsConfig)
		if err != nil {
			return fmt.Errorf("smtp connect: %w", err)
		}
		client, err = smtp.NewClient(conn, account.SMTPHost)
		if err != nil {
			conn.Close()
			return fmt.Errorf("smtp connect: %w", err)
		}
	} else {
		conn, err := net.DialTimeout("tcp", addr, s.timeout)
		if err != nil {
			return fmt.Errorf("smtp connect: %w", err)
		}
		var newErr error
		client, newErr = smtp.NewClient(conn, account.SMTPHost)
		if newErr != nil {
			conn.Close()
			return fmt.Errorf("smtp connect: %w", newErr)
		}
		if account.SMTPUseTLS {
			if err := client.StartTLS(tlsConfig); err != nil {
				client.Close()
				return fmt.Errorf("smtp starttls: %w", err)
			}
		}
	}
	defer client.Close()

	if err := ctx.Err(); err != nil {
		return err
	}
	auth := smtp.PlainAuth("", account.SMTPUsername, password, account.SMTPHost)
	if err := client.Auth(auth); err != nil {
		return fmt.Errorf("smtp auth: %w", err)
	}
	return client.Quit()
}
