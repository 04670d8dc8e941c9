package tasks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mailpilot-io/mailpilot-ce/internal/dnsverify"
	"github.com/mailpilot-io/mailpilot-ce/internal/repository"
)

const defaultDNSSchedule = "0 15 * * * *"

// DNSVerify re-checks the authentication records of every active mailbox.
type DNSVerify struct {
	accounts *repository.MailAccountRepository
	verifier *dnsverify.Verifier
	schedule string
}

func NewDNSVerify(accounts *repository.MailAccountRepository, verifier *dnsverify.Verifier, schedule string) *DNSVerify {
	if schedule == "" {
		schedule = defaultDNSSchedule
	}
	return &DNSVerify{accounts: accounts, verifier: verifier, schedule: schedule}
}

func (t *DNSVerify) Name() string           { return "dns-verify" }
func (t *DNSVerify) Schedule() string       { return t.schedule }
func (t *DNSVerify) Timeout() time.Duration { return 2 * time.Minute }

func (t *DNSVerify) Run(ctx context.Context) error {
	accounts, err := t.accounts.GetActiveAccounts(ctx)
	if err != nil {
		return fmt.Errorf("failed to load active accounts: %w", err)
	}
	var verifyErrs []error
	for _, account := range accounts {
		if ctx.Err() != nil {
			break
		}
		if _, err := t.verifier.VerifyAccount(ctx, account.ID); err != nil {
			verifyErrs = append(verifyErrs, fmt.Errorf("account %d: %w", account.ID, err))
		}
	}
	return errors.Join(verifyErrs...)
}
