// Package autoreply drives the generate-then-dispatch loop over pending
// incoming messages.
package autoreply

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/mailpilot-io/mailpilot-ce/internal/email/outbound"
	"github.com/mailpilot-io/mailpilot-ce/internal/models"
	"github.com/mailpilot-io/mailpilot-ce/internal/reply"
	"github.com/mailpilot-io/mailpilot-ce/internal/repository"
)

const defaultBatchSize = 20

// Result summarizes one auto-reply pass.
type Result struct {
	Drafted    int `json:"drafted"`
	Dispatched int `json:"dispatched"`
	Failed     int `json:"failed"`
}

// Service replies to pending messages for tenants that enabled auto-reply.
// Messages of unapproved mailboxes stay pending; drafting is never attempted
// for them.
type Service struct {
	accounts    *repository.MailAccountRepository
	messages    *repository.IncomingMessageRepository
	settings    *repository.TenantAISettingsRepository
	automations *repository.MailboxAutomationRepository
	chain       *reply.Chain
	dispatcher  *outbound.Dispatcher
	logger      *log.Logger
	batchSize   int
}

// Option customizes the auto-reply service.
type Option func(*Service)

func NewService(
	accounts *repository.MailAccountRepository,
	messages *repository.IncomingMessageRepository,
	settings *repository.TenantAISettingsRepository,
	automations *repository.MailboxAutomationRepository,
	chain *reply.Chain,
	dispatcher *outbound.Dispatcher,
	opts ...Option,
) *Service {
	s := &Service{
		accounts:    accounts,
		messages:    messages,
		settings:    settings,
		automations: automations,
		chain:       chain,
		dispatcher:  dispatcher,
		logger:      log.New(log.Writer(), "[AUTO-REPLY] ", log.LstdFlags),
		batchSize:   defaultBatchSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// WithBatchSize caps pending messages handled per mailbox per pass.
func WithBatchSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// WithLogger overrides the diagnostics logger.
func WithLogger(logger *log.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// RunPass walks every active mailbox once. Per-message failures are isolated:
// a draft or dispatch error on one message never stops the rest.
func (s *Service) RunPass(ctx context.Context) (*Result, error) {
	accounts, err := s.accounts.GetActiveAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load active accounts: %w", err)
	}

	result := &Result{}
	var passErrs []error
	for _, account := range accounts {
		if ctx.Err() != nil {
			break
		}
		if err := s.replyForAccount(ctx, account, result); err != nil {
			passErrs = append(passErrs, fmt.Errorf("account %d: %w", account.ID, err))
		}
	}
	return result, errors.Join(passErrs...)
}

func (s *Service) replyForAccount(ctx context.Context, account *models.MailAccount, result *Result) error {
	settings, err := s.settings.Get(ctx, account.TenantID)
	if errors.Is(err, repository.ErrSettingsNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if !settings.AutoReply {
		return nil
	}

	automation, err := s.automations.GetByAccount(ctx, account.ID)
	if errors.Is(err, repository.ErrAutomationNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if !automation.Approved() {
		return nil
	}

	pending, err := s.messages.GetPendingByAccount(ctx, account.ID, s.batchSize)
	if err != nil {
		return err
	}

	var msgErrs []error
	for _, message := range pending {
		if ctx.Err() != nil {
			break
		}
		draft, err := s.chain.Draft(ctx, message, settings)
		if err != nil {
			result.Failed++
			msgErrs = append(msgErrs, fmt.Errorf("message %d: %w", message.ID, err))
			continue
		}
		result.Drafted++

		if _, err := s.dispatcher.Dispatch(ctx, account, message, outbound.Draft{Body: draft.Body}); err != nil {
			result.Failed++
			s.logger.Printf("dispatch failed for message %d: %v", message.ID, err)
			msgErrs = append(msgErrs, fmt.Errorf("message %d: %w", message.ID, err))
			continue
		}
		result.Dispatched++
	}
	return errors.Join(msgErrs...)
}
