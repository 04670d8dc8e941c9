package outbound

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/mailpilot-io/mailpilot-ce/internal/metrics"
	"github.com/mailpilot-io/mailpilot-ce/internal/models"
	"github.com/mailpilot-io/mailpilot-ce/internal/repository"
	"github.com/mailpilot-io/mailpilot-ce/internal/secrets"
)

// ErrNotApproved indicates the mailbox automation gate blocked the send.
var ErrNotApproved = errors.New("mailbox automation not approved for sending")

// Draft is the generated reply handed to the dispatcher.
type Draft struct {
	Subject string
	Body    string
}

// Dispatcher sends generated replies. Approval is re-checked at send time;
// once a send is attempted the source message is marked processed whether or
// not delivery succeeded, so a failing reply is never retried automatically.
type Dispatcher struct {
	messages    *repository.IncomingMessageRepository
	logs        *repository.OutgoingLogRepository
	automations *repository.MailboxAutomationRepository
	sealer      *secrets.Sealer
	sender      Sender
	logger      *log.Logger
	sendTimeout time.Duration
}

// DispatcherOption customizes the dispatcher.
type DispatcherOption func(*Dispatcher)

func NewDispatcher(
	messages *repository.IncomingMessageRepository,
	logs *repository.OutgoingLogRepository,
	automations *repository.MailboxAutomationRepository,
	sealer *secrets.Sealer,
	sender Sender,
	opts ...DispatcherOption,
) *Dispatcher {
	d := &Dispatcher{
		messages:    messages,
		logs:        logs,
		automations: automations,
		sealer:      sealer,
		sender:      sender,
		logger:      log.New(log.Writer(), "[DISPATCH] ", log.LstdFlags),
		sendTimeout: 60 * time.Second,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// WithSendTimeout bounds one SMTP transaction.
func WithSendTimeout(timeout time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.sendTimeout = timeout
		}
	}
}

// WithDispatcherLogger overrides the diagnostics logger.
func WithDispatcherLogger(logger *log.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// Dispatch sends one reply for message through account and returns the
// outgoing log id. When the automation gate blocks the send no log entry is
// written and the message stays pending.
func (d *Dispatcher) Dispatch(ctx context.Context, account *models.MailAccount, message *models.IncomingMessage, draft Draft) (string, error) {
	automation, err := d.automations.GetByAccount(ctx, account.ID)
	if err != nil {
		if errors.Is(err, repository.ErrAutomationNotFound) {
			return "", ErrNotApproved
		}
		return "", err
	}
	if !automation.Approved() {
		return "", ErrNotApproved
	}

	subject := draft.Subject
	if subject == "" {
		subject = replySubject(message.Subject)
	}
	mail := &Mail{
		From:    account.EmailAddress,
		To:      message.FromAddress,
		Subject: subject,
		Body:    draft.Body,
	}

	logID, err := d.logs.CreatePending(ctx, &models.OutgoingLog{
		AccountID: account.ID,
		Direction: "outbound",
		Recipient: mail.To,
		Sender:    mail.From,
		Subject:   mail.Subject,
		Body:      mail.Body,
	})
	if err != nil {
		return "", err
	}

	sendErr := d.send(ctx, account, mail)

	status := models.OutgoingStatusSent
	var errText *string
	if sendErr != nil {
		status = models.OutgoingStatusError
		text := sendErr.Error()
		errText = &text
		d.logger.Printf("send failed for message %d via account %d: %v", message.ID, account.ID, sendErr)
	}
	metrics.SendAttempts.WithLabelValues(status).Inc()
	if err := d.logs.Finalize(ctx, logID, status, errText); err != nil {
		return logID, err
	}

	// Processed moves forward regardless of delivery outcome so the message
	// is never replied to twice.
	if err := d.messages.MarkProcessed(ctx, message.ID); err != nil {
		return logID, err
	}

	if sendErr != nil {
		return logID, fmt.Errorf("dispatch message %d: %w", message.ID, sendErr)
	}
	return logID, nil
}

// SendDirect sends an operator-composed mail through account. The approval
// gate applies exactly as for generated replies.
func (d *Dispatcher) SendDirect(ctx context.Context, account *models.MailAccount, mail *Mail) (string, error) {
	automation, err := d.automations.GetByAccount(ctx, account.ID)
	if err != nil {
		if errors.Is(err, repository.ErrAutomationNotFound) {
			return "", ErrNotApproved
		}
		return "", err
	}
	if !automation.Approved() {
		return "", ErrNotApproved
	}
	if mail.From == "" {
		mail.From = account.EmailAddress
	}

	logID, err := d.logs.CreatePending(ctx, &models.OutgoingLog{
		AccountID: account.ID,
		Direction: "outbound",
		Recipient: mail.To,
		Sender:    mail.From,
		Subject:   mail.Subject,
		Body:      mail.Body,
	})
	if err != nil {
		return "", err
	}

	sendErr := d.send(ctx, account, mail)
	status := models.OutgoingStatusSent
	var errText *string
	if sendErr != nil {
		status = models.OutgoingStatusError
		text := sendErr.Error()
		errText = &text
	}
	metrics.SendAttempts.WithLabelValues(status).Inc()
	if err := d.logs.Finalize(ctx, logID, status, errText); err != nil {
		return logID, err
	}
	if sendErr != nil {
		return logID, fmt.Errorf("send via account %d: %w", account.ID, sendErr)
	}
	return logID, nil
}

func (d *Dispatcher) send(ctx context.Context, account *models.MailAccount, mail *Mail) error {
	password, err := d.sealer.Open(account.SMTPPasswordEncrypted)
	if err != nil {
		return fmt.Errorf("unseal outbound credential: %w", err)
	}
	cfg := SMTPConfig{
		Host:     account.SMTPHost,
		Port:     account.SMTPPort,
		UseTLS:   account.SMTPUseTLS,
		Username: account.SMTPUsername,
		Password: password,
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.sendTimeout)
	defer cancel()
	return d.sender.Send(sendCtx, cfg, mail)
}

func replySubject(subject string) string {
	trimmed := strings.TrimSpace(subject)
	if trimmed == "" {
		return "Re:"
	}
	if strings.HasPrefix(strings.ToLower(trimmed), "re:") {
		return trimmed
	}
	return "Re: " + trimmed
}
