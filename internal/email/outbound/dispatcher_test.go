package outbound

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"github.com/mailpilot-io/mailpilot-ce/internal/database"
	"github.com/mailpilot-io/mailpilot-ce/internal/models"
	"github.com/mailpilot-io/mailpilot-ce/internal/repository"
	"github.com/mailpilot-io/mailpilot-ce/internal/secrets"
)

type fakeSender struct {
	sent []*Mail
	cfgs []SMTPConfig
	err  error
}

func (s *fakeSender) Send(_ context.Context, cfg SMTPConfig, mail *Mail) error {
	s.cfgs = append(s.cfgs, cfg)
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, mail)
	return nil
}

type dispatcherEnv struct {
	dispatcher  *Dispatcher
	sender      *fakeSender
	messages    *repository.IncomingMessageRepository
	logs        *repository.OutgoingLogRepository
	automations *repository.MailboxAutomationRepository
	account     *models.MailAccount
	message     *models.IncomingMessage
}

func setupDispatcher(t *testing.T, senderErr error) *dispatcherEnv {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, database.Migrate(db, "sqlite3"))
	ctx := context.Background()

	sealer, err := secrets.NewSealer("test-secret")
	require.NoError(t, err)
	sealedSMTP, err := sealer.Seal("smtp-pass")
	require.NoError(t, err)

	accounts := repository.NewMailAccountRepository(db)
	accountID, err := accounts.Create(ctx, &models.MailAccount{
		TenantID:     "tenant-a",
		EmailAddress: "support@acme.example",
		IMAPHost:     "imap.acme.example",
		IMAPUsername: "u", IMAPPasswordEncrypted: "x",
		SMTPHost: "smtp.acme.example", SMTPPort: 465, SMTPUseTLS: true,
		SMTPUsername: "support@acme.example", SMTPPasswordEncrypted: sealedSMTP,
		InboundType: "imaps",
		IsActive:    true,
	})
	require.NoError(t, err)
	account, err := accounts.GetByID(ctx, accountID)
	require.NoError(t, err)

	messages := repository.NewIncomingMessageRepository(db)
	msgID, err := messages.Insert(ctx, &models.IncomingMessage{
		TenantID:    "tenant-a",
		AccountID:   accountID,
		FromAddress: "alice@sender.example",
		Subject:     "printer on fire",
		Body:        "please advise",
		Fingerprint: "<m1@sender.example>",
	})
	require.NoError(t, err)
	message, err := messages.GetByID(ctx, msgID)
	require.NoError(t, err)

	sender := &fakeSender{err: senderErr}
	logs := repository.NewOutgoingLogRepository(db)
	automations := repository.NewMailboxAutomationRepository(db)
	dispatcher := NewDispatcher(messages, logs, automations, sealer, sender)

	return &dispatcherEnv{
		dispatcher:  dispatcher,
		sender:      sender,
		messages:    messages,
		logs:        logs,
		automations: automations,
		account:     account,
		message:     message,
	}
}

func approve(t *testing.T, env *dispatcherEnv) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, env.automations.UpsertVerified(ctx, env.account.ID, "sealed"))
	require.NoError(t, env.automations.Approve(ctx, env.account.ID))
}

func TestDispatchSendsAndMarksProcessed(t *testing.T) {
	env := setupDispatcher(t, nil)
	approve(t, env)
	ctx := context.Background()

	logID, err := env.dispatcher.Dispatch(ctx, env.account, env.message, Draft{Body: "On it."})
	require.NoError(t, err)
	require.NotEmpty(t, logID)

	require.Len(t, env.sender.sent, 1)
	require.Equal(t, "support@acme.example", env.sender.sent[0].From)
	require.Equal(t, "alice@sender.example", env.sender.sent[0].To)
	require.Equal(t, "Re: printer on fire", env.sender.sent[0].Subject)
	// The sealed credential was unsealed for the transaction.
	require.Equal(t, "smtp-pass", env.sender.cfgs[0].Password)

	entry, err := env.logs.GetByLogID(ctx, logID)
	require.NoError(t, err)
	require.Equal(t, models.OutgoingStatusSent, entry.Status)

	msg, err := env.messages.GetByID(ctx, env.message.ID)
	require.NoError(t, err)
	require.True(t, msg.Processed)
}

func TestDispatchFailureStillMarksProcessed(t *testing.T) {
	env := setupDispatcher(t, errors.New("connection refused"))
	approve(t, env)
	ctx := context.Background()

	logID, err := env.dispatcher.Dispatch(ctx, env.account, env.message, Draft{Body: "On it."})
	require.Error(t, err)
	require.NotEmpty(t, logID)

	entry, err := env.logs.GetByLogID(ctx, logID)
	require.NoError(t, err)
	require.Equal(t, models.OutgoingStatusError, entry.Status)
	require.NotNil(t, entry.ErrorText)
	require.Contains(t, *entry.ErrorText, "connection refused")

	msg, err := env.messages.GetByID(ctx, env.message.ID)
	require.NoError(t, err)
	require.True(t, msg.Processed)
}

func TestDispatchBlockedWithoutApproval(t *testing.T) {
	env := setupDispatcher(t, nil)
	ctx := context.Background()

	// No automation record at all.
	_, err := env.dispatcher.Dispatch(ctx, env.account, env.message, Draft{Body: "x"})
	require.ErrorIs(t, err, ErrNotApproved)

	// Verified but still pending approval.
	require.NoError(t, env.automations.UpsertVerified(ctx, env.account.ID, "sealed"))
	_, err = env.dispatcher.Dispatch(ctx, env.account, env.message, Draft{Body: "x"})
	require.ErrorIs(t, err, ErrNotApproved)

	// Rejected after approval.
	require.NoError(t, env.automations.Approve(ctx, env.account.ID))
	require.NoError(t, env.automations.Reject(ctx, env.account.ID, "spf revoked"))
	_, err = env.dispatcher.Dispatch(ctx, env.account, env.message, Draft{Body: "x"})
	require.ErrorIs(t, err, ErrNotApproved)

	require.Empty(t, env.sender.sent)
	entries, err := env.logs.ListByAccount(ctx, env.account.ID, 10)
	require.NoError(t, err)
	require.Empty(t, entries)

	msg, err := env.messages.GetByID(ctx, env.message.ID)
	require.NoError(t, err)
	require.False(t, msg.Processed)
}

func TestBuildMessageMultipartAlternative(t *testing.T) {
	payload, err := BuildMessage(&Mail{
		From:    "support@acme.example",
		To:      "alice@sender.example",
		Subject: "Re: hello",
		Body:    "Thanks for reaching out.\n\n**We are on it.**",
	})
	require.NoError(t, err)

	text := string(payload)
	require.Contains(t, text, "Content-Type: multipart/alternative")
	require.Contains(t, text, "text/plain; charset=utf-8")
	require.Contains(t, text, "text/html; charset=utf-8")
	require.Contains(t, text, "<strong>We are on it.</strong>")

	_, err = BuildMessage(&Mail{To: "x@example.com"})
	require.Error(t, err)
}

func TestReplySubject(t *testing.T) {
	require.Equal(t, "Re: hello", replySubject("hello"))
	require.Equal(t, "Re: hello", replySubject("Re: hello"))
	require.Equal(t, "RE: hello", replySubject("RE: hello"))
	require.Equal(t, "Re:", replySubject("  "))
}
