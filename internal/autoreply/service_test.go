package autoreply

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"github.com/mailpilot-io/mailpilot-ce/internal/database"
	"github.com/mailpilot-io/mailpilot-ce/internal/email/outbound"
	"github.com/mailpilot-io/mailpilot-ce/internal/models"
	"github.com/mailpilot-io/mailpilot-ce/internal/reply"
	"github.com/mailpilot-io/mailpilot-ce/internal/repository"
	"github.com/mailpilot-io/mailpilot-ce/internal/secrets"
)

type fakeSender struct {
	sent []*outbound.Mail
	err  error
}

func (s *fakeSender) Send(_ context.Context, _ outbound.SMTPConfig, mail *outbound.Mail) error {
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, mail)
	return nil
}

type fixedProvider struct {
	name string
	body string
	err  error
}

func (p *fixedProvider) Name() string { return p.name }

func (p *fixedProvider) Draft(_ context.Context, _ reply.Request) (reply.Draft, error) {
	if p.err != nil {
		return reply.Draft{}, p.err
	}
	return reply.Draft{Body: p.body, TokensUsed: 11}, nil
}

type replyEnv struct {
	service     *Service
	messages    *repository.IncomingMessageRepository
	settings    *repository.TenantAISettingsRepository
	automations *repository.MailboxAutomationRepository
	sender      *fakeSender
	accountID   int
}

func setupAutoReply(t *testing.T, providers ...reply.Provider) *replyEnv {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, database.Migrate(db, "sqlite3"))
	ctx := context.Background()

	sealer, err := secrets.NewSealer("test-secret")
	require.NoError(t, err)
	sealed, err := sealer.Seal("smtp-pass")
	require.NoError(t, err)

	accounts := repository.NewMailAccountRepository(db)
	accountID, err := accounts.Create(ctx, &models.MailAccount{
		TenantID:     "tenant-a",
		EmailAddress: "support@acme.example",
		IMAPHost:     "imap.acme.example", IMAPUsername: "support", IMAPPasswordEncrypted: sealed,
		SMTPHost: "smtp.acme.example", SMTPPort: 465, SMTPUseTLS: true,
		SMTPUsername: "support", SMTPPasswordEncrypted: sealed,
		InboundType: "imaps",
		IsActive:    true,
	})
	require.NoError(t, err)

	env := &replyEnv{
		messages:    repository.NewIncomingMessageRepository(db),
		settings:    repository.NewTenantAISettingsRepository(db),
		automations: repository.NewMailboxAutomationRepository(db),
		sender:      &fakeSender{},
		accountID:   accountID,
	}
	attempts := repository.NewReplyAttemptRepository(db)
	chain := reply.NewChain(attempts, providers)
	logs := repository.NewOutgoingLogRepository(db)
	dispatcher := outbound.NewDispatcher(env.messages, logs, env.automations, sealer, env.sender)
	env.service = NewService(accounts, env.messages, env.settings, env.automations, chain, dispatcher)
	return env
}

func (e *replyEnv) enableAutoReply(t *testing.T) {
	t.Helper()
	require.NoError(t, e.settings.Upsert(context.Background(), &models.TenantAISettings{
		TenantID:  "tenant-a",
		Provider:  "openai",
		AutoReply: true,
	}))
}

func (e *replyEnv) approve(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, e.automations.UpsertVerified(ctx, e.accountID, "sealed"))
	require.NoError(t, e.automations.Approve(ctx, e.accountID))
}

func (e *replyEnv) insertPending(t *testing.T, fingerprint string) int {
	t.Helper()
	id, err := e.messages.Insert(context.Background(), &models.IncomingMessage{
		TenantID:    "tenant-a",
		AccountID:   e.accountID,
		FromAddress: "alice@sender.example",
		Subject:     "order late",
		Body:        "where is my order",
		Fingerprint: fingerprint,
	})
	require.NoError(t, err)
	return id
}

func TestAutoReplyDispatchesPendingMessages(t *testing.T) {
	env := setupAutoReply(t, &fixedProvider{name: "openai", body: "On the way!"})
	env.enableAutoReply(t)
	env.approve(t)
	id := env.insertPending(t, "<m1@x>")

	result, err := env.service.RunPass(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, result.Drafted)
	require.Equal(t, 1, result.Dispatched)
	require.Len(t, env.sender.sent, 1)
	require.Equal(t, "alice@sender.example", env.sender.sent[0].To)

	message, err := env.messages.GetByID(context.Background(), id)
	require.NoError(t, err)
	require.True(t, message.Processed)

	// A second pass finds nothing pending.
	result, err = env.service.RunPass(context.Background())
	require.NoError(t, err)
	require.Zero(t, result.Drafted)
	require.Len(t, env.sender.sent, 1)
}

func TestAutoReplySkipsUnapprovedMailbox(t *testing.T) {
	env := setupAutoReply(t, &fixedProvider{name: "openai", body: "draft"})
	env.enableAutoReply(t)
	id := env.insertPending(t, "<m1@x>")

	result, err := env.service.RunPass(context.Background())
	require.NoError(t, err)
	require.Zero(t, result.Drafted)
	require.Empty(t, env.sender.sent)

	message, err := env.messages.GetByID(context.Background(), id)
	require.NoError(t, err)
	require.False(t, message.Processed)
}

func TestAutoReplySkipsWhenDisabled(t *testing.T) {
	env := setupAutoReply(t, &fixedProvider{name: "openai", body: "draft"})
	env.approve(t)
	env.insertPending(t, "<m1@x>")

	// No settings row at all.
	result, err := env.service.RunPass(context.Background())
	require.NoError(t, err)
	require.Zero(t, result.Drafted)

	// Settings present but auto-reply off.
	require.NoError(t, env.settings.Upsert(context.Background(), &models.TenantAISettings{
		TenantID: "tenant-a",
		Provider: "openai",
	}))
	result, err = env.service.RunPass(context.Background())
	require.NoError(t, err)
	require.Zero(t, result.Drafted)
}

func TestAutoReplyIsolatesDraftFailures(t *testing.T) {
	env := setupAutoReply(t, &fixedProvider{name: "openai", err: errors.New("provider down")})
	env.enableAutoReply(t)
	env.approve(t)
	id := env.insertPending(t, "<m1@x>")

	result, err := env.service.RunPass(context.Background())
	require.Error(t, err)
	require.ErrorIs(t, err, reply.ErrAllProvidersFailed)
	require.Equal(t, 1, result.Failed)

	// An undraftable message stays pending for the next pass.
	message, getErr := env.messages.GetByID(context.Background(), id)
	require.NoError(t, getErr)
	require.False(t, message.Processed)
}

func TestAutoReplyFailedSendStillConsumesMessage(t *testing.T) {
	env := setupAutoReply(t, &fixedProvider{name: "openai", body: "draft"})
	env.sender.err = errors.New("connection refused")
	env.enableAutoReply(t)
	env.approve(t)
	id := env.insertPending(t, "<m1@x>")

	result, err := env.service.RunPass(context.Background())
	require.Error(t, err)
	require.Equal(t, 1, result.Drafted)
	require.Equal(t, 1, result.Failed)

	message, getErr := env.messages.GetByID(context.Background(), id)
	require.NoError(t, getErr)
	require.True(t, message.Processed)
}
