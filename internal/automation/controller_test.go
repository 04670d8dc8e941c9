package automation

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"github.com/mailpilot-io/mailpilot-ce/internal/database"
	"github.com/mailpilot-io/mailpilot-ce/internal/models"
	"github.com/mailpilot-io/mailpilot-ce/internal/repository"
)

type controllerEnv struct {
	controller  *Controller
	projects    *repository.AutomationProjectRepository
	accounts    *repository.MailAccountRepository
	automations *repository.MailboxAutomationRepository
	accountID   int
}

func setupController(t *testing.T) *controllerEnv {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, database.Migrate(db, "sqlite3"))

	env := &controllerEnv{
		projects:    repository.NewAutomationProjectRepository(db),
		accounts:    repository.NewMailAccountRepository(db),
		automations: repository.NewMailboxAutomationRepository(db),
	}
	env.controller = NewController(env.projects, env.accounts, env.automations)

	env.accountID, err = env.accounts.Create(context.Background(), &models.MailAccount{
		TenantID:     "tenant-a",
		EmailAddress: "support@acme.example",
		IMAPHost:     "imap.acme.example", IMAPUsername: "support", IMAPPasswordEncrypted: "sealed",
		SMTPHost: "smtp.acme.example", SMTPUsername: "support", SMTPPasswordEncrypted: "sealed",
		InboundType: "imaps",
		IsActive:    true,
	})
	require.NoError(t, err)
	return env
}

func (e *controllerEnv) approveMailbox(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, e.automations.UpsertVerified(ctx, e.accountID, "sealed-blob"))
	require.NoError(t, e.automations.Approve(ctx, e.accountID))
}

func (e *controllerEnv) configuredProject(t *testing.T) int {
	t.Helper()
	ctx := context.Background()
	id, err := e.controller.Create(ctx, "tenant-a", "welcome flow")
	require.NoError(t, err)
	require.NoError(t, e.controller.Configure(ctx, id, "tenant-a", e.accountID, 7))
	return id
}

func (e *controllerEnv) status(t *testing.T, projectID int) string {
	t.Helper()
	project, err := e.projects.GetByID(context.Background(), projectID)
	require.NoError(t, err)
	return project.Status
}

func TestConfigureLinksAndTransitions(t *testing.T) {
	env := setupController(t)
	ctx := context.Background()

	id, err := env.controller.Create(ctx, "tenant-a", "welcome flow")
	require.NoError(t, err)
	require.Equal(t, models.ProjectStatusDraft, env.status(t, id))

	require.NoError(t, env.controller.Configure(ctx, id, "tenant-a", env.accountID, 7))
	project, err := env.projects.GetByID(ctx, id)
	require.NoError(t, err)
	require.Equal(t, models.ProjectStatusConfigured, project.Status)
	require.Equal(t, env.accountID, *project.AccountID)
	require.Equal(t, 7, *project.BrandingID)
}

func TestConfigureRejectsForeignMailbox(t *testing.T) {
	env := setupController(t)
	ctx := context.Background()

	otherID, err := env.accounts.Create(ctx, &models.MailAccount{
		TenantID:     "tenant-b",
		EmailAddress: "other@foreign.example",
		IMAPHost:     "h", IMAPUsername: "u", IMAPPasswordEncrypted: "x",
		SMTPHost: "h", SMTPUsername: "u", SMTPPasswordEncrypted: "x",
		InboundType: "imaps", IsActive: true,
	})
	require.NoError(t, err)

	id, err := env.controller.Create(ctx, "tenant-a", "welcome flow")
	require.NoError(t, err)
	err = env.controller.Configure(ctx, id, "tenant-a", otherID, 7)
	require.ErrorIs(t, err, repository.ErrNotOwned)
	require.Equal(t, models.ProjectStatusDraft, env.status(t, id))
}

func TestRunRequiresApprovedMailbox(t *testing.T) {
	env := setupController(t)
	ctx := context.Background()
	id := env.configuredProject(t)

	// No automation record at all.
	err := env.controller.Run(ctx, id, "tenant-a")
	require.ErrorIs(t, err, ErrNotApproved)
	require.Equal(t, models.ProjectStatusConfigured, env.status(t, id))

	// Verified but still pending approval.
	require.NoError(t, env.automations.UpsertVerified(ctx, env.accountID, "sealed-blob"))
	err = env.controller.Run(ctx, id, "tenant-a")
	require.ErrorIs(t, err, ErrNotApproved)
	require.Equal(t, models.ProjectStatusConfigured, env.status(t, id))

	require.NoError(t, env.automations.Approve(ctx, env.accountID))
	require.NoError(t, env.controller.Run(ctx, id, "tenant-a"))
	require.Equal(t, models.ProjectStatusRunning, env.status(t, id))
}

func TestRunRevalidatesOnEveryCall(t *testing.T) {
	env := setupController(t)
	ctx := context.Background()
	env.approveMailbox(t)
	id := env.configuredProject(t)

	require.NoError(t, env.controller.Run(ctx, id, "tenant-a"))
	require.NoError(t, env.controller.Pause(ctx, id, "tenant-a"))

	// Approval revoked while paused; resuming must fail.
	require.NoError(t, env.automations.Reject(ctx, env.accountID, "spf regressed"))
	err := env.controller.Run(ctx, id, "tenant-a")
	require.ErrorIs(t, err, ErrNotApproved)
	require.Equal(t, models.ProjectStatusPaused, env.status(t, id))
}

func TestRunRefusesInactiveMailbox(t *testing.T) {
	env := setupController(t)
	ctx := context.Background()
	env.approveMailbox(t)
	id := env.configuredProject(t)

	require.NoError(t, env.accounts.SetActive(ctx, env.accountID, false))
	err := env.controller.Run(ctx, id, "tenant-a")
	require.ErrorIs(t, err, ErrMailboxInactive)
	require.Equal(t, models.ProjectStatusConfigured, env.status(t, id))
}

func TestRunRefusesUnlinkedProject(t *testing.T) {
	env := setupController(t)
	ctx := context.Background()

	id, err := env.controller.Create(ctx, "tenant-a", "bare")
	require.NoError(t, err)
	// A draft cannot run at all.
	err = env.controller.Run(ctx, id, "tenant-a")
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestLifecycleTransitions(t *testing.T) {
	env := setupController(t)
	ctx := context.Background()
	env.approveMailbox(t)
	id := env.configuredProject(t)

	// Pause before running is invalid.
	require.ErrorIs(t, env.controller.Pause(ctx, id, "tenant-a"), ErrInvalidTransition)

	require.NoError(t, env.controller.Run(ctx, id, "tenant-a"))
	require.NoError(t, env.controller.Pause(ctx, id, "tenant-a"))
	require.NoError(t, env.controller.Run(ctx, id, "tenant-a"))
	require.NoError(t, env.controller.Stop(ctx, id, "tenant-a"))
	require.Equal(t, models.ProjectStatusStopped, env.status(t, id))

	// Stopped is terminal.
	require.ErrorIs(t, env.controller.Run(ctx, id, "tenant-a"), ErrInvalidTransition)
	require.ErrorIs(t, env.controller.Stop(ctx, id, "tenant-a"), ErrInvalidTransition)
}

func TestOwnershipEnforcedOnTransitions(t *testing.T) {
	env := setupController(t)
	ctx := context.Background()
	env.approveMailbox(t)
	id := env.configuredProject(t)

	require.ErrorIs(t, env.controller.Run(ctx, id, "tenant-b"), repository.ErrNotOwned)
	require.ErrorIs(t, env.controller.Stop(ctx, id, "tenant-b"), repository.ErrNotOwned)
}
