// Package automation drives the lifecycle of tenant automation projects.
package automation

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/mailpilot-io/mailpilot-ce/internal/models"
	"github.com/mailpilot-io/mailpilot-ce/internal/repository"
)

// Run refusal and transition errors.
var (
	ErrMailboxNotLinked  = errors.New("mailbox not linked")
	ErrBrandingNotLinked = errors.New("branding not linked")
	ErrMailboxInactive   = errors.New("mailbox is inactive")
	ErrNotApproved       = errors.New("mailbox automation not approved")
	ErrInvalidTransition = errors.New("invalid project status transition")
)

// Controller owns project status transitions. Every RUN transition
// re-validates the project's links and the mailbox approval; a refusal
// leaves the stored status untouched.
type Controller struct {
	projects    *repository.AutomationProjectRepository
	accounts    *repository.MailAccountRepository
	automations *repository.MailboxAutomationRepository
	logger      *log.Logger
}

func NewController(
	projects *repository.AutomationProjectRepository,
	accounts *repository.MailAccountRepository,
	automations *repository.MailboxAutomationRepository,
) *Controller {
	return &Controller{
		projects:    projects,
		accounts:    accounts,
		automations: automations,
		logger:      log.New(log.Writer(), "[AUTOMATION] ", log.LstdFlags),
	}
}

// Create opens a new draft project for the tenant.
func (c *Controller) Create(ctx context.Context, tenantID, name string) (int, error) {
	return c.projects.Create(ctx, &models.AutomationProject{
		TenantID: tenantID,
		Name:     name,
		Status:   models.ProjectStatusDraft,
	})
}

// Configure links the project's mailbox and branding and moves it to
// CONFIGURED. The mailbox must belong to the same tenant.
func (c *Controller) Configure(ctx context.Context, projectID int, tenantID string, accountID, brandingID int) error {
	project, err := c.projects.GetByIDForTenant(ctx, projectID, tenantID)
	if err != nil {
		return err
	}
	if project.Status != models.ProjectStatusDraft && project.Status != models.ProjectStatusConfigured {
		return fmt.Errorf("%w: cannot configure a %s project", ErrInvalidTransition, project.Status)
	}
	if _, err := c.accounts.GetByIDForTenant(ctx, accountID, tenantID); err != nil {
		return err
	}
	if err := c.projects.LinkMailbox(ctx, projectID, accountID); err != nil {
		return err
	}
	if err := c.projects.LinkBranding(ctx, projectID, brandingID); err != nil {
		return err
	}
	return c.projects.SetStatus(ctx, projectID, models.ProjectStatusConfigured)
}

// Run moves a configured or paused project to RUNNING. The branding link,
// the mailbox link, and the mailbox's automation approval are re-checked on
// every call; any refusal leaves the project status unchanged.
func (c *Controller) Run(ctx context.Context, projectID int, tenantID string) error {
	project, err := c.projects.GetByIDForTenant(ctx, projectID, tenantID)
	if err != nil {
		return err
	}
	if project.Status != models.ProjectStatusConfigured && project.Status != models.ProjectStatusPaused {
		return fmt.Errorf("%w: cannot run a %s project", ErrInvalidTransition, project.Status)
	}
	if err := c.validateRunnable(ctx, project); err != nil {
		c.logger.Printf("run refused for project %d: %v", projectID, err)
		return err
	}
	return c.projects.SetStatus(ctx, projectID, models.ProjectStatusRunning)
}

// Pause suspends a running project.
func (c *Controller) Pause(ctx context.Context, projectID int, tenantID string) error {
	project, err := c.projects.GetByIDForTenant(ctx, projectID, tenantID)
	if err != nil {
		return err
	}
	if project.Status != models.ProjectStatusRunning {
		return fmt.Errorf("%w: cannot pause a %s project", ErrInvalidTransition, project.Status)
	}
	return c.projects.SetStatus(ctx, projectID, models.ProjectStatusPaused)
}

// Stop ends a running or paused project. Stopped projects never restart.
func (c *Controller) Stop(ctx context.Context, projectID int, tenantID string) error {
	project, err := c.projects.GetByIDForTenant(ctx, projectID, tenantID)
	if err != nil {
		return err
	}
	if project.Status != models.ProjectStatusRunning && project.Status != models.ProjectStatusPaused {
		return fmt.Errorf("%w: cannot stop a %s project", ErrInvalidTransition, project.Status)
	}
	return c.projects.SetStatus(ctx, projectID, models.ProjectStatusStopped)
}

func (c *Controller) validateRunnable(ctx context.Context, project *models.AutomationProject) error {
	if project.BrandingID == nil {
		return ErrBrandingNotLinked
	}
	if project.AccountID == nil {
		return ErrMailboxNotLinked
	}
	account, err := c.accounts.GetByID(ctx, *project.AccountID)
	if err != nil {
		return err
	}
	if !account.IsActive {
		return ErrMailboxInactive
	}
	automation, err := c.automations.GetByAccount(ctx, *project.AccountID)
	if errors.Is(err, repository.ErrAutomationNotFound) {
		return ErrNotApproved
	}
	if err != nil {
		return err
	}
	if !automation.Approved() {
		return ErrNotApproved
	}
	return nil
}
