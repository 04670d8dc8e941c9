package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mailpilot-io/mailpilot-ce/internal/models"
)

// ErrProjectNotFound indicates the automation project does not exist.
var ErrProjectNotFound = errors.New("automation project not found")

// AutomationProjectRepository persists tenant automation projects.
type AutomationProjectRepository struct {
	db *sql.DB
}

func NewAutomationProjectRepository(db *sql.DB) *AutomationProjectRepository {
	return &AutomationProjectRepository{db: db}
}

func (r *AutomationProjectRepository) Create(ctx context.Context, project *models.AutomationProject) (int, error) {
	now := time.Now().UTC()
	status := project.Status
	if status == "" {
		status = models.ProjectStatusDraft
	}
	var id int
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO automation_projects (
			tenant_id, name, status, account_id, branding_id, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $6)
		RETURNING id`,
		project.TenantID, project.Name, status, project.AccountID, project.BrandingID, now,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to create automation project: %w", err)
	}
	return id, nil
}

func (r *AutomationProjectRepository) GetByID(ctx context.Context, id int) (*models.AutomationProject, error) {
	query := `
		SELECT id, tenant_id, name, status, account_id, branding_id,
			created_at, updated_at
		FROM automation_projects WHERE id = $1`

	project := &models.AutomationProject{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&project.ID,
		&project.TenantID,
		&project.Name,
		&project.Status,
		&project.AccountID,
		&project.BrandingID,
		&project.CreatedAt,
		&project.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrProjectNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get automation project: %w", err)
	}
	return project, nil
}

// GetByIDForTenant loads a project and enforces tenant ownership.
func (r *AutomationProjectRepository) GetByIDForTenant(ctx context.Context, id int, tenantID string) (*models.AutomationProject, error) {
	project, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if project.TenantID != tenantID {
		return nil, ErrNotOwned
	}
	return project, nil
}

func (r *AutomationProjectRepository) SetStatus(ctx context.Context, id int, status string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE automation_projects SET status = $1, updated_at = $2 WHERE id = $3`,
		status, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to set project status: %w", err)
	}
	return nil
}

// LinkMailbox attaches the project's single mailbox.
func (r *AutomationProjectRepository) LinkMailbox(ctx context.Context, id, accountID int) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE automation_projects SET account_id = $1, updated_at = $2 WHERE id = $3`,
		accountID, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to link project mailbox: %w", err)
	}
	return nil
}

// LinkBranding attaches the branding configuration owned by a collaborator.
func (r *AutomationProjectRepository) LinkBranding(ctx context.Context, id, brandingID int) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE automation_projects SET branding_id = $1, updated_at = $2 WHERE id = $3`,
		brandingID, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to link project branding: %w", err)
	}
	return nil
}
