package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mailpilot-io/mailpilot-ce/internal/models"
)

// ErrSettingsNotFound indicates the tenant has no AI settings row.
var ErrSettingsNotFound = errors.New("tenant AI settings not found")

// TenantAISettingsRepository persists per-tenant reply generation settings.
// The ordered fallback list is stored as a comma-joined string.
type TenantAISettingsRepository struct {
	db *sql.DB
}

func NewTenantAISettingsRepository(db *sql.DB) *TenantAISettingsRepository {
	return &TenantAISettingsRepository{db: db}
}

func (r *TenantAISettingsRepository) Get(ctx context.Context, tenantID string) (*models.TenantAISettings, error) {
	query := `
		SELECT tenant_id, provider, fallback_providers, model, reply_tone,
			auto_reply, updated_at
		FROM tenant_ai_settings WHERE tenant_id = $1`

	settings := &models.TenantAISettings{}
	var fallbacks string
	err := r.db.QueryRowContext(ctx, query, tenantID).Scan(
		&settings.TenantID,
		&settings.Provider,
		&fallbacks,
		&settings.Model,
		&settings.ReplyTone,
		&settings.AutoReply,
		&settings.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSettingsNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tenant AI settings: %w", err)
	}
	settings.FallbackProviders = splitProviders(fallbacks)
	return settings, nil
}

func (r *TenantAISettingsRepository) Upsert(ctx context.Context, settings *models.TenantAISettings) error {
	query := `
		INSERT INTO tenant_ai_settings (
			tenant_id, provider, fallback_providers, model, reply_tone,
			auto_reply, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (tenant_id) DO UPDATE SET
			provider = $2,
			fallback_providers = $3,
			model = $4,
			reply_tone = $5,
			auto_reply = $6,
			updated_at = $7`

	_, err := r.db.ExecContext(ctx, query,
		settings.TenantID,
		settings.Provider,
		strings.Join(settings.FallbackProviders, ","),
		settings.Model,
		settings.ReplyTone,
		settings.AutoReply,
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert tenant AI settings: %w", err)
	}
	return nil
}

func splitProviders(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
