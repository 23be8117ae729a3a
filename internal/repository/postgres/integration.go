package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/relaykit/relay-api/internal/model"
	"github.com/relaykit/relay-api/internal/repository"
)

type integrationConfigRepository struct {
	BaseRepository
}

func NewIntegrationConfigRepository(base BaseRepository) repository.IntegrationConfigRepository {
	return &integrationConfigRepository{base}
}

func (r *integrationConfigRepository) Get(ctx context.Context, integrationID string) (*model.IntegrationConfig, error) {
	query := `
		SELECT integration_id, enabled, connector_authorized, created_at, updated_at
		FROM integration_configs
		WHERE integration_id = $1
	`

	var cfg model.IntegrationConfig
	if err := r.db.GetContext(ctx, &cfg, query, integrationID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get integration config: %w", err)
	}
	return &cfg, nil
}

func (r *integrationConfigRepository) ListEnabled(ctx context.Context) ([]*model.IntegrationConfig, error) {
	query := `
		SELECT integration_id, enabled, connector_authorized, created_at, updated_at
		FROM integration_configs
		WHERE enabled
		ORDER BY integration_id
	`

	var configs []*model.IntegrationConfig
	if err := r.db.SelectContext(ctx, &configs, query); err != nil {
		return nil, fmt.Errorf("failed to list enabled integrations: %w", err)
	}
	return configs, nil
}

func (r *integrationConfigRepository) Upsert(ctx context.Context, cfg *model.IntegrationConfig) error {
	if cfg == nil {
		return fmt.Errorf("config cannot be nil")
	}

	query := `
		INSERT INTO integration_configs (integration_id, enabled, connector_authorized, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT (integration_id) DO UPDATE
		SET enabled = EXCLUDED.enabled,
			connector_authorized = EXCLUDED.connector_authorized,
			updated_at = EXCLUDED.updated_at
	`

	_, err := r.db.ExecContext(ctx, query, cfg.IntegrationID, cfg.Enabled, cfg.ConnectorAuthorized, time.Now())
	if err != nil {
		return fmt.Errorf("failed to upsert integration config: %w", err)
	}
	return nil
}
