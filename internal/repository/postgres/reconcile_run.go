package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/relaykit/relay-api/internal/model"
	"github.com/relaykit/relay-api/internal/repository"
)

type reconcileRunRepository struct {
	BaseRepository
}

func NewReconcileRunRepository(base BaseRepository) repository.ReconcileRunRepository {
	return &reconcileRunRepository{base}
}

const reconcileRunColumns = `
	id, integration_id, started_at, finished_at, status,
	checked, drift_fixed, api_calls, rate_limited_429, failures, notes
`

func (r *reconcileRunRepository) Create(ctx context.Context, run *model.ReconcileRun) error {
	if run == nil {
		return fmt.Errorf("run cannot be nil")
	}

	query := `
		INSERT INTO reconcile_runs (
			id, integration_id, started_at, status,
			checked, drift_fixed, api_calls, rate_limited_429, failures
		) VALUES ($1, $2, $3, $4, 0, 0, 0, 0, 0)
	`

	run.ID = uuid.New()
	run.StartedAt = time.Now()
	run.Status = model.ReconcileStatusRunning

	_, err := r.db.ExecContext(ctx, query, run.ID, run.IntegrationID, run.StartedAt, run.Status)
	if err != nil {
		return fmt.Errorf("failed to create reconcile run: %w", err)
	}
	return nil
}

func (r *reconcileRunRepository) Finish(ctx context.Context, run *model.ReconcileRun) error {
	query := `
		UPDATE reconcile_runs
		SET finished_at = $2,
			status = $3,
			checked = $4,
			drift_fixed = $5,
			api_calls = $6,
			rate_limited_429 = $7,
			failures = $8,
			notes = $9
		WHERE id = $1
	`

	now := time.Now()
	run.FinishedAt = &now

	_, err := r.db.ExecContext(ctx, query,
		run.ID,
		run.FinishedAt,
		run.Status,
		run.Checked,
		run.DriftFixed,
		run.APICalls,
		run.RateLimited429,
		run.Failures,
		run.Notes,
	)
	if err != nil {
		return fmt.Errorf("failed to finish reconcile run: %w", err)
	}
	return nil
}

func (r *reconcileRunRepository) List(ctx context.Context, integrationID string, limit int) ([]*model.ReconcileRun, error) {
	query := `SELECT ` + reconcileRunColumns + ` FROM reconcile_runs WHERE 1=1`
	args := []interface{}{}

	if integrationID != "" {
		args = append(args, integrationID)
		query += fmt.Sprintf(" AND integration_id = $%d", len(args))
	}

	if limit <= 0 || limit > 200 {
		limit = 50
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY started_at DESC LIMIT $%d", len(args))

	var runs []*model.ReconcileRun
	if err := r.db.SelectContext(ctx, &runs, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list reconcile runs: %w", err)
	}
	return runs, nil
}

func (r *reconcileRunRepository) LatestCompleted(ctx context.Context, integrationID string) (*model.ReconcileRun, error) {
	query := `
		SELECT ` + reconcileRunColumns + `
		FROM reconcile_runs
		WHERE integration_id = $1
		AND status IN ('success', 'partial')
		ORDER BY finished_at DESC
		LIMIT 1
	`

	var run model.ReconcileRun
	if err := r.db.GetContext(ctx, &run, query, integrationID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get latest completed run: %w", err)
	}
	return &run, nil
}
