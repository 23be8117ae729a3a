package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/relaykit/relay-api/internal/model"
	"github.com/relaykit/relay-api/internal/repository"
)

type outboxRepository struct {
	BaseRepository
}

func NewOutboxRepository(base BaseRepository) repository.OutboxRepository {
	return &outboxRepository{base}
}

const outboxColumns = `
	id, integration_id, operation, stable_resource_id, payload,
	idempotency_key, status, attempt_count, next_attempt_at,
	last_error, provider_response, critical_error, created_at, updated_at
`

// Insert creates the row unless the idempotency key already exists. The
// ON CONFLICT clause is what makes concurrent duplicate enqueues safe;
// application-level check-then-insert would race.
func (r *outboxRepository) Insert(ctx context.Context, item *model.OutboxItem) (bool, error) {
	if item == nil {
		return false, fmt.Errorf("item cannot be nil")
	}
	if len(item.Payload) == 0 {
		return false, fmt.Errorf("item payload cannot be empty")
	}

	query := `
		INSERT INTO outbox_items (
			id, integration_id, operation, stable_resource_id, payload,
			idempotency_key, status, attempt_count, next_attempt_at,
			critical_error, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12
		)
		ON CONFLICT (idempotency_key) DO NOTHING
	`

	now := time.Now()
	item.ID = uuid.New()
	item.Status = model.OutboxStatusQueued
	item.AttemptCount = 0
	if item.NextAttemptAt.IsZero() {
		item.NextAttemptAt = now
	}
	item.CreatedAt = now
	item.UpdatedAt = now

	res, err := r.db.ExecContext(ctx, query,
		item.ID,
		item.IntegrationID,
		item.Operation,
		item.StableResourceID,
		item.Payload,
		item.IdempotencyKey,
		item.Status,
		item.AttemptCount,
		item.NextAttemptAt,
		item.CriticalError,
		item.CreatedAt,
		item.UpdatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert outbox item: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read insert result: %w", err)
	}
	return affected == 1, nil
}

func (r *outboxRepository) Get(ctx context.Context, id uuid.UUID) (*model.OutboxItem, error) {
	query := `SELECT ` + outboxColumns + ` FROM outbox_items WHERE id = $1`

	var item model.OutboxItem
	if err := r.db.GetContext(ctx, &item, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get outbox item: %w", err)
	}
	return &item, nil
}

func (r *outboxRepository) GetByIdempotencyKey(ctx context.Context, key string) (*model.OutboxItem, error) {
	query := `SELECT ` + outboxColumns + ` FROM outbox_items WHERE idempotency_key = $1`

	var item model.OutboxItem
	if err := r.db.GetContext(ctx, &item, query, key); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get outbox item by key: %w", err)
	}
	return &item, nil
}

func (r *outboxRepository) List(ctx context.Context, filter model.OutboxFilter) ([]*model.OutboxItem, error) {
	query := `SELECT ` + outboxColumns + ` FROM outbox_items WHERE 1=1`
	args := []interface{}{}

	if filter.IntegrationID != "" {
		args = append(args, filter.IntegrationID)
		query += fmt.Sprintf(" AND integration_id = $%d", len(args))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}

	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))

	var items []*model.OutboxItem
	if err := r.db.SelectContext(ctx, &items, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list outbox items: %w", err)
	}
	return items, nil
}

// SelectDispatchBatch picks retryable items oldest-first so nothing starves.
// failed and throttled are retry states, not terminal ones, so they are part
// of the selection predicate alongside queued. The row locks here end with
// the statement; single-writer exclusion across the whole delivery pass is
// the dispatch service's drain lease.
func (r *outboxRepository) SelectDispatchBatch(ctx context.Context, limit int, now time.Time) ([]*model.OutboxItem, error) {
	query := `
		SELECT ` + outboxColumns + `
		FROM outbox_items
		WHERE status IN ('queued', 'failed', 'throttled')
		AND next_attempt_at <= $1
		ORDER BY created_at ASC
		LIMIT $2
		FOR UPDATE SKIP LOCKED
	`

	var items []*model.OutboxItem
	if err := r.db.SelectContext(ctx, &items, query, now, limit); err != nil {
		return nil, fmt.Errorf("failed to select dispatch batch: %w", err)
	}
	return items, nil
}

func (r *outboxRepository) MarkSent(ctx context.Context, id uuid.UUID, attemptCount int, response json.RawMessage) error {
	query := `
		UPDATE outbox_items
		SET status = 'sent',
			attempt_count = $2,
			provider_response = $3,
			last_error = NULL,
			updated_at = NOW()
		WHERE id = $1
	`
	_, err := r.db.ExecContext(ctx, query, id, attemptCount, response)
	if err != nil {
		return fmt.Errorf("failed to mark item sent: %w", err)
	}
	return nil
}

func (r *outboxRepository) MarkRetry(ctx context.Context, id uuid.UUID, status model.OutboxStatus, attemptCount int, lastError string, nextAttemptAt time.Time, critical bool) error {
	query := `
		UPDATE outbox_items
		SET status = $2,
			attempt_count = $3,
			last_error = $4,
			next_attempt_at = $5,
			critical_error = critical_error OR $6,
			updated_at = NOW()
		WHERE id = $1
	`
	_, err := r.db.ExecContext(ctx, query, id, status, attemptCount, lastError, nextAttemptAt, critical)
	if err != nil {
		return fmt.Errorf("failed to mark item for retry: %w", err)
	}
	return nil
}

func (r *outboxRepository) MarkDeadLetter(ctx context.Context, id uuid.UUID, attemptCount int, lastError string, critical bool) error {
	query := `
		UPDATE outbox_items
		SET status = 'dead_letter',
			attempt_count = $2,
			last_error = $3,
			critical_error = critical_error OR $4,
			updated_at = NOW()
		WHERE id = $1
	`
	_, err := r.db.ExecContext(ctx, query, id, attemptCount, lastError, critical)
	if err != nil {
		return fmt.Errorf("failed to dead-letter item: %w", err)
	}
	return nil
}

func (r *outboxRepository) RequeueDeadLetter(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE outbox_items
		SET status = 'queued',
			attempt_count = 0,
			next_attempt_at = NOW(),
			last_error = NULL,
			updated_at = NOW()
		WHERE id = $1 AND status = 'dead_letter'
	`
	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to requeue item: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (r *outboxRepository) FindStale(ctx context.Context, integrationID string, createdBefore time.Time, limit int) ([]*model.OutboxItem, error) {
	query := `
		SELECT ` + outboxColumns + `
		FROM outbox_items
		WHERE integration_id = $1
		AND status = 'queued'
		AND created_at < $2
		ORDER BY created_at ASC
		LIMIT $3
	`

	var items []*model.OutboxItem
	if err := r.db.SelectContext(ctx, &items, query, integrationID, createdBefore, limit); err != nil {
		return nil, fmt.Errorf("failed to find stale items: %w", err)
	}
	return items, nil
}

func (r *outboxRepository) ResetStale(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE outbox_items
		SET next_attempt_at = NOW(),
			attempt_count = attempt_count + 1,
			updated_at = NOW()
		WHERE id = $1
	`
	_, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to reset stale item: %w", err)
	}
	return nil
}

func (r *outboxRepository) CountEligible(ctx context.Context, integrationID string, now time.Time) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM outbox_items
		WHERE status IN ('queued', 'failed', 'throttled')
		AND next_attempt_at <= $1
	`
	args := []interface{}{now}
	if integrationID != "" {
		query += " AND integration_id = $2"
		args = append(args, integrationID)
	}

	var count int
	if err := r.db.GetContext(ctx, &count, query, args...); err != nil {
		return 0, fmt.Errorf("failed to count eligible items: %w", err)
	}
	return count, nil
}

func (r *outboxRepository) WindowStats(ctx context.Context, integrationID string, since time.Time) (*model.OutboxWindowStats, error) {
	query := `
		SELECT
			COUNT(*) AS total,
			COUNT(*) FILTER (WHERE status = 'sent') AS sent,
			COUNT(*) FILTER (WHERE critical_error) AS critical_count
		FROM outbox_items
		WHERE integration_id = $1
		AND created_at >= $2
	`

	var stats model.OutboxWindowStats
	if err := r.db.GetContext(ctx, &stats, query, integrationID, since); err != nil {
		return nil, fmt.Errorf("failed to read window stats: %w", err)
	}
	return &stats, nil
}
