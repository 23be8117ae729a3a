package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/relaykit/relay-api/internal/model"
)

// OutboxRepository persists outbox items. Insert relies on the unique index
// over idempotency_key to resolve concurrent duplicate enqueues; callers
// must treat inserted=false as "row already exists" and re-read by key.
type OutboxRepository interface {
	Insert(ctx context.Context, item *model.OutboxItem) (inserted bool, err error)
	Get(ctx context.Context, id uuid.UUID) (*model.OutboxItem, error)
	GetByIdempotencyKey(ctx context.Context, key string) (*model.OutboxItem, error)
	List(ctx context.Context, filter model.OutboxFilter) ([]*model.OutboxItem, error)

	// SelectDispatchBatch returns dispatch-eligible items (queued, failed or
	// throttled, next_attempt_at in the past) oldest-first.
	SelectDispatchBatch(ctx context.Context, limit int, now time.Time) ([]*model.OutboxItem, error)
	MarkSent(ctx context.Context, id uuid.UUID, attemptCount int, response json.RawMessage) error
	MarkRetry(ctx context.Context, id uuid.UUID, status model.OutboxStatus, attemptCount int, lastError string, nextAttemptAt time.Time, critical bool) error
	MarkDeadLetter(ctx context.Context, id uuid.UUID, attemptCount int, lastError string, critical bool) error
	RequeueDeadLetter(ctx context.Context, id uuid.UUID) error

	// FindStale returns queued items created before the cutoff, for drift
	// repair. ResetStale makes one such item immediately eligible again.
	FindStale(ctx context.Context, integrationID string, createdBefore time.Time, limit int) ([]*model.OutboxItem, error)
	ResetStale(ctx context.Context, id uuid.UUID) error

	CountEligible(ctx context.Context, integrationID string, now time.Time) (int, error)
	WindowStats(ctx context.Context, integrationID string, since time.Time) (*model.OutboxWindowStats, error)
}

// ReconcileRunRepository persists reconcile sweep records.
type ReconcileRunRepository interface {
	Create(ctx context.Context, run *model.ReconcileRun) error
	Finish(ctx context.Context, run *model.ReconcileRun) error
	List(ctx context.Context, integrationID string, limit int) ([]*model.ReconcileRun, error)
	// LatestCompleted returns the most recent run that ended success or
	// partial, or nil if the integration has never completed a sweep.
	LatestCompleted(ctx context.Context, integrationID string) (*model.ReconcileRun, error)
}

// IntegrationConfigRepository persists per-integration operator settings.
type IntegrationConfigRepository interface {
	Get(ctx context.Context, integrationID string) (*model.IntegrationConfig, error)
	ListEnabled(ctx context.Context) ([]*model.IntegrationConfig, error)
	Upsert(ctx context.Context, cfg *model.IntegrationConfig) error
}
