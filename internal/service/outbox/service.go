package outbox

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/relaykit/relay-api/internal/model"
	"github.com/relaykit/relay-api/internal/repository"
	apperrors "github.com/relaykit/relay-api/pkg/errors"
	"github.com/relaykit/relay-api/pkg/idempotency"
	"github.com/relaykit/relay-api/pkg/metrics"
	"github.com/relaykit/relay-api/pkg/validator"
)

// Service accepts outbound work and guarantees at most one queue entry per
// distinct (integration, operation, resource, payload) tuple.
type Service struct {
	repo     repository.OutboxRepository
	validate validator.Validator
	metrics  *metrics.Metrics
}

func NewService(repo repository.OutboxRepository, m *metrics.Metrics) *Service {
	return &Service{repo: repo, validate: validator.New(), metrics: m}
}

// Enqueue validates the request, derives the idempotency key and inserts or
// resolves to an existing item. Retried client requests collapse safely.
func (s *Service) Enqueue(ctx context.Context, req *model.EnqueueRequest) (*model.EnqueueResult, error) {
	if req == nil {
		return nil, apperrors.BadRequest("request body required", nil)
	}
	if err := s.validate.Validate(req); err != nil {
		return nil, apperrors.BadRequest(err.Error(), err)
	}

	key, err := idempotency.Key(req.IntegrationID, req.Operation, req.StableResourceID, req.Payload)
	if err != nil {
		return nil, apperrors.BadRequest("payload is not valid JSON", err)
	}

	item := &model.OutboxItem{
		IntegrationID:    req.IntegrationID,
		Operation:        req.Operation,
		StableResourceID: req.StableResourceID,
		Payload:          req.Payload,
		IdempotencyKey:   key,
	}

	inserted, err := s.repo.Insert(ctx, item)
	if err != nil {
		return nil, apperrors.Internal(fmt.Errorf("enqueue outbox item: %w", err))
	}

	if inserted {
		s.metrics.ItemsEnqueued.WithLabelValues(req.IntegrationID).Inc()
		return &model.EnqueueResult{OutboxID: item.ID, Duplicate: false}, nil
	}

	// The unique index swallowed the insert; resolve to the winner.
	existing, err := s.repo.GetByIdempotencyKey(ctx, key)
	if err != nil {
		return nil, apperrors.Internal(fmt.Errorf("resolve duplicate enqueue: %w", err))
	}
	if existing == nil {
		// Lost a race against a concurrent delete; extremely unlikely.
		return nil, apperrors.Internal(fmt.Errorf("item with key %s vanished after conflict", key))
	}

	s.metrics.ItemsDeduplicated.WithLabelValues(req.IntegrationID).Inc()
	return &model.EnqueueResult{OutboxID: existing.ID, Duplicate: true}, nil
}

// Get returns one item by id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*model.OutboxItem, error) {
	item, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	if item == nil {
		return nil, apperrors.NotFound("outbox item", nil)
	}
	return item, nil
}

// List returns items matching the filter.
func (s *Service) List(ctx context.Context, filter model.OutboxFilter) ([]*model.OutboxItem, error) {
	items, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	return items, nil
}

// Requeue puts a dead-lettered item back in the queue with a fresh attempt
// budget. Items in any other state are rejected.
func (s *Service) Requeue(ctx context.Context, id uuid.UUID) error {
	item, err := s.repo.Get(ctx, id)
	if err != nil {
		return apperrors.Internal(err)
	}
	if item == nil {
		return apperrors.NotFound("outbox item", nil)
	}
	if item.Status != model.OutboxStatusDeadLetter {
		return apperrors.Conflict(fmt.Sprintf("item is %s, only dead_letter items can be requeued", item.Status), nil)
	}

	if err := s.repo.RequeueDeadLetter(ctx, id); err != nil {
		return apperrors.Internal(fmt.Errorf("requeue item: %w", err))
	}
	return nil
}
