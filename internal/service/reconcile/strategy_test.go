package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaykit/relay-api/internal/model"
	"github.com/relaykit/relay-api/pkg/logger"
)

type staleRepo struct {
	stale      []*model.OutboxItem
	findErr    error
	resetErr   map[uuid.UUID]error
	resets     []uuid.UUID
	lastCutoff time.Time
}

func (r *staleRepo) FindStale(ctx context.Context, integrationID string, createdBefore time.Time, limit int) ([]*model.OutboxItem, error) {
	r.lastCutoff = createdBefore
	if r.findErr != nil {
		return nil, r.findErr
	}
	if limit < len(r.stale) {
		return r.stale[:limit], nil
	}
	return r.stale, nil
}

func (r *staleRepo) ResetStale(ctx context.Context, id uuid.UUID) error {
	if err := r.resetErr[id]; err != nil {
		return err
	}
	r.resets = append(r.resets, id)
	return nil
}

func (r *staleRepo) Insert(ctx context.Context, item *model.OutboxItem) (bool, error) {
	return false, nil
}
func (r *staleRepo) Get(ctx context.Context, id uuid.UUID) (*model.OutboxItem, error) {
	return nil, nil
}
func (r *staleRepo) GetByIdempotencyKey(ctx context.Context, key string) (*model.OutboxItem, error) {
	return nil, nil
}
func (r *staleRepo) List(ctx context.Context, filter model.OutboxFilter) ([]*model.OutboxItem, error) {
	return nil, nil
}
func (r *staleRepo) SelectDispatchBatch(ctx context.Context, limit int, now time.Time) ([]*model.OutboxItem, error) {
	return nil, nil
}
func (r *staleRepo) MarkSent(ctx context.Context, id uuid.UUID, attemptCount int, response json.RawMessage) error {
	return nil
}
func (r *staleRepo) MarkRetry(ctx context.Context, id uuid.UUID, status model.OutboxStatus, attemptCount int, lastError string, nextAttemptAt time.Time, critical bool) error {
	return nil
}
func (r *staleRepo) MarkDeadLetter(ctx context.Context, id uuid.UUID, attemptCount int, lastError string, critical bool) error {
	return nil
}
func (r *staleRepo) RequeueDeadLetter(ctx context.Context, id uuid.UUID) error { return nil }
func (r *staleRepo) CountEligible(ctx context.Context, integrationID string, now time.Time) (int, error) {
	return 0, nil
}
func (r *staleRepo) WindowStats(ctx context.Context, integrationID string, since time.Time) (*model.OutboxWindowStats, error) {
	return &model.OutboxWindowStats{}, nil
}

func discardLogger() *logger.Logger {
	return logger.FromZerolog(zerolog.Nop())
}

func TestStaleQueueStrategyResetsStaleItems(t *testing.T) {
	items := []*model.OutboxItem{
		{ID: uuid.New()},
		{ID: uuid.New()},
		{ID: uuid.New()},
	}
	repo := &staleRepo{stale: items}

	strategy := NewStaleQueueStrategy(repo, 6*time.Hour, discardLogger())
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	strategy.now = func() time.Time { return base }

	result, err := strategy.Reconcile(context.Background(), "notion", 100)
	require.NoError(t, err)

	assert.Equal(t, 3, result.Checked)
	assert.Equal(t, 3, result.DriftFixed)
	assert.Equal(t, 0, result.Failures)
	assert.Equal(t, 4, result.APICalls)
	assert.Equal(t, base.Add(-6*time.Hour), repo.lastCutoff)
	assert.Len(t, repo.resets, 3)
}

func TestStaleQueueStrategyCountsPerItemFailures(t *testing.T) {
	broken := &model.OutboxItem{ID: uuid.New()}
	fine := &model.OutboxItem{ID: uuid.New()}
	repo := &staleRepo{
		stale:    []*model.OutboxItem{broken, fine},
		resetErr: map[uuid.UUID]error{broken.ID: errors.New("row locked")},
	}

	strategy := NewStaleQueueStrategy(repo, time.Hour, discardLogger())
	result, err := strategy.Reconcile(context.Background(), "slack", 100)
	require.NoError(t, err)

	assert.Equal(t, 2, result.Checked)
	assert.Equal(t, 1, result.DriftFixed)
	assert.Equal(t, 1, result.Failures)
	assert.Equal(t, []uuid.UUID{fine.ID}, repo.resets)
}

func TestStaleQueueStrategyPropagatesFindError(t *testing.T) {
	repo := &staleRepo{findErr: errors.New("connection refused")}

	strategy := NewStaleQueueStrategy(repo, time.Hour, discardLogger())
	result, err := strategy.Reconcile(context.Background(), "slack", 100)
	require.Error(t, err)
	assert.Equal(t, 0, result.Checked)
}

func TestStaleQueueStrategyHonorsMaxItems(t *testing.T) {
	var items []*model.OutboxItem
	for i := 0; i < 10; i++ {
		items = append(items, &model.OutboxItem{ID: uuid.New()})
	}
	repo := &staleRepo{stale: items}

	strategy := NewStaleQueueStrategy(repo, time.Hour, discardLogger())
	result, err := strategy.Reconcile(context.Background(), "slack", 4)
	require.NoError(t, err)

	assert.Equal(t, 4, result.Checked)
	assert.Equal(t, 4, result.DriftFixed)
}

func TestRegisterDefaultsCoversAllIntegrations(t *testing.T) {
	registry := NewStrategyRegistry()
	RegisterDefaults(registry, &staleRepo{}, discardLogger())

	for _, id := range []string{
		model.IntegrationGoogleSheets,
		model.IntegrationSlack,
		model.IntegrationResend,
		model.IntegrationTwilio,
		model.IntegrationNotion,
		model.IntegrationLinkedIn,
		model.IntegrationTikTok,
		model.IntegrationSMTP,
		model.IntegrationWebhook,
	} {
		_, ok := registry.Lookup(id)
		assert.True(t, ok, "missing strategy for %s", id)
	}

	_, ok := registry.Lookup("mystery")
	assert.False(t, ok)
}
