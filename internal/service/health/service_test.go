package health

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaykit/relay-api/internal/model"
)

type fakeStatsRepo struct {
	stats map[string]*model.OutboxWindowStats
}

func (f *fakeStatsRepo) WindowStats(ctx context.Context, integrationID string, since time.Time) (*model.OutboxWindowStats, error) {
	if s, ok := f.stats[integrationID]; ok {
		return s, nil
	}
	return &model.OutboxWindowStats{}, nil
}

func (f *fakeStatsRepo) Insert(ctx context.Context, item *model.OutboxItem) (bool, error) {
	return false, nil
}
func (f *fakeStatsRepo) Get(ctx context.Context, id uuid.UUID) (*model.OutboxItem, error) {
	return nil, nil
}
func (f *fakeStatsRepo) GetByIdempotencyKey(ctx context.Context, key string) (*model.OutboxItem, error) {
	return nil, nil
}
func (f *fakeStatsRepo) List(ctx context.Context, filter model.OutboxFilter) ([]*model.OutboxItem, error) {
	return nil, nil
}
func (f *fakeStatsRepo) SelectDispatchBatch(ctx context.Context, limit int, now time.Time) ([]*model.OutboxItem, error) {
	return nil, nil
}
func (f *fakeStatsRepo) MarkSent(ctx context.Context, id uuid.UUID, attemptCount int, response json.RawMessage) error {
	return nil
}
func (f *fakeStatsRepo) MarkRetry(ctx context.Context, id uuid.UUID, status model.OutboxStatus, attemptCount int, lastError string, nextAttemptAt time.Time, critical bool) error {
	return nil
}
func (f *fakeStatsRepo) MarkDeadLetter(ctx context.Context, id uuid.UUID, attemptCount int, lastError string, critical bool) error {
	return nil
}
func (f *fakeStatsRepo) RequeueDeadLetter(ctx context.Context, id uuid.UUID) error { return nil }
func (f *fakeStatsRepo) FindStale(ctx context.Context, integrationID string, createdBefore time.Time, limit int) ([]*model.OutboxItem, error) {
	return nil, nil
}
func (f *fakeStatsRepo) ResetStale(ctx context.Context, id uuid.UUID) error { return nil }
func (f *fakeStatsRepo) CountEligible(ctx context.Context, integrationID string, now time.Time) (int, error) {
	return 0, nil
}

type fakeRunsRepo struct {
	latest map[string]*model.ReconcileRun
}

func (f *fakeRunsRepo) Create(ctx context.Context, run *model.ReconcileRun) error { return nil }
func (f *fakeRunsRepo) Finish(ctx context.Context, run *model.ReconcileRun) error { return nil }
func (f *fakeRunsRepo) List(ctx context.Context, integrationID string, limit int) ([]*model.ReconcileRun, error) {
	return nil, nil
}
func (f *fakeRunsRepo) LatestCompleted(ctx context.Context, integrationID string) (*model.ReconcileRun, error) {
	return f.latest[integrationID], nil
}

type fakeConfigRepo struct {
	configs map[string]*model.IntegrationConfig
	enabled []*model.IntegrationConfig
}

func (f *fakeConfigRepo) Get(ctx context.Context, integrationID string) (*model.IntegrationConfig, error) {
	return f.configs[integrationID], nil
}
func (f *fakeConfigRepo) ListEnabled(ctx context.Context) ([]*model.IntegrationConfig, error) {
	return f.enabled, nil
}
func (f *fakeConfigRepo) Upsert(ctx context.Context, cfg *model.IntegrationConfig) error {
	if f.configs == nil {
		f.configs = make(map[string]*model.IntegrationConfig)
	}
	f.configs[cfg.IntegrationID] = cfg
	return nil
}

func newTestService(stats *fakeStatsRepo, runs *fakeRunsRepo, configs *fakeConfigRepo, now time.Time) *Service {
	svc := NewService(stats, runs, configs)
	svc.now = func() time.Time { return now }
	return svc
}

func TestNeverReconciledIdleNonOAuthScores70(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := newTestService(
		&fakeStatsRepo{},
		&fakeRunsRepo{},
		&fakeConfigRepo{},
		now,
	)

	report, err := svc.Report(context.Background(), "webhook")
	require.NoError(t, err)
	require.Len(t, report.Integrations, 1)

	ih := report.Integrations[0]
	assert.Equal(t, 70, ih.HealthScore)
	assert.Equal(t, 0, ih.Breakdown.ReconcileRecency)
	assert.Equal(t, 40, ih.Breakdown.SuccessRate)
	assert.Equal(t, 20, ih.Breakdown.CriticalErrors)
	assert.Equal(t, 10, ih.Breakdown.ConnectorStatus)
}

func TestPartiallyDegradedOAuthIntegrationScores86(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	finished := now.Add(-3 * time.Hour)

	svc := newTestService(
		&fakeStatsRepo{stats: map[string]*model.OutboxWindowStats{
			"slack": {Total: 10, Sent: 9},
		}},
		&fakeRunsRepo{latest: map[string]*model.ReconcileRun{
			"slack": {Status: model.ReconcileStatusSuccess, FinishedAt: &finished},
		}},
		&fakeConfigRepo{configs: map[string]*model.IntegrationConfig{
			"slack": {IntegrationID: "slack", Enabled: true, ConnectorAuthorized: true},
		}},
		now,
	)

	report, err := svc.Report(context.Background(), "slack")
	require.NoError(t, err)
	require.Len(t, report.Integrations, 1)

	ih := report.Integrations[0]
	assert.Equal(t, 86, ih.HealthScore)
	assert.Equal(t, 20, ih.Breakdown.ReconcileRecency)
	assert.Equal(t, 36, ih.Breakdown.SuccessRate)
	assert.Equal(t, 20, ih.Breakdown.CriticalErrors)
	assert.Equal(t, 10, ih.Breakdown.ConnectorStatus)
}

func TestScoreEqualsSumOfSubScores(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	finished := now.Add(-5 * time.Hour)

	svc := newTestService(
		&fakeStatsRepo{stats: map[string]*model.OutboxWindowStats{
			"notion": {Total: 8, Sent: 3, CriticalCount: 4},
		}},
		&fakeRunsRepo{latest: map[string]*model.ReconcileRun{
			"notion": {Status: model.ReconcileStatusPartial, FinishedAt: &finished},
		}},
		&fakeConfigRepo{},
		now,
	)

	report, err := svc.Report(context.Background(), "notion")
	require.NoError(t, err)

	ih := report.Integrations[0]
	b := ih.Breakdown
	assert.Equal(t, b.ReconcileRecency+b.SuccessRate+b.CriticalErrors+b.ConnectorStatus, ih.HealthScore)
}

func TestRecencyBrackets(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		age  time.Duration
		want int
	}{
		{30 * time.Minute, 30},
		{3 * time.Hour, 20},
		{12 * time.Hour, 10},
		{48 * time.Hour, 0},
	}

	for _, tc := range cases {
		finished := now.Add(-tc.age)
		svc := newTestService(
			&fakeStatsRepo{},
			&fakeRunsRepo{latest: map[string]*model.ReconcileRun{
				"webhook": {Status: model.ReconcileStatusSuccess, FinishedAt: &finished},
			}},
			&fakeConfigRepo{},
			now,
		)

		got, err := svc.reconcileRecencyScore(context.Background(), "webhook", now)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got, "age=%s", tc.age)
	}
}

func TestSuccessRateFloorsFractionalScores(t *testing.T) {
	assert.Equal(t, 40, successRateScore(&model.OutboxWindowStats{Total: 0}))
	assert.Equal(t, 40, successRateScore(&model.OutboxWindowStats{Total: 5, Sent: 5}))
	assert.Equal(t, 26, successRateScore(&model.OutboxWindowStats{Total: 3, Sent: 2}))
	assert.Equal(t, 0, successRateScore(&model.OutboxWindowStats{Total: 4, Sent: 0}))
}

func TestCriticalErrorScoreFloorsAtZero(t *testing.T) {
	assert.Equal(t, 20, criticalErrorScore(0))
	assert.Equal(t, 16, criticalErrorScore(2))
	assert.Equal(t, 0, criticalErrorScore(10))
	assert.Equal(t, 0, criticalErrorScore(50))
}

func TestUnauthorizedOAuthConnectorLosesTenPoints(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := newTestService(&fakeStatsRepo{}, &fakeRunsRepo{}, &fakeConfigRepo{}, now)

	report, err := svc.Report(context.Background(), "google_sheets")
	require.NoError(t, err)

	ih := report.Integrations[0]
	assert.Equal(t, 0, ih.Breakdown.ConnectorStatus)
	assert.Equal(t, 60, ih.HealthScore)
}

func TestUpdateConfigInvalidatesCachedScoreInput(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	configs := &fakeConfigRepo{}
	svc := newTestService(&fakeStatsRepo{}, &fakeRunsRepo{}, configs, now)

	report, err := svc.Report(context.Background(), "slack")
	require.NoError(t, err)
	assert.Equal(t, 0, report.Integrations[0].Breakdown.ConnectorStatus)

	err = svc.UpdateConfig(context.Background(), &model.IntegrationConfig{
		IntegrationID:       "slack",
		Enabled:             true,
		ConnectorAuthorized: true,
	})
	require.NoError(t, err)

	report, err = svc.Report(context.Background(), "slack")
	require.NoError(t, err)
	assert.Equal(t, 10, report.Integrations[0].Breakdown.ConnectorStatus)
}

func TestUpdateConfigRequiresIntegrationID(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := newTestService(&fakeStatsRepo{}, &fakeRunsRepo{}, &fakeConfigRepo{}, now)

	err := svc.UpdateConfig(context.Background(), &model.IntegrationConfig{})
	require.Error(t, err)
}

func TestOverallScoreIsMeanAndNilWhenEmpty(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	svc := newTestService(&fakeStatsRepo{}, &fakeRunsRepo{}, &fakeConfigRepo{
		enabled: []*model.IntegrationConfig{
			{IntegrationID: "webhook", Enabled: true},
			{IntegrationID: "google_sheets", Enabled: true},
		},
	}, now)

	report, err := svc.Report(context.Background(), "")
	require.NoError(t, err)
	require.NotNil(t, report.OverallHealthScore)
	assert.InDelta(t, 65.0, *report.OverallHealthScore, 0.001)

	empty := newTestService(&fakeStatsRepo{}, &fakeRunsRepo{}, &fakeConfigRepo{}, now)
	report, err = empty.Report(context.Background(), "")
	require.NoError(t, err)
	assert.Nil(t, report.OverallHealthScore)
	assert.Empty(t, report.Integrations)
}
